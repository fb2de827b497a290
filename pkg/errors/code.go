package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Problem & test data errors
// 13000-13999: Submission & Judge errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError     ErrorCode = 10100
	RecordNotFound    ErrorCode = 10101
	TransactionFailed ErrorCode = 10102

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Storage errors (10300-10399)
	StorageError ErrorCode = 10300

	// Validation errors (10400-10499)
	ValidationFailed ErrorCode = 10400

	// ========== Problem & Test Data Errors (12000-12999) ==========

	ProblemNotFound  ErrorCode = 12000
	TestCaseNotFound ErrorCode = 12100
	TestCaseInvalid  ErrorCode = 12101

	// ========== Submission & Judge Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	LanguageNotSupported   ErrorCode = 13003
	SubmitTooFrequently    ErrorCode = 13004

	// Judge (13100-13199)
	JudgeSystemError    ErrorCode = 13101
	DuplicateDelivery   ErrorCode = 13102
	BackendUnavailable  ErrorCode = 13103
	BackendBadResponse  ErrorCode = 13104
	JudgeCeilingReached ErrorCode = 13105
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	DatabaseError:     "Database operation failed",
	RecordNotFound:    "Record not found in database",
	TransactionFailed: "Database transaction failed",

	CacheError:   "Cache operation failed",
	StorageError: "Object storage operation failed",

	ValidationFailed: "Validation failed",

	ProblemNotFound:  "Problem not found",
	TestCaseNotFound: "Test case not found",
	TestCaseInvalid:  "Invalid test case record",

	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code is too large",
	LanguageNotSupported:   "Programming language not supported",
	SubmitTooFrequently:    "Submitting too frequently, please wait",

	JudgeSystemError:    "Judge system error",
	DuplicateDelivery:   "Submission already claimed or finished",
	BackendUnavailable:  "Execution backend unreachable",
	BackendBadResponse:  "Execution backend returned a malformed response",
	JudgeCeilingReached: "Execution backend call exceeded the worker ceiling",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// Retryable reports whether an error with this code is a transient
// infrastructure fault worth redelivering, as opposed to a terminal
// outcome or bad input.
func (c ErrorCode) Retryable() bool {
	switch c {
	case DatabaseError, TransactionFailed, CacheError, StorageError,
		ServiceUnavailable, Timeout, BackendUnavailable, JudgeCeilingReached:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == SubmissionNotFound, c == ProblemNotFound:
		return 404
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c == InvalidParams, c == ValidationFailed, c == CodeTooLarge, c == LanguageNotSupported:
		return 400
	default:
		return 500
	}
}
