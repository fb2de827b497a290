package model

import "time"

// SubmissionStatus is the lifecycle state of the judging process itself,
// distinct from the verdict.
type SubmissionStatus string

const (
	StatusPending     SubmissionStatus = "pending"
	StatusJudging     SubmissionStatus = "judging"
	StatusCompleted   SubmissionStatus = "completed"
	StatusSystemError SubmissionStatus = "system_error"
)

// Terminal reports whether the status never transitions again.
func (s SubmissionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusSystemError
}

// Verdict is the final judgment of a submission's correctness/performance.
// An empty Verdict means "not judged yet"; it is non-empty iff the
// submission status is completed.
type Verdict string

const (
	VerdictAccepted            Verdict = "accepted"
	VerdictWrongAnswer         Verdict = "wrong_answer"
	VerdictTimeLimitExceeded   Verdict = "time_limit_exceeded"
	VerdictMemoryLimitExceeded Verdict = "memory_limit_exceeded"
	VerdictRuntimeError        Verdict = "runtime_error"
	VerdictCompilationError    Verdict = "compilation_error"
)

// Limits are the per-run resource limits handed to the execution backend.
type Limits struct {
	TimeLimitMs   int64 `json:"time_limit_ms"`
	MemoryLimitKb int64 `json:"memory_limit_kb"`
}

// Submission is the durable record of one judging run. The API layer
// creates it; after creation only the judge worker holding the claim
// mutates status, verdict, score and results.
type Submission struct {
	SubmissionID string           `json:"submission_id"`
	ProblemID    int64            `json:"problem_id"`
	UserID       int64            `json:"user_id"`
	Language     string           `json:"language"`
	SourceCode   string           `json:"source_code,omitempty"`
	SourceKey    string           `json:"source_key,omitempty"`
	SourceHash   string           `json:"source_hash,omitempty"`
	Status       SubmissionStatus `json:"status"`
	Verdict      Verdict          `json:"verdict,omitempty"`
	Score        int              `json:"score"`
	TimeUsedMs   int64            `json:"time_used_ms"`
	MemoryUsedKb int64            `json:"memory_used_kb"`
	Results      []TestCaseResult `json:"results,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	JudgedAt     *time.Time       `json:"judged_at,omitempty"`
}

// TestCase is one (input, expected output) pair with its own limits,
// owned by the problem and read-only to the judge. Ordinal defines
// execution order and is the tie-break for "first failing test case".
type TestCase struct {
	ID             int64
	ProblemID      int64
	Ordinal        int
	Input          string
	ExpectedOutput string
	IsSample       bool
	TimeLimitMs    int64
	MemoryLimitKb  int64
}

// TestCaseResult is one entry of the append-only per-test-case outcome
// sequence.
type TestCaseResult struct {
	Index        int     `json:"index"`
	Verdict      Verdict `json:"verdict"`
	TimeUsedMs   int64   `json:"time_used_ms"`
	MemoryUsedKb int64   `json:"memory_used_kb"`
}

// JudgeJob is the queue payload referencing a submission. It is
// ephemeral; the submission record stays authoritative.
type JudgeJob struct {
	SubmissionID string `json:"submission_id"`
	ProblemID    int64  `json:"problem_id"`
	UserID       int64  `json:"user_id"`
	Language     string `json:"language"`
	SourceKey    string `json:"source_key"`
	SourceHash   string `json:"source_hash"`
	EnqueuedAt   int64  `json:"enqueued_at"`
}

// StatusView is the compact submission state cached for fast status reads
// and carried by notification events.
type StatusView struct {
	SubmissionID      string           `json:"submission_id"`
	Status            SubmissionStatus `json:"status"`
	Verdict           Verdict          `json:"verdict,omitempty"`
	Score             int              `json:"score"`
	LastTestCaseIndex int              `json:"last_test_case_index"`
	TimeUsedMs        int64            `json:"time_used_ms"`
	MemoryUsedKb      int64            `json:"memory_used_kb"`
	UpdatedAt         int64            `json:"updated_at"`
}
