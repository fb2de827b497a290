// Package executor talks to the external execution backend that compiles
// and runs untrusted programs in a sandbox. The backend is a black box
// behind the Backend interface; this package never interprets outputs
// beyond transporting them.
package executor

import "context"

// Judge0-compatible status codes reported by the execution backend.
const (
	StatusInQueue          = 1
	StatusProcessing       = 2
	StatusAccepted         = 3
	StatusWrongAnswer      = 4
	StatusTimeLimit        = 5
	StatusCompilationError = 6
	StatusRuntimeSIGSEGV   = 7
	StatusRuntimeSIGXFSZ   = 8
	StatusRuntimeSIGFPE    = 9
	StatusRuntimeSIGABRT   = 10
	StatusRuntimeNZEC      = 11
	StatusRuntimeOther     = 12
	StatusInternalError    = 13
	StatusExecFormatError  = 14
)

// Request describes one program run: compile the source if needed, feed
// stdin, enforce the limits.
type Request struct {
	Language      string `json:"language"`
	SourceCode    string `json:"source_code"`
	Stdin         string `json:"stdin"`
	TimeLimitMs   int64  `json:"time_limit_ms"`
	MemoryLimitKb int64  `json:"memory_limit_kb"`
}

// Response is the raw backend result. StatusCode follows the constants
// above; Stdout is raw program output with no normalization applied.
type Response struct {
	StatusCode    int    `json:"status_code"`
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output"`
	TimeUsedMs    int64  `json:"time_used_ms"`
	MemoryUsedKb  int64  `json:"memory_used_kb"`
}

// Backend executes a single run against the sandbox service.
//
// Transport faults, malformed responses and ceiling breaches are returned
// as errors with the appropriate error code; they are never encoded as a
// Response status.
type Backend interface {
	Execute(ctx context.Context, req Request) (Response, error)
}

// CompilationFailed reports whether the run never got past the compiler.
func (r Response) CompilationFailed() bool {
	return r.StatusCode == StatusCompilationError || r.StatusCode == StatusExecFormatError
}
