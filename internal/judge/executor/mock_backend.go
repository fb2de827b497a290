package executor

import (
	"context"
	"strings"
)

// MockBackend is a deterministic stand-in for the real sandbox, used in
// tests and local development. The "program" it runs echoes stdin; magic
// markers in the source code steer the outcome:
//
//	@compile-error  fail to build
//	@tle            exceed the time limit
//	@mle            report memory above the limit
//	@re             crash at runtime
//	@wa             print wrong output
//	@hang           never answer (block until the ceiling cancels ctx)
type MockBackend struct{}

func NewMockBackend() *MockBackend { return &MockBackend{} }

func (m *MockBackend) Execute(ctx context.Context, req Request) (Response, error) {
	if strings.Contains(req.SourceCode, "@hang") {
		<-ctx.Done()
		return Response{}, ctx.Err()
	}

	switch {
	case strings.Contains(req.SourceCode, "@compile-error"):
		return Response{
			StatusCode:    StatusCompilationError,
			CompileOutput: "error: expected ';' before '}' token",
		}, nil
	case strings.Contains(req.SourceCode, "@tle"):
		return Response{
			StatusCode:   StatusTimeLimit,
			TimeUsedMs:   req.TimeLimitMs,
			MemoryUsedKb: 2048,
		}, nil
	case strings.Contains(req.SourceCode, "@mle"):
		return Response{
			StatusCode:   StatusAccepted,
			Stdout:       req.Stdin,
			TimeUsedMs:   5,
			MemoryUsedKb: req.MemoryLimitKb + 1024,
		}, nil
	case strings.Contains(req.SourceCode, "@re"):
		return Response{
			StatusCode:   StatusRuntimeNZEC,
			Stderr:       "panic: runtime error",
			TimeUsedMs:   3,
			MemoryUsedKb: 2048,
		}, nil
	case strings.Contains(req.SourceCode, "@wa"):
		return Response{
			StatusCode:   StatusAccepted,
			Stdout:       req.Stdin + "!",
			TimeUsedMs:   2,
			MemoryUsedKb: 2048,
		}, nil
	}

	return Response{
		StatusCode:   StatusAccepted,
		Stdout:       req.Stdin,
		TimeUsedMs:   int64(len(req.Stdin)%7) + 1,
		MemoryUsedKb: 2048,
	}, nil
}
