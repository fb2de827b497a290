package verdict

import (
	"testing"

	"techfolks/internal/judge/executor"
	"techfolks/internal/judge/model"
	appErr "techfolks/pkg/errors"
)

var stdLimits = model.Limits{TimeLimitMs: 5000, MemoryLimitKb: 262144}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "3", "3", true},
		{"trailing newline", "3\n", "3", true},
		{"trailing spaces on line", "3 ", "3", true},
		{"trailing tab", "3\t", "3", true},
		{"crlf endings", "1\r\n2\r\n", "1\n2", true},
		{"interior trailing spaces", "a  \nb\t\n", "a\nb", true},
		{"leading zero differs", "03", "3", false},
		{"leading space differs", " 3", "3", false},
		{"extra blank line differs", "3\n\n", "3", false},
		{"interior blank line significant", "a\n\nb", "a\nb", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := OutputsMatch(tc.a, tc.b); got != tc.want {
				t.Errorf("OutputsMatch(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestMapVerdicts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		res      executor.Response
		expected string
		want     model.Verdict
	}{
		{
			"accepted",
			executor.Response{StatusCode: executor.StatusAccepted, Stdout: "42\n", TimeUsedMs: 10, MemoryUsedKb: 1024},
			"42",
			model.VerdictAccepted,
		},
		{
			"wrong answer",
			executor.Response{StatusCode: executor.StatusAccepted, Stdout: "41\n", TimeUsedMs: 10, MemoryUsedKb: 1024},
			"42",
			model.VerdictWrongAnswer,
		},
		{
			"backend says wrong but normalized outputs match",
			executor.Response{StatusCode: executor.StatusWrongAnswer, Stdout: "42 \n", TimeUsedMs: 10, MemoryUsedKb: 1024},
			"42",
			model.VerdictAccepted,
		},
		{
			"time limit status",
			executor.Response{StatusCode: executor.StatusTimeLimit, TimeUsedMs: 5000},
			"42",
			model.VerdictTimeLimitExceeded,
		},
		{
			"time over limit despite accepted status",
			executor.Response{StatusCode: executor.StatusAccepted, Stdout: "42", TimeUsedMs: 6000, MemoryUsedKb: 1024},
			"42",
			model.VerdictTimeLimitExceeded,
		},
		{
			"memory over limit with correct output",
			executor.Response{StatusCode: executor.StatusAccepted, Stdout: "42", TimeUsedMs: 10, MemoryUsedKb: 300000},
			"42",
			model.VerdictMemoryLimitExceeded,
		},
		{
			"compilation error",
			executor.Response{StatusCode: executor.StatusCompilationError, CompileOutput: "syntax error"},
			"42",
			model.VerdictCompilationError,
		},
		{
			"exec format error maps to compilation error",
			executor.Response{StatusCode: executor.StatusExecFormatError},
			"42",
			model.VerdictCompilationError,
		},
		{
			"runtime error",
			executor.Response{StatusCode: executor.StatusRuntimeNZEC, Stderr: "panic", TimeUsedMs: 5, MemoryUsedKb: 1024},
			"42",
			model.VerdictRuntimeError,
		},
		{
			"runtime crash with memory over limit prefers mle",
			executor.Response{StatusCode: executor.StatusRuntimeSIGSEGV, MemoryUsedKb: 300000},
			"42",
			model.VerdictMemoryLimitExceeded,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Map(tc.res, tc.expected, stdLimits)
			if err != nil {
				t.Fatalf("Map returned error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Map = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMapInfrastructureFaults(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		res      executor.Response
		wantCode appErr.ErrorCode
	}{
		{"backend internal error", executor.Response{StatusCode: executor.StatusInternalError}, appErr.JudgeSystemError},
		{"non-final status", executor.Response{StatusCode: executor.StatusProcessing}, appErr.BackendBadResponse},
		{"unknown status", executor.Response{StatusCode: 99}, appErr.BackendBadResponse},
		{"zero status", executor.Response{}, appErr.BackendBadResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := Map(tc.res, "42", stdLimits)
			if err == nil {
				t.Fatalf("Map = %q, want error", v)
			}
			if code := appErr.GetCode(err); code != tc.wantCode {
				t.Errorf("error code = %d, want %d", code, tc.wantCode)
			}
		})
	}
}

func TestMapNoLimitsConfigured(t *testing.T) {
	t.Parallel()

	res := executor.Response{StatusCode: executor.StatusAccepted, Stdout: "ok", TimeUsedMs: 999999, MemoryUsedKb: 999999}
	got, err := Map(res, "ok", model.Limits{})
	if err != nil {
		t.Fatal(err)
	}
	if got != model.VerdictAccepted {
		t.Errorf("Map = %q, want accepted when no limits set", got)
	}
}
