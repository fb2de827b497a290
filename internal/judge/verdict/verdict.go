// Package verdict translates raw execution backend results into the
// closed verdict vocabulary. It is pure: no I/O, no clock, no state.
package verdict

import (
	"strings"

	"techfolks/internal/judge/executor"
	"techfolks/internal/judge/model"
	appErr "techfolks/pkg/errors"
)

// Map classifies one run against one test case.
//
// Precedence when several conditions hold at once:
// compilation_error > time_limit_exceeded > memory_limit_exceeded >
// runtime_error > wrong_answer > accepted.
//
// A backend-internal status (13) or an unknown status code yields an
// error, never a verdict: those are infrastructure faults and must not
// be attributed to the submission.
func Map(res executor.Response, expectedOutput string, limits model.Limits) (model.Verdict, error) {
	switch res.StatusCode {
	case executor.StatusCompilationError, executor.StatusExecFormatError:
		return model.VerdictCompilationError, nil
	case executor.StatusTimeLimit:
		return model.VerdictTimeLimitExceeded, nil
	case executor.StatusInternalError:
		return "", appErr.New(appErr.JudgeSystemError).WithMessage("execution backend reported internal error")
	case executor.StatusInQueue, executor.StatusProcessing:
		return "", appErr.Newf(appErr.BackendBadResponse, "non-final backend status %d", res.StatusCode)
	}

	if res.StatusCode >= executor.StatusRuntimeSIGSEGV && res.StatusCode <= executor.StatusRuntimeOther {
		if limits.MemoryLimitKb > 0 && res.MemoryUsedKb > limits.MemoryLimitKb {
			return model.VerdictMemoryLimitExceeded, nil
		}
		return model.VerdictRuntimeError, nil
	}

	switch res.StatusCode {
	case executor.StatusAccepted, executor.StatusWrongAnswer:
		// Re-derive correctness from the outputs rather than trusting the
		// backend's own comparison, so normalization stays in one place.
		if limits.TimeLimitMs > 0 && res.TimeUsedMs > limits.TimeLimitMs {
			return model.VerdictTimeLimitExceeded, nil
		}
		if limits.MemoryLimitKb > 0 && res.MemoryUsedKb > limits.MemoryLimitKb {
			return model.VerdictMemoryLimitExceeded, nil
		}
		if OutputsMatch(res.Stdout, expectedOutput) {
			return model.VerdictAccepted, nil
		}
		return model.VerdictWrongAnswer, nil
	}

	return "", appErr.Newf(appErr.BackendBadResponse, "unknown backend status %d", res.StatusCode)
}

// OutputsMatch compares actual and expected program output under the
// canonical normalization.
func OutputsMatch(actual, expected string) bool {
	return Normalize(actual) == Normalize(expected)
}

// Normalize strips trailing whitespace from every line, unifies line
// endings and removes a single trailing newline. Leading whitespace and
// interior blank lines stay significant, as does everything else:
// "03" does not match "3".
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimSuffix(strings.Join(lines, "\n"), "\n")
}
