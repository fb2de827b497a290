package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"techfolks/internal/common/cache"
	"techfolks/internal/common/db"
	"techfolks/internal/judge/model"
	appErr "techfolks/pkg/errors"
)

const (
	testCaseCacheTTL      = 10 * time.Minute
	testCaseEmptyCacheTTL = 30 * time.Second
)

// TestCaseRepository loads a problem's ordered test cases. Test data
// changes rarely, so reads go through a cache-aside layer.
type TestCaseRepository interface {
	ListByProblem(ctx context.Context, problemID int64) ([]model.TestCase, error)
}

type testCaseRepo struct {
	db    db.Database
	cache cache.Cache
}

func NewTestCaseRepository(database db.Database, c cache.Cache) TestCaseRepository {
	return &testCaseRepo{db: database, cache: c}
}

func testCaseCacheKey(problemID int64) string {
	return fmt.Sprintf("judge:testcases:%d", problemID)
}

func (r *testCaseRepo) ListByProblem(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	return cache.GetWithCached(ctx, r.cache, testCaseCacheKey(problemID),
		testCaseCacheTTL, testCaseEmptyCacheTTL,
		func(tcs []model.TestCase) bool { return len(tcs) == 0 },
		func(tcs []model.TestCase) string {
			b, _ := json.Marshal(tcs)
			return string(b)
		},
		func(s string) ([]model.TestCase, error) {
			var tcs []model.TestCase
			err := json.Unmarshal([]byte(s), &tcs)
			return tcs, err
		},
		func(ctx context.Context) ([]model.TestCase, error) {
			return r.listFromDB(ctx, problemID)
		},
	)
}

func (r *testCaseRepo) listFromDB(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, problem_id, ordinal, input, expected_output,
		       is_sample, time_limit_ms, memory_limit_kb
		FROM test_cases WHERE problem_id = ?
		ORDER BY ordinal`, problemID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query test cases")
	}
	defer rows.Close()

	var out []model.TestCase
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.ID, &tc.ProblemID, &tc.Ordinal, &tc.Input,
			&tc.ExpectedOutput, &tc.IsSample, &tc.TimeLimitMs, &tc.MemoryLimitKb); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan test case")
		}
		out = append(out, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate test cases")
	}
	return out, nil
}
