package repository

import (
	"context"
	"database/sql"
	"time"

	"techfolks/internal/common/db"
	"techfolks/internal/judge/model"
	appErr "techfolks/pkg/errors"
)

// ResultStore is the authoritative record of submissions. Transitions are
// guarded so that a record only ever moves forward:
// pending -> judging -> completed | system_error.
type ResultStore interface {
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)

	// BeginJudging atomically claims a pending submission. It returns
	// false when the submission is no longer pending, which is how a
	// redelivered job is detected and discarded.
	BeginJudging(ctx context.Context, id string) (bool, error)

	// AppendTestCaseResult records one per-test-case outcome. Results are
	// append-only and ordered by index.
	AppendTestCaseResult(ctx context.Context, id string, r model.TestCaseResult) error

	// Finalize completes a judging submission with its verdict, total
	// score and worst-case resource usage. It fails if the submission is
	// not currently judging.
	Finalize(ctx context.Context, id string, verdict model.Verdict, score int, timeUsedMs, memoryUsedKb int64) error

	// MarkSystemError moves a non-terminal submission to system_error
	// with no verdict. Calling it on a terminal record is a no-op.
	MarkSystemError(ctx context.Context, id string) error
}

type mysqlStore struct {
	db db.Database
}

func NewResultStore(database db.Database) ResultStore {
	return &mysqlStore{db: database}
}

func (s *mysqlStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	row := s.db.QueryRow(ctx, `
		SELECT submission_id, problem_id, user_id, language, source_code,
		       source_key, source_hash, status, verdict, score,
		       time_used_ms, memory_used_kb, created_at, judged_at
		FROM submissions WHERE submission_id = ?`, id)

	var (
		sub      model.Submission
		verdict  sql.NullString
		judgedAt sql.NullTime
	)
	err := row.Scan(&sub.SubmissionID, &sub.ProblemID, &sub.UserID, &sub.Language,
		&sub.SourceCode, &sub.SourceKey, &sub.SourceHash, &sub.Status, &verdict,
		&sub.Score, &sub.TimeUsedMs, &sub.MemoryUsedKb, &sub.CreatedAt, &judgedAt)
	if db.IsNoRows(err) {
		return nil, appErr.New(appErr.SubmissionNotFound).WithMessage("submission not found")
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query submission")
	}
	if verdict.Valid {
		sub.Verdict = model.Verdict(verdict.String)
	}
	if judgedAt.Valid {
		t := judgedAt.Time
		sub.JudgedAt = &t
	}

	results, err := s.listResults(ctx, id)
	if err != nil {
		return nil, err
	}
	sub.Results = results
	return &sub, nil
}

func (s *mysqlStore) listResults(ctx context.Context, id string) ([]model.TestCaseResult, error) {
	rows, err := s.db.Query(ctx, `
		SELECT test_case_index, verdict, time_used_ms, memory_used_kb
		FROM submission_results WHERE submission_id = ?
		ORDER BY test_case_index`, id)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query submission results")
	}
	defer rows.Close()

	var out []model.TestCaseResult
	for rows.Next() {
		var r model.TestCaseResult
		if err := rows.Scan(&r.Index, &r.Verdict, &r.TimeUsedMs, &r.MemoryUsedKb); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan submission result")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate submission results")
	}
	return out, nil
}

func (s *mysqlStore) BeginJudging(ctx context.Context, id string) (bool, error) {
	res, err := s.db.Exec(ctx, `
		UPDATE submissions SET status = ? WHERE submission_id = ? AND status = ?`,
		model.StatusJudging, id, model.StatusPending)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "claim submission")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "claim submission")
	}
	return n == 1, nil
}

func (s *mysqlStore) AppendTestCaseResult(ctx context.Context, id string, r model.TestCaseResult) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO submission_results
			(submission_id, test_case_index, verdict, time_used_ms, memory_used_kb)
		VALUES (?, ?, ?, ?, ?)`,
		id, r.Index, r.Verdict, r.TimeUsedMs, r.MemoryUsedKb)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			// A crashed-and-redelivered run may re-record an index it
			// already wrote before losing the claim race. Keep the first.
			return nil
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "append test case result")
	}
	return nil
}

func (s *mysqlStore) Finalize(ctx context.Context, id string, verdict model.Verdict, score int, timeUsedMs, memoryUsedKb int64) error {
	res, err := s.db.Exec(ctx, `
		UPDATE submissions
		SET status = ?, verdict = ?, score = ?, time_used_ms = ?,
		    memory_used_kb = ?, judged_at = ?
		WHERE submission_id = ? AND status = ?`,
		model.StatusCompleted, string(verdict), score, timeUsedMs,
		memoryUsedKb, time.Now(), id, model.StatusJudging)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "finalize submission")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "finalize submission")
	}
	if n == 0 {
		return appErr.New(appErr.DuplicateDelivery).WithMessage("submission not in judging state")
	}
	return nil
}

func (s *mysqlStore) MarkSystemError(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE submissions SET status = ?, judged_at = ?
		WHERE submission_id = ? AND status IN (?, ?)`,
		model.StatusSystemError, time.Now(), id,
		model.StatusPending, model.StatusJudging)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "mark system error")
	}
	return nil
}
