package repository

import (
	"context"
	"database/sql"

	"techfolks/internal/common/db"
	"techfolks/internal/judge/model"
	appErr "techfolks/pkg/errors"
)

// Repository covers the submit-side view of the submissions table:
// creating records and reading them back for users. Status transitions
// after creation belong to the judge worker.
type Repository interface {
	Create(ctx context.Context, sub *model.Submission) error
	GetByID(ctx context.Context, id string) (*model.Submission, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*model.Submission, error)

	// MarkSystemError is the submit-side escape hatch for a record whose
	// judge job could not be enqueued.
	MarkSystemError(ctx context.Context, id string) error
}

type mysqlRepo struct {
	db db.Database
}

func New(database db.Database) Repository {
	return &mysqlRepo{db: database}
}

func (r *mysqlRepo) Create(ctx context.Context, sub *model.Submission) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO submissions
			(submission_id, problem_id, user_id, language, source_code,
			 source_key, source_hash, status, score, time_used_ms,
			 memory_used_kb, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, ?)`,
		sub.SubmissionID, sub.ProblemID, sub.UserID, sub.Language,
		sub.SourceCode, sub.SourceKey, sub.SourceHash, sub.Status, sub.CreatedAt)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return appErr.New(appErr.SubmissionCreateFailed).WithMessage("submission id already exists")
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "insert submission")
	}
	return nil
}

func (r *mysqlRepo) GetByID(ctx context.Context, id string) (*model.Submission, error) {
	row := r.db.QueryRow(ctx, `
		SELECT submission_id, problem_id, user_id, language, source_code,
		       source_key, source_hash, status, verdict, score,
		       time_used_ms, memory_used_kb, created_at, judged_at
		FROM submissions WHERE submission_id = ?`, id)
	sub, err := scanSubmission(row)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT test_case_index, verdict, time_used_ms, memory_used_kb
		FROM submission_results WHERE submission_id = ?
		ORDER BY test_case_index`, id)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query submission results")
	}
	defer rows.Close()
	for rows.Next() {
		var res model.TestCaseResult
		if err := rows.Scan(&res.Index, &res.Verdict, &res.TimeUsedMs, &res.MemoryUsedKb); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan submission result")
		}
		sub.Results = append(sub.Results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate submission results")
	}
	return sub, nil
}

func (r *mysqlRepo) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*model.Submission, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `
		SELECT submission_id, problem_id, user_id, language, '', source_key,
		       source_hash, status, verdict, score, time_used_ms,
		       memory_used_kb, created_at, judged_at
		FROM submissions WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list submissions")
	}
	defer rows.Close()

	var out []*model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate submissions")
	}
	return out, nil
}

func (r *mysqlRepo) MarkSystemError(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE submissions SET status = ?
		WHERE submission_id = ? AND status = ?`,
		model.StatusSystemError, id, model.StatusPending)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "mark system error")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row rowScanner) (*model.Submission, error) {
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
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan submission")
	}
	if verdict.Valid {
		sub.Verdict = model.Verdict(verdict.String)
	}
	if judgedAt.Valid {
		t := judgedAt.Time
		sub.JudgedAt = &t
	}
	return &sub, nil
}
