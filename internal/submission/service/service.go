package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"techfolks/internal/common/cache"
	"techfolks/internal/common/mq"
	"techfolks/internal/common/sourcestore"
	"techfolks/internal/judge/model"
	judgerepo "techfolks/internal/judge/repository"
	"techfolks/internal/submission/repository"
	appErr "techfolks/pkg/errors"
	"techfolks/pkg/utils/logger"
)

const (
	dedupeTTL       = 10 * time.Second
	rateLimitWindow = time.Minute
)

// SubmitRequest is the validated input of one submission.
type SubmitRequest struct {
	UserID     int64
	ProblemID  int64
	Language   string
	SourceCode string
}

// Config wires the submission service's dependencies.
type Config struct {
	Repo        repository.Repository
	StatusCache *judgerepo.StatusCache
	Cache       cache.Cache
	Queue       mq.Producer
	Sources     *sourcestore.Store

	JudgeTopic         string
	MaxSourceBytes     int
	Languages          []string
	RateLimitPerMinute int
}

type SubmissionService struct {
	repo        repository.Repository
	statusCache *judgerepo.StatusCache
	cache       cache.Cache
	queue       mq.Producer
	sources     *sourcestore.Store

	judgeTopic     string
	maxSourceBytes int
	languages      map[string]bool
	rateLimit      int
}

func NewSubmissionService(cfg Config) *SubmissionService {
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = 256 << 10
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 10
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"c", "cpp", "java", "python", "go"}
	}
	langs := make(map[string]bool, len(cfg.Languages))
	for _, l := range cfg.Languages {
		langs[l] = true
	}
	return &SubmissionService{
		repo:           cfg.Repo,
		statusCache:    cfg.StatusCache,
		cache:          cfg.Cache,
		queue:          cfg.Queue,
		sources:        cfg.Sources,
		judgeTopic:     cfg.JudgeTopic,
		maxSourceBytes: cfg.MaxSourceBytes,
		languages:      langs,
		rateLimit:      cfg.RateLimitPerMinute,
	}
}

// Submit validates, persists and enqueues a submission. The record is
// created in pending state before the job is published, so the queue
// payload only ever references durable state.
func (s *SubmissionService) Submit(ctx context.Context, req SubmitRequest) (*model.Submission, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, req.UserID); err != nil {
		return nil, err
	}

	sub := &model.Submission{
		SubmissionID: uuid.New().String(),
		ProblemID:    req.ProblemID,
		UserID:       req.UserID,
		Language:     req.Language,
		SourceCode:   req.SourceCode,
		Status:       model.StatusPending,
		CreatedAt:    time.Now(),
	}

	key, hash, err := s.sources.Upload(ctx, sub.SubmissionID, req.SourceCode)
	if err != nil {
		// The inline copy in the record is still authoritative; judging
		// falls back to it when no archive key is present.
		logger.Warn(ctx, "source archive upload failed, continuing with inline source",
			zap.Error(err))
	} else {
		sub.SourceKey = key
		sub.SourceHash = hash
	}

	if err := s.checkDedupe(ctx, req.UserID, hash); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, sub); err != nil {
		logger.Error(ctx, "enqueue judge job failed", zap.Error(err),
			zap.String("submission_id", sub.SubmissionID))
		if markErr := s.repo.MarkSystemError(ctx, sub.SubmissionID); markErr != nil {
			logger.Error(ctx, "mark system_error after enqueue failure failed",
				zap.Error(markErr))
		}
		return nil, appErr.Wrapf(err, appErr.ServiceUnavailable, "submission accepted but could not be queued")
	}

	if s.statusCache != nil {
		_ = s.statusCache.Save(ctx, model.StatusView{
			SubmissionID: sub.SubmissionID,
			Status:       model.StatusPending,
			UpdatedAt:    time.Now().UnixMilli(),
		})
	}

	logger.Info(ctx, "submission accepted",
		zap.String("submission_id", sub.SubmissionID),
		zap.Int64("problem_id", sub.ProblemID),
		zap.String("language", sub.Language))
	return sub, nil
}

func (s *SubmissionService) validate(req SubmitRequest) error {
	if req.ProblemID <= 0 {
		return appErr.New(appErr.InvalidParams).WithMessage("problem_id is required")
	}
	if req.SourceCode == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("source_code is required")
	}
	if len(req.SourceCode) > s.maxSourceBytes {
		return appErr.Newf(appErr.CodeTooLarge, "source exceeds %d bytes", s.maxSourceBytes)
	}
	if !s.languages[req.Language] {
		return appErr.Newf(appErr.LanguageNotSupported, "language %q not supported", req.Language)
	}
	return nil
}

func (s *SubmissionService) checkRateLimit(ctx context.Context, userID int64) error {
	key := fmt.Sprintf("submit:rate:%d:%d", userID, time.Now().Unix()/int64(rateLimitWindow.Seconds()))
	count, err := s.cache.Incr(ctx, key)
	if err != nil {
		// Rate limiting is a guard, not a dependency. Let submits through
		// when the cache is unavailable.
		logger.Warn(ctx, "rate limit check unavailable", zap.Error(err))
		return nil
	}
	if count == 1 {
		_ = s.cache.Expire(ctx, key, rateLimitWindow)
	}
	if count > int64(s.rateLimit) {
		return appErr.New(appErr.SubmitTooFrequently).WithMessage("submission rate limit exceeded")
	}
	return nil
}

func (s *SubmissionService) checkDedupe(ctx context.Context, userID int64, hash string) error {
	if hash == "" {
		return nil
	}
	key := fmt.Sprintf("submit:dedupe:%d:%s", userID, hash)
	ok, err := s.cache.SetNX(ctx, key, "1", dedupeTTL)
	if err != nil {
		logger.Warn(ctx, "dedupe check unavailable", zap.Error(err))
		return nil
	}
	if !ok {
		return appErr.New(appErr.SubmitTooFrequently).WithMessage("identical submission already in flight")
	}
	return nil
}

func (s *SubmissionService) enqueue(ctx context.Context, sub *model.Submission) error {
	job := model.JudgeJob{
		SubmissionID: sub.SubmissionID,
		ProblemID:    sub.ProblemID,
		UserID:       sub.UserID,
		Language:     sub.Language,
		SourceKey:    sub.SourceKey,
		SourceHash:   sub.SourceHash,
		EnqueuedAt:   time.Now().UnixMilli(),
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	msg := mq.NewMessage(body)
	msg.ID = sub.SubmissionID
	return s.queue.Publish(ctx, s.judgeTopic, msg)
}

// GetStatus serves the polling endpoint from the status cache when
// possible, falling back to the store.
func (s *SubmissionService) GetStatus(ctx context.Context, id string) (*model.StatusView, error) {
	if s.statusCache != nil {
		if view, err := s.statusCache.Get(ctx, id); err == nil && view != nil {
			return view, nil
		}
	}

	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &model.StatusView{
		SubmissionID: sub.SubmissionID,
		Status:       sub.Status,
		Verdict:      sub.Verdict,
		Score:        sub.Score,
		TimeUsedMs:   sub.TimeUsedMs,
		MemoryUsedKb: sub.MemoryUsedKb,
	}
	if n := len(sub.Results); n > 0 {
		view.LastTestCaseIndex = sub.Results[n-1].Index
	}
	return view, nil
}

// Get returns the full submission record including per-test-case results.
func (s *SubmissionService) Get(ctx context.Context, id string) (*model.Submission, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a page of the user's submissions, newest first.
func (s *SubmissionService) List(ctx context.Context, userID int64, limit, offset int) ([]*model.Submission, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}
