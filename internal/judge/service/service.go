package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"techfolks/internal/common/mq"
	"techfolks/internal/common/sourcestore"
	"techfolks/internal/judge/executor"
	"techfolks/internal/judge/model"
	"techfolks/internal/judge/repository"
	"techfolks/internal/judge/verdict"
	"techfolks/internal/notify"
	appErr "techfolks/pkg/errors"
	"techfolks/pkg/utils/contextkey"
	"techfolks/pkg/utils/logger"
)

// ScorePolicy decides how many points one passed test case is worth.
type ScorePolicy struct {
	PerTestCase  int `yaml:"perTestCase"`
	SampleWeight int `yaml:"sampleWeight"`
	HiddenWeight int `yaml:"hiddenWeight"`
}

func (p *ScorePolicy) ApplyDefaults() {
	if p.PerTestCase <= 0 {
		p.PerTestCase = 20
	}
	if p.SampleWeight <= 0 {
		p.SampleWeight = 1
	}
	if p.HiddenWeight <= 0 {
		p.HiddenWeight = 1
	}
}

func (p ScorePolicy) Score(tc model.TestCase) int {
	if tc.IsSample {
		return p.PerTestCase * p.SampleWeight
	}
	return p.PerTestCase * p.HiddenWeight
}

// Config wires the judge service's dependencies.
type Config struct {
	Store       repository.ResultStore
	TestCases   repository.TestCaseRepository
	StatusCache *repository.StatusCache
	Backend     executor.Backend
	Notifier    notify.Notifier
	Sources     *sourcestore.Store

	Scoring              ScorePolicy
	DefaultTimeLimitMs   int64
	DefaultMemoryLimitKb int64
}

// JudgeService consumes judge jobs and runs submissions to a terminal
// state. One invocation of HandleMessage processes one submission end to
// end; concurrency comes from the queue consumer's worker pool.
type JudgeService struct {
	store       repository.ResultStore
	testCases   repository.TestCaseRepository
	statusCache *repository.StatusCache
	backend     executor.Backend
	notifier    notify.Notifier
	sources     *sourcestore.Store

	scoring       ScorePolicy
	defaultLimits model.Limits
}

func NewJudgeService(cfg Config) *JudgeService {
	cfg.Scoring.ApplyDefaults()
	if cfg.DefaultTimeLimitMs <= 0 {
		cfg.DefaultTimeLimitMs = 5000
	}
	if cfg.DefaultMemoryLimitKb <= 0 {
		cfg.DefaultMemoryLimitKb = 262144
	}
	return &JudgeService{
		store:       cfg.Store,
		testCases:   cfg.TestCases,
		statusCache: cfg.StatusCache,
		backend:     cfg.Backend,
		notifier:    cfg.Notifier,
		sources:     cfg.Sources,
		scoring:     cfg.Scoring,
		defaultLimits: model.Limits{
			TimeLimitMs:   cfg.DefaultTimeLimitMs,
			MemoryLimitKb: cfg.DefaultMemoryLimitKb,
		},
	}
}

// HandleMessage is the queue handler. A nil return acks the message; a
// non-nil return asks the queue for redelivery. Once a submission is
// claimed, faults are persisted as system_error and acked, because a
// redelivered job would find the record no longer pending and be
// discarded.
func (s *JudgeService) HandleMessage(ctx context.Context, msg *mq.Message) error {
	var job model.JudgeJob
	if err := json.Unmarshal(msg.Body, &job); err != nil || job.SubmissionID == "" {
		logger.Error(ctx, "malformed judge job, discarding",
			zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}

	ctx = context.WithValue(ctx, contextkey.SubmissionID, job.SubmissionID)
	if job.EnqueuedAt > 0 {
		logger.Debug(ctx, "judge job dequeued",
			zap.Int64("queue_latency_ms", time.Now().UnixMilli()-job.EnqueuedAt),
			zap.Int("attempt", msg.Attempt))
	}

	err := s.judge(ctx, job)
	if err != nil && msg.MaxAttempts > 0 && msg.Attempt+1 >= msg.MaxAttempts {
		// The queue dead-letters this job after the final failed attempt,
		// so no redelivery will ever pick the submission up again. Leave
		// a terminal record behind instead of a stuck pending/judging one.
		logger.Error(ctx, "judge job exhausted delivery attempts, marking system_error",
			zap.Int("attempt", msg.Attempt+1), zap.Error(err))
		if markErr := s.store.MarkSystemError(ctx, job.SubmissionID); markErr != nil {
			logger.Error(ctx, "persisting system_error for dead-lettered job failed",
				zap.Error(markErr))
		} else {
			s.announce(ctx, &model.Submission{SubmissionID: job.SubmissionID, UserID: job.UserID},
				model.StatusSystemError, "", 0, 0, 0, 0)
		}
	}
	return err
}

func (s *JudgeService) judge(ctx context.Context, job model.JudgeJob) error {
	sub, err := s.store.GetSubmission(ctx, job.SubmissionID)
	if err != nil {
		if appErr.GetCode(err) == appErr.SubmissionNotFound {
			logger.Error(ctx, "judge job references unknown submission, discarding")
			return nil
		}
		return err
	}

	claimed, err := s.store.BeginJudging(ctx, sub.SubmissionID)
	if err != nil {
		return err
	}
	if !claimed {
		logger.Warn(ctx, "duplicate delivery for non-pending submission, discarding",
			zap.String("status", string(sub.Status)))
		return nil
	}

	s.announce(ctx, sub, model.StatusJudging, "", 0, 0, 0, 0)

	source := sub.SourceCode
	if sub.SourceKey != "" {
		source, err = s.sources.Download(ctx, sub.SourceKey, sub.SourceHash)
		if err != nil {
			return s.fail(ctx, sub, err)
		}
	}

	tests, err := s.testCases.ListByProblem(ctx, sub.ProblemID)
	if err != nil {
		return s.fail(ctx, sub, err)
	}
	if len(tests) == 0 {
		return s.fail(ctx, sub,
			appErr.Newf(appErr.TestCaseNotFound, "problem %d has no test cases", sub.ProblemID))
	}

	// Compile once before touching test data. A build failure is a
	// submission verdict with an empty result sequence, and no test case
	// is ever sent to the backend.
	probe, err := s.backend.Execute(ctx, executor.Request{
		Language:      sub.Language,
		SourceCode:    source,
		TimeLimitMs:   s.defaultLimits.TimeLimitMs,
		MemoryLimitKb: s.defaultLimits.MemoryLimitKb,
	})
	if err != nil {
		return s.fail(ctx, sub, err)
	}
	if probe.CompilationFailed() {
		return s.finish(ctx, sub, model.VerdictCompilationError, 0, 0, 0, 0)
	}

	var (
		final     = model.VerdictAccepted
		score     int
		maxTime   int64
		maxMem    int64
		lastIndex int
	)
	for _, tc := range tests {
		limits := s.limitsFor(tc)
		resp, err := s.backend.Execute(ctx, executor.Request{
			Language:      sub.Language,
			SourceCode:    source,
			Stdin:         tc.Input,
			TimeLimitMs:   limits.TimeLimitMs,
			MemoryLimitKb: limits.MemoryLimitKb,
		})
		if err != nil {
			return s.fail(ctx, sub, err)
		}

		v, verr := verdict.Map(resp, tc.ExpectedOutput, limits)
		if verr != nil {
			return s.fail(ctx, sub, verr)
		}
		if v == model.VerdictCompilationError {
			// The program built during the probe; a build failure now
			// means the backend is answering inconsistently.
			return s.fail(ctx, sub,
				appErr.New(appErr.BackendBadResponse).WithMessage("compile failure after successful build"))
		}

		result := model.TestCaseResult{
			Index:        tc.Ordinal,
			Verdict:      v,
			TimeUsedMs:   resp.TimeUsedMs,
			MemoryUsedKb: resp.MemoryUsedKb,
		}
		if err := s.store.AppendTestCaseResult(ctx, sub.SubmissionID, result); err != nil {
			return s.fail(ctx, sub, err)
		}

		lastIndex = tc.Ordinal
		if resp.TimeUsedMs > maxTime {
			maxTime = resp.TimeUsedMs
		}
		if resp.MemoryUsedKb > maxMem {
			maxMem = resp.MemoryUsedKb
		}

		if v == model.VerdictAccepted {
			score += s.scoring.Score(tc)
		}
		// Every appended result gets a progress event, including the
		// failing one that decides the verdict.
		s.announce(ctx, sub, model.StatusJudging, "", score, lastIndex, maxTime, maxMem)
		if v != model.VerdictAccepted {
			// Fail fast: the first failing test case decides the verdict
			// and remaining test cases are never run.
			final = v
			break
		}
	}

	return s.finish(ctx, sub, final, score, lastIndex, maxTime, maxMem)
}

func (s *JudgeService) limitsFor(tc model.TestCase) model.Limits {
	limits := model.Limits{TimeLimitMs: tc.TimeLimitMs, MemoryLimitKb: tc.MemoryLimitKb}
	if limits.TimeLimitMs <= 0 {
		limits.TimeLimitMs = s.defaultLimits.TimeLimitMs
	}
	if limits.MemoryLimitKb <= 0 {
		limits.MemoryLimitKb = s.defaultLimits.MemoryLimitKb
	}
	return limits
}

func (s *JudgeService) finish(ctx context.Context, sub *model.Submission, v model.Verdict,
	score, lastIndex int, timeUsedMs, memoryUsedKb int64) error {

	err := s.store.Finalize(ctx, sub.SubmissionID, v, score, timeUsedMs, memoryUsedKb)
	if err != nil {
		if appErr.GetCode(err) == appErr.DuplicateDelivery {
			logger.Warn(ctx, "submission finalized elsewhere, discarding")
			return nil
		}
		return s.fail(ctx, sub, err)
	}

	logger.Info(ctx, "submission judged",
		zap.String("verdict", string(v)),
		zap.Int("score", score),
		zap.Int64("time_used_ms", timeUsedMs),
		zap.Int64("memory_used_kb", memoryUsedKb))

	s.announce(ctx, sub, model.StatusCompleted, v, score, lastIndex, timeUsedMs, memoryUsedKb)
	return nil
}

// fail persists system_error and acks. Marking can itself hit a transient
// fault; that one case is returned for redelivery since nothing terminal
// was recorded yet.
func (s *JudgeService) fail(ctx context.Context, sub *model.Submission, cause error) error {
	logger.Error(ctx, "judging failed", zap.Error(cause),
		zap.Int("error_code", int(appErr.GetCode(cause))))

	if err := s.store.MarkSystemError(ctx, sub.SubmissionID); err != nil {
		logger.Error(ctx, "persisting system_error failed", zap.Error(err))
		return err
	}
	s.announce(ctx, sub, model.StatusSystemError, "", 0, 0, 0, 0)
	return nil
}

// announce updates the status cache and fires a notification event. Both
// are best-effort observers of state already persisted in the store.
func (s *JudgeService) announce(ctx context.Context, sub *model.Submission,
	status model.SubmissionStatus, v model.Verdict, score, lastIndex int,
	timeUsedMs, memoryUsedKb int64) {

	now := time.Now().UnixMilli()
	if s.statusCache != nil {
		view := model.StatusView{
			SubmissionID:      sub.SubmissionID,
			Status:            status,
			Verdict:           v,
			Score:             score,
			LastTestCaseIndex: lastIndex,
			TimeUsedMs:        timeUsedMs,
			MemoryUsedKb:      memoryUsedKb,
			UpdatedAt:         now,
		}
		if err := s.statusCache.Save(ctx, view); err != nil {
			logger.Warn(ctx, "status cache save failed", zap.Error(err))
		}
	}
	if s.notifier != nil {
		s.notifier.Publish(notify.Event{
			SubmissionID:      sub.SubmissionID,
			UserID:            sub.UserID,
			Status:            status,
			Verdict:           v,
			LastTestCaseIndex: lastIndex,
			Score:             score,
			At:                now,
		})
	}
}
