package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"techfolks/internal/common/mq"
	"techfolks/internal/judge/executor"
	"techfolks/internal/judge/model"
	"techfolks/internal/notify"
	appErr "techfolks/pkg/errors"
)

type fakeStore struct {
	mu   sync.Mutex
	subs map[string]*model.Submission

	beginErr    error
	finalizeErr error
}

func newFakeStore(subs ...*model.Submission) *fakeStore {
	s := &fakeStore{subs: make(map[string]*model.Submission)}
	for _, sub := range subs {
		s.subs[sub.SubmissionID] = sub
	}
	return s
}

func (s *fakeStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, appErr.New(appErr.SubmissionNotFound).WithMessage("submission not found")
	}
	cp := *sub
	cp.Results = append([]model.TestCaseResult(nil), sub.Results...)
	return &cp, nil
}

func (s *fakeStore) BeginJudging(ctx context.Context, id string) (bool, error) {
	if s.beginErr != nil {
		return false, s.beginErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok || sub.Status != model.StatusPending {
		return false, nil
	}
	sub.Status = model.StatusJudging
	return true, nil
}

func (s *fakeStore) AppendTestCaseResult(ctx context.Context, id string, r model.TestCaseResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.subs[id]
	sub.Results = append(sub.Results, r)
	return nil
}

func (s *fakeStore) Finalize(ctx context.Context, id string, v model.Verdict, score int, timeMs, memKb int64) error {
	if s.finalizeErr != nil {
		return s.finalizeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.subs[id]
	if sub.Status != model.StatusJudging {
		return appErr.New(appErr.DuplicateDelivery).WithMessage("submission not in judging state")
	}
	sub.Status = model.StatusCompleted
	sub.Verdict = v
	sub.Score = score
	sub.TimeUsedMs = timeMs
	sub.MemoryUsedKb = memKb
	return nil
}

func (s *fakeStore) MarkSystemError(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.subs[id]
	if sub.Status.Terminal() {
		return nil
	}
	sub.Status = model.StatusSystemError
	sub.Verdict = ""
	return nil
}

func (s *fakeStore) get(id string) model.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.subs[id]
}

type fakeTestCases struct {
	cases []model.TestCase
	err   error
}

func (f *fakeTestCases) ListByProblem(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	return f.cases, f.err
}

type countingBackend struct {
	inner executor.Backend
	mu    sync.Mutex
	calls int
}

func (b *countingBackend) Execute(ctx context.Context, req executor.Request) (executor.Response, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	return b.inner.Execute(ctx, req)
}

type failingBackend struct{ code appErr.ErrorCode }

func (b failingBackend) Execute(ctx context.Context, req executor.Request) (executor.Response, error) {
	return executor.Response{}, appErr.New(b.code).WithMessage("boom")
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *captureNotifier) Publish(ev notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *captureNotifier) Close() error { return nil }

func (n *captureNotifier) last() notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.events[len(n.events)-1]
}

func (n *captureNotifier) all() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events...)
}

func pendingSubmission(id string) *model.Submission {
	return &model.Submission{
		SubmissionID: id,
		ProblemID:    1,
		UserID:       7,
		Language:     "cpp",
		SourceCode:   "int main(){}",
		Status:       model.StatusPending,
	}
}

func echoCases(n int) []model.TestCase {
	out := make([]model.TestCase, n)
	for i := range out {
		out[i] = model.TestCase{
			ID:             int64(i + 1),
			ProblemID:      1,
			Ordinal:        i + 1,
			Input:          "in",
			ExpectedOutput: "in",
			IsSample:       i == 0,
		}
	}
	return out
}

func jobMessage(t *testing.T, job model.JudgeJob) *mq.Message {
	t.Helper()
	body, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	msg := mq.NewMessage(body)
	msg.ID = job.SubmissionID
	return msg
}

func newService(store *fakeStore, tcs *fakeTestCases, backend executor.Backend, notifier notify.Notifier) *JudgeService {
	return NewJudgeService(Config{
		Store:     store,
		TestCases: tcs,
		Backend:   backend,
		Notifier:  notifier,
	})
}

func TestJudgeAllPass(t *testing.T) {
	t.Parallel()

	store := newFakeStore(pendingSubmission("s1"))
	notifier := &captureNotifier{}
	svc := newService(store, &fakeTestCases{cases: echoCases(5)}, executor.NewMockBackend(), notifier)

	err := svc.HandleMessage(context.Background(), jobMessage(t, model.JudgeJob{SubmissionID: "s1"}))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	sub := store.get("s1")
	if sub.Status != model.StatusCompleted {
		t.Errorf("status = %s, want completed", sub.Status)
	}
	if sub.Verdict != model.VerdictAccepted {
		t.Errorf("verdict = %s, want accepted", sub.Verdict)
	}
	if sub.Score != 100 {
		t.Errorf("score = %d, want 100", sub.Score)
	}
	if len(sub.Results) != 5 {
		t.Errorf("results = %d, want 5", len(sub.Results))
	}

	last := notifier.last()
	if last.Status != model.StatusCompleted || last.Verdict != model.VerdictAccepted {
		t.Errorf("final event = %+v", last)
	}
}

func TestJudgeFailFast(t *testing.T) {
	t.Parallel()

	cases := echoCases(4)
	cases[1].ExpectedOutput = "something else"

	store := newFakeStore(pendingSubmission("s1"))
	notifier := &captureNotifier{}
	svc := newService(store, &fakeTestCases{cases: cases}, executor.NewMockBackend(), notifier)

	if err := svc.HandleMessage(context.Background(), jobMessage(t, model.JudgeJob{SubmissionID: "s1"})); err != nil {
		t.Fatal(err)
	}

	sub := store.get("s1")
	if sub.Verdict != model.VerdictWrongAnswer {
		t.Errorf("verdict = %s, want wrong_answer", sub.Verdict)
	}
	if len(sub.Results) != 2 {
		t.Errorf("results = %d, want 2 (stop at first failure)", len(sub.Results))
	}
	if sub.Results[1].Verdict != model.VerdictWrongAnswer {
		t.Errorf("failing result verdict = %s", sub.Results[1].Verdict)
	}
	if sub.Score != 20 {
		t.Errorf("score = %d, want 20 (one passed case)", sub.Score)
	}

	// Both appended results were announced, including the failing one.
	var progress []notify.Event
	for _, ev := range notifier.all() {
		if ev.Status == model.StatusJudging && ev.LastTestCaseIndex > 0 {
			progress = append(progress, ev)
		}
	}
	if len(progress) != 2 {
		t.Fatalf("progress events = %d, want 2", len(progress))
	}
	if progress[1].LastTestCaseIndex != 2 || progress[1].Score != 20 {
		t.Errorf("failing-case progress event = %+v", progress[1])
	}
}

func TestJudgeCompilationError(t *testing.T) {
	t.Parallel()

	sub := pendingSubmission("s1")
	sub.SourceCode = "int main() { @compile-error }"

	store := newFakeStore(sub)
	backend := &countingBackend{inner: executor.NewMockBackend()}
	svc := newService(store, &fakeTestCases{cases: echoCases(5)}, backend, &captureNotifier{})

	if err := svc.HandleMessage(context.Background(), jobMessage(t, model.JudgeJob{SubmissionID: "s1"})); err != nil {
		t.Fatal(err)
	}

	got := store.get("s1")
	if got.Verdict != model.VerdictCompilationError {
		t.Errorf("verdict = %s, want compilation_error", got.Verdict)
	}
	if len(got.Results) != 0 {
		t.Errorf("results = %d, want 0 for compile failure", len(got.Results))
	}
	if got.Score != 0 {
		t.Errorf("score = %d, want 0", got.Score)
	}
	if backend.calls != 1 {
		t.Errorf("backend calls = %d, want only the build probe", backend.calls)
	}
}

func TestJudgeVerdictDirectives(t *testing.T) {
	t.Parallel()

	cases := []struct {
		marker string
		want   model.Verdict
	}{
		{"@tle", model.VerdictTimeLimitExceeded},
		{"@mle", model.VerdictMemoryLimitExceeded},
		{"@re", model.VerdictRuntimeError},
		{"@wa", model.VerdictWrongAnswer},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(string(tc.want), func(t *testing.T) {
			t.Parallel()

			sub := pendingSubmission("s1")
			sub.SourceCode = "int main() { /* " + tc.marker + " */ }"

			store := newFakeStore(sub)
			svc := newService(store, &fakeTestCases{cases: echoCases(3)}, executor.NewMockBackend(), &captureNotifier{})

			if err := svc.HandleMessage(context.Background(), jobMessage(t, model.JudgeJob{SubmissionID: "s1"})); err != nil {
				t.Fatal(err)
			}

			got := store.get("s1")
			if got.Status != model.StatusCompleted {
				t.Fatalf("status = %s, want completed", got.Status)
			}
			if got.Verdict != tc.want {
				t.Errorf("verdict = %s, want %s", got.Verdict, tc.want)
			}
			if len(got.Results) != 1 {
				t.Errorf("results = %d, want 1 (first case fails)", len(got.Results))
			}
		})
	}
}

func TestJudgeOutputNormalization(t *testing.T) {
	t.Parallel()

	// The mock echoes stdin, so the raw output carries the trailing
	// newline while the expected output does not.
	cases := []model.TestCase{{
		ID: 1, ProblemID: 1, Ordinal: 1,
		Input:          "3\n",
		ExpectedOutput: "3",
	}}

	store := newFakeStore(pendingSubmission("s1"))
	svc := newService(store, &fakeTestCases{cases: cases}, executor.NewMockBackend(), &captureNotifier{})

	if err := svc.HandleMessage(context.Background(), jobMessage(t, model.JudgeJob{SubmissionID: "s1"})); err != nil {
		t.Fatal(err)
	}
	if got := store.get("s1"); got.Verdict != model.VerdictAccepted {
		t.Errorf("verdict = %s, want accepted under normalization", got.Verdict)
	}
}

func TestJudgeDuplicateDeliveryDiscarded(t *testing.T) {
	t.Parallel()

	sub := pendingSubmission("s1")
	sub.Status = model.StatusCompleted
	sub.Verdict = model.VerdictAccepted
	sub.Score = 100

	store := newFakeStore(sub)
	backend := &countingBackend{inner: executor.NewMockBackend()}
	svc := newService(store, &fakeTestCases{cases: echoCases(3)}, backend, &captureNotifier{})

	if err := svc.HandleMessage(context.Background(), jobMessage(t, model.JudgeJob{SubmissionID: "s1"})); err != nil {
		t.Fatalf("duplicate delivery must ack, got %v", err)
	}

	got := store.get("s1")
	if got.Verdict != model.VerdictAccepted || got.Score != 100 {
		t.Errorf("terminal record mutated by redelivery: %+v", got)
	}
	if backend.calls != 0 {
		t.Errorf("backend calls = %d, want 0 for discarded delivery", backend.calls)
	}
}

func TestJudgeNoTestCasesIsSystemError(t *testing.T) {
	t.Parallel()

	store := newFakeStore(pendingSubmission("s1"))
	notifier := &captureNotifier{}
	svc := newService(store, &fakeTestCases{}, executor.NewMockBackend(), notifier)

	if err := svc.HandleMessage(context.Background(), jobMessage(t, model.JudgeJob{SubmissionID: "s1"})); err != nil {
		t.Fatalf("data inconsistency must ack, got %v", err)
	}

	got := store.get("s1")
	if got.Status != model.StatusSystemError {
		t.Errorf("status = %s, want system_error", got.Status)
	}
	if got.Verdict != "" {
		t.Errorf("verdict = %q, want empty for system_error", got.Verdict)
	}
	if last := notifier.last(); last.Status != model.StatusSystemError {
		t.Errorf("final event status = %s", last.Status)
	}
}

func TestJudgeBackendFaultIsSystemError(t *testing.T) {
	t.Parallel()

	for _, code := range []appErr.ErrorCode{
		appErr.BackendUnavailable,
		appErr.JudgeCeilingReached,
		appErr.BackendBadResponse,
	} {
		store := newFakeStore(pendingSubmission("s1"))
		svc := newService(store, &fakeTestCases{cases: echoCases(3)}, failingBackend{code: code}, &captureNotifier{})

		if err := svc.HandleMessage(context.Background(), jobMessage(t, model.JudgeJob{SubmissionID: "s1"})); err != nil {
			t.Fatalf("code %d: claimed submission must be acked, got %v", code, err)
		}
		got := store.get("s1")
		if got.Status != model.StatusSystemError {
			t.Errorf("code %d: status = %s, want system_error", code, got.Status)
		}
		if got.Verdict != "" {
			t.Errorf("code %d: verdict = %q, want empty", code, got.Verdict)
		}
	}
}

func TestJudgePreClaimStoreFaultIsRetried(t *testing.T) {
	t.Parallel()

	store := newFakeStore(pendingSubmission("s1"))
	store.beginErr = appErr.New(appErr.DatabaseError).WithMessage("connection lost")
	svc := newService(store, &fakeTestCases{cases: echoCases(3)}, executor.NewMockBackend(), &captureNotifier{})

	err := svc.HandleMessage(context.Background(), jobMessage(t, model.JudgeJob{SubmissionID: "s1"}))
	if err == nil {
		t.Fatal("pre-claim fault must be returned for redelivery")
	}
	if !appErr.IsRetryable(err) {
		t.Errorf("error %v should be retryable", err)
	}
	if got := store.get("s1"); got.Status != model.StatusPending {
		t.Errorf("status = %s, want pending left intact", got.Status)
	}
}

func TestJudgeExhaustedDeliveryLeavesSystemError(t *testing.T) {
	t.Parallel()

	store := newFakeStore(pendingSubmission("s1"))
	store.beginErr = appErr.New(appErr.DatabaseError).WithMessage("connection lost")
	notifier := &captureNotifier{}
	svc := newService(store, &fakeTestCases{cases: echoCases(3)}, executor.NewMockBackend(), notifier)

	msg := jobMessage(t, model.JudgeJob{SubmissionID: "s1", UserID: 7})
	msg.Attempt = 2
	msg.MaxAttempts = 3

	err := svc.HandleMessage(context.Background(), msg)
	if err == nil {
		t.Fatal("final attempt still returns the error so the queue dead-letters the job")
	}
	if got := store.get("s1"); got.Status != model.StatusSystemError {
		t.Errorf("status = %s, want system_error before the job is dead-lettered", got.Status)
	}
	last := notifier.last()
	if last.Status != model.StatusSystemError || last.SubmissionID != "s1" {
		t.Errorf("final event = %+v", last)
	}
}

func TestJudgeMalformedJobIsAcked(t *testing.T) {
	t.Parallel()

	store := newFakeStore(pendingSubmission("s1"))
	svc := newService(store, &fakeTestCases{cases: echoCases(3)}, executor.NewMockBackend(), &captureNotifier{})

	msg := mq.NewMessage([]byte("{not json"))
	if err := svc.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("malformed payload must ack, got %v", err)
	}
	if got := store.get("s1"); got.Status != model.StatusPending {
		t.Errorf("unrelated submission mutated: %s", got.Status)
	}
}

func TestJudgeUnknownSubmissionIsAcked(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newService(store, &fakeTestCases{cases: echoCases(3)}, executor.NewMockBackend(), &captureNotifier{})

	if err := svc.HandleMessage(context.Background(), jobMessage(t, model.JudgeJob{SubmissionID: "ghost"})); err != nil {
		t.Fatalf("unknown submission must ack, got %v", err)
	}
}

func TestScorePolicyWeights(t *testing.T) {
	t.Parallel()

	p := ScorePolicy{PerTestCase: 10, SampleWeight: 1, HiddenWeight: 2}
	sample := model.TestCase{IsSample: true}
	hidden := model.TestCase{}

	if got := p.Score(sample); got != 10 {
		t.Errorf("sample score = %d, want 10", got)
	}
	if got := p.Score(hidden); got != 20 {
		t.Errorf("hidden score = %d, want 20", got)
	}
}
