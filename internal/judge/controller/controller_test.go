package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"techfolks/internal/common/cache"
	"techfolks/internal/judge/model"
	"techfolks/internal/judge/repository"
	appErr "techfolks/pkg/errors"
)

type stubStore struct {
	subs map[string]*model.Submission
}

func (s *stubStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	sub, ok := s.subs[id]
	if !ok {
		return nil, appErr.New(appErr.SubmissionNotFound).WithMessage("submission not found")
	}
	cp := *sub
	return &cp, nil
}

func (s *stubStore) BeginJudging(ctx context.Context, id string) (bool, error) { return false, nil }

func (s *stubStore) AppendTestCaseResult(ctx context.Context, id string, r model.TestCaseResult) error {
	return nil
}

func (s *stubStore) Finalize(ctx context.Context, id string, v model.Verdict, score int, timeMs, memKb int64) error {
	return nil
}

func (s *stubStore) MarkSystemError(ctx context.Context, id string) error { return nil }

func newTestRouter(t *testing.T, store repository.ResultStore) (*gin.Engine, *repository.StatusCache) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })

	statusCache := repository.NewStatusCache(c)
	router := gin.New()
	NewJudgeController(store, statusCache).RegisterRoutes(router)
	return router, statusCache
}

func getJSON(t *testing.T, router *gin.Engine, path string) (int, map[string]json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var envelope map[string]json.RawMessage
	_ = json.Unmarshal(rec.Body.Bytes(), &envelope)
	return rec.Code, envelope
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &stubStore{})
	code, _ := getJSON(t, router, "/healthz")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
}

func TestGetStatusFromCache(t *testing.T) {
	t.Parallel()

	router, statusCache := newTestRouter(t, &stubStore{})
	view := model.StatusView{
		SubmissionID:      "s1",
		Status:            model.StatusJudging,
		Score:             40,
		LastTestCaseIndex: 2,
	}
	if err := statusCache.Save(context.Background(), view); err != nil {
		t.Fatal(err)
	}

	code, envelope := getJSON(t, router, "/api/v1/judge/submissions/s1")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	var got model.StatusView
	if err := json.Unmarshal(envelope["data"], &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusJudging || got.LastTestCaseIndex != 2 {
		t.Errorf("view = %+v", got)
	}
}

func TestGetStatusFallsBackToStore(t *testing.T) {
	t.Parallel()

	store := &stubStore{subs: map[string]*model.Submission{
		"s2": {
			SubmissionID: "s2",
			Status:       model.StatusCompleted,
			Verdict:      model.VerdictAccepted,
			Score:        100,
			Results: []model.TestCaseResult{
				{Index: 1, Verdict: model.VerdictAccepted},
				{Index: 5, Verdict: model.VerdictAccepted},
			},
		},
	}}
	router, _ := newTestRouter(t, store)

	code, envelope := getJSON(t, router, "/api/v1/judge/submissions/s2")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	var got model.StatusView
	if err := json.Unmarshal(envelope["data"], &got); err != nil {
		t.Fatal(err)
	}
	if got.Verdict != model.VerdictAccepted || got.LastTestCaseIndex != 5 {
		t.Errorf("view = %+v", got)
	}
}

func TestGetStatusNotFound(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &stubStore{})
	code, _ := getJSON(t, router, "/api/v1/judge/submissions/ghost")
	if code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
}
