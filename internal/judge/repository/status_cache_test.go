package repository

import (
	"context"
	"testing"
	"time"

	"techfolks/internal/common/cache"
	"techfolks/internal/judge/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestStatusCacheRoundTrip(t *testing.T) {
	t.Parallel()

	sc := NewStatusCache(newTestCache(t))
	ctx := context.Background()

	view := model.StatusView{
		SubmissionID:      "sub-1",
		Status:            model.StatusCompleted,
		Verdict:           model.VerdictAccepted,
		Score:             100,
		LastTestCaseIndex: 5,
		TimeUsedMs:        42,
		MemoryUsedKb:      2048,
		UpdatedAt:         time.Now().UnixMilli(),
	}
	if err := sc.Save(ctx, view); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := sc.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected a cached view")
	}
	if got.Status != model.StatusCompleted || got.Verdict != model.VerdictAccepted {
		t.Errorf("got status=%s verdict=%s", got.Status, got.Verdict)
	}
	if got.Score != 100 || got.LastTestCaseIndex != 5 {
		t.Errorf("got score=%d lastIndex=%d", got.Score, got.LastTestCaseIndex)
	}
}

func TestStatusCacheMiss(t *testing.T) {
	t.Parallel()

	sc := NewStatusCache(newTestCache(t))

	got, err := sc.Get(context.Background(), "no-such-submission")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("expected a miss, got %+v", got)
	}
}

func TestStatusCacheCorruptEntryIsMiss(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	sc := NewStatusCache(c)
	ctx := context.Background()

	if err := c.Set(ctx, statusCacheKey("sub-2"), "{not json", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := sc.Get(ctx, "sub-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("corrupt entry should read as a miss, got %+v", got)
	}
}
