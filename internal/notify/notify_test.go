package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"techfolks/internal/judge/model"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	client := newTestRedis(t)

	notifier := NewRedisNotifier(client)
	defer notifier.Close()

	sub := NewRedisSubscriber(client)
	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	events, cancel, err := sub.Subscribe(ctx, SubmissionChannel("sub-1"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	notifier.Publish(Event{
		SubmissionID:      "sub-1",
		UserID:            7,
		Status:            model.StatusCompleted,
		Verdict:           model.VerdictAccepted,
		LastTestCaseIndex: 3,
		Score:             80,
	})

	select {
	case ev := <-events:
		if ev.SubmissionID != "sub-1" || ev.Verdict != model.VerdictAccepted || ev.Score != 80 {
			t.Errorf("unexpected event: %+v", ev)
		}
		if ev.At == 0 {
			t.Error("event timestamp not stamped")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestUserChannelReceivesAllSubmissions(t *testing.T) {
	client := newTestRedis(t)

	notifier := NewRedisNotifier(client)
	defer notifier.Close()

	sub := NewRedisSubscriber(client)
	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	events, cancel, err := sub.Subscribe(ctx, UserChannel(42))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	notifier.Publish(Event{SubmissionID: "a", UserID: 42, Status: model.StatusJudging})
	notifier.Publish(Event{SubmissionID: "b", UserID: 42, Status: model.StatusJudging})

	got := map[string]bool{}
	for len(got) < 2 {
		select {
		case ev := <-events:
			got[ev.SubmissionID] = true
		case <-ctx.Done():
			t.Fatalf("timed out, received %v", got)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	client := newTestRedis(t)
	client.Close() // publishing against a dead client must still not block

	notifier := NewRedisNotifier(client)
	defer notifier.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBufferSize*2; i++ {
			notifier.Publish(Event{SubmissionID: "x", Status: model.StatusJudging})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Publish blocked")
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	client := newTestRedis(t)

	sub := NewRedisSubscriber(client)
	events, cancel, err := sub.Subscribe(context.Background(), SubmissionChannel("z"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
