// Package notify fans out judging lifecycle events over Redis pub/sub.
// Delivery is fire-and-forget: a slow or absent subscriber never blocks
// or fails the judging pipeline, and missed events are recovered by
// reading submission state.
package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"techfolks/internal/judge/model"
	"techfolks/pkg/utils/logger"
)

// Event describes one observable transition of a submission: the claim,
// each per-test-case result, and the terminal state.
type Event struct {
	SubmissionID      string                 `json:"submission_id"`
	UserID            int64                  `json:"user_id"`
	Status            model.SubmissionStatus `json:"status"`
	Verdict           model.Verdict          `json:"verdict,omitempty"`
	LastTestCaseIndex int                    `json:"last_test_case_index"`
	Score             int                    `json:"score"`
	At                int64                  `json:"at"`
}

// SubmissionChannel is the per-submission event channel name.
func SubmissionChannel(submissionID string) string {
	return "judge:sub:" + submissionID
}

// UserChannel carries all events for one user's submissions.
func UserChannel(userID int64) string {
	return "judge:user:" + strconv.FormatInt(userID, 10)
}

// Notifier publishes events without blocking the caller.
type Notifier interface {
	Publish(event Event)
	Close() error
}

// Subscriber delivers events for one channel until cancel is called.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan Event, func(), error)
}

// RedisNotifier buffers events in memory and drains them to Redis from a
// single goroutine. When the buffer is full the oldest-pending publish
// behavior is to drop the new event and log it.
type RedisNotifier struct {
	client *redis.Client
	events chan Event
	stop   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

const defaultBufferSize = 1024

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	n := &RedisNotifier{
		client: client,
		events: make(chan Event, defaultBufferSize),
		stop:   make(chan struct{}),
	}
	n.wg.Add(1)
	go n.drain()
	return n
}

func (n *RedisNotifier) Publish(event Event) {
	if event.At == 0 {
		event.At = time.Now().UnixMilli()
	}
	select {
	case n.events <- event:
	default:
		logger.Warn(context.Background(), "notification buffer full, dropping event",
			zap.String("submission_id", event.SubmissionID),
			zap.String("status", string(event.Status)))
	}
}

func (n *RedisNotifier) drain() {
	defer n.wg.Done()
	for {
		select {
		case ev := <-n.events:
			n.publish(ev)
		case <-n.stop:
			// Flush whatever is already buffered, then exit.
			for {
				select {
				case ev := <-n.events:
					n.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (n *RedisNotifier) publish(ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		logger.Error(context.Background(), "marshal notification event", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := n.client.Publish(ctx, SubmissionChannel(ev.SubmissionID), body).Err(); err != nil {
		logger.Warn(ctx, "publish submission event failed",
			zap.String("submission_id", ev.SubmissionID), zap.Error(err))
	}
	if ev.UserID != 0 {
		if err := n.client.Publish(ctx, UserChannel(ev.UserID), body).Err(); err != nil {
			logger.Warn(ctx, "publish user event failed",
				zap.Int64("user_id", ev.UserID), zap.Error(err))
		}
	}
}

func (n *RedisNotifier) Close() error {
	n.closeOnce.Do(func() {
		close(n.stop)
	})
	n.wg.Wait()
	return nil
}

// RedisSubscriber consumes one channel's events over Redis pub/sub.
type RedisSubscriber struct {
	client *redis.Client
}

func NewRedisSubscriber(client *redis.Client) *RedisSubscriber {
	return &RedisSubscriber{client: client}
}

func (s *RedisSubscriber) Subscribe(ctx context.Context, channel string) (<-chan Event, func(), error) {
	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan Event, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Warn(ctx, "malformed notification payload",
						zap.String("channel", channel), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				default:
					// Slow consumer, skip rather than stall the reader.
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		close(done)
		_ = pubsub.Close()
	}
	return out, cancel, nil
}
