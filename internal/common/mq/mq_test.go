package mq

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestSubscribeOptionsDefaults(t *testing.T) {
	t.Parallel()

	var opts SubscribeOptions
	opts.SetDefaults()
	if opts.Concurrency != 1 {
		t.Errorf("Concurrency = %d, want 1", opts.Concurrency)
	}
	if opts.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", opts.MaxAttempts)
	}
	if opts.RetryDelay != time.Second {
		t.Errorf("RetryDelay = %s, want 1s", opts.RetryDelay)
	}

	opts = SubscribeOptions{Concurrency: 8, MaxAttempts: 5, RetryDelay: 2 * time.Second}
	opts.SetDefaults()
	if opts.Concurrency != 8 || opts.MaxAttempts != 5 || opts.RetryDelay != 2*time.Second {
		t.Errorf("explicit options overwritten: %+v", opts)
	}
}

func TestMessageConversionRoundTrip(t *testing.T) {
	t.Parallel()

	msg := NewMessage([]byte(`{"submission_id":"abc"}`))
	msg.ID = "abc"
	msg.SetHeader("x-custom", "value")
	msg.Attempt = 2
	msg.MaxAttempts = 5

	kmsg := toKafkaMessage("judge.jobs", msg)
	if string(kmsg.Key) != "abc" {
		t.Errorf("kafka key = %q, want message id", kmsg.Key)
	}
	if kmsg.Topic != "judge.jobs" {
		t.Errorf("topic = %q", kmsg.Topic)
	}

	back := fromKafkaMessage(kmsg)
	if back.ID != msg.ID {
		t.Errorf("ID = %q, want %q", back.ID, msg.ID)
	}
	if string(back.Body) != string(msg.Body) {
		t.Errorf("Body = %q", back.Body)
	}
	if back.Attempt != 2 || back.MaxAttempts != 5 {
		t.Errorf("attempts = %d/%d, want 2/5", back.Attempt, back.MaxAttempts)
	}
	if back.Headers["x-custom"] != "value" {
		t.Errorf("custom header lost: %v", back.Headers)
	}
	if !back.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("timestamp drift: %s vs %s", back.Timestamp, msg.Timestamp)
	}
}

func TestMessageIDFallsBackToKey(t *testing.T) {
	t.Parallel()

	back := fromKafkaMessage(kafka.Message{Key: []byte("sub-9"), Value: []byte("{}")})
	if back.ID != "sub-9" {
		t.Errorf("ID = %q, want kafka key fallback", back.ID)
	}
}
