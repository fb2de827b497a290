package mq

import (
	"context"
	"time"
)

// MessageQueue defines the unified interface for message queue operations.
// The judge pipeline needs durable at-least-once delivery with bounded
// redelivery; anything satisfying this contract (Kafka, RabbitMQ, NATS)
// can back it without changing business logic.
type MessageQueue interface {
	Producer
	Consumer

	// Ping verifies the message queue connection is alive
	Ping(ctx context.Context) error

	// Close closes the message queue connection
	Close() error
}

// Producer defines the interface for publishing messages
type Producer interface {
	// Publish durably records a message on the given topic. It returns an
	// error only on infrastructure failure; it never silently drops.
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer defines the interface for consuming messages
type Consumer interface {
	// Subscribe registers a handler for a topic. A nil handler error acks
	// the message; a non-nil error triggers redelivery up to the
	// configured attempt cap, after which the message is dead-lettered.
	Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error

	// Start starts consuming messages for all registered subscriptions
	Start() error

	// Stop gracefully stops consuming messages
	Stop() error
}

// Message represents a message in the queue
type Message struct {
	// ID is the unique identifier for the message. For judge jobs this is
	// the submission id, which also keys partition assignment so a single
	// submission is never delivered to two workers at once.
	ID string `json:"id"`

	// Body is the message payload
	Body []byte `json:"body"`

	// Headers contains metadata about the message
	Headers map[string]string `json:"headers"`

	// Timestamp is when the message was created
	Timestamp time.Time `json:"timestamp"`

	// Attempt counts deliveries of this message, starting at 0
	Attempt int `json:"attempt"`

	// MaxAttempts caps redelivery before dead-lettering
	MaxAttempts int `json:"max_attempts"`
}

// HandlerFunc is the function signature for message handlers
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions defines options for subscribing to a topic
type SubscribeOptions struct {
	// ConsumerGroup is the consumer group name
	ConsumerGroup string

	// Concurrency sets the number of concurrent workers.
	// Default: 1
	Concurrency int

	// MaxAttempts sets the maximum number of deliveries for failed messages.
	// Default: 3
	MaxAttempts int

	// RetryDelay sets the delay between redeliveries.
	// Default: 1 second
	RetryDelay time.Duration

	// DeadLetterTopic is where messages go after max attempts
	DeadLetterTopic string
}

// SetDefaults sets default values for subscribe options
func (o *SubscribeOptions) SetDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
}

// NewMessage creates a new message with the given body
func NewMessage(body []byte) *Message {
	return &Message{
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value
func (m *Message) GetHeader(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	val, ok := m.Headers[key]
	return val, ok
}
