// Package async runs deferred imports out of band: callers enqueue a Message
// and a Worker performs the import later against the same index contract.
package async

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/indexsync/internal/index"
)

// Message asks a worker to import ids into an index.
type Message struct {
	ID         string        `json:"id"`
	Index      string        `json:"index"`
	IDs        []string      `json:"ids"`
	Options    index.Options `json:"options"`
	EnqueuedAt time.Time     `json:"enqueued_at"`

	// Attempts counts deliveries, including the current one. Queues set it on
	// Receive; it is not part of the payload.
	Attempts int `json:"-"`
}

// NewMessage builds a message with a fresh id.
func NewMessage(indexName string, ids []string, opts index.Options) Message {
	return Message{
		ID:         uuid.NewString(),
		Index:      indexName,
		IDs:        append([]string(nil), ids...),
		Options:    opts,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Dispatcher accepts messages for later execution.
type Dispatcher interface {
	Enqueue(ctx context.Context, msg Message) error
}

// Queue is an at-least-once message queue. A received message stays
// invisible to other receivers until it is acked, nacked, or its visibility
// timeout expires.
type Queue interface {
	Dispatcher

	// Receive returns the oldest visible message, or nil when none is ready.
	Receive(ctx context.Context) (*Message, error)

	// Ack removes a delivered message.
	Ack(ctx context.Context, id string) error

	// Nack makes a delivered message visible again after delay.
	Nack(ctx context.Context, id string, delay time.Duration) error

	// Len returns the number of queued messages, in flight or not.
	Len(ctx context.Context) (int, error)

	Close() error
}

// DefaultVisibilityTimeout is how long a received message stays hidden.
const DefaultVisibilityTimeout = 30 * time.Second

type queueConfig struct {
	visibility time.Duration
	now        func() time.Time
}

// QueueOption configures a queue.
type QueueOption func(*queueConfig)

// WithVisibilityTimeout sets how long a received message stays hidden.
func WithVisibilityTimeout(d time.Duration) QueueOption {
	return func(c *queueConfig) {
		if d >= 0 {
			c.visibility = d
		}
	}
}

// WithClock replaces the queue's time source.
func WithClock(now func() time.Time) QueueOption {
	return func(c *queueConfig) {
		if now != nil {
			c.now = now
		}
	}
}

func newQueueConfig(opts []QueueOption) queueConfig {
	c := queueConfig{
		visibility: DefaultVisibilityTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
