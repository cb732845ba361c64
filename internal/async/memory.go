package async

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryItem struct {
	msg       Message
	visibleAt time.Time
}

// MemoryQueue is an in-process Queue. Messages are lost when the process exits.
type MemoryQueue struct {
	cfg queueConfig

	mu     sync.Mutex
	items  []*memoryItem
	closed bool
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue(opts ...QueueOption) *MemoryQueue {
	return &MemoryQueue{cfg: newQueueConfig(opts)}
}

// Enqueue appends msg. A message without an id gets one.
func (q *MemoryQueue) Enqueue(_ context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errQueueClosed
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = q.cfg.now().UTC()
	}
	msg.IDs = append([]string(nil), msg.IDs...)
	msg.Attempts = 0
	q.items = append(q.items, &memoryItem{msg: msg})
	return nil
}

// Receive returns the oldest visible message and hides it.
func (q *MemoryQueue) Receive(_ context.Context) (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, errQueueClosed
	}
	now := q.cfg.now()
	for _, it := range q.items {
		if it.visibleAt.After(now) {
			continue
		}
		it.visibleAt = now.Add(q.cfg.visibility)
		it.msg.Attempts++
		msg := it.msg
		msg.IDs = append([]string(nil), it.msg.IDs...)
		return &msg, nil
	}
	return nil, nil
}

// Ack removes the message. Unknown ids are ignored.
func (q *MemoryQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = slices.DeleteFunc(q.items, func(it *memoryItem) bool {
		return it.msg.ID == id
	})
	return nil
}

// Nack makes the message visible again after delay.
func (q *MemoryQueue) Nack(_ context.Context, id string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, it := range q.items {
		if it.msg.ID == id {
			it.visibleAt = q.cfg.now().Add(delay)
			return nil
		}
	}
	return nil
}

// Len returns the number of queued messages.
func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// Close rejects further calls.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
