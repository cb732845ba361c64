package async

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
)

var errQueueClosed = syncerr.New(syncerr.ErrCodeQueueStorage, "queue is closed", nil)

func queueError(message string, cause error) *syncerr.SyncError {
	return syncerr.New(syncerr.ErrCodeQueueStorage, message, cause)
}

// SQLiteQueue is a durable Queue backed by a SQLite table. Messages survive
// restarts; a worker that dies mid-import leaves its message to reappear
// once the visibility timeout expires.
type SQLiteQueue struct {
	db     *sql.DB
	cfg    queueConfig
	closed atomic.Bool
}

// NewSQLiteQueue creates the queue table if needed. The db is owned by the caller.
func NewSQLiteQueue(ctx context.Context, db *sql.DB, opts ...QueueOption) (*SQLiteQueue, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS indexsync_queue (
		id TEXT PRIMARY KEY,
		index_name TEXT NOT NULL,
		payload TEXT NOT NULL,
		enqueued_at INTEGER NOT NULL,
		visible_at INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_queue_visible ON indexsync_queue(visible_at, enqueued_at);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, queueError("create queue schema", err)
	}
	return &SQLiteQueue{db: db, cfg: newQueueConfig(opts)}, nil
}

// Enqueue stores msg. A message without an id gets one; an id already queued
// is left untouched.
func (q *SQLiteQueue) Enqueue(ctx context.Context, msg Message) error {
	if q.closed.Load() {
		return errQueueClosed
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := q.cfg.now()
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = now.UTC()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return queueError("encode message", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO indexsync_queue (id, index_name, payload, enqueued_at, visible_at, attempts)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO NOTHING
	`, msg.ID, msg.Index, string(payload), msg.EnqueuedAt.UnixMilli(), now.UnixMilli())
	if err != nil {
		return queueError("insert message", err)
	}
	return nil
}

// Receive claims the oldest visible message.
func (q *SQLiteQueue) Receive(ctx context.Context) (*Message, error) {
	if q.closed.Load() {
		return nil, errQueueClosed
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, queueError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := q.cfg.now()
	var (
		id       string
		payload  string
		attempts int
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, payload, attempts FROM indexsync_queue
		WHERE visible_at <= ?
		ORDER BY enqueued_at, rowid
		LIMIT 1
	`, now.UnixMilli()).Scan(&id, &payload, &attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, queueError("select message", err)
	}

	attempts++
	if _, err := tx.ExecContext(ctx,
		"UPDATE indexsync_queue SET visible_at = ?, attempts = ? WHERE id = ?",
		now.Add(q.cfg.visibility).UnixMilli(), attempts, id); err != nil {
		return nil, queueError("claim message", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, queueError("commit transaction", err)
	}

	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, queueError("decode message "+id, err)
	}
	msg.ID = id
	msg.Attempts = attempts
	return &msg, nil
}

// Ack deletes the message.
func (q *SQLiteQueue) Ack(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM indexsync_queue WHERE id = ?", id); err != nil {
		return queueError("delete message", err)
	}
	return nil
}

// Nack makes the message visible again after delay.
func (q *SQLiteQueue) Nack(ctx context.Context, id string, delay time.Duration) error {
	visibleAt := q.cfg.now().Add(delay).UnixMilli()
	if _, err := q.db.ExecContext(ctx,
		"UPDATE indexsync_queue SET visible_at = ? WHERE id = ?", visibleAt, id); err != nil {
		return queueError("release message", err)
	}
	return nil
}

// Len counts queued messages.
func (q *SQLiteQueue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM indexsync_queue").Scan(&n); err != nil {
		return 0, queueError("count messages", err)
	}
	return n, nil
}

// Close rejects further enqueues and receives. The db stays open.
func (q *SQLiteQueue) Close() error {
	q.closed.Store(true)
	return nil
}

var _ Queue = (*SQLiteQueue)(nil)
