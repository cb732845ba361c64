// Package journal is the append-only log of accepted import actions. Entries
// are replayed by re-importing the recorded ids, which recovers an index that
// lost data its source still has.
package journal

import (
	"context"
	"time"

	"github.com/Aman-CERP/indexsync/internal/store"
)

// Entry is one journaled import action. Entries are immutable once appended.
type Entry struct {
	IndexName string       `json:"index_name"`
	TypeName  string       `json:"type_name"`
	Action    store.Action `json:"action"`
	ObjectIDs []string     `json:"object_ids"`
	CreatedAt int64        `json:"created_at"` // unix seconds
}

// NewEntry creates an entry stamped with at.
func NewEntry(index, typeName string, action store.Action, ids []string, at time.Time) Entry {
	return Entry{
		IndexName: index,
		TypeName:  typeName,
		Action:    action,
		ObjectIDs: append([]string(nil), ids...),
		CreatedAt: at.Unix(),
	}
}

// Time returns the creation time.
func (e Entry) Time() time.Time {
	return time.Unix(e.CreatedAt, 0)
}

// Cursor positions a scan strictly after a stored entry.
type Cursor struct {
	CreatedAt int64
	Seq       int64
}

// Stored is an entry together with its position in the store.
type Stored struct {
	Entry
	Cursor Cursor
}

// ScanQuery selects entries from a store, ordered by (created_at, seq).
type ScanQuery struct {
	// Since includes entries with created_at >= Since.
	Since int64
	// Only restricts the scan to these index names. Empty means all.
	Only []string
	// After skips entries up to and including this cursor.
	After *Cursor
	// Limit caps the number of entries returned. Zero means no limit.
	Limit int
}

// Store persists journal entries.
type Store interface {
	// Create ensures the storage exists. It is idempotent.
	Create(ctx context.Context) error

	// Append adds entries. Existing entries are never modified.
	Append(ctx context.Context, entries []Entry) error

	// Scan returns entries matching q in (created_at, seq) order.
	Scan(ctx context.Context, q ScanQuery) ([]Stored, error)

	// DeleteBefore removes entries with created_at < before and returns the count.
	DeleteBefore(ctx context.Context, before int64) (int, error)

	Close() error
}

func matchesOnly(only []string, index string) bool {
	if len(only) == 0 {
		return true
	}
	for _, name := range only {
		if name == index {
			return true
		}
	}
	return false
}
