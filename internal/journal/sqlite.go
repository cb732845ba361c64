package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/store"
)

// SQLiteStore keeps journal entries in a SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over db. Call Create before use.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Create creates the journal table if it doesn't exist.
func (s *SQLiteStore) Create(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS indexsync_journal (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		index_name TEXT NOT NULL,
		type_name TEXT NOT NULL,
		action TEXT NOT NULL,
		object_ids TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_journal_created ON indexsync_journal(created_at, seq);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return syncerr.JournalError("create journal schema", err)
	}
	return nil
}

// Append inserts entries in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncerr.JournalError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO indexsync_journal (index_name, type_name, action, object_ids, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return syncerr.JournalError("prepare statement", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		ids, err := json.Marshal(e.ObjectIDs)
		if err != nil {
			return syncerr.JournalError("encode object ids", err)
		}
		if _, err := stmt.ExecContext(ctx, e.IndexName, e.TypeName, string(e.Action), string(ids), e.CreatedAt); err != nil {
			return syncerr.JournalError("insert journal entry", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return syncerr.JournalError("commit transaction", err)
	}
	return nil
}

// Scan returns entries matching q.
func (s *SQLiteStore) Scan(ctx context.Context, q ScanQuery) ([]Stored, error) {
	var (
		where = []string{"created_at >= ?"}
		args  = []any{q.Since}
	)
	if q.After != nil {
		where = append(where, "(created_at > ? OR (created_at = ? AND seq > ?))")
		args = append(args, q.After.CreatedAt, q.After.CreatedAt, q.After.Seq)
	}
	if len(q.Only) > 0 {
		where = append(where, fmt.Sprintf("index_name IN (%s)", strings.TrimSuffix(strings.Repeat("?,", len(q.Only)), ",")))
		for _, name := range q.Only {
			args = append(args, name)
		}
	}

	query := "SELECT seq, index_name, type_name, action, object_ids, created_at FROM indexsync_journal WHERE " +
		strings.Join(where, " AND ") + " ORDER BY created_at, seq"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, syncerr.JournalError("query journal", err)
	}
	defer rows.Close()

	var out []Stored
	for rows.Next() {
		var (
			st     Stored
			action string
			ids    string
		)
		if err := rows.Scan(&st.Cursor.Seq, &st.IndexName, &st.TypeName, &action, &ids, &st.CreatedAt); err != nil {
			return nil, syncerr.JournalError("scan journal row", err)
		}
		if err := json.Unmarshal([]byte(ids), &st.ObjectIDs); err != nil {
			return nil, syncerr.JournalError(fmt.Sprintf("decode object ids of entry %d", st.Cursor.Seq), err)
		}
		st.Action = store.Action(action)
		st.Cursor.CreatedAt = st.CreatedAt
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.JournalError("iterate journal", err)
	}
	return out, nil
}

// DeleteBefore removes entries created before the given unix second.
func (s *SQLiteStore) DeleteBefore(ctx context.Context, before int64) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM indexsync_journal WHERE created_at < ?", before)
	if err != nil {
		return 0, syncerr.JournalError("delete journal entries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, syncerr.JournalError("count deleted entries", err)
	}
	return int(n), nil
}

// Close releases resources. The db is owned by the caller.
func (s *SQLiteStore) Close() error {
	return nil
}

var _ Store = (*SQLiteStore)(nil)
