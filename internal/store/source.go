package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
)

const (
	// FieldID is the pseudo field carrying the record id.
	FieldID = "id"
	// FieldUpdatedAt is the pseudo field carrying the last modification time.
	FieldUpdatedAt = "updated_at"

	defaultBatchSize = 1000
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteSource is a DocumentAdapter over a SQLite table of JSON records:
//
//	id TEXT PRIMARY KEY, data TEXT, updated_at INTEGER (unix ms), deleted INTEGER
//
// Soft deleted rows and ids missing from the table are both reported as deletions.
type SQLiteSource struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// Verify interface implementation
var _ DocumentAdapter = (*SQLiteSource)(nil)

// NewSQLiteSource creates a source over the given table.
func NewSQLiteSource(db *sql.DB, table string) (*SQLiteSource, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, syncerr.ValidationError(fmt.Sprintf("invalid table name %q", table), nil)
	}
	return &SQLiteSource{db: db, table: table, now: time.Now}, nil
}

// Table returns the backing table name.
func (s *SQLiteSource) Table() string {
	return s.table
}

// EnsureSchema creates the backing table if needed.
func (s *SQLiteSource) EnsureSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL DEFAULT '{}',
			updated_at INTEGER NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_updated ON %[1]s(updated_at);
	`, s.table)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return syncerr.SourceUnavailable("failed to create source schema", err)
	}
	return nil
}

// Put inserts or replaces a record, stamping it with the current time.
func (s *SQLiteSource) Put(ctx context.Context, id string, data map[string]any) error {
	return s.PutAt(ctx, id, data, s.now())
}

// PutAt inserts or replaces a record with an explicit modification time.
func (s *SQLiteSource) PutAt(ctx context.Context, id string, data map[string]any, at time.Time) error {
	if id == "" {
		return syncerr.ValidationError("record id is required", nil)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return syncerr.ValidationError(fmt.Sprintf("record %s is not serializable", id), err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, data, updated_at, deleted) VALUES (?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at, deleted = 0
	`, s.table), id, string(raw), at.UnixMilli())
	if err != nil {
		return syncerr.SourceUnavailable(fmt.Sprintf("put record %s", id), err)
	}
	return nil
}

// Delete removes records from the table.
func (s *SQLiteSource) Delete(ctx context.Context, ids ...string) error {
	return s.forChunks(ids, func(chunk []string) error {
		query := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", s.table, placeholders(len(chunk)))
		if _, err := s.db.ExecContext(ctx, query, toArgs(chunk)...); err != nil {
			return syncerr.SourceUnavailable("delete records", err)
		}
		return nil
	})
}

// SoftDelete flags records as deleted and bumps their modification time.
func (s *SQLiteSource) SoftDelete(ctx context.Context, ids ...string) error {
	at := s.now().UnixMilli()
	return s.forChunks(ids, func(chunk []string) error {
		query := fmt.Sprintf("UPDATE %s SET deleted = 1, updated_at = ? WHERE id IN (%s)", s.table, placeholders(len(chunk)))
		args := append([]any{at}, toArgs(chunk)...)
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return syncerr.SourceUnavailable("soft delete records", err)
		}
		return nil
	})
}

// Count returns the number of live records.
func (s *SQLiteSource) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE deleted = 0", s.table)).Scan(&n)
	if err != nil {
		return 0, syncerr.SourceUnavailable("count records", err)
	}
	return n, nil
}

// Identify returns the ids of the given records.
func (s *SQLiteSource) Identify(records []Record) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

// Resolve loads the selected records in rounds and classifies them by action.
func (s *SQLiteSource) Resolve(ctx context.Context, sel Selector, batchSize int, fn func(ActionGroups) error) error {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	switch {
	case len(sel.Records) > 0:
		for start := 0; start < len(sel.Records); start += batchSize {
			end := min(start+batchSize, len(sel.Records))
			if err := fn(GroupRecords(sel.Records[start:end])); err != nil {
				return err
			}
		}
		return nil

	case sel.All:
		return s.scanAll(ctx, batchSize, func(records []Record) error {
			return fn(GroupRecords(records))
		})

	default:
		ids := uniqueIDs(sel.IDs)
		for start := 0; start < len(ids); start += batchSize {
			end := min(start+batchSize, len(ids))
			records, err := s.load(ctx, ids[start:end])
			if err != nil {
				return err
			}
			if err := fn(GroupRecords(records)); err != nil {
				return err
			}
		}
		return nil
	}
}

// ResolveFields streams the requested field values of live records.
func (s *SQLiteSource) ResolveFields(ctx context.Context, sel Selector, fields []string, batchSize int, fn func([]FieldValues) error) error {
	return s.Resolve(ctx, sel, batchSize, func(groups ActionGroups) error {
		live := groups[ActionIndex]
		if len(live) == 0 {
			return nil
		}
		out := make([]FieldValues, len(live))
		for i, r := range live {
			out[i] = FieldValues{ID: r.ID, Values: pluck(r, fields)}
		}
		return fn(out)
	})
}

// pluck extracts field values from a record. The id and updated_at pseudo
// fields fall back to the record metadata.
func pluck(r Record, fields []string) []any {
	if len(fields) == 0 {
		return nil
	}
	values := make([]any, len(fields))
	for i, f := range fields {
		v, ok := r.Fields[f]
		if !ok && f == FieldID {
			v = r.ID
		}
		values[i] = v
	}
	return values
}

// scanAll pages through the whole table in id order.
func (s *SQLiteSource) scanAll(ctx context.Context, batchSize int, fn func([]Record) error) error {
	query := fmt.Sprintf(
		"SELECT id, data, updated_at, deleted FROM %s WHERE id > ? ORDER BY id LIMIT ?", s.table)

	cursor := ""
	for {
		records, err := s.query(ctx, query, cursor, batchSize)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		if err := fn(records); err != nil {
			return err
		}
		if len(records) < batchSize {
			return nil
		}
		cursor = records[len(records)-1].ID
	}
}

// load fetches the given ids. Ids without a row come back as deleted records,
// in request order.
func (s *SQLiteSource) load(ctx context.Context, ids []string) ([]Record, error) {
	query := fmt.Sprintf(
		"SELECT id, data, updated_at, deleted FROM %s WHERE id IN (%s)", s.table, placeholders(len(ids)))

	found, err := s.query(ctx, query, toArgs(ids)...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Record, len(found))
	for _, r := range found {
		byID[r.ID] = r
	}

	records := make([]Record, len(ids))
	for i, id := range ids {
		if r, ok := byID[id]; ok {
			records[i] = r
		} else {
			records[i] = Record{ID: id, Deleted: true}
		}
	}
	return records, nil
}

func (s *SQLiteSource) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, syncerr.SourceUnavailable("query source records", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			id, raw   string
			updatedAt int64
			deleted   int
		)
		if err := rows.Scan(&id, &raw, &updatedAt, &deleted); err != nil {
			return nil, syncerr.SourceUnavailable("scan source record", err)
		}

		fields := make(map[string]any)
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &fields); err != nil {
				return nil, syncerr.New(syncerr.ErrCodeInvalidInput, fmt.Sprintf("record %s has invalid data", id), err)
			}
		}
		fields[FieldUpdatedAt] = time.UnixMilli(updatedAt).UTC()

		records = append(records, Record{ID: id, Fields: fields, Deleted: deleted != 0})
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.SourceUnavailable("iterate source records", err)
	}
	return records, nil
}

func (s *SQLiteSource) forChunks(ids []string, fn func([]string) error) error {
	for start := 0; start < len(ids); start += defaultBatchSize {
		end := min(start+defaultBatchSize, len(ids))
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
