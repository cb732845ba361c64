package telemetry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/indexsync/internal/store"
)

// maxReplayStages bounds the replay stage history table.
const maxReplayStages = 100

// SQLiteStatsStore persists daily import counts and recent replay stages.
type SQLiteStatsStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStatsStore creates a stats store over db.
// It expects the tables to exist, see InitStatsSchema.
func NewSQLiteStatsStore(db *sql.DB) (*SQLiteStatsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteStatsStore{db: db, now: time.Now}, nil
}

// InitStatsSchema creates the stats tables if they don't exist.
func InitStatsSchema(db *sql.DB) error {
	schema := `
	-- Documents imported per day, index and action
	CREATE TABLE IF NOT EXISTS import_stats (
		date TEXT NOT NULL,
		index_name TEXT NOT NULL,
		action TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, index_name, action)
	);

	-- Recent replay stages (bounded history)
	CREATE TABLE IF NOT EXISTS replay_stages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		stage TEXT NOT NULL,
		index_list TEXT NOT NULL,
		entry_count INTEGER NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create stats schema: %w", err)
	}
	return nil
}

// ImportCount is the aggregated outcome for one index and action.
type ImportCount struct {
	Index  string       `json:"index"`
	Action store.Action `json:"action"`
	Count  int64        `json:"count"`
	Failed int64        `json:"failed"`
}

// SaveImportCounts upserts daily counts for one index.
func (s *SQLiteStatsStore) SaveImportCounts(date, index string, counts, failed map[store.Action]int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO import_stats (date, index_name, action, count, failed)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date, index_name, action) DO UPDATE SET
			count = count + excluded.count,
			failed = failed + excluded.failed
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	actions := make(map[store.Action]struct{}, len(counts)+len(failed))
	for a := range counts {
		actions[a] = struct{}{}
	}
	for a := range failed {
		actions[a] = struct{}{}
	}
	for action := range actions {
		if _, err := stmt.Exec(date, index, string(action), counts[action], failed[action]); err != nil {
			return fmt.Errorf("insert import count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetImportCounts retrieves counts for a date range, ordered by index and action.
func (s *SQLiteStatsStore) GetImportCounts(from, to string) ([]ImportCount, error) {
	rows, err := s.db.Query(`
		SELECT index_name, action, SUM(count), SUM(failed)
		FROM import_stats
		WHERE date >= ? AND date <= ?
		GROUP BY index_name, action
		ORDER BY index_name, action
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query import counts: %w", err)
	}
	defer rows.Close()

	var counts []ImportCount
	for rows.Next() {
		var c ImportCount
		var action string
		if err := rows.Scan(&c.Index, &action, &c.Count, &c.Failed); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		c.Action = store.Action(action)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// AddReplayStage records a replay stage, keeping the most recent entries only.
func (s *SQLiteStatsStore) AddReplayStage(event ReplayEvent) error {
	indexes, err := json.Marshal(event.IndexList)
	if err != nil {
		return fmt.Errorf("encode index list: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO replay_stages (stage, index_list, entry_count, timestamp)
		VALUES (?, ?, ?, ?)
	`, event.Stage, string(indexes), event.EntryCount, s.now().UTC())
	if err != nil {
		return fmt.Errorf("insert replay stage: %w", err)
	}

	_, err = s.db.Exec(`
		DELETE FROM replay_stages
		WHERE id NOT IN (
			SELECT id FROM replay_stages
			ORDER BY id DESC
			LIMIT ?
		)
	`, maxReplayStages)
	if err != nil {
		return fmt.Errorf("trim replay stages: %w", err)
	}
	return nil
}

// GetReplayStages retrieves recent replay stages, newest first.
func (s *SQLiteStatsStore) GetReplayStages(limit int) ([]ReplayEvent, error) {
	rows, err := s.db.Query(`
		SELECT stage, index_list, entry_count
		FROM replay_stages
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query replay stages: %w", err)
	}
	defer rows.Close()

	var events []ReplayEvent
	for rows.Next() {
		var e ReplayEvent
		var indexes string
		if err := rows.Scan(&e.Stage, &indexes, &e.EntryCount); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(indexes), &e.IndexList); err != nil {
			return nil, fmt.Errorf("decode index list: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ImportCompleted persists the event's counts under today's date.
// Storage failures are logged; telemetry never fails an import.
func (s *SQLiteStatsStore) ImportCompleted(event ImportEvent) {
	counts := make(map[store.Action]int64, len(event.Import))
	for action, n := range event.Import {
		counts[action] = int64(n)
	}
	failed := make(map[store.Action]int64, len(event.Errors))
	for action, bySig := range event.Errors {
		for _, ids := range bySig {
			failed[action] += int64(len(ids))
		}
	}

	date := s.now().UTC().Format(time.DateOnly)
	if err := s.SaveImportCounts(date, event.Index, counts, failed); err != nil {
		slog.Warn("stats_save_failed",
			slog.String("index", event.Index),
			slog.String("error", err.Error()))
	}
}

func (s *SQLiteStatsStore) ReplayStage(event ReplayEvent) {
	if err := s.AddReplayStage(event); err != nil {
		slog.Warn("stats_replay_stage_failed",
			slog.String("stage", event.Stage),
			slog.String("error", err.Error()))
	}
}

// Close releases resources. The underlying db is shared and stays open.
func (s *SQLiteStatsStore) Close() error {
	return nil
}

var _ Sink = (*SQLiteStatsStore)(nil)
