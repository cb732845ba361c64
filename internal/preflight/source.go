package preflight

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/Aman-CERP/indexsync/internal/lock"
	"github.com/Aman-CERP/indexsync/internal/store"
)

// CheckSource opens the source database and looks up each table. A missing
// database or table is a warning since indexsync creates both on first use.
func (c *Checker) CheckSource(ctx context.Context, path string, tables []string) CheckResult {
	result := CheckResult{
		Name:     "source_database",
		Required: true,
		Details:  path,
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		result.Status = StatusWarn
		result.Message = "not found (created on first import)"
		return result
	}

	db, err := store.OpenSQLite(path)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	defer func() { _ = db.Close() }()

	var missing []string
	for _, table := range tables {
		var name string
		err := db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			missing = append(missing, table)
		}
	}

	if len(missing) > 0 {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("missing tables: %s", strings.Join(missing, ", "))
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("OK (%d tables)", len(tables))
	return result
}

// CheckLock reports whether another process holds the data directory lock.
func (c *Checker) CheckLock(path string) CheckResult {
	result := CheckResult{
		Name:    "lock",
		Details: path,
	}

	l := lock.New(path)
	ok, err := l.TryLock()
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("failed to check lock: %v", err)
		return result
	}
	if !ok {
		result.Status = StatusWarn
		result.Message = "held by another indexsync process"
		return result
	}
	_ = l.Unlock()

	result.Status = StatusPass
	result.Message = "free"
	return result
}
