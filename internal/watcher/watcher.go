package watcher

import (
	"path/filepath"
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a watched file appeared.
	OpCreate Operation = iota
	// OpModify indicates a watched file was written.
	OpModify
	// OpDelete indicates a watched file was removed or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a change to one watched file.
type FileEvent struct {
	// Path is the absolute path of the file.
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the quiet time before a batch is emitted.
	// Default: 500ms
	DebounceWindow time.Duration

	// PollInterval is the interval for polling mode (fallback).
	// Default: 2s
	PollInterval time.Duration

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 500 * time.Millisecond,
		PollInterval:   2 * time.Second,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	return o
}

// DatabaseFiles returns the files a SQLite database at path writes to:
// the main file, its write-ahead log and its rollback journal.
func DatabaseFiles(path string) []string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return []string{abs, abs + "-wal", abs + "-journal"}
}
