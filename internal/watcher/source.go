package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a fixed set of files and emits debounced batches of
// changes.
type Watcher struct {
	files     map[string]bool
	opts      Options
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	events    chan []FileEvent
	errors    chan error
	stopCh    chan struct{}
	stopOnce  sync.Once
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// New creates a watcher over files. It uses fsnotify unless it is
// unavailable or opts.ForcePolling is set.
func New(files []string, opts Options) (*Watcher, error) {
	if len(files) == 0 {
		return nil, errors.New("watcher needs at least one file")
	}
	opts = opts.WithDefaults()

	w := &Watcher{
		files:     make(map[string]bool, len(files)),
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, 10),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("resolve absolute path: %w", err)
		}
		w.files[abs] = true
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			w.fsWatcher = fsw
		} else {
			slog.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
		}
	}
	return w, nil
}

// Mode returns "fsnotify" or "polling".
func (w *Watcher) Mode() string {
	if w.fsWatcher != nil {
		return "fsnotify"
	}
	return "polling"
}

// Start watches until Stop is called or ctx is cancelled. It blocks.
func (w *Watcher) Start(ctx context.Context) error {
	go w.forward()

	if w.fsWatcher != nil {
		if err := w.watchDirs(); err != nil {
			_ = w.Stop()
			return err
		}
		return w.runFsnotify(ctx)
	}
	return w.runPolling(ctx)
}

func (w *Watcher) watchDirs() error {
	dirs := make(map[string]bool)
	for f := range w.files {
		dirs[filepath.Dir(f)] = true
	}
	for dir := range dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return nil
}

func (w *Watcher) runFsnotify(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleFsnotifyEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) handleFsnotifyEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if !w.files[path] {
		return
	}

	var op Operation
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}
	w.debouncer.Add(FileEvent{Path: path, Operation: op, Timestamp: time.Now()})
}

func (w *Watcher) runPolling(ctx context.Context) error {
	state := w.snapshot()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			current := w.snapshot()
			for path, snap := range current {
				prev, existed := state[path]
				switch {
				case !existed:
					w.debouncer.Add(FileEvent{Path: path, Operation: OpCreate, Timestamp: time.Now()})
				case !prev.modTime.Equal(snap.modTime) || prev.size != snap.size:
					w.debouncer.Add(FileEvent{Path: path, Operation: OpModify, Timestamp: time.Now()})
				}
			}
			for path := range state {
				if _, exists := current[path]; !exists {
					w.debouncer.Add(FileEvent{Path: path, Operation: OpDelete, Timestamp: time.Now()})
				}
			}
			state = current
		}
	}
}

func (w *Watcher) snapshot() map[string]fileSnapshot {
	out := make(map[string]fileSnapshot, len(w.files))
	for path := range w.files {
		info, err := os.Stat(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				w.emitError(err)
			}
			continue
		}
		out[path] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
	}
	return out
}

func (w *Watcher) forward() {
	defer close(w.events)

	for batch := range w.debouncer.Output() {
		select {
		case w.events <- batch:
		case <-w.stopCh:
		}
	}
}

func (w *Watcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
		slog.Warn("watcher_error_dropped", slog.String("error", err.Error()))
	}
}

// Stop stops the watcher. The Events channel is closed once pending
// batches are drained. Safe to call multiple times.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.fsWatcher != nil {
			err = w.fsWatcher.Close()
		}
		w.debouncer.Stop()
	})
	return err
}

// Events returns the channel of debounced batches.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns non-fatal watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}
