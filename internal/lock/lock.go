// Package lock serializes indexsync commands that must not overlap, such as
// two journal replays or two workers sharing one queue database.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
)

// FileLock provides cross-process file locking using gofrs/flock.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// New creates a lock on the file at path. Nothing is created until Lock.
func New(path string) *FileLock {
	return &FileLock{
		path:  path,
		flock: flock.New(path),
	}
}

// Lock acquires an exclusive lock, blocking until it is available.
func (l *FileLock) Lock() error {
	if err := l.ensureDir(); err != nil {
		return err
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if another process holds it.
func (l *FileLock) TryLock() (bool, error) {
	if err := l.ensureDir(); err != nil {
		return false, err
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Acquire retries TryLock every retry until ctx is done. A lock still held
// when ctx ends yields ErrCodeLockHeld.
func (l *FileLock) Acquire(ctx context.Context, retry time.Duration) error {
	if err := l.ensureDir(); err != nil {
		return err
	}
	acquired, err := l.flock.TryLockContext(ctx, retry)
	if acquired {
		l.locked = true
		return nil
	}
	return syncerr.New(syncerr.ErrCodeLockHeld, fmt.Sprintf("lock %s is held by another process", l.path), err).
		WithSuggestion("Wait for the other indexsync command to finish")
}

// Unlock releases the lock. It's safe to call on an unlocked FileLock.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the path to the lock file.
func (l *FileLock) Path() string {
	return l.path
}

// IsLocked returns true if the lock is currently held.
func (l *FileLock) IsLocked() bool {
	return l.locked
}

func (l *FileLock) ensureDir() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	return nil
}
