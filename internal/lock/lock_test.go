package lock

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
)

func TestFileLock_LockUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "indexsync.lock")
	l := New(path)

	require.NoError(t, l.Lock())
	assert.True(t, l.IsLocked())

	_, err := os.Stat(l.Path())
	require.NoError(t, err, "lock file should exist")

	require.NoError(t, l.Unlock())
	assert.False(t, l.IsLocked())

	// Second unlock is a no-op.
	require.NoError(t, l.Unlock())
}

func TestFileLock_TryLockHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexsync.lock")
	first := New(path)
	second := New(path)

	ok, err := first.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer first.Unlock()

	ok, err = second.TryLock()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, second.IsLocked())
}

func TestFileLock_AcquireTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexsync.lock")
	holder := New(path)
	require.NoError(t, holder.Lock())
	defer holder.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := New(path).Acquire(ctx, 10*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, syncerr.ErrCodeLockHeld, syncerr.GetCode(err))
}

func TestFileLock_AcquireAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexsync.lock")
	holder := New(path)
	require.NoError(t, holder.Lock())

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = holder.Unlock()
	}()

	waiter := New(path)
	require.NoError(t, waiter.Acquire(context.Background(), 5*time.Millisecond))
	assert.True(t, waiter.IsLocked())
	require.NoError(t, waiter.Unlock())
}
