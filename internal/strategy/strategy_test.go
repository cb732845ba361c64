package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexsync/internal/async"
	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/index"
	"github.com/Aman-CERP/indexsync/internal/store"
)

// countingClient records the ids of every bulk request per index.
type countingClient struct {
	store.BulkClient

	mu       sync.Mutex
	requests map[string][][]string
}

func (c *countingClient) Bulk(ctx context.Context, req *store.BulkRequest) ([]store.BulkItem, error) {
	ids := make([]string, 0, len(req.Operations))
	for _, op := range req.Operations {
		ids = append(ids, op.ID)
	}
	c.mu.Lock()
	c.requests[req.Index] = append(c.requests[req.Index], ids)
	c.mu.Unlock()
	return c.BulkClient.Bulk(ctx, req)
}

func (c *countingClient) calls(name string) [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[name]
}

type fixture struct {
	client *countingClient
	cities *index.Index
	towns  *index.Index
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bleve := store.NewBleveClient(store.BleveConfig{Retry: syncerr.NoRetry()})
	t.Cleanup(func() { _ = bleve.Close() })
	client := &countingClient{BulkClient: bleve, requests: map[string][][]string{}}

	f := &fixture{client: client}
	for _, name := range []string{"cities", "towns"} {
		src, err := store.NewSQLiteSource(db, name)
		require.NoError(t, err)
		require.NoError(t, src.EnsureSchema(ctx))
		for i := 1; i <= 3; i++ {
			require.NoError(t, src.Put(ctx, fmt.Sprint(i), map[string]any{"name": fmt.Sprintf("%s %d", name, i)}))
		}
		idx, err := index.New(index.Definition{Name: name}, index.Dependencies{Adapter: src, Client: client})
		require.NoError(t, err)
		if name == "cities" {
			f.cities = idx
		} else {
			f.towns = idx
		}
	}
	return f
}

func TestStack_StartsWithBase(t *testing.T) {
	f := newFixture(t)
	s := NewStack()

	assert.Equal(t, 1, s.Depth())
	assert.Equal(t, NameBase, s.Current().Name())

	err := s.Update(context.Background(), f.cities, []string{"1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUndefinedStrategy))
	assert.True(t, syncerr.IsFatal(err))
	assert.Empty(t, f.client.calls("cities"))
}

func TestStack_PopBaseUnderflows(t *testing.T) {
	s := NewStack()

	_, err := s.Pop(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStackUnderflow))
	assert.Equal(t, syncerr.ErrCodeStackUnderflow, syncerr.GetCode(err))
	assert.Equal(t, 1, s.Depth())
}

func TestStack_PushPop(t *testing.T) {
	ctx := context.Background()
	s := NewStack()

	s.Push(NewUrgent())
	s.Push(NewBypass())
	assert.Equal(t, 3, s.Depth())
	assert.Equal(t, NameBypass, s.Current().Name())

	p, err := s.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, NameBypass, p.Name())
	assert.Equal(t, NameUrgent, s.Current().Name())

	_, err = s.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, NameBase, s.Current().Name())
}

func TestUrgent_ImportsImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := NewStack()
	s.Push(NewUrgent())

	require.NoError(t, s.Update(ctx, f.cities, []string{"1"}))
	require.NoError(t, s.Update(ctx, f.cities, []string{"2"}))

	assert.Equal(t, [][]string{{"1"}, {"2"}}, f.client.calls("cities"))
	assert.Equal(t, 2, s.Depth())
}

func TestBypass_DropsUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := NewStack()

	err := s.Wrap(ctx, NewBypass(), func(ctx context.Context) error {
		return s.Update(ctx, f.cities, []string{"1", "2"})
	})
	require.NoError(t, err)
	assert.Empty(t, f.client.calls("cities"))
}

func TestAtomic_OneImportPerIndex(t *testing.T) {
	// Given: an atomic scope touching two indexes several times
	f := newFixture(t)
	ctx := context.Background()
	s := NewStack()

	// When: the scope exits
	err := s.Wrap(ctx, NewAtomic(), func(ctx context.Context) error {
		require.NoError(t, s.Update(ctx, f.cities, []string{"1", "2"}))
		require.NoError(t, s.Update(ctx, f.towns, []string{"3"}))
		require.NoError(t, s.Update(ctx, f.cities, []string{"2", "3"}))
		assert.Empty(t, f.client.calls("cities"))
		return nil
	})
	require.NoError(t, err)

	// Then: each index was imported once with deduplicated ids
	assert.Equal(t, [][]string{{"1", "2", "3"}}, f.client.calls("cities"))
	assert.Equal(t, [][]string{{"3"}}, f.client.calls("towns"))
	assert.Equal(t, 1, s.Depth())
}

func TestAtomic_Pending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := NewAtomic()

	require.NoError(t, a.Update(ctx, f.cities, []string{"2", "1", "2"}))
	assert.Equal(t, map[string][]string{"cities": {"2", "1"}}, a.Pending())

	require.NoError(t, a.Leave(ctx))
	assert.Empty(t, a.Pending())
}

func TestWrap_RestoresOnError(t *testing.T) {
	// Given: an atomic scope whose block fails
	f := newFixture(t)
	ctx := context.Background()
	s := NewStack()
	s.Push(NewUrgent())
	boom := errors.New("boom")

	// When: wrapping
	err := s.Wrap(ctx, NewAtomic(), func(ctx context.Context) error {
		require.NoError(t, s.Update(ctx, f.cities, []string{"1"}))
		return boom
	})

	// Then: the prior strategy is restored and buffered ids were still flushed
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, NameUrgent, s.Current().Name())
	assert.Equal(t, [][]string{{"1"}}, f.client.calls("cities"))
}

func TestWrap_RestoresOnPanic(t *testing.T) {
	ctx := context.Background()
	s := NewStack()

	assert.Panics(t, func() {
		_ = s.Wrap(ctx, NewBypass(), func(ctx context.Context) error {
			s.Push(NewUrgent())
			panic("boom")
		})
	})
	assert.Equal(t, 1, s.Depth())
}

func TestWrap_Nested(t *testing.T) {
	ctx := context.Background()
	s := NewStack()

	var seen []string
	err := s.Wrap(ctx, NewUrgent(), func(ctx context.Context) error {
		seen = append(seen, s.Current().Name())
		return s.Wrap(ctx, NewBypass(), func(ctx context.Context) error {
			seen = append(seen, s.Current().Name())
			return nil
		})
	})
	require.NoError(t, err)
	seen = append(seen, s.Current().Name())
	assert.Equal(t, []string{NameUrgent, NameBypass, NameBase}, seen)
}

func TestWrapValue_ReturnsBlockValue(t *testing.T) {
	s := NewStack()
	v, err := WrapValue(context.Background(), s, NewBypass(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, s.Depth())
}

func TestAtomic_LeaveErrorsAreJoined(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := NewStack()

	// Closing the client makes every import fail.
	require.NoError(t, f.client.BulkClient.(*store.BleveClient).Close())

	err := s.Wrap(ctx, NewAtomic(), func(ctx context.Context) error {
		require.NoError(t, s.Update(ctx, f.cities, []string{"1"}))
		require.NoError(t, s.Update(ctx, f.towns, []string{"1"}))
		return nil
	})
	require.Error(t, err)
	assert.True(t, syncerr.IsRetryable(err))
	assert.Len(t, f.client.calls("cities"), 1)
	assert.Len(t, f.client.calls("towns"), 1)
	assert.Equal(t, 1, s.Depth())
}

func TestDeferred_EnqueuesMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := async.NewMemoryQueue()
	s := NewStack()

	err := s.Wrap(ctx, NewDeferred(q), func(ctx context.Context) error {
		return s.Update(ctx, f.cities, []string{"1", "2"}, index.WithBatchSize(10))
	})
	require.NoError(t, err)
	assert.Empty(t, f.client.calls("cities"))

	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "cities", msg.Index)
	assert.Equal(t, []string{"1", "2"}, msg.IDs)
	assert.Equal(t, 10, msg.Options.BatchSize)
	assert.True(t, msg.Options.UpdateFailover)
}

func TestDeferred_WorkerRunsSameImport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := async.NewMemoryQueue()
	s := NewStack()

	require.NoError(t, s.Wrap(ctx, NewDeferred(q), func(ctx context.Context) error {
		return s.Update(ctx, f.towns, []string{"2"})
	}))

	registry, err := index.NewRegistry(f.cities, f.towns)
	require.NoError(t, err)
	w, err := async.NewWorker(q, registry, async.WorkerConfig{})
	require.NoError(t, err)
	require.NoError(t, w.Drain(ctx))

	assert.Equal(t, [][]string{{"2"}}, f.client.calls("towns"))
}

func TestContextStack(t *testing.T) {
	f := newFixture(t)

	err := Update(context.Background(), f.cities, []string{"1"})
	assert.True(t, errors.Is(err, ErrUndefinedStrategy))

	s := NewStack()
	s.Push(NewUrgent())
	ctx := WithStack(context.Background(), s)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, s, got)

	require.NoError(t, Update(ctx, f.cities, []string{"3"}))
	assert.Equal(t, [][]string{{"3"}}, f.client.calls("cities"))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(nil)
	assert.Equal(t, []string{NameAtomic, NameBase, NameBypass, NameUrgent}, r.Names())

	p, err := r.New(NameAtomic)
	require.NoError(t, err)
	assert.Equal(t, NameAtomic, p.Name())

	// Each call builds a fresh frame.
	p2, err := r.New(NameAtomic)
	require.NoError(t, err)
	assert.NotSame(t, p, p2)

	_, err = r.New(NameDeferred)
	require.Error(t, err)
	assert.Equal(t, syncerr.ErrCodeUnknownStrategy, syncerr.GetCode(err))

	require.NoError(t, r.Register("sync", func() Policy { return NewUrgent() }))
	assert.Error(t, r.Register("sync", func() Policy { return NewUrgent() }))

	withQueue := NewRegistry(async.NewMemoryQueue())
	names := withQueue.Names()
	assert.True(t, sort.StringsAreSorted(names))
	assert.Contains(t, names, NameDeferred)
}
