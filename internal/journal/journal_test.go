package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexsync/internal/store"
	"github.com/Aman-CERP/indexsync/internal/telemetry"
)

type replayCall struct {
	index    string
	typeName string
	ids      []string
}

type fakeReplayer struct {
	calls []replayCall
	err   error
}

func (f *fakeReplayer) Replay(ctx context.Context, index, typeName string, ids []string) error {
	f.calls = append(f.calls, replayCall{index, typeName, append([]string(nil), ids...)})
	return f.err
}

func TestNewEntry(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 600, time.UTC)
	ids := []string{"1", "2"}

	e := NewEntry("cities", "_doc", store.ActionDelete, ids, at)
	ids[0] = "changed"

	assert.Equal(t, at.Unix(), e.CreatedAt)
	assert.Equal(t, []string{"1", "2"}, e.ObjectIDs)
	assert.True(t, at.Truncate(time.Second).Equal(e.Time()))
}

func TestApplyChangesFrom_UnionsIDsPerIndexAndType(t *testing.T) {
	j := New(newSQLiteTestStore(t))
	ctx := context.Background()
	t1 := time.Unix(1000, 0)
	t2 := time.Unix(2000, 0)

	require.NoError(t, j.Append(ctx, NewEntry("cities", "_doc", store.ActionIndex, []string{"1", "2"}, t1)))
	require.NoError(t, j.Append(ctx, NewEntry("cities", "_doc", store.ActionIndex, []string{"1"}, t2)))

	r := &fakeReplayer{}
	stats, err := j.ApplyChangesFrom(ctx, r, t1)
	require.NoError(t, err)

	// One import over the union, not one per entry
	require.Len(t, r.calls, 1)
	assert.Equal(t, replayCall{"cities", "_doc", []string{"1", "2"}}, r.calls[0])
	assert.Equal(t, ReplayStats{Stages: 1, Entries: 2, Imports: 1}, stats)
}

func TestApplyChangesFrom_SkipsOlderEntriesAndFilters(t *testing.T) {
	j := New(newSQLiteTestStore(t))
	ctx := context.Background()

	require.NoError(t, j.Append(ctx,
		NewEntry("cities", "_doc", store.ActionIndex, []string{"old"}, time.Unix(10, 0)),
		NewEntry("cities", "_doc", store.ActionDelete, []string{"3"}, time.Unix(20, 0)),
		NewEntry("users", "_doc", store.ActionIndex, []string{"u1"}, time.Unix(20, 0)),
	))

	r := &fakeReplayer{}
	_, err := j.ApplyChangesFrom(ctx, r, time.Unix(20, 0), "cities")
	require.NoError(t, err)

	require.Len(t, r.calls, 1)
	assert.Equal(t, []string{"3"}, r.calls[0].ids)
}

func TestApplyChangesFrom_StagesAndEvents(t *testing.T) {
	rec := telemetry.NewRecorder(telemetry.RecorderConfig{})
	j := New(newPebbleTestStore(t), WithFetchLimit(2), WithSink(rec))
	ctx := context.Background()

	require.NoError(t, j.Append(ctx,
		NewEntry("cities", "_doc", store.ActionIndex, []string{"1"}, time.Unix(10, 0)),
		NewEntry("users", "_doc", store.ActionIndex, []string{"u1"}, time.Unix(10, 0)),
		NewEntry("cities", "_doc", store.ActionIndex, []string{"2"}, time.Unix(11, 0)),
	))

	r := &fakeReplayer{}
	stats, err := j.ApplyChangesFrom(ctx, r, time.Unix(0, 0))
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Stages)
	assert.Equal(t, 3, stats.Entries)
	assert.Len(t, r.calls, 3)

	replays := rec.Snapshot().Replays
	require.Len(t, replays, 3)
	assert.Equal(t, "stage_1", replays[0].Stage)
	assert.Equal(t, []string{"cities", "users"}, replays[0].IndexList)
	assert.Equal(t, "stage_2", replays[1].Stage)
	assert.Equal(t, telemetry.StageDone, replays[2].Stage)
	assert.Equal(t, 3, replays[2].EntryCount)
}

func TestApplyChangesFrom_IsRepeatable(t *testing.T) {
	j := New(newSQLiteTestStore(t))
	ctx := context.Background()
	require.NoError(t, j.Append(ctx, NewEntry("cities", "_doc", store.ActionIndex, []string{"1", "2"}, time.Unix(10, 0))))

	first, second := &fakeReplayer{}, &fakeReplayer{}
	_, err := j.ApplyChangesFrom(ctx, first, time.Unix(10, 0))
	require.NoError(t, err)
	_, err = j.ApplyChangesFrom(ctx, second, time.Unix(10, 0))
	require.NoError(t, err)

	assert.Equal(t, first.calls, second.calls)
}

func TestApplyChangesFrom_ReplayErrorAborts(t *testing.T) {
	j := New(newSQLiteTestStore(t))
	ctx := context.Background()
	require.NoError(t, j.Append(ctx, NewEntry("cities", "_doc", store.ActionIndex, []string{"1"}, time.Unix(10, 0))))

	boom := errors.New("store down")
	_, err := j.ApplyChangesFrom(ctx, &fakeReplayer{err: boom}, time.Unix(0, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestEntriesSince_PagesLazily(t *testing.T) {
	j := New(newSQLiteTestStore(t), WithFetchLimit(2))
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, j.Append(ctx, NewEntry("cities", "_doc", store.ActionIndex, []string{"x"}, time.Unix(i, 0))))
	}

	var got []int64
	for e, err := range j.EntriesSince(ctx, time.Unix(2, 0)) {
		require.NoError(t, err)
		got = append(got, e.CreatedAt)
	}
	assert.Equal(t, []int64{2, 3, 4, 5}, got)

	// Early break stops paging
	n := 0
	for range j.EntriesSince(ctx, time.Unix(0, 0)) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestCleanUntil(t *testing.T) {
	j := New(newSQLiteTestStore(t))
	ctx := context.Background()
	require.NoError(t, j.Append(ctx,
		NewEntry("cities", "_doc", store.ActionIndex, []string{"1"}, time.Unix(10, 0)),
		NewEntry("cities", "_doc", store.ActionIndex, []string{"2"}, time.Unix(20, 0)),
	))

	n, err := j.CleanUntil(ctx, time.Unix(20, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var left []Entry
	for e, err := range j.EntriesSince(ctx, time.Unix(0, 0)) {
		require.NoError(t, err)
		left = append(left, e)
	}
	require.Len(t, left, 1)
	assert.Equal(t, []string{"2"}, left[0].ObjectIDs)
}
