package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSource(t *testing.T) *SQLiteSource {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	src, err := NewSQLiteSource(db, "cities")
	require.NoError(t, err)
	require.NoError(t, src.EnsureSchema(context.Background()))
	return src
}

func collect(t *testing.T, src *SQLiteSource, sel Selector, batchSize int) []ActionGroups {
	t.Helper()
	var rounds []ActionGroups
	err := src.Resolve(context.Background(), sel, batchSize, func(g ActionGroups) error {
		rounds = append(rounds, g)
		return nil
	})
	require.NoError(t, err)
	return rounds
}

func TestSQLiteSource_ResolveAllInBatches(t *testing.T) {
	src := newTestSource(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, src.Put(ctx, id, map[string]any{"name": id}))
	}
	require.NoError(t, src.SoftDelete(ctx, "c"))

	rounds := collect(t, src, All(), 2)

	require.Len(t, rounds, 3)
	assert.Equal(t, 2, rounds[0].Len())
	assert.Equal(t, 1, rounds[2].Len())
	require.Len(t, rounds[1][ActionDelete], 1)
	assert.Equal(t, "c", rounds[1][ActionDelete][0].ID)
}

func TestSQLiteSource_MissingIDsAreDeletions(t *testing.T) {
	src := newTestSource(t)
	ctx := context.Background()
	require.NoError(t, src.Put(ctx, "1", map[string]any{"name": "Paris"}))

	rounds := collect(t, src, ByIDs("1", "2", "1"), 10)

	require.Len(t, rounds, 1)
	require.Len(t, rounds[0][ActionIndex], 1)
	assert.Equal(t, "Paris", rounds[0][ActionIndex][0].Fields["name"])
	require.Len(t, rounds[0][ActionDelete], 1)
	assert.Equal(t, "2", rounds[0][ActionDelete][0].ID)
}

func TestSQLiteSource_ByRecordsSkipsDatabase(t *testing.T) {
	src := newTestSource(t)

	rounds := collect(t, src, ByRecords(
		Record{ID: "x", Fields: map[string]any{"name": "X"}},
		Record{ID: "y", Deleted: true},
	), 10)

	require.Len(t, rounds, 1)
	assert.Len(t, rounds[0][ActionIndex], 1)
	assert.Len(t, rounds[0][ActionDelete], 1)
}

func TestSQLiteSource_ResolveFields(t *testing.T) {
	src := newTestSource(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, src.PutAt(ctx, "1", map[string]any{"name": "Paris"}, at))
	require.NoError(t, src.PutAt(ctx, "2", map[string]any{"name": "Rome"}, at))
	require.NoError(t, src.SoftDelete(ctx, "2"))

	var got []FieldValues
	err := src.ResolveFields(ctx, All(), []string{FieldUpdatedAt, "name"}, 10, func(fv []FieldValues) error {
		got = append(got, fv...)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)
	updated, ok := got[0].Values[0].(time.Time)
	require.True(t, ok)
	assert.True(t, at.Equal(updated))
	assert.Equal(t, "Paris", got[0].Values[1])
}

func TestSQLiteSource_ResolveFieldsWithoutFieldsYieldsIDs(t *testing.T) {
	src := newTestSource(t)
	ctx := context.Background()
	require.NoError(t, src.Put(ctx, "1", nil))

	var got []FieldValues
	err := src.ResolveFields(ctx, All(), nil, 10, func(fv []FieldValues) error {
		got = append(got, fv...)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Values)
}

func TestSQLiteSource_CountAndDelete(t *testing.T) {
	src := newTestSource(t)
	ctx := context.Background()
	require.NoError(t, src.Put(ctx, "1", nil))
	require.NoError(t, src.Put(ctx, "2", nil))

	require.NoError(t, src.Delete(ctx, "1"))

	n, err := src.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewSQLiteSource_RejectsBadTableName(t *testing.T) {
	db, err := OpenSQLite("")
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSQLiteSource(db, "cities; DROP TABLE x")
	assert.Error(t, err)
}

func TestSQLiteSource_Identify(t *testing.T) {
	src := newTestSource(t)
	ids := src.Identify([]Record{{ID: "a"}, {ID: "b"}})
	assert.Equal(t, []string{"a", "b"}, ids)
}
