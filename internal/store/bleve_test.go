package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
)

func newMemClient(t *testing.T) *BleveClient {
	t.Helper()
	c := NewBleveClient(BleveConfig{Retry: syncerr.NoRetry()})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func indexOps(ids ...string) []BulkOperation {
	ops := make([]BulkOperation, len(ids))
	for i, id := range ids {
		ops[i] = BulkOperation{Action: ActionIndex, ID: id, Document: Document{"name": "doc " + id}}
	}
	return ops
}

func TestBleveClient_BulkIndexAndSearch(t *testing.T) {
	// Given: an empty in-memory index
	c := newMemClient(t)
	ctx := context.Background()

	// When: indexing three documents
	items, err := c.Bulk(ctx, &BulkRequest{Index: "cities", Operations: indexOps("3", "1", "2")})
	require.NoError(t, err)

	// Then: every item succeeds and hits come back ordered by id
	require.Len(t, items, 3)
	for _, item := range items {
		assert.False(t, item.Failed())
		assert.Equal(t, StatusCreated, item.Status)
	}

	hits, err := c.Search(ctx, "cities", Query{Fields: []string{"name"}})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "1", hits[0].ID)
	assert.Equal(t, "doc 1", hits[0].Fields["name"])

	n, err := c.Count(ctx, "cities", Query{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestBleveClient_WritesVisibleWithoutRefresh(t *testing.T) {
	// Given: an empty in-memory index
	c := newMemClient(t)
	ctx := context.Background()

	// When: indexing and then deleting without asking for a refresh
	_, err := c.Bulk(ctx, &BulkRequest{Index: "cities", Operations: indexOps("1", "2"), Refresh: false})
	require.NoError(t, err)
	n, err := c.Count(ctx, "cities", Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = c.Bulk(ctx, &BulkRequest{Index: "cities", Operations: []BulkOperation{{Action: ActionDelete, ID: "1"}}})
	require.NoError(t, err)

	// Then: both writes are already searchable
	hits, err := c.Search(ctx, "cities", Query{Fields: []string{"name"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "2", hits[0].ID)
}

func TestBleveClient_UpdateMissingDocument(t *testing.T) {
	c := newMemClient(t)

	items, err := c.Bulk(context.Background(), &BulkRequest{
		Index:      "cities",
		Operations: []BulkOperation{{Action: ActionUpdate, ID: "42", Document: Document{"name": "x"}}},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.True(t, items[0].Failed())
	assert.Equal(t, StatusNotFound, items[0].Status)
	assert.Equal(t, ErrTypeDocumentMissing, items[0].Error.Type)
	assert.Equal(t, "[42]: document missing", items[0].Error.Reason)
}

func TestBleveClient_UpdateMergesIntoSource(t *testing.T) {
	c := newMemClient(t)
	ctx := context.Background()

	_, err := c.Bulk(ctx, &BulkRequest{Index: "cities", Operations: []BulkOperation{
		{Action: ActionIndex, ID: "1", Document: Document{"name": "Paris", "rating": 3.0}},
	}})
	require.NoError(t, err)

	items, err := c.Bulk(ctx, &BulkRequest{Index: "cities", Operations: []BulkOperation{
		{Action: ActionUpdate, ID: "1", Document: Document{"rating": 5.0}},
	}})
	require.NoError(t, err)
	assert.False(t, items[0].Failed())

	hits, err := c.Search(ctx, "cities", Query{IDs: []string{"1"}, Fields: []string{"name", "rating"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Paris", hits[0].Fields["name"])
	assert.Equal(t, 5.0, hits[0].Fields["rating"])
}

func TestBleveClient_UpdateSeesEarlierIndexInSameBatch(t *testing.T) {
	c := newMemClient(t)

	items, err := c.Bulk(context.Background(), &BulkRequest{Index: "cities", Operations: []BulkOperation{
		{Action: ActionIndex, ID: "1", Document: Document{"name": "Rome"}},
		{Action: ActionUpdate, ID: "1", Document: Document{"rating": 1.0}},
	}})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.False(t, items[1].Failed())
}

func TestBleveClient_DeleteAbsentIsNotAnError(t *testing.T) {
	c := newMemClient(t)
	ctx := context.Background()

	_, err := c.Bulk(ctx, &BulkRequest{Index: "cities", Operations: indexOps("1")})
	require.NoError(t, err)

	items, err := c.Bulk(ctx, &BulkRequest{Index: "cities", Operations: []BulkOperation{
		{Action: ActionDelete, ID: "1"},
		{Action: ActionDelete, ID: "missing"},
	}})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.False(t, items[0].Failed())
	assert.False(t, items[1].Failed())
	assert.Equal(t, StatusNotFound, items[1].Status)

	n, err := c.Count(ctx, "cities", Query{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBleveClient_ScrollPagesThroughAll(t *testing.T) {
	c := newMemClient(t)
	ctx := context.Background()

	ids := make([]string, 25)
	for i := range ids {
		ids[i] = fmt.Sprintf("%03d", i)
	}
	_, err := c.Bulk(ctx, &BulkRequest{Index: "cities", Operations: indexOps(ids...)})
	require.NoError(t, err)

	var seen []string
	pages := 0
	err = c.Scroll(ctx, "cities", Query{Size: 10}, func(hits []Hit) error {
		pages++
		for _, h := range hits {
			seen = append(seen, h.ID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, pages)
	assert.Equal(t, ids, seen)
}

func TestBleveClient_CountByIDs(t *testing.T) {
	c := newMemClient(t)
	ctx := context.Background()

	_, err := c.Bulk(ctx, &BulkRequest{Index: "cities", Operations: indexOps("1", "2", "3")})
	require.NoError(t, err)

	n, err := c.Count(ctx, "cities", Query{IDs: []string{"1", "3", "9"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBleveClient_RejectsInvalidIndexName(t *testing.T) {
	c := newMemClient(t)

	_, err := c.Search(context.Background(), "Bad Name", Query{})
	require.Error(t, err)
	assert.Equal(t, syncerr.ErrCodeInvalidInput, syncerr.GetCode(err))
}

func TestBleveClient_ClosedClientIsUnavailable(t *testing.T) {
	c := NewBleveClient(BleveConfig{Retry: syncerr.NoRetry()})
	require.NoError(t, c.Close())

	_, err := c.Bulk(context.Background(), &BulkRequest{Index: "cities", Operations: indexOps("1")})
	require.Error(t, err)
	assert.True(t, syncerr.IsRetryable(err))
}

func TestBleveClient_PersistsOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	c := NewBleveClient(BleveConfig{Dir: dir, Retry: syncerr.NoRetry()})
	_, err := c.Bulk(ctx, &BulkRequest{Index: "cities", Operations: indexOps("1", "2")})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	reopened := NewBleveClient(BleveConfig{Dir: dir, Retry: syncerr.NoRetry()})
	defer reopened.Close()

	n, err := reopened.Count(ctx, "cities", Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.DirExists(t, filepath.Join(dir, "cities.bleve"))
}

func TestValidateIndexIntegrity_MissingMeta(t *testing.T) {
	dir := t.TempDir()

	// Non-existent path is fine
	assert.NoError(t, validateIndexIntegrity(filepath.Join(dir, "nope.bleve")))

	// Existing directory without metadata is corrupt
	assert.Error(t, validateIndexIntegrity(dir))
}
