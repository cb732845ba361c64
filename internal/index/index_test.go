package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/journal"
	"github.com/Aman-CERP/indexsync/internal/store"
	"github.com/Aman-CERP/indexsync/internal/telemetry"
)

// recordingClient records every bulk request before delegating.
type recordingClient struct {
	store.BulkClient

	mu       sync.Mutex
	requests []store.BulkRequest
	reject   map[string]bool
	down     bool
}

func (c *recordingClient) Bulk(ctx context.Context, req *store.BulkRequest) ([]store.BulkItem, error) {
	c.mu.Lock()
	c.requests = append(c.requests, *req)
	down := c.down
	c.mu.Unlock()

	if down {
		return nil, syncerr.StoreUnavailable("connection refused", nil)
	}

	items, err := c.BulkClient.Bulk(ctx, req)
	if err != nil {
		return nil, err
	}
	for n := range items {
		if c.reject[items[n].ID] {
			items[n].Status = store.StatusBadRequest
			items[n].Error = &store.BulkError{Type: store.ErrTypeMapperParsing, Reason: "failed to parse field [name]"}
		}
	}
	return items, nil
}

// requestsWith returns the recorded requests whose operations all use action.
func (c *recordingClient) requestsWith(action store.Action) []store.BulkRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []store.BulkRequest
	for _, req := range c.requests {
		if len(req.Operations) > 0 && req.Operations[0].Action == action {
			out = append(out, req)
		}
	}
	return out
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
	err     error
}

func (j *fakeJournal) Append(ctx context.Context, entries ...journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.entries = append(j.entries, entries...)
	return nil
}

type fixture struct {
	src      *store.SQLiteSource
	bleve    *store.BleveClient
	client   *recordingClient
	journal  *fakeJournal
	recorder *telemetry.Recorder
}

func newFixture(t testing.TB, n int) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	src, err := store.NewSQLiteSource(db, "cities")
	require.NoError(t, err)
	require.NoError(t, src.EnsureSchema(ctx))
	for i := 1; i <= n; i++ {
		id := fmt.Sprint(i)
		require.NoError(t, src.Put(ctx, id, map[string]any{"name": "city " + id, "population": i * 1000}))
	}

	bleve := store.NewBleveClient(store.BleveConfig{Retry: syncerr.NoRetry()})
	t.Cleanup(func() { _ = bleve.Close() })

	return &fixture{
		src:      src,
		bleve:    bleve,
		client:   &recordingClient{BulkClient: bleve, reject: map[string]bool{}},
		journal:  &fakeJournal{},
		recorder: telemetry.NewRecorder(telemetry.RecorderConfig{}),
	}
}

func (f *fixture) index(t testing.TB, opts ...Option) *Index {
	t.Helper()
	idx, err := New(Definition{
		Name: "cities",
		Fields: []Field{
			{Name: "name"},
			{Name: "population"},
			{Name: "label", Value: func(r store.Record) any { return fmt.Sprintf("%v (%s)", r.Fields["name"], r.ID) }},
		},
	}, Dependencies{
		Adapter: f.src,
		Client:  f.client,
		Journal: f.journal,
		Sink:    f.recorder,
	}, opts...)
	require.NoError(t, err)
	return idx
}

func (f *fixture) indexedIDs(t *testing.T) []string {
	t.Helper()
	var ids []string
	err := f.bleve.Scroll(context.Background(), "cities", store.Query{}, func(hits []store.Hit) error {
		for _, h := range hits {
			ids = append(ids, h.ID)
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(ids)
	return ids
}

func (f *fixture) seedIndex(t *testing.T, ids ...string) {
	t.Helper()
	ops := make([]store.BulkOperation, len(ids))
	for n, id := range ids {
		ops[n] = store.BulkOperation{Action: store.ActionIndex, ID: id, Document: store.Document{"name": "stale"}}
	}
	_, err := f.bleve.Bulk(context.Background(), &store.BulkRequest{Index: "cities", Operations: ops})
	require.NoError(t, err)
}

func TestNew_Validation(t *testing.T) {
	f := newFixture(t, 0)

	tests := []struct {
		name string
		def  Definition
		deps Dependencies
	}{
		{"missing name", Definition{}, Dependencies{Adapter: f.src, Client: f.client}},
		{"missing adapter", Definition{Name: "cities"}, Dependencies{Client: f.client}},
		{"missing client", Definition{Name: "cities"}, Dependencies{Adapter: f.src}},
		{"unnamed field", Definition{Name: "cities", Fields: []Field{{Source: "x"}}}, Dependencies{Adapter: f.src, Client: f.client}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.def, tt.deps)
			require.Error(t, err)
			assert.Equal(t, syncerr.ErrCodeInvalidInput, syncerr.GetCode(err))
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	f := newFixture(t, 0)
	idx, err := New(Definition{Name: "cities"}, Dependencies{Adapter: f.src, Client: f.client})
	require.NoError(t, err)

	assert.Equal(t, DefaultTypeName, idx.TypeName())
	d := idx.Defaults()
	assert.Equal(t, DefaultBatchSize, d.BatchSize)
	assert.True(t, d.Refresh)
	assert.True(t, d.UpdateFailover)
	assert.False(t, d.Journal)
}

func TestCompose(t *testing.T) {
	f := newFixture(t, 0)
	idx := f.index(t)
	r := store.Record{ID: "7", Fields: map[string]any{"name": "Oslo", "population": 700, "ignored": true}}

	doc := idx.Compose(r)
	assert.Equal(t, store.Document{"name": "Oslo", "population": 700, "label": "Oslo (7)"}, doc)

	partial := idx.ComposeFields(r, []string{"label", "ignored"})
	assert.Equal(t, store.Document{"label": "Oslo (7)", "ignored": true}, partial)
}

func TestCompose_NoFieldsCopiesRecord(t *testing.T) {
	f := newFixture(t, 0)
	idx, err := New(Definition{Name: "cities", Fields: nil}, Dependencies{Adapter: f.src, Client: f.client})
	require.NoError(t, err)

	r := store.Record{ID: "1", Fields: map[string]any{"a": 1}}
	doc := idx.Compose(r)
	doc["b"] = 2
	assert.NotContains(t, r.Fields, "b")
}

func TestImport_EndToEnd(t *testing.T) {
	f := newFixture(t, 1)
	idx := f.index(t)

	res, err := idx.Import(context.Background(), store.ByIDs("1"))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, map[store.Action]int{store.ActionIndex: 1}, res.Stats)
	assert.True(t, res.Errors.Empty())
	assert.Equal(t, []string{"1"}, f.indexedIDs(t))

	// Missing from the source now: imported as a deletion
	require.NoError(t, f.src.Delete(context.Background(), "1"))
	res, err = idx.Import(context.Background(), store.ByIDs("1"))
	require.NoError(t, err)
	assert.Equal(t, map[store.Action]int{store.ActionDelete: 1}, res.Stats)
	assert.Empty(t, f.indexedIDs(t))
}

func TestImport_BatchSizeControlsRounds(t *testing.T) {
	f := newFixture(t, 5)
	idx := f.index(t)

	res, err := idx.Import(context.Background(), store.All(), WithBatchSize(2))
	require.NoError(t, err)

	// 3 fetch rounds, one bulk request each
	assert.Len(t, f.client.requests, 3)
	assert.Equal(t, 5, res.Stats[store.ActionIndex])
	assert.Len(t, f.indexedIDs(t), 5)
}

func TestImport_BulkSizeSplitsRounds(t *testing.T) {
	f := newFixture(t, 2)
	idx := f.index(t)

	_, err := idx.Import(context.Background(), store.All(), WithBatchSize(2), WithBulkSize(1))
	require.NoError(t, err)

	// One round of 2 records, split into 2 chunks
	require.Len(t, f.client.requests, 2)
	for _, req := range f.client.requests {
		assert.Len(t, req.Operations, 1)
		assert.NotEmpty(t, req.Body)
	}
}

func TestImport_UpdateFailover(t *testing.T) {
	f := newFixture(t, 3)
	f.seedIndex(t, "1")
	idx := f.index(t)

	res, err := idx.Import(context.Background(), store.ByIDs("1", "2", "3"), WithUpdateFields("name"))
	require.NoError(t, err)

	// Exactly one update pass with 3 operations
	updates := f.client.requestsWith(store.ActionUpdate)
	require.Len(t, updates, 1)
	assert.Len(t, updates[0].Operations, 3)

	// Exactly one index pass for the 2 missing documents
	indexes := f.client.requestsWith(store.ActionIndex)
	require.Len(t, indexes, 1)
	var ids []string
	for _, op := range indexes[0].Operations {
		ids = append(ids, op.ID)
		assert.Contains(t, op.Document, "population")
	}
	assert.ElementsMatch(t, []string{"2", "3"}, ids)

	assert.True(t, res.Success)
	assert.True(t, res.Errors.Empty())
	assert.Equal(t, []string{"1", "2", "3"}, f.indexedIDs(t))
}

func TestImport_UpdateFailoverDisabled(t *testing.T) {
	f := newFixture(t, 2)
	f.seedIndex(t, "1")
	idx := f.index(t)

	res, err := idx.Import(context.Background(), store.ByIDs("1", "2"),
		WithUpdateFields("name"), WithUpdateFailover(false))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, []string{"2"}, res.Errors.IDsOfType(store.ActionUpdate, store.ErrTypeDocumentMissing))
	assert.Empty(t, f.client.requestsWith(store.ActionIndex))
}

func TestImport_PerDocumentErrorsDoNotAbort(t *testing.T) {
	f := newFixture(t, 3)
	f.client.reject["2"] = true
	idx := f.index(t)

	res, err := idx.Import(context.Background(), store.All())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Stats[store.ActionIndex])
	assert.Equal(t, 1, res.Errors.Len())
	assert.Len(t, res.Errors[store.ActionIndex], 1)
}

func TestImport_UnencodableDocumentDoesNotAbort(t *testing.T) {
	// Given: a field that yields a value JSON cannot represent for id 2
	f := newFixture(t, 3)
	idx, err := New(Definition{
		Name: "cities",
		Fields: []Field{
			{Name: "name"},
			{Name: "density", Value: func(r store.Record) any {
				if r.ID == "2" {
					return math.NaN()
				}
				return 1.5
			}},
		},
	}, Dependencies{Adapter: f.src, Client: f.client, Sink: f.recorder})
	require.NoError(t, err)

	// When: importing all three
	res, err := idx.Import(context.Background(), store.ByIDs("1", "2", "3"))

	// Then: the healthy documents are written and id 2 is reported
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"1", "3"}, f.indexedIDs(t))
	assert.Equal(t, []string{"2"}, res.Errors.IDsOfType(store.ActionIndex, store.ErrTypeMapperParsing))
	require.Len(t, f.client.requests, 1)
	assert.Len(t, f.client.requests[0].Operations, 2)
}

func TestImportStrict_ReturnsImportFailed(t *testing.T) {
	f := newFixture(t, 2)
	f.client.reject["1"] = true
	idx := f.index(t)

	res, err := idx.ImportStrict(context.Background(), store.All())
	require.Error(t, err)
	require.NotNil(t, res)

	assert.True(t, errors.Is(err, ErrImportFailed))
	var failed *ImportFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "cities", failed.Index)
	assert.Equal(t, 1, failed.Errors.Len())
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
	assert.Equal(t, syncerr.ErrCodeImportFailed, syncerr.GetCode(err))
}

func TestImport_ConnectivityFailureAborts(t *testing.T) {
	f := newFixture(t, 2)
	f.client.down = true
	idx := f.index(t)

	res, err := idx.Import(context.Background(), store.All())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, syncerr.IsRetryable(err))
	assert.Zero(t, f.recorder.Snapshot().ImportCalls)
}

func TestImport_JournalsOneEntryPerGroup(t *testing.T) {
	f := newFixture(t, 3)
	idx := f.index(t, WithJournal(true))

	_, err := idx.Import(context.Background(), store.ByIDs("1", "2", "9"))
	require.NoError(t, err)

	require.Len(t, f.journal.entries, 2)
	byAction := map[store.Action][]string{}
	for _, e := range f.journal.entries {
		assert.Equal(t, "cities", e.IndexName)
		assert.Equal(t, DefaultTypeName, e.TypeName)
		byAction[e.Action] = e.ObjectIDs
	}
	assert.Equal(t, []string{"1", "2"}, byAction[store.ActionIndex])
	assert.Equal(t, []string{"9"}, byAction[store.ActionDelete])
}

func TestImport_JournalFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, 1)
	f.journal.err = syncerr.JournalError("disk full", nil)
	idx := f.index(t)

	res, err := idx.Import(context.Background(), store.All(), WithJournal(true))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"1"}, f.indexedIDs(t))
}

func TestImport_NoJournalByDefault(t *testing.T) {
	f := newFixture(t, 1)
	idx := f.index(t)

	_, err := idx.Import(context.Background(), store.All())
	require.NoError(t, err)
	assert.Empty(t, f.journal.entries)
}

func TestImport_EmitsOneEventPerCall(t *testing.T) {
	f := newFixture(t, 3)
	f.seedIndex(t, "1")
	idx := f.index(t)

	_, err := idx.Import(context.Background(), store.All(), WithBatchSize(1), WithUpdateFields("name"))
	require.NoError(t, err)

	snap := f.recorder.Snapshot()
	require.Len(t, snap.Imports, 1)
	assert.Equal(t, "cities", snap.Imports[0].Index)
	assert.Equal(t, 3, snap.Imports[0].Import[store.ActionIndex])
}

func TestImport_DirectImportSkipsReload(t *testing.T) {
	f := newFixture(t, 0)
	idx := f.index(t)

	records := []store.Record{
		{ID: "a", Fields: map[string]any{"name": "direct"}},
		{ID: "b", Deleted: true},
	}

	res, err := idx.Import(context.Background(), store.ByRecords(records...), WithDirectImport(true))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats[store.ActionIndex])
	assert.Equal(t, 1, res.Stats[store.ActionDelete])
	assert.Equal(t, []string{"a"}, f.indexedIDs(t))
}

func TestImport_RecordsAreReloadedWithoutDirectImport(t *testing.T) {
	f := newFixture(t, 1)
	idx := f.index(t)

	// Stale in-memory copy: the source wins
	res, err := idx.Import(context.Background(), store.ByRecords(store.Record{ID: "1", Fields: map[string]any{"name": "stale"}}))
	require.NoError(t, err)
	require.True(t, res.Success)

	hits, err := f.bleve.Search(context.Background(), "cities", store.Query{IDs: []string{"1"}, Fields: []string{"name"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "city 1", hits[0].Fields["name"])
}

func TestImport_IsIdempotent(t *testing.T) {
	f := newFixture(t, 3)
	idx := f.index(t)
	ctx := context.Background()

	snapshot := func() map[string]any {
		out := map[string]any{}
		err := f.bleve.Scroll(ctx, "cities", store.Query{Fields: []string{"name", "population", "label"}}, func(hits []store.Hit) error {
			for _, h := range hits {
				out[h.ID] = h.Fields
			}
			return nil
		})
		require.NoError(t, err)
		return out
	}

	_, err := idx.Import(ctx, store.All())
	require.NoError(t, err)
	first := snapshot()

	_, err = idx.Import(ctx, store.All())
	require.NoError(t, err)
	assert.Equal(t, first, snapshot())
}
