package telemetry

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexsync/internal/bulk"
	"github.com/Aman-CERP/indexsync/internal/store"
)

const missingSig = `{"type":"document_missing_exception","reason":"[3]: document missing"}`

func sampleEvent() ImportEvent {
	errs := bulk.ErrorMap{}
	errs.Add(store.ActionUpdate, missingSig, "3")
	return ImportEvent{
		Index:     "cities",
		Import:    map[store.Action]int{store.ActionIndex: 2, store.ActionDelete: 1},
		Errors:    errs,
		Duration:  15 * time.Millisecond,
		Timestamp: time.Now(),
	}
}

func TestCircularBuffer_EvictsOldest(t *testing.T) {
	b := NewCircularBuffer[int](3)
	for i := 1; i <= 5; i++ {
		b.Add(i)
	}
	assert.Equal(t, 3, b.Size())
	assert.Equal(t, []int{3, 4, 5}, b.Items())
}

func TestCircularBuffer_DefaultCapacity(t *testing.T) {
	b := NewCircularBuffer[string](0)
	assert.Empty(t, b.Items())
	b.Add("a")
	assert.Equal(t, []string{"a"}, b.Items())
}

func TestRecorder_AccumulatesTotals(t *testing.T) {
	r := NewRecorder(RecorderConfig{RecentImports: 10})

	r.ImportCompleted(sampleEvent())
	r.ImportCompleted(ImportEvent{Index: "cities", Import: map[store.Action]int{store.ActionIndex: 3}})
	r.ReplayStage(ReplayEvent{Stage: "stage_1", IndexList: []string{"cities"}, EntryCount: 4})

	snap := r.Snapshot()
	assert.Equal(t, int64(2), snap.ImportCalls)
	assert.Equal(t, int64(1), snap.FailedImports)
	assert.Equal(t, int64(5), snap.Totals["cities"][store.ActionIndex])
	assert.Equal(t, int64(1), snap.ErrorCounts[missingSig])
	assert.Len(t, snap.Imports, 2)
	require.Len(t, snap.Replays, 1)
	assert.Equal(t, 4, snap.Replays[0].EntryCount)
}

func TestLogSink_WarnsOnErrors(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	sink.ImportCompleted(sampleEvent())

	out := buf.String()
	assert.Contains(t, out, `"msg":"import_completed_with_errors"`)
	assert.Contains(t, out, `"index":"cities"`)
	assert.Contains(t, out, `"failed":1`)
}

func TestLogSink_InfoWithoutErrors(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	sink.ImportCompleted(ImportEvent{Index: "cities", Import: map[store.Action]int{store.ActionIndex: 1}})
	sink.ReplayStage(ReplayEvent{Stage: StageDone})

	assert.Contains(t, buf.String(), `"msg":"import_completed"`)
	assert.Contains(t, buf.String(), `"msg":"journal_replay_stage"`)
}

func TestMulti_FansOut(t *testing.T) {
	a := NewRecorder(RecorderConfig{})
	b := NewRecorder(RecorderConfig{})
	m := Multi{a, nil, b}

	m.ImportCompleted(sampleEvent())
	m.ReplayStage(ReplayEvent{Stage: "stage_1"})

	assert.Equal(t, int64(1), a.Snapshot().ImportCalls)
	assert.Equal(t, int64(1), b.Snapshot().ImportCalls)
	assert.Len(t, b.Snapshot().Replays, 1)
}

func TestPrometheusSink_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	sink.ImportCompleted(sampleEvent())
	sink.ReplayStage(ReplayEvent{Stage: "stage_1", EntryCount: 7})
	sink.ReplayStage(ReplayEvent{Stage: StageDone, EntryCount: 7})

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.documents.WithLabelValues("cities", "index")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.failures.WithLabelValues("cities", "update")))
	assert.Equal(t, 7.0, testutil.ToFloat64(sink.replayed))
}

func TestPrometheusSink_DuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	_, err = NewPrometheusSink(reg)
	assert.Error(t, err)
}
