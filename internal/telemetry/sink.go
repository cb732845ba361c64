// Package telemetry delivers import and journal replay events to logs, metrics
// and local statistics. Nothing is reported outside the process.
package telemetry

import (
	"log/slog"
	"sort"
	"time"

	"github.com/Aman-CERP/indexsync/internal/bulk"
	"github.com/Aman-CERP/indexsync/internal/store"
)

// Replay stages emitted by journal replay. Stages are numbered "stage_N" while
// replay runs and end with StageDone.
const StageDone = "done"

// ImportEvent is emitted once per top-level import call.
type ImportEvent struct {
	Index     string               `json:"index"`
	Import    map[store.Action]int `json:"import"`
	Errors    bulk.ErrorMap        `json:"errors,omitempty"`
	Duration  time.Duration        `json:"-"`
	Timestamp time.Time            `json:"-"`
}

// Failed returns the number of ids left failing by the import.
func (e ImportEvent) Failed() int {
	return e.Errors.Len()
}

// ReplayEvent is emitted once per journal replay stage.
type ReplayEvent struct {
	Stage      string   `json:"stage"`
	IndexList  []string `json:"index_list"`
	EntryCount int      `json:"entry_count"`
}

// Sink receives instrumentation events. Implementations must be safe for
// concurrent use and must not block the caller for long.
type Sink interface {
	ImportCompleted(event ImportEvent)
	ReplayStage(event ReplayEvent)
}

// Nop discards all events.
type Nop struct{}

func (Nop) ImportCompleted(ImportEvent) {}
func (Nop) ReplayStage(ReplayEvent)     {}

// Multi fans events out to several sinks, in order.
type Multi []Sink

func (m Multi) ImportCompleted(event ImportEvent) {
	for _, s := range m {
		if s != nil {
			s.ImportCompleted(event)
		}
	}
}

func (m Multi) ReplayStage(event ReplayEvent) {
	for _, s := range m {
		if s != nil {
			s.ReplayStage(event)
		}
	}
}

// LogSink writes events as structured log records.
type LogSink struct {
	Logger *slog.Logger
}

// NewLogSink creates a sink logging to logger, or to the default logger when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{Logger: logger}
}

func (s *LogSink) ImportCompleted(event ImportEvent) {
	attrs := []any{
		slog.String("index", event.Index),
		slog.Duration("duration", event.Duration),
	}
	for _, action := range sortedActions(event.Import) {
		attrs = append(attrs, slog.Int(string(action), event.Import[action]))
	}

	if event.Errors.Empty() {
		s.Logger.Info("import_completed", attrs...)
		return
	}
	attrs = append(attrs,
		slog.Int("failed", event.Errors.Len()),
		slog.String("errors", event.Errors.String()))
	s.Logger.Warn("import_completed_with_errors", attrs...)
}

func (s *LogSink) ReplayStage(event ReplayEvent) {
	s.Logger.Info("journal_replay_stage",
		slog.String("stage", event.Stage),
		slog.Any("indexes", event.IndexList),
		slog.Int("entries", event.EntryCount))
}

func sortedActions(counts map[store.Action]int) []store.Action {
	actions := make([]store.Action, 0, len(counts))
	for a := range counts {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// Verify interface implementations
var (
	_ Sink = Nop{}
	_ Sink = Multi(nil)
	_ Sink = (*LogSink)(nil)
)
