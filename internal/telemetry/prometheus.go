package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink exports import and replay counters.
type PrometheusSink struct {
	documents *prometheus.CounterVec
	failures  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	replayed  prometheus.Counter
}

// NewPrometheusSink creates the collectors and registers them with reg.
// A nil reg uses the default registerer.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	s := &PrometheusSink{
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexsync_import_documents_total",
			Help: "Documents submitted by imports, by index and action.",
		}, []string{"index", "action"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexsync_import_errors_total",
			Help: "Documents left failing after failover, by index and action.",
		}, []string{"index", "action"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indexsync_import_duration_seconds",
			Help:    "Duration of top-level import calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"index"}),
		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexsync_journal_replay_entries_total",
			Help: "Journal entries replayed.",
		}),
	}

	for _, c := range []prometheus.Collector{s.documents, s.failures, s.duration, s.replayed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PrometheusSink) ImportCompleted(event ImportEvent) {
	for action, n := range event.Import {
		s.documents.WithLabelValues(event.Index, string(action)).Add(float64(n))
	}
	for action, bySig := range event.Errors {
		failed := 0
		for _, ids := range bySig {
			failed += len(ids)
		}
		s.failures.WithLabelValues(event.Index, string(action)).Add(float64(failed))
	}
	s.duration.WithLabelValues(event.Index).Observe(event.Duration.Seconds())
}

func (s *PrometheusSink) ReplayStage(event ReplayEvent) {
	if event.Stage == StageDone {
		return
	}
	s.replayed.Add(float64(event.EntryCount))
}

var _ Sink = (*PrometheusSink)(nil)
