// Package syncer detects and repairs drift between a source and its index:
// documents the index misses or keeps after deletion, and documents whose
// freshness field differs. Repairs always go through the import routine.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/index"
	"github.com/Aman-CERP/indexsync/internal/store"
)

// Option configures a Syncer.
type Option func(*Syncer)

// WithField tracks a freshness field, usually updated_at. Without one only
// missing documents are detected.
func WithField(name string) Option {
	return func(s *Syncer) {
		s.field = name
	}
}

// WithParallel fetches both sides concurrently, compares in n partitions and
// imports the delta with n workers.
func WithParallel(n int) Option {
	return func(s *Syncer) {
		s.parallel = n
	}
}

// WithBatchSize sets the page size used to fetch both sides.
func WithBatchSize(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithImportOptions adds options to the repair import.
func WithImportOptions(opts ...index.Option) Option {
	return func(s *Syncer) {
		s.importOpts = append(s.importOpts, opts...)
	}
}

// Syncer compares one index against its source.
type Syncer struct {
	idx        *index.Index
	field      string
	parallel   int
	batchSize  int
	importOpts []index.Option
}

// New creates a Syncer for idx.
func New(idx *index.Index, opts ...Option) *Syncer {
	s := &Syncer{
		idx:       idx,
		batchSize: idx.Defaults().BatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Delta is the drift found by one comparison.
type Delta struct {
	// MissingIDs are present on exactly one side.
	MissingIDs []string
	// OutdatedIDs are present on both sides with differing freshness values.
	OutdatedIDs []string

	SourceCount int
	IndexCount  int
	Duration    time.Duration
}

// IDs returns the union of missing and outdated ids, sorted.
func (d *Delta) IDs() []string {
	ids := make([]string, 0, len(d.MissingIDs)+len(d.OutdatedIDs))
	ids = append(ids, d.MissingIDs...)
	ids = append(ids, d.OutdatedIDs...)
	sort.Strings(ids)
	return ids
}

// Empty reports whether nothing drifted.
func (d *Delta) Empty() bool {
	return len(d.MissingIDs) == 0 && len(d.OutdatedIDs) == 0
}

// Delta compares the source with the index without changing anything. It
// fails when the index does not carry the freshness field.
func (s *Syncer) Delta(ctx context.Context) (*Delta, error) {
	if s.field != "" && !s.idx.Indexes(s.field) {
		return nil, syncerr.ValidationError(
			fmt.Sprintf("index %s does not index freshness field %q", s.idx.Name(), s.field), nil).
			WithSuggestion("add the field to the index fields or sync without a freshness field")
	}

	start := time.Now()

	var sourceData, indexData map[string]any
	fetchSource := func(ctx context.Context) (err error) {
		sourceData, err = s.sourceData(ctx)
		return err
	}
	fetchIndex := func(ctx context.Context) (err error) {
		indexData, err = s.indexData(ctx)
		return err
	}

	if s.parallel > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return fetchSource(gctx) })
		g.Go(func() error { return fetchIndex(gctx) })
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		if err := fetchSource(ctx); err != nil {
			return nil, err
		}
		if err := fetchIndex(ctx); err != nil {
			return nil, err
		}
	}

	d := &Delta{
		MissingIDs:  symmetricDifference(sourceData, indexData),
		SourceCount: len(sourceData),
		IndexCount:  len(indexData),
	}

	if s.field != "" {
		outdated, err := s.outdated(ctx, sourceData, indexData)
		if err != nil {
			return nil, err
		}
		d.OutdatedIDs = outdated
	}

	d.Duration = time.Since(start)
	return d, nil
}

// Perform repairs the drift and returns the number of ids it imported. It
// returns 0 without importing when nothing drifted. Import failures are
// returned unchanged.
func (s *Syncer) Perform(ctx context.Context) (int, error) {
	d, err := s.Delta(ctx)
	if err != nil {
		return 0, err
	}

	if d.Empty() {
		slog.Debug("sync_no_drift",
			slog.String("index", s.idx.Name()),
			slog.Int("documents", d.SourceCount))
		return 0, nil
	}

	ids := d.IDs()
	slog.Info("sync_drift_detected",
		slog.String("index", s.idx.Name()),
		slog.Int("missing", len(d.MissingIDs)),
		slog.Int("outdated", len(d.OutdatedIDs)))

	if _, err := s.idx.ImportStrict(ctx, store.ByIDs(ids...), s.importOptions()...); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// importOptions keeps the index's own worker count unless WithParallel was
// given.
func (s *Syncer) importOptions() []index.Option {
	var opts []index.Option
	if s.parallel > 0 {
		opts = append(opts, index.WithParallel(s.parallel))
	}
	return append(opts, s.importOpts...)
}

// QuickCheck compares document counts only. It returns true if they match.
func (s *Syncer) QuickCheck(ctx context.Context) (bool, error) {
	sourceCount := 0
	err := s.idx.Adapter().ResolveFields(ctx, store.All(), nil, s.batchSize, func(values []store.FieldValues) error {
		sourceCount += len(values)
		return nil
	})
	if err != nil {
		return false, err
	}

	indexCount, err := s.idx.Client().Count(ctx, s.idx.Name(), store.Query{})
	if err != nil {
		return false, err
	}

	consistent := sourceCount == indexCount
	if !consistent {
		slog.Debug("index counts mismatch",
			slog.String("index", s.idx.Name()),
			slog.Int("source", sourceCount),
			slog.Int("index_count", indexCount))
	}
	return consistent, nil
}

// sourceData maps live source ids to their freshness value.
func (s *Syncer) sourceData(ctx context.Context) (map[string]any, error) {
	var fields []string
	if s.field != "" {
		fields = []string{s.idx.SourceField(s.field)}
	}

	data := make(map[string]any)
	err := s.idx.Adapter().ResolveFields(ctx, store.All(), fields, s.batchSize, func(values []store.FieldValues) error {
		for _, v := range values {
			data[v.ID] = first(v.Values)
		}
		return nil
	})
	return data, err
}

// indexData maps indexed ids to their freshness value.
func (s *Syncer) indexData(ctx context.Context) (map[string]any, error) {
	q := store.Query{Size: s.batchSize}
	if s.field != "" {
		q.Fields = []string{s.field}
	}

	data := make(map[string]any)
	err := s.idx.Client().Scroll(ctx, s.idx.Name(), q, func(hits []store.Hit) error {
		for _, h := range hits {
			data[h.ID] = h.Fields[s.field]
		}
		return nil
	})
	return data, err
}

// outdated compares the ids present on both sides. In parallel mode the
// index side is split into partitions compared concurrently.
func (s *Syncer) outdated(ctx context.Context, sourceData, indexData map[string]any) ([]string, error) {
	ids := make([]string, 0, len(indexData))
	for id := range indexData {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	compare := func(part []string) []string {
		var out []string
		for _, id := range part {
			src, ok := sourceData[id]
			if !ok {
				continue
			}
			if Outdated(src, indexData[id]) {
				out = append(out, id)
			}
		}
		return out
	}

	if s.parallel <= 1 || len(ids) < s.parallel {
		return compare(ids), nil
	}

	var (
		mu  sync.Mutex
		out []string
	)
	g, gctx := errgroup.WithContext(ctx)
	size := (len(ids) + s.parallel - 1) / s.parallel
	for start := 0; start < len(ids); start += size {
		part := ids[start:min(start+size, len(ids))]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			found := compare(part)
			mu.Lock()
			out = append(out, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func symmetricDifference(a, b map[string]any) []string {
	var out []string
	for id := range a {
		if _, ok := b[id]; !ok {
			out = append(out, id)
		}
	}
	for id := range b {
		if _, ok := a[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func first(values []any) any {
	if len(values) == 0 {
		return nil
	}
	return values[0]
}
