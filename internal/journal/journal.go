package journal

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/Aman-CERP/indexsync/internal/telemetry"
)

// DefaultFetchLimit is the number of entries read per replay stage.
const DefaultFetchLimit = 1000

// Replayer re-imports journaled ids into an index.
type Replayer interface {
	Replay(ctx context.Context, index, typeName string, ids []string) error
}

// ReplayStats summarizes one ApplyChangesFrom call.
type ReplayStats struct {
	Stages  int `json:"stages"`
	Entries int `json:"entries"`
	Imports int `json:"imports"`
}

// Option configures a Journal.
type Option func(*Journal)

// WithSink sets the sink receiving replay stage events.
func WithSink(sink telemetry.Sink) Option {
	return func(j *Journal) {
		if sink != nil {
			j.sink = sink
		}
	}
}

// WithFetchLimit sets the number of entries replayed per stage.
func WithFetchLimit(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.fetchLimit = n
		}
	}
}

// Journal records accepted import actions and replays them.
type Journal struct {
	store      Store
	sink       telemetry.Sink
	fetchLimit int
}

// New creates a journal over store.
func New(store Store, opts ...Option) *Journal {
	j := &Journal{
		store:      store,
		sink:       telemetry.Nop{},
		fetchLimit: DefaultFetchLimit,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Create ensures the journal storage exists.
func (j *Journal) Create(ctx context.Context) error {
	return j.store.Create(ctx)
}

// Append adds entries to the journal.
func (j *Journal) Append(ctx context.Context, entries ...Entry) error {
	return j.store.Append(ctx, entries)
}

// EntriesSince lazily yields entries created at or after since, optionally
// restricted to the given indexes, in creation order.
func (j *Journal) EntriesSince(ctx context.Context, since time.Time, only ...string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		var after *Cursor
		for {
			page, err := j.store.Scan(ctx, ScanQuery{Since: since.Unix(), Only: only, After: after, Limit: j.fetchLimit})
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, st := range page {
				if !yield(st.Entry, nil) {
					return
				}
			}
			if len(page) < j.fetchLimit {
				return
			}
			after = &page[len(page)-1].Cursor
		}
	}
}

// replayGroup is the union of ids journaled for one (index, type).
type replayGroup struct {
	index    string
	typeName string
	ids      []string
	seen     map[string]struct{}
}

// groupEntries unions the ids of entries per (index, type), keeping the
// order in which groups and ids were first seen.
func groupEntries(entries []Stored) []*replayGroup {
	type key struct{ index, typeName string }

	var groups []*replayGroup
	byKey := make(map[key]*replayGroup)
	for _, e := range entries {
		k := key{e.IndexName, e.TypeName}
		g, ok := byKey[k]
		if !ok {
			g = &replayGroup{index: e.IndexName, typeName: e.TypeName, seen: make(map[string]struct{})}
			byKey[k] = g
			groups = append(groups, g)
		}
		for _, id := range e.ObjectIDs {
			if _, dup := g.seen[id]; dup {
				continue
			}
			g.seen[id] = struct{}{}
			g.ids = append(g.ids, id)
		}
	}
	return groups
}

// ApplyChangesFrom replays every entry created at or after since.
//
// Entries are read in stages of at most the fetch limit. Each stage imports
// the union of its ids once per (index, type); stages repeat until no newer
// entries exist, so entries appended during replay are applied too. Replays
// are idempotent per id, which makes re-running with the same since safe.
func (j *Journal) ApplyChangesFrom(ctx context.Context, replayer Replayer, since time.Time, only ...string) (ReplayStats, error) {
	var (
		stats   ReplayStats
		after   *Cursor
		touched []string
		seen    = make(map[string]struct{})
	)

	for {
		page, err := j.store.Scan(ctx, ScanQuery{Since: since.Unix(), Only: only, After: after, Limit: j.fetchLimit})
		if err != nil {
			return stats, err
		}
		if len(page) == 0 {
			break
		}

		stats.Stages++
		stats.Entries += len(page)

		groups := groupEntries(page)
		indexList := make([]string, 0, len(groups))
		for _, g := range groups {
			indexList = append(indexList, g.index)
			if _, ok := seen[g.index]; !ok {
				seen[g.index] = struct{}{}
				touched = append(touched, g.index)
			}
		}

		j.sink.ReplayStage(telemetry.ReplayEvent{
			Stage:      fmt.Sprintf("stage_%d", stats.Stages),
			IndexList:  indexList,
			EntryCount: len(page),
		})

		for _, g := range groups {
			if err := replayer.Replay(ctx, g.index, g.typeName, g.ids); err != nil {
				return stats, fmt.Errorf("replay %s/%s: %w", g.index, g.typeName, err)
			}
			stats.Imports++
		}

		after = &page[len(page)-1].Cursor
	}

	j.sink.ReplayStage(telemetry.ReplayEvent{
		Stage:      telemetry.StageDone,
		IndexList:  touched,
		EntryCount: stats.Entries,
	})

	slog.Info("journal_replay_complete",
		slog.Int("stages", stats.Stages),
		slog.Int("entries", stats.Entries),
		slog.Int("imports", stats.Imports))

	return stats, nil
}

// CleanUntil deletes entries created before until and returns how many were removed.
func (j *Journal) CleanUntil(ctx context.Context, until time.Time) (int, error) {
	n, err := j.store.DeleteBefore(ctx, until.Unix())
	if err != nil {
		return 0, err
	}
	slog.Info("journal_cleaned",
		slog.Int("deleted", n),
		slog.Time("until", until))
	return n, nil
}

// Close closes the underlying store.
func (j *Journal) Close() error {
	return j.store.Close()
}
