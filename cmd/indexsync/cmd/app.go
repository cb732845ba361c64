package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aman-CERP/indexsync/internal/async"
	"github.com/Aman-CERP/indexsync/internal/config"
	"github.com/Aman-CERP/indexsync/internal/index"
	"github.com/Aman-CERP/indexsync/internal/journal"
	"github.com/Aman-CERP/indexsync/internal/lock"
	"github.com/Aman-CERP/indexsync/internal/store"
	"github.com/Aman-CERP/indexsync/internal/telemetry"
)

// The data directory lock is retried every lockRetryInterval for at most
// lockTimeout before the command gives up.
var (
	lockRetryInterval = 100 * time.Millisecond
	lockTimeout       = 10 * time.Second
)

// app holds the engine components built from one configuration.
type app struct {
	cfg      *config.Config
	client   *store.BleveClient
	journal  *journal.Journal
	registry *index.Registry
	stats    *telemetry.SQLiteStatsStore
	sink     telemetry.Sink

	closers []func() error
}

// appOptions selects optional components.
type appOptions struct {
	// registerer enables Prometheus counters when set.
	registerer prometheus.Registerer
}

// openApp builds the sink chain, journal, index store and one index per
// configured index. Close releases everything opened.
func openApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.open(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context, opts appOptions) error {
	if err := a.openTelemetry(opts); err != nil {
		return err
	}
	if err := a.openJournal(ctx); err != nil {
		return err
	}

	a.client = store.NewBleveClient(store.BleveConfig{
		Dir:     a.cfg.StoreDir(),
		Timeout: a.cfg.Store.Timeout.Std(),
		Retry:   a.cfg.RetryConfig(),
	})
	a.closers = append(a.closers, a.client.Close)

	return a.openIndexes(ctx)
}

func (a *app) openTelemetry(opts appOptions) error {
	db, err := a.openDB(a.cfg.StatsPath())
	if err != nil {
		return err
	}
	if err := telemetry.InitStatsSchema(db); err != nil {
		return err
	}
	stats, err := telemetry.NewSQLiteStatsStore(db)
	if err != nil {
		return err
	}
	a.stats = stats

	sinks := telemetry.Multi{telemetry.NewLogSink(slog.Default()), stats}
	if opts.registerer != nil {
		prom, err := telemetry.NewPrometheusSink(opts.registerer)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		sinks = append(sinks, prom)
	}
	a.sink = sinks
	return nil
}

func (a *app) openJournal(ctx context.Context) error {
	var st journal.Store
	switch strings.ToLower(a.cfg.Journal.Backend) {
	case config.JournalPebble:
		ps, err := journal.OpenPebbleStore(a.cfg.JournalPath())
		if err != nil {
			return err
		}
		st = ps
	default:
		db, err := a.openDB(a.cfg.JournalPath())
		if err != nil {
			return err
		}
		st = journal.NewSQLiteStore(db)
	}

	a.journal = journal.New(st,
		journal.WithSink(a.sink),
		journal.WithFetchLimit(a.cfg.Journal.FetchLimit))
	a.closers = append(a.closers, a.journal.Close)
	return a.journal.Create(ctx)
}

func (a *app) openIndexes(ctx context.Context) error {
	a.registry, _ = index.NewRegistry()
	if len(a.cfg.Indexes) == 0 {
		return nil
	}

	db, err := a.openDB(a.cfg.Source.Path)
	if err != nil {
		return err
	}

	for _, ic := range a.cfg.Indexes {
		src, err := store.NewSQLiteSource(db, ic.TableName())
		if err != nil {
			return err
		}
		if err := src.EnsureSchema(ctx); err != nil {
			return err
		}

		idx, err := index.New(ic.Definition(), index.Dependencies{
			Adapter: src,
			Client:  a.client,
			Journal: a.journal,
			Sink:    a.sink,
		}, index.WithOptions(a.cfg.Options()))
		if err != nil {
			return err
		}
		if err := a.registry.Register(idx); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) openDB(path string) (*sql.DB, error) {
	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	return db, nil
}

// openQueue opens the durable deferred import queue. The database is closed
// with the app.
func (a *app) openQueue(ctx context.Context) (*async.SQLiteQueue, error) {
	db, err := a.openDB(a.cfg.QueuePath())
	if err != nil {
		return nil, err
	}
	q, err := async.NewSQLiteQueue(ctx, db, async.WithVisibilityTimeout(a.cfg.Queue.Visibility.Std()))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, q.Close)
	return q, nil
}

// indexes returns the named indexes, or all of them when names is empty.
func (a *app) indexes(names []string) ([]*index.Index, error) {
	if len(names) == 0 {
		names = a.registry.Names()
	}
	out := make([]*index.Index, 0, len(names))
	for _, name := range names {
		idx, err := a.registry.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}

// Close releases components in reverse opening order.
func (a *app) Close() error {
	var errs []error
	for _, closeFn := range slices.Backward(a.closers) {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// withLock runs fn while holding the data directory lock.
func withLock(ctx context.Context, cfg *config.Config, fn func() error) error {
	l := lock.New(cfg.LockPath())
	acquireCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	err := l.Acquire(acquireCtx, lockRetryInterval)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Unlock(); err != nil {
			slog.Warn("lock_release_failed", slog.String("error", err.Error()))
		}
	}()
	return fn()
}
