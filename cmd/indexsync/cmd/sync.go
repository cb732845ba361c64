package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexsync/internal/index"
	"github.com/Aman-CERP/indexsync/internal/output"
	"github.com/Aman-CERP/indexsync/internal/syncer"
	"github.com/Aman-CERP/indexsync/internal/watcher"
)

// SyncResult is the outcome of syncing one index.
type SyncResult struct {
	Index      string `json:"index"`
	Repaired   int    `json:"repaired"`
	Consistent bool   `json:"consistent"`
	Error      string `json:"error,omitempty"`
}

type syncRequest struct {
	indexes []string
	quick   bool
	watch   bool
	json    bool
	opts    []index.Option
}

func newSyncCmd(root *rootOptions) *cobra.Command {
	var (
		req   syncRequest
		flags importFlags
	)

	cmd := &cobra.Command{
		Use:   "sync [index...]",
		Short: "Repair drift between the source and the indexes",
		Long: `Compare every index (or the given ones) with the source and re-import
documents that are missing, deleted or outdated.

With --quick only document counts are compared and nothing is imported.
With --watch the source database is watched and sync re-runs after each
burst of changes until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			req.indexes = args
			req.opts = flags.options(cmd)
			return runSync(ctx, cmd, root, req)
		},
	}

	cmd.Flags().BoolVar(&req.quick, "quick", false, "Only compare document counts")
	cmd.Flags().BoolVar(&req.watch, "watch", false, "Watch the source database and sync on change")
	cmd.Flags().BoolVar(&req.json, "json", false, "Output as JSON")
	flags.register(cmd)
	cmd.MarkFlagsMutuallyExclusive("quick", "watch")

	return cmd
}

func runSync(ctx context.Context, cmd *cobra.Command, root *rootOptions, req syncRequest) error {
	cfg := root.cfg
	if len(cfg.Indexes) == 0 {
		return fmt.Errorf("no indexes configured")
	}

	a, err := openApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	idxs, err := a.indexes(req.indexes)
	if err != nil {
		return err
	}

	return withLock(ctx, cfg, func() error {
		if !req.watch {
			return reportSync(cmd, req, syncAll(ctx, cmd, a, idxs, req))
		}
		return watchAndSync(ctx, cmd, a, idxs, req)
	})
}

// syncAll syncs each index in turn. A failing index doesn't stop the others.
func syncAll(ctx context.Context, cmd *cobra.Command, a *app, idxs []*index.Index, req syncRequest) []SyncResult {
	var progress *output.Writer
	if !req.json {
		progress = output.New(cmd.ErrOrStderr())
	}

	results := make([]SyncResult, 0, len(idxs))
	for i, idx := range idxs {
		if progress != nil {
			progress.Progress(i, len(idxs), idx.Name())
		}
		results = append(results, syncOne(ctx, a, idx, req))
	}
	if progress != nil {
		progress.Progress(len(idxs), len(idxs), "done")
	}
	return results
}

func syncOne(ctx context.Context, a *app, idx *index.Index, req syncRequest) SyncResult {
	field := a.cfg.Sync.Field
	if ic, ok := a.cfg.Index(idx.Name()); ok {
		field = a.cfg.FreshnessField(ic)
	}

	s := syncer.New(idx,
		syncer.WithField(field),
		syncer.WithParallel(a.cfg.Sync.Parallel),
		syncer.WithImportOptions(req.opts...))

	result := SyncResult{Index: idx.Name()}
	if req.quick {
		consistent, err := s.QuickCheck(ctx)
		if err != nil {
			result.Error = err.Error()
		}
		result.Consistent = consistent
		return result
	}

	n, err := s.Perform(ctx)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Repaired = n
	result.Consistent = true
	return result
}

func reportSync(cmd *cobra.Command, req syncRequest, results []SyncResult) error {
	var failed []error
	for _, r := range results {
		if r.Error != "" {
			failed = append(failed, fmt.Errorf("sync %s: %s", r.Index, r.Error))
		}
	}

	if req.json {
		if err := writeJSON(cmd, results); err != nil {
			return err
		}
		return errors.Join(failed...)
	}

	out := output.New(cmd.OutOrStdout())
	for _, r := range results {
		switch {
		case r.Error != "":
			out.Errorf("%s: %s", r.Index, r.Error)
		case req.quick && !r.Consistent:
			out.Warningf("%s: document counts differ", r.Index)
		case req.quick:
			out.Successf("%s: document counts match", r.Index)
		case r.Repaired > 0:
			out.Successf("%s: repaired %d documents", r.Index, r.Repaired)
		default:
			out.Successf("%s: in sync", r.Index)
		}
	}
	return errors.Join(failed...)
}

// watchAndSync syncs once, then again after every debounced batch of
// changes to the source database, until ctx is cancelled.
func watchAndSync(ctx context.Context, cmd *cobra.Command, a *app, idxs []*index.Index, req syncRequest) error {
	w, err := watcher.New(watcher.DatabaseFiles(a.cfg.Source.Path), watcher.Options{
		DebounceWindow: a.cfg.Sync.WatchDebounce.Std(),
	})
	if err != nil {
		return err
	}

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- w.Start(ctx)
	}()
	defer func() { _ = w.Stop() }()

	slog.Info("sync_watch_started",
		slog.String("source", a.cfg.Source.Path),
		slog.String("mode", w.Mode()))

	if err := reportSync(cmd, req, syncAll(ctx, cmd, a, idxs, req)); err != nil {
		slog.Warn("sync_failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync_watch_stopped")
			return nil
		case err := <-watchErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			slog.Debug("source_changed", slog.Int("files", len(batch)))
			if err := reportSync(cmd, req, syncAll(ctx, cmd, a, idxs, req)); err != nil {
				slog.Warn("sync_failed", slog.String("error", err.Error()))
			}
		case err := <-w.Errors():
			slog.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}
