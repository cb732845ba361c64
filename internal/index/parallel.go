package index

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/indexsync/internal/store"
)

// importParallel distributes id batches over a worker pool. Workers share no
// state; their outcomes are reduced after a barrier, and failover runs as one
// more pool pass over the leftovers of all workers.
func (i *Index) importParallel(ctx context.Context, sel store.Selector, o Options) (outcome, error) {
	batches, err := i.partition(ctx, sel, o)
	if err != nil {
		return outcome{}, err
	}

	slog.Debug("import_parallel_start",
		slog.String("index", i.name),
		slog.Int("batches", len(batches)),
		slog.Int("workers", o.Parallel.Workers))

	out, err := i.runPool(ctx, batches, o)
	if err != nil {
		return out, err
	}
	if len(out.leftovers) == 0 {
		return out, nil
	}

	failover, err := i.runPool(ctx, splitIDs(out.leftovers, o.BatchSize), failoverOptions(o))
	if err != nil {
		return out, err
	}
	out.errors.Merge(failover.errors)
	out.leftovers = nil
	return out, nil
}

// partition turns the selector into batches of at most BatchSize ids.
// Directly imported records are partitioned as they are.
func (i *Index) partition(ctx context.Context, sel store.Selector, o Options) ([]store.Selector, error) {
	if len(sel.Records) > 0 {
		var batches []store.Selector
		for start := 0; start < len(sel.Records); start += o.BatchSize {
			end := min(start+o.BatchSize, len(sel.Records))
			if o.DirectImport {
				batches = append(batches, store.ByRecords(sel.Records[start:end]...))
			} else {
				batches = append(batches, store.ByIDs(i.adapter.Identify(sel.Records[start:end])...))
			}
		}
		return batches, nil
	}

	if !sel.All {
		return splitIDs(sel.IDs, o.BatchSize), nil
	}

	// Both groups are kept so soft deleted records still reach the index as deletions.
	var ids []string
	err := i.adapter.Resolve(ctx, sel, o.BatchSize, func(groups store.ActionGroups) error {
		ids = append(ids, i.adapter.Identify(groups[store.ActionIndex])...)
		ids = append(ids, i.adapter.Identify(groups[store.ActionDelete])...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return splitIDs(ids, o.BatchSize), nil
}

// runPool processes batches concurrently and reduces their outcomes.
func (i *Index) runPool(ctx context.Context, batches []store.Selector, o Options) (outcome, error) {
	outcomes := make([]outcome, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.Parallel.Workers, 1))

	for n, batch := range batches {
		g.Go(func() error {
			out, err := i.process(gctx, batch, o)
			if err != nil {
				return err
			}
			outcomes[n] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcome{}, err
	}

	total := newOutcome()
	for _, out := range outcomes {
		total.merge(out)
	}
	return total, nil
}

func splitIDs(ids []string, size int) []store.Selector {
	var batches []store.Selector
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batches = append(batches, store.ByIDs(ids[start:end]...))
	}
	return batches
}
