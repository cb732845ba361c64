package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/indexsync/internal/bulk"
	"github.com/Aman-CERP/indexsync/internal/journal"
	"github.com/Aman-CERP/indexsync/internal/store"
	"github.com/Aman-CERP/indexsync/internal/telemetry"
)

// Result is the outcome of one import call.
type Result struct {
	// Success is true when no per-document errors remain after failover.
	Success bool

	// Stats counts the records processed per action.
	Stats map[store.Action]int

	// Errors groups the remaining failures by action and error signature.
	Errors bulk.ErrorMap
}

// outcome is what one pass over a selector produced.
type outcome struct {
	stats     map[store.Action]int
	errors    bulk.ErrorMap
	leftovers []string
}

func newOutcome() outcome {
	return outcome{
		stats:  make(map[store.Action]int),
		errors: make(bulk.ErrorMap),
	}
}

func (o *outcome) merge(other outcome) {
	for action, n := range other.stats {
		o.stats[action] += n
	}
	o.errors.Merge(other.errors)
	o.leftovers = append(o.leftovers, other.leftovers...)
}

// Import synchronizes the selected records into the index.
//
// Per-document failures never abort the pass; they are reported in the
// result. A returned error means the source or the index store could not be
// reached and the pass was aborted.
func (i *Index) Import(ctx context.Context, sel store.Selector, opts ...Option) (*Result, error) {
	o := apply(i.defaults, opts)
	start := time.Now()

	var (
		out outcome
		err error
	)
	if o.Parallel.Workers > 1 {
		out, err = i.importParallel(ctx, sel, o)
	} else {
		out, err = i.importLinear(ctx, sel, o)
	}
	if err != nil {
		slog.Error("import_aborted",
			slog.String("index", i.name),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("import %s: %w", i.name, err)
	}

	i.sink.ImportCompleted(telemetry.ImportEvent{
		Index:     i.name,
		Import:    out.stats,
		Errors:    out.errors,
		Duration:  time.Since(start),
		Timestamp: start,
	})

	return &Result{
		Success: out.errors.Empty(),
		Stats:   out.stats,
		Errors:  out.errors,
	}, nil
}

// ImportStrict is Import that fails with an *ImportFailedError when
// per-document errors remain after failover.
func (i *Index) ImportStrict(ctx context.Context, sel store.Selector, opts ...Option) (*Result, error) {
	res, err := i.Import(ctx, sel, opts...)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return res, &ImportFailedError{Index: i.name, Errors: res.Errors}
	}
	return res, nil
}

// importLinear runs the first pass, then the failover pass strictly after it.
func (i *Index) importLinear(ctx context.Context, sel store.Selector, o Options) (outcome, error) {
	out, err := i.process(ctx, sel, o)
	if err != nil {
		return out, err
	}
	if len(out.leftovers) == 0 {
		return out, nil
	}

	failover, err := i.process(ctx, store.ByIDs(out.leftovers...), failoverOptions(o))
	if err != nil {
		return out, err
	}
	out.errors.Merge(failover.errors)
	out.leftovers = nil
	return out, nil
}

// failoverOptions turns partial updates into full index operations.
func failoverOptions(o Options) Options {
	o.UpdateFields = nil
	o.DirectImport = false
	return o
}

// process runs one pass over sel: fetch, compose, submit, classify, journal.
// With update failover enabled, ids whose partial update hit a missing
// document are moved from the error map to the leftovers.
func (i *Index) process(ctx context.Context, sel store.Selector, o Options) (outcome, error) {
	out := newOutcome()

	handle := func(groups store.ActionGroups) error {
		return i.processGroups(ctx, groups, o, &out)
	}

	var err error
	if o.DirectImport && len(sel.Records) > 0 {
		for start := 0; start < len(sel.Records) && err == nil; start += o.BatchSize {
			end := min(start+o.BatchSize, len(sel.Records))
			err = handle(store.GroupRecords(sel.Records[start:end]))
		}
	} else {
		if len(sel.Records) > 0 {
			sel = store.ByIDs(i.adapter.Identify(sel.Records)...)
		}
		err = i.adapter.Resolve(ctx, sel, o.BatchSize, handle)
	}
	if err != nil {
		return out, err
	}

	if len(o.UpdateFields) > 0 && o.UpdateFailover {
		out.leftovers = out.errors.IDsOfType(store.ActionUpdate, store.ErrTypeDocumentMissing)
		out.errors.Remove(store.ActionUpdate, out.leftovers)
	}
	return out, nil
}

// processGroups handles one fetched round.
func (i *Index) processGroups(ctx context.Context, groups store.ActionGroups, o Options, out *outcome) error {
	if groups.Len() == 0 {
		return nil
	}

	live := groups[store.ActionIndex]
	deleted := groups[store.ActionDelete]

	ops := make([]store.BulkOperation, 0, len(live)+len(deleted))
	for _, r := range live {
		if len(o.UpdateFields) > 0 {
			ops = append(ops, store.BulkOperation{Action: store.ActionUpdate, ID: r.ID, Document: i.ComposeFields(r, o.UpdateFields)})
		} else {
			ops = append(ops, store.BulkOperation{Action: store.ActionIndex, ID: r.ID, Document: i.Compose(r)})
		}
	}
	for _, r := range deleted {
		ops = append(ops, store.BulkOperation{Action: store.ActionDelete, ID: r.ID})
	}

	errs, err := i.submit(ctx, ops, o)
	if err != nil {
		return err
	}
	out.errors.Merge(errs)

	if len(live) > 0 {
		out.stats[store.ActionIndex] += len(live)
	}
	if len(deleted) > 0 {
		out.stats[store.ActionDelete] += len(deleted)
	}

	if o.Journal {
		i.appendJournal(ctx, groups)
	}
	return nil
}

// submit sends ops in bulk-size bounded chunks, in composed order. Operations
// that cannot be encoded are reported as per-document errors.
func (i *Index) submit(ctx context.Context, ops []store.BulkOperation, o Options) (bulk.ErrorMap, error) {
	errs := make(bulk.ErrorMap)
	for chunk, err := range bulk.Chunks(ops, o.BulkSize) {
		var encErr *bulk.EncodeError
		if errors.As(err, &encErr) {
			f := encErr.Failure()
			slog.Warn("bulk_encode_failed",
				slog.String("index", i.name),
				slog.String("id", f.ID),
				slog.String("error", encErr.Err.Error()))
			errs.Add(f.Action, bulk.Signature(f.Error), f.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		items, err := i.client.Bulk(ctx, &store.BulkRequest{
			Index:      i.name,
			Operations: chunk.Operations,
			Body:       chunk.Body,
			Refresh:    o.Refresh,
		})
		if err != nil {
			return nil, err
		}
		errs.Merge(bulk.Group(bulk.Classify(items)))
	}
	return errs, nil
}

// appendJournal records one entry per action group. Journal failures are
// logged and never undo the index writes.
func (i *Index) appendJournal(ctx context.Context, groups store.ActionGroups) {
	if i.journal == nil {
		slog.Warn("journal_not_configured", slog.String("index", i.name))
		return
	}

	at := i.now()
	var entries []journal.Entry
	for _, action := range []store.Action{store.ActionIndex, store.ActionDelete} {
		records := groups[action]
		if len(records) == 0 {
			continue
		}
		entries = append(entries, journal.NewEntry(i.name, i.typeName, action, i.adapter.Identify(records), at))
	}

	if err := i.journal.Append(ctx, entries...); err != nil {
		slog.Warn("journal_append_failed",
			slog.String("index", i.name),
			slog.Int("entries", len(entries)),
			slog.String("error", err.Error()))
	}
}
