// Package strategy decides what happens when application code reports that
// records changed. Each task carries a Stack of policies; the top policy
// either imports immediately, buffers ids until the scope ends, hands them
// to an async worker, or drops them.
package strategy

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/Aman-CERP/indexsync/internal/async"
	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/index"
	"github.com/Aman-CERP/indexsync/internal/store"
)

// Policy names.
const (
	NameBase     = "base"
	NameBypass   = "bypass"
	NameUrgent   = "urgent"
	NameAtomic   = "atomic"
	NameDeferred = "deferred"
)

// ErrUndefinedStrategy is returned when records change with no policy selected.
var ErrUndefinedStrategy = syncerr.New(syncerr.ErrCodeUndefinedStrategy, "no update strategy selected", nil).
	WithSuggestion("Wrap the change in strategy.Wrap with an explicit policy such as urgent or atomic")

// Policy is one strategy frame. The set of policies is closed; use the
// constructors in this package.
type Policy interface {
	Name() string

	// Update reports that ids of idx changed.
	Update(ctx context.Context, idx *index.Index, ids []string, opts ...index.Option) error

	// Leave runs when the frame is popped.
	Leave(ctx context.Context) error

	policy()
}

// Base rejects every update. It sits at the bottom of every Stack.
type Base struct{}

// NewBase returns the base policy.
func NewBase() *Base { return &Base{} }

func (*Base) Name() string { return NameBase }

func (*Base) Update(context.Context, *index.Index, []string, ...index.Option) error {
	return ErrUndefinedStrategy
}

func (*Base) Leave(context.Context) error { return nil }

func (*Base) policy() {}

// Bypass drops every update.
type Bypass struct{}

// NewBypass returns the bypass policy.
func NewBypass() *Bypass { return &Bypass{} }

func (*Bypass) Name() string { return NameBypass }

func (*Bypass) Update(context.Context, *index.Index, []string, ...index.Option) error { return nil }

func (*Bypass) Leave(context.Context) error { return nil }

func (*Bypass) policy() {}

// Urgent imports on every update.
type Urgent struct{}

// NewUrgent returns the urgent policy.
func NewUrgent() *Urgent { return &Urgent{} }

func (*Urgent) Name() string { return NameUrgent }

func (*Urgent) Update(ctx context.Context, idx *index.Index, ids []string, opts ...index.Option) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := idx.ImportStrict(ctx, store.ByIDs(ids...), opts...)
	return err
}

func (*Urgent) Leave(context.Context) error { return nil }

func (*Urgent) policy() {}

// Atomic buffers ids per index and imports each touched index once on Leave.
type Atomic struct {
	mu      sync.Mutex
	order   []string
	buffers map[string]*buffer
}

type buffer struct {
	idx  *index.Index
	opts []index.Option
	ids  []string
	seen map[string]struct{}
}

// NewAtomic returns an empty atomic policy.
func NewAtomic() *Atomic {
	return &Atomic{buffers: make(map[string]*buffer)}
}

func (*Atomic) Name() string { return NameAtomic }

// Update buffers ids. Options from the first update of an index are used
// for its import.
func (a *Atomic) Update(_ context.Context, idx *index.Index, ids []string, opts ...index.Option) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.buffers[idx.Name()]
	if !ok {
		b = &buffer{idx: idx, opts: slices.Clone(opts), seen: make(map[string]struct{})}
		a.buffers[idx.Name()] = b
		a.order = append(a.order, idx.Name())
	}
	for _, id := range ids {
		if _, dup := b.seen[id]; dup {
			continue
		}
		b.seen[id] = struct{}{}
		b.ids = append(b.ids, id)
	}
	return nil
}

// Pending returns the buffered ids per index.
func (a *Atomic) Pending() map[string][]string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string][]string, len(a.buffers))
	for name, b := range a.buffers {
		out[name] = slices.Clone(b.ids)
	}
	return out
}

// Leave imports every touched index in first-touch order. A failing index
// does not stop the others; all errors are joined.
func (a *Atomic) Leave(ctx context.Context) error {
	a.mu.Lock()
	order, buffers := a.order, a.buffers
	a.order, a.buffers = nil, make(map[string]*buffer)
	a.mu.Unlock()

	var errs []error
	for _, name := range order {
		b := buffers[name]
		if len(b.ids) == 0 {
			continue
		}
		if _, err := b.idx.ImportStrict(ctx, store.ByIDs(b.ids...), b.opts...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (*Atomic) policy() {}

// Deferred hands every update to a dispatcher for a worker to import later.
type Deferred struct {
	dispatcher async.Dispatcher
}

// NewDeferred returns a deferred policy over d.
func NewDeferred(d async.Dispatcher) *Deferred {
	return &Deferred{dispatcher: d}
}

func (*Deferred) Name() string { return NameDeferred }

// Update enqueues one message carrying the resolved import options.
func (d *Deferred) Update(ctx context.Context, idx *index.Index, ids []string, opts ...index.Option) error {
	if len(ids) == 0 {
		return nil
	}
	if d.dispatcher == nil {
		return syncerr.ConfigError("deferred strategy has no queue", nil)
	}
	msg := async.NewMessage(idx.Name(), ids, idx.ResolveOptions(opts...))
	if err := d.dispatcher.Enqueue(ctx, msg); err != nil {
		return err
	}
	return nil
}

func (*Deferred) Leave(context.Context) error { return nil }

func (*Deferred) policy() {}

var (
	_ Policy = (*Base)(nil)
	_ Policy = (*Bypass)(nil)
	_ Policy = (*Urgent)(nil)
	_ Policy = (*Atomic)(nil)
	_ Policy = (*Deferred)(nil)
)
