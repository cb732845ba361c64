package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Aman-CERP/indexsync/internal/async"
	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
)

// Constructor builds a fresh policy for one frame.
type Constructor func() Policy

// Registry resolves policy names to constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry registers the built-in policies. Deferred is registered only
// when a dispatcher is given.
func NewRegistry(dispatcher async.Dispatcher) *Registry {
	r := &Registry{ctors: map[string]Constructor{
		NameBase:   func() Policy { return NewBase() },
		NameBypass: func() Policy { return NewBypass() },
		NameUrgent: func() Policy { return NewUrgent() },
		NameAtomic: func() Policy { return NewAtomic() },
	}}
	if dispatcher != nil {
		r.ctors[NameDeferred] = func() Policy { return NewDeferred(dispatcher) }
	}
	return r
}

// Register adds a constructor under name. Names cannot be redefined.
func (r *Registry) Register(name string, ctor Constructor) error {
	if name == "" || ctor == nil {
		return syncerr.ValidationError("strategy needs a name and a constructor", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ctors[name]; ok {
		return syncerr.ValidationError(fmt.Sprintf("strategy %q already registered", name), nil)
	}
	r.ctors[name] = ctor
	return nil
}

// New builds the policy registered under name.
func (r *Registry) New(name string) (Policy, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()

	if !ok {
		return nil, syncerr.New(syncerr.ErrCodeUnknownStrategy, fmt.Sprintf("unknown strategy %q", name), nil).
			WithDetail("known", fmt.Sprint(r.Names()))
	}
	return ctor(), nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
