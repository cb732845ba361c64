package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/store"
)

// Registry resolves indexes by name for journal replay and async workers.
type Registry struct {
	mu      sync.RWMutex
	indexes map[string]*Index
}

// NewRegistry creates a registry holding the given indexes.
func NewRegistry(indexes ...*Index) (*Registry, error) {
	r := &Registry{indexes: make(map[string]*Index)}
	for _, idx := range indexes {
		if err := r.Register(idx); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an index. Names must be unique.
func (r *Registry) Register(idx *Index) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.indexes[idx.Name()]; ok {
		return syncerr.ValidationError(fmt.Sprintf("index %s is already registered", idx.Name()), nil)
	}
	r.indexes[idx.Name()] = idx
	return nil
}

// Get returns the named index.
func (r *Registry) Get(name string) (*Index, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.indexes[name]
	if !ok {
		return nil, syncerr.New(syncerr.ErrCodeUnknownIndex, fmt.Sprintf("unknown index %q", name), nil).
			WithSuggestion("Check the indexes section of the configuration")
	}
	return idx, nil
}

// Names returns the registered index names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.indexes))
	for name := range r.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Replay re-imports ids into the named index with journaling disabled.
// The type name is accepted for journal compatibility; an index holds one type.
func (r *Registry) Replay(ctx context.Context, indexName, typeName string, ids []string) error {
	idx, err := r.Get(indexName)
	if err != nil {
		return err
	}
	if typeName != "" && typeName != idx.TypeName() {
		return syncerr.New(syncerr.ErrCodeUnknownIndex,
			fmt.Sprintf("index %s has no type %q", indexName, typeName), nil)
	}
	_, err = idx.ImportStrict(ctx, store.ByIDs(ids...), WithJournal(false))
	return err
}
