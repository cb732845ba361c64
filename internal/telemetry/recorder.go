package telemetry

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/indexsync/internal/store"
)

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // Next write position
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a new circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items in FIFO order (oldest first).
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// RecorderConfig configures the in-memory Recorder.
type RecorderConfig struct {
	RecentImports    int // Import events kept (default: 100)
	RecentReplays    int // Replay events kept (default: 100)
	SignatureTracked int // Distinct error signatures tracked (default: 50)
}

// Snapshot is a point-in-time copy of recorded telemetry.
type Snapshot struct {
	Imports       []ImportEvent                     `json:"-"`
	Replays       []ReplayEvent                     `json:"replays"`
	Totals        map[string]map[store.Action]int64 `json:"totals"`
	ErrorCounts   map[string]int64                  `json:"error_counts"`
	ImportCalls   int64                             `json:"import_calls"`
	FailedImports int64                             `json:"failed_imports"`
	Since         time.Time                         `json:"since"`
}

// Recorder keeps recent events and running totals in memory.
// Thread-safe for concurrent access.
type Recorder struct {
	mu sync.Mutex

	imports       *CircularBuffer[ImportEvent]
	replays       *CircularBuffer[ReplayEvent]
	totals        map[string]map[store.Action]int64
	signatures    *lru.Cache[string, int64]
	importCalls   int64
	failedImports int64
	startTime     time.Time
}

// NewRecorder creates a recorder.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.SignatureTracked <= 0 {
		cfg.SignatureTracked = 50
	}
	signatures, _ := lru.New[string, int64](cfg.SignatureTracked)

	return &Recorder{
		imports:    NewCircularBuffer[ImportEvent](cfg.RecentImports),
		replays:    NewCircularBuffer[ReplayEvent](cfg.RecentReplays),
		totals:     make(map[string]map[store.Action]int64),
		signatures: signatures,
		startTime:  time.Now(),
	}
}

func (r *Recorder) ImportCompleted(event ImportEvent) {
	r.imports.Add(event)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.importCalls++
	if !event.Errors.Empty() {
		r.failedImports++
	}

	perIndex, ok := r.totals[event.Index]
	if !ok {
		perIndex = make(map[store.Action]int64)
		r.totals[event.Index] = perIndex
	}
	for action, n := range event.Import {
		perIndex[action] += int64(n)
	}

	for _, bySig := range event.Errors {
		for sig, ids := range bySig {
			count, _ := r.signatures.Get(sig)
			r.signatures.Add(sig, count+int64(len(ids)))
		}
	}
}

func (r *Recorder) ReplayStage(event ReplayEvent) {
	r.replays.Add(event)
}

// Snapshot returns a copy of the recorded state.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	totals := make(map[string]map[store.Action]int64, len(r.totals))
	for index, perIndex := range r.totals {
		totals[index] = make(map[store.Action]int64, len(perIndex))
		for action, n := range perIndex {
			totals[index][action] = n
		}
	}

	errorCounts := make(map[string]int64, r.signatures.Len())
	for _, sig := range r.signatures.Keys() {
		if n, ok := r.signatures.Peek(sig); ok {
			errorCounts[sig] = n
		}
	}

	return Snapshot{
		Imports:       r.imports.Items(),
		Replays:       r.replays.Items(),
		Totals:        totals,
		ErrorCounts:   errorCounts,
		ImportCalls:   r.importCalls,
		FailedImports: r.failedImports,
		Since:         r.startTime,
	}
}

var _ Sink = (*Recorder)(nil)
