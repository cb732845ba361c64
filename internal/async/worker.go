package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/index"
	"github.com/Aman-CERP/indexsync/internal/store"
)

// Resolver looks up indexes by name. *index.Registry implements it.
type Resolver interface {
	Get(name string) (*index.Index, error)
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// PollInterval is the wait between receives when the queue is empty.
	PollInterval time.Duration

	// RateLimit caps messages per second. Zero means unlimited.
	RateLimit float64
	Burst     int

	// DedupSize is the number of processed message ids remembered to skip
	// redeliveries.
	DedupSize int

	// MaxAttempts drops a message after this many deliveries.
	MaxAttempts int

	// RetryDelay hides a message after a connectivity failure.
	RetryDelay time.Duration
}

// DefaultWorkerConfig returns sensible defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 500 * time.Millisecond,
		Burst:        1,
		DedupSize:    1024,
		MaxAttempts:  5,
		RetryDelay:   5 * time.Second,
	}
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithBreaker replaces the circuit breaker guarding the index store.
func WithBreaker(cb *syncerr.CircuitBreaker) WorkerOption {
	return func(w *Worker) {
		if cb != nil {
			w.breaker = cb
		}
	}
}

// Worker consumes deferred imports from a Queue and runs them against the
// resolved index.
type Worker struct {
	queue    Queue
	resolver Resolver
	cfg      WorkerConfig
	limiter  *rate.Limiter
	seen     *lru.Cache[string, struct{}]
	breaker  *syncerr.CircuitBreaker
	progress *Progress

	// Lifecycle management
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	running bool
	err     error
}

// NewWorker creates a worker. Zero config fields take their defaults.
func NewWorker(queue Queue, resolver Resolver, cfg WorkerConfig, opts ...WorkerOption) (*Worker, error) {
	if queue == nil {
		return nil, syncerr.ValidationError("worker requires a queue", nil)
	}
	if resolver == nil {
		return nil, syncerr.ValidationError("worker requires an index resolver", nil)
	}

	def := DefaultWorkerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = def.DedupSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}

	seen, err := lru.New[string, struct{}](cfg.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	w := &Worker{
		queue:    queue,
		resolver: resolver,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		seen:     seen,
		breaker:  syncerr.NewCircuitBreaker("index-store"),
		progress: NewProgress(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Progress returns the progress tracker for this worker.
func (w *Worker) Progress() *Progress {
	return w.progress
}

// IsRunning returns true if the worker loop is active.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start runs the worker loop in a background goroutine.
// Use Stop or Wait to join it.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	// Create merged context that respects both parent and stop channel
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := w.Run(ctx)
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

// Stop signals the worker to stop and waits for it to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

// Wait blocks until a started worker exits and returns its error.
func (w *Worker) Wait() error {
	<-w.doneCh
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Run consumes messages until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.progress.SetStatus(StatusRunning)
	defer w.progress.SetStatus(StatusStopped)

	slog.Info("worker_started",
		slog.Float64("rate_limit", w.cfg.RateLimit),
		slog.Int("max_attempts", w.cfg.MaxAttempts))

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		handled, err := w.Step(ctx)
		if ctx.Err() != nil {
			slog.Info("worker_stopped", slog.Int("processed", w.progress.Snapshot().Processed))
			return nil
		}
		if err != nil {
			slog.Warn("queue_receive_failed", slog.String("error", err.Error()))
		}
		if handled {
			continue
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// Drain handles messages until none is ready.
func (w *Worker) Drain(ctx context.Context) error {
	for {
		handled, err := w.Step(ctx)
		if err != nil {
			return err
		}
		if !handled {
			return nil
		}
	}
}

// Step receives and handles at most one message. It reports false when no
// message was ready or the circuit is open.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	if !w.breaker.Allow() {
		return false, nil
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return false, err
	}

	msg, err := w.queue.Receive(ctx)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}

	w.handle(ctx, msg)
	return true, nil
}

func (w *Worker) handle(ctx context.Context, msg *Message) {
	if w.seen.Contains(msg.ID) {
		w.progress.Duplicate()
		w.ack(ctx, msg)
		return
	}

	if msg.Attempts > w.cfg.MaxAttempts {
		slog.Error("deferred_import_dropped",
			slog.String("message_id", msg.ID),
			slog.String("index", msg.Index),
			slog.Int("attempts", msg.Attempts))
		w.progress.Failed(msg.Index, fmt.Sprintf("gave up after %d attempts", msg.Attempts))
		w.ack(ctx, msg)
		return
	}

	idx, err := w.resolver.Get(msg.Index)
	if err != nil {
		slog.Error("deferred_import_rejected",
			slog.String("message_id", msg.ID),
			slog.String("index", msg.Index),
			slog.String("error", err.Error()))
		w.progress.Failed(msg.Index, err.Error())
		w.ack(ctx, msg)
		return
	}

	var res *index.Result
	err = w.breaker.Execute(func() error {
		var importErr error
		res, importErr = idx.ImportStrict(ctx, store.ByIDs(msg.IDs...), index.WithOptions(msg.Options))
		return importErr
	})

	switch {
	case err == nil:
		w.seen.Add(msg.ID, struct{}{})
		w.progress.Processed(msg.Index, documents(res))
		w.ack(ctx, msg)
		slog.Debug("deferred_import_completed",
			slog.String("message_id", msg.ID),
			slog.String("index", msg.Index),
			slog.Int("ids", len(msg.IDs)))

	case errors.Is(err, index.ErrImportFailed):
		// Redelivery cannot fix per-document errors.
		w.seen.Add(msg.ID, struct{}{})
		w.progress.Failed(msg.Index, err.Error())
		w.ack(ctx, msg)
		slog.Warn("deferred_import_failed",
			slog.String("message_id", msg.ID),
			slog.String("index", msg.Index),
			slog.String("error", err.Error()))

	default:
		w.progress.Retried(err.Error())
		if nackErr := w.queue.Nack(ctx, msg.ID, w.cfg.RetryDelay); nackErr != nil {
			slog.Warn("queue_nack_failed",
				slog.String("message_id", msg.ID),
				slog.String("error", nackErr.Error()))
		}
		slog.Warn("deferred_import_retry",
			slog.String("message_id", msg.ID),
			slog.String("index", msg.Index),
			slog.Int("attempt", msg.Attempts),
			slog.String("error", err.Error()))
	}
}

func (w *Worker) ack(ctx context.Context, msg *Message) {
	if err := w.queue.Ack(ctx, msg.ID); err != nil {
		slog.Warn("queue_ack_failed",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()))
	}
}

func documents(res *index.Result) int {
	if res == nil {
		return 0
	}
	n := 0
	for _, count := range res.Stats {
		n += count
	}
	return n
}
