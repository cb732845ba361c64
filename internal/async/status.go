package async

import (
	"sync"
	"time"
)

// WorkerStatus represents the worker lifecycle state.
type WorkerStatus string

const (
	// StatusIdle indicates the worker has not been started.
	StatusIdle WorkerStatus = "idle"
	// StatusRunning indicates the worker is consuming messages.
	StatusRunning WorkerStatus = "running"
	// StatusStopped indicates the worker has exited.
	StatusStopped WorkerStatus = "stopped"
)

// ProgressSnapshot is an immutable snapshot of worker progress.
type ProgressSnapshot struct {
	Status         string `json:"status"`
	Processed      int    `json:"processed"`
	Failed         int    `json:"failed"`
	Retried        int    `json:"retried"`
	Duplicates     int    `json:"duplicates"`
	Documents      int    `json:"documents"`
	LastIndex      string `json:"last_index,omitempty"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// Progress provides thread-safe tracking of worker progress.
type Progress struct {
	mu sync.RWMutex

	status       WorkerStatus
	processed    int
	failed       int
	retried      int
	duplicates   int
	documents    int
	lastIndex    string
	startTime    time.Time
	errorMessage string
}

// NewProgress creates an idle progress tracker.
func NewProgress() *Progress {
	return &Progress{
		status:    StatusIdle,
		startTime: time.Now(),
	}
}

// SetStatus updates the lifecycle state.
func (p *Progress) SetStatus(status WorkerStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if status == StatusRunning && p.status != StatusRunning {
		p.startTime = time.Now()
	}
	p.status = status
}

// Processed records a message whose import completed.
func (p *Progress) Processed(indexName string, documents int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processed++
	p.documents += documents
	p.lastIndex = indexName
}

// Failed records a message dropped with an error.
func (p *Progress) Failed(indexName string, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failed++
	p.lastIndex = indexName
	p.errorMessage = message
}

// Retried records a message released for redelivery.
func (p *Progress) Retried(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.retried++
	p.errorMessage = message
}

// Duplicate records a redelivered message that was already processed.
func (p *Progress) Duplicate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.duplicates++
}

// Snapshot returns an immutable copy of the current progress state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return ProgressSnapshot{
		Status:         string(p.status),
		Processed:      p.processed,
		Failed:         p.failed,
		Retried:        p.retried,
		Duplicates:     p.duplicates,
		Documents:      p.documents,
		LastIndex:      p.lastIndex,
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
		ErrorMessage:   p.errorMessage,
	}
}
