package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/vulnforge/vulnforge/internal/errors"
)

// RawRecord is one raw advisory payload tagged with its originating source
type RawRecord struct {
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data"`
}

// ReconcileTask carries one identifier group: every raw record sharing one
// vulnerability id. Groups are the parallelism boundary; two tasks never
// touch the same identifier concurrently because the queue deduplicates on
// it.
type ReconcileTask struct {
	ID              string
	VulnerabilityID string
	Records         []RawRecord
	EnqueuedAt      time.Time
	Attempts        int
}

// TaskQueue manages pending reconcile tasks
type TaskQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(ctx context.Context, task *ReconcileTask) error

	// Dequeue retrieves a task for processing (blocking)
	Dequeue(ctx context.Context) (*ReconcileTask, error)

	// Complete marks a task as successfully processed (for metrics/logging)
	Complete(ctx context.Context, taskID string) error

	// Fail marks a task as failed (for metrics/logging)
	Fail(ctx context.Context, taskID string, err error) error

	// GetQueueDepth returns current queue size
	GetQueueDepth(ctx context.Context) (int, error)

	// Close shuts down the queue gracefully
	Close() error
}

// InMemoryQueue implements TaskQueue using Go channels
type InMemoryQueue struct {
	tasks      chan *ReconcileTask
	pending    map[string]bool // Deduplication map: vulnerability id -> queued
	pendingMu  sync.RWMutex
	metrics    *QueueMetrics
	metricsMu  sync.RWMutex
	closed     bool
	closedMu   sync.RWMutex
	bufferSize int
}

// QueueMetrics tracks queue operation statistics
type QueueMetrics struct {
	Enqueued  int64
	Dequeued  int64
	Completed int64
	Failed    int64
	Dropped   int64 // Dropped due to deduplication
}

// NewInMemoryQueue creates a new in-memory task queue
func NewInMemoryQueue(bufferSize int) *InMemoryQueue {
	return &InMemoryQueue{
		tasks:      make(chan *ReconcileTask, bufferSize),
		pending:    make(map[string]bool),
		metrics:    &QueueMetrics{},
		bufferSize: bufferSize,
	}
}

// Enqueue adds a task to the queue, silently dropping duplicates of an
// identifier that is already pending.
func (q *InMemoryQueue) Enqueue(ctx context.Context, task *ReconcileTask) error {
	q.closedMu.RLock()
	if q.closed {
		q.closedMu.RUnlock()
		return errors.NewPermanentf("queue is closed")
	}
	q.closedMu.RUnlock()

	if task == nil {
		return errors.NewPermanentf("task cannot be nil")
	}
	if task.VulnerabilityID == "" {
		return errors.NewPermanentf("task vulnerability id cannot be empty")
	}

	q.pendingMu.Lock()
	if q.pending[task.VulnerabilityID] {
		q.pendingMu.Unlock()
		q.incrementMetric("dropped")
		return nil
	}
	q.pending[task.VulnerabilityID] = true
	q.pendingMu.Unlock()

	select {
	case q.tasks <- task:
		q.incrementMetric("enqueued")
		return nil
	case <-ctx.Done():
		// Remove from pending if we couldn't enqueue
		q.pendingMu.Lock()
		delete(q.pending, task.VulnerabilityID)
		q.pendingMu.Unlock()
		return ctx.Err()
	}
}

// Dequeue retrieves a task for processing (blocking)
func (q *InMemoryQueue) Dequeue(ctx context.Context) (*ReconcileTask, error) {
	q.closedMu.RLock()
	if q.closed {
		q.closedMu.RUnlock()
		return nil, errors.NewPermanentf("queue is closed")
	}
	q.closedMu.RUnlock()

	select {
	case task, ok := <-q.tasks:
		if !ok {
			return nil, errors.NewPermanentf("queue is closed")
		}

		q.pendingMu.Lock()
		delete(q.pending, task.VulnerabilityID)
		q.pendingMu.Unlock()

		q.incrementMetric("dequeued")
		return task, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Complete marks a task as successfully processed
func (q *InMemoryQueue) Complete(ctx context.Context, taskID string) error {
	q.incrementMetric("completed")
	return nil
}

// Fail marks a task as failed
func (q *InMemoryQueue) Fail(ctx context.Context, taskID string, err error) error {
	q.incrementMetric("failed")
	return nil
}

// GetQueueDepth returns current queue size
func (q *InMemoryQueue) GetQueueDepth(ctx context.Context) (int, error) {
	return len(q.tasks), nil
}

// Close shuts down the queue gracefully
func (q *InMemoryQueue) Close() error {
	q.closedMu.Lock()
	defer q.closedMu.Unlock()

	if q.closed {
		return errors.NewPermanentf("queue already closed")
	}

	q.closed = true
	close(q.tasks)
	return nil
}

// GetMetrics returns a copy of current metrics
func (q *InMemoryQueue) GetMetrics() QueueMetrics {
	q.metricsMu.RLock()
	defer q.metricsMu.RUnlock()
	return *q.metrics
}

func (q *InMemoryQueue) incrementMetric(metric string) {
	q.metricsMu.Lock()
	defer q.metricsMu.Unlock()

	switch metric {
	case "enqueued":
		q.metrics.Enqueued++
	case "dequeued":
		q.metrics.Dequeued++
	case "completed":
		q.metrics.Completed++
	case "failed":
		q.metrics.Failed++
	case "dropped":
		q.metrics.Dropped++
	}
}
