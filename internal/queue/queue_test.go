package queue

import (
	"context"
	"testing"
	"time"
)

func newTask(vulnID string) *ReconcileTask {
	return &ReconcileTask{
		ID:              "task-" + vulnID,
		VulnerabilityID: vulnID,
		EnqueuedAt:      time.Now(),
	}
}

func TestEnqueueDequeue(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()
	ctx := context.Background()

	if err := q.Enqueue(ctx, newTask("CVE-2024-0001")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	depth, _ := q.GetQueueDepth(ctx)
	if depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}

	task, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() failed: %v", err)
	}
	if task.VulnerabilityID != "CVE-2024-0001" {
		t.Errorf("vulnerability id = %q", task.VulnerabilityID)
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()
	ctx := context.Background()

	if err := q.Enqueue(ctx, newTask("CVE-2024-0002")); err != nil {
		t.Fatalf("first Enqueue() failed: %v", err)
	}
	if err := q.Enqueue(ctx, newTask("CVE-2024-0002")); err != nil {
		t.Fatalf("duplicate Enqueue() must not error: %v", err)
	}

	depth, _ := q.GetQueueDepth(ctx)
	if depth != 1 {
		t.Errorf("duplicate identifier must be dropped, depth = %d", depth)
	}

	metrics := q.GetMetrics()
	if metrics.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", metrics.Dropped)
	}
}

func TestReenqueueAfterDequeue(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()
	ctx := context.Background()

	if err := q.Enqueue(ctx, newTask("CVE-2024-0003")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue() failed: %v", err)
	}

	// Once dequeued the identifier is no longer pending
	if err := q.Enqueue(ctx, newTask("CVE-2024-0003")); err != nil {
		t.Fatalf("re-Enqueue() failed: %v", err)
	}
	depth, _ := q.GetQueueDepth(ctx)
	if depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}
}

func TestEnqueueValidation(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()
	ctx := context.Background()

	if err := q.Enqueue(ctx, nil); err == nil {
		t.Error("nil task must fail")
	}
	if err := q.Enqueue(ctx, &ReconcileTask{ID: "task-1"}); err == nil {
		t.Error("task without vulnerability id must fail")
	}
}

func TestDequeueContextCancellation(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	if err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestClosedQueue(t *testing.T) {
	q := NewInMemoryQueue(10)
	if err := q.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if err := q.Enqueue(context.Background(), newTask("CVE-2024-0004")); err == nil {
		t.Error("enqueue on closed queue must fail")
	}
	if err := q.Close(); err == nil {
		t.Error("double close must fail")
	}
}
