package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"vocab-ingest/internal/config"
)

func newTestQueue(t *testing.T) (*DispatchQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	q := NewDispatchQueue(config.Config{RedisAddr: mr.Addr(), VisibilityTimeout: 30 * time.Second})
	return q, mr
}

func TestEnqueueDequeueLease(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Enqueue(ctx, "task-1", PriorityDefault); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if id != "task-1" {
		t.Fatalf("expected task-1 got %q", id)
	}

	// Leased, not gone: a second dequeue finds nothing.
	id, err = q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if id != "" {
		t.Fatalf("expected empty dequeue got %q", id)
	}

	if err := q.Ack(ctx, "task-1"); err != nil {
		t.Fatalf("ack: %v", err)
	}
}

func TestPriorityLanesDrainInOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Enqueue(ctx, "bulk-task", PriorityBulk); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "interactive-task", PriorityInteractive); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, _ := q.DequeueWithLease(ctx)
	if first != "interactive-task" {
		t.Fatalf("expected interactive-task first got %q", first)
	}
	second, _ := q.DequeueWithLease(ctx)
	if second != "bulk-task" {
		t.Fatalf("expected bulk-task second got %q", second)
	}
}

func TestDeferAndPromote(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Enqueue(ctx, "task-1", PriorityDefault); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id, _ := q.DequeueWithLease(ctx)
	if id != "task-1" {
		t.Fatalf("expected task-1 got %q", id)
	}

	runAt := time.Now().Add(50 * time.Millisecond)
	if err := q.Defer(ctx, "task-1", runAt); err != nil {
		t.Fatalf("defer: %v", err)
	}

	// Not due yet.
	n, err := q.PromoteDeferred(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing promoted got %d", n)
	}

	n, err = q.PromoteDeferred(ctx, runAt.Add(time.Millisecond), 10)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one promoted got %d", n)
	}

	// Promotion restores the original priority lane.
	id, _ = q.DequeueWithLease(ctx)
	if id != "task-1" {
		t.Fatalf("expected task-1 after promotion got %q", id)
	}
}

func TestRequeueExpiredLease(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Enqueue(ctx, "task-1", PriorityDefault); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(ids) != 1 || ids[0] != "task-1" {
		t.Fatalf("expected task-1 reclaimed got %v", ids)
	}

	id, _ := q.DequeueWithLease(ctx)
	if id != "task-1" {
		t.Fatalf("expected task-1 redelivered got %q", id)
	}
}

func TestInFlightDepthTracksLeases(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Enqueue(ctx, "task-1", PriorityDefault); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	depth, err := q.InFlightDepth(ctx)
	if err != nil {
		t.Fatalf("inflight depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected one leased task got %d", depth)
	}

	if err := q.Ack(ctx, "task-1"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	depth, err = q.InFlightDepth(ctx)
	if err != nil {
		t.Fatalf("inflight depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected empty in-flight set got %d", depth)
	}
}

func TestRemoveDropsEverywhere(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Enqueue(ctx, "task-1", PriorityDefault); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Remove(ctx, "task-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	id, _ := q.DequeueWithLease(ctx)
	if id != "" {
		t.Fatalf("expected removed task to be gone got %q", id)
	}

	depth, err := q.ReadyDepth(ctx)
	if err != nil {
		t.Fatalf("ready depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected empty queues got depth %d", depth)
	}
}
