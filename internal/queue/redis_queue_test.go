package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testQueue(t *testing.T) *NotifyQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client, "", time.Minute)
}

func TestEnqueueDequeueOrder(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	for _, id := range []string{"n1", "n2", "n3"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	depth, err := q.Depth(ctx)
	if err != nil || depth != 3 {
		t.Fatalf("depth = %d, err = %v", depth, err)
	}

	for _, want := range []string{"n1", "n2", "n3"} {
		id, err := q.DequeueWithLease(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if id != want {
			t.Fatalf("expected %s, got %s", want, id)
		}
	}

	id, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue idle: %v", err)
	}
	if id != "" {
		t.Fatalf("idle queue should return empty id, got %q", id)
	}
}

func TestAckRemovesLease(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "n1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id, err := q.DequeueWithLease(ctx)
	if err != nil || id != "n1" {
		t.Fatalf("dequeue: %s, %v", id, err)
	}
	if err := q.Ack(ctx, id); err != nil {
		t.Fatalf("ack: %v", err)
	}

	// With the lease gone there is nothing to reclaim, even far in the future.
	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("acked id must not be reclaimed: %v", ids)
	}
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "n1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	// Before the visibility deadline nothing is reclaimable.
	ids, err := q.RequeueExpired(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("live lease reclaimed early: %v", ids)
	}

	ids, err = q.RequeueExpired(ctx, time.Now().Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(ids) != 1 || ids[0] != "n1" {
		t.Fatalf("expected n1 reclaimed, got %v", ids)
	}

	id, err := q.DequeueWithLease(ctx)
	if err != nil || id != "n1" {
		t.Fatalf("reclaimed id should be ready again: %s, %v", id, err)
	}
}

func TestSchedulePromote(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	now := time.Now()
	if err := q.Enqueue(ctx, "n1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id, err := q.DequeueWithLease(ctx)
	if err != nil || id != "n1" {
		t.Fatalf("dequeue: %s, %v", id, err)
	}
	if err := q.Schedule(ctx, id, now.Add(time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	n, err := q.PromoteScheduled(ctx, now, 10)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if n != 0 {
		t.Fatalf("retry promoted before its time")
	}

	n, err = q.PromoteScheduled(ctx, now.Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one promotion, got %d", n)
	}
	id, err = q.DequeueWithLease(ctx)
	if err != nil || id != "n1" {
		t.Fatalf("promoted id should be ready: %s, %v", id, err)
	}
}

func TestDLQ(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	if err := q.DLQPush(ctx, "n1"); err != nil {
		t.Fatalf("dlq push: %v", err)
	}
	if err := q.DLQPush(ctx, "n2"); err != nil {
		t.Fatalf("dlq push: %v", err)
	}
	ids, err := q.DLQPeek(ctx, 10)
	if err != nil {
		t.Fatalf("dlq peek: %v", err)
	}
	if len(ids) != 2 || ids[0] != "n1" || ids[1] != "n2" {
		t.Fatalf("dlq contents: %v", ids)
	}

	// Dead-lettered ids never land back on the ready queue by themselves.
	depth, err := q.Depth(ctx)
	if err != nil || depth != 0 {
		t.Fatalf("ready depth = %d, err = %v", depth, err)
	}
}
