package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q, err := New(context.Background(), c, "jobs:crop:batch", "workers:crop")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { q.Close() })
	return q, mr
}

func TestEnqueueDequeueAck(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, []byte(`{"job_id":"j1"}`)); err != nil {
		t.Fatal(err)
	}
	id, data, err := q.Dequeue(ctx, "w1", 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" || string(data) != `{"job_id":"j1"}` {
		t.Fatalf("got id=%q data=%q", id, data)
	}
	if err := q.Ack(ctx, id); err != nil {
		t.Fatal(err)
	}
	pending, err := q.client.XPending(ctx, q.Stream, q.Group).Result()
	if err != nil {
		t.Fatal(err)
	}
	if pending.Count != 0 {
		t.Fatalf("pending = %d after ack", pending.Count)
	}
}

func TestNewIsIdempotent(t *testing.T) {
	q, _ := newTestQueue(t)
	if _, err := New(context.Background(), q.client, q.Stream, q.Group); err != nil {
		t.Fatalf("second group create should tolerate BUSYGROUP: %v", err)
	}
}

func TestCancel(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	if c, _ := q.IsCancelled(ctx, "j1"); c {
		t.Fatal("fresh job reported canceled")
	}
	if err := q.Cancel(ctx, "j1"); err != nil {
		t.Fatal(err)
	}
	if c, err := q.IsCancelled(ctx, "j1"); err != nil || !c {
		t.Fatalf("IsCancelled = %v, %v", c, err)
	}
}

func TestDepths(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	q.Enqueue(ctx, []byte("a"))
	q.Enqueue(ctx, []byte("b"))
	q.AddDLQ(ctx, []byte("c"), "bad payload")
	stream, dlq, err := q.Depths(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stream != 2 || dlq != 1 {
		t.Fatalf("depths = %d, %d", stream, dlq)
	}
}
