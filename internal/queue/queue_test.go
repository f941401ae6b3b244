package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mwaller89/accounthub/internal/jobs"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb)
}

func testJob(t *testing.T) jobs.Job {
	t.Helper()

	b, err := jobs.EncodePayload(jobs.JobSendActivationEmail, jobs.EmailTokenPayload{
		UserID:    42,
		Email:     "jane@example.com",
		FirstName: "Jane",
		Token:     "one-time-token",
	})
	if err != nil {
		t.Fatalf("EncodePayload error: %v", err)
	}

	j, err := jobs.NewJob(jobs.JobSendActivationEmail, b)
	if err != nil {
		t.Fatalf("NewJob error: %v", err)
	}

	return j
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first := testJob(t)
	second := testJob(t)

	if err := q.Enqueue(ctx, first); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if err := q.Enqueue(ctx, second); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("Len error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 queued jobs, got %d", n)
	}

	got, err := q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue error: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("expected job %s first, got %s", first.ID, got.ID)
	}
}

func TestDequeueEmptyTimesOut(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}
