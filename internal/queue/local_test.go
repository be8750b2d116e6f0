package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fieldscope/cati-back/internal/domain"
)

func TestLocalQueueDeliversTasks(t *testing.T) {
	q := NewLocalQueue(8, 3, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan domain.DeliveryTask, 1)
	go q.Consume(ctx, func(_ context.Context, task domain.DeliveryTask) error {
		received <- task
		return nil
	})

	task := domain.DeliveryTask{
		TaskID:     "task-1",
		RawPayload: json.RawMessage(`{"status":"busy"}`),
		ReceivedAt: time.Now().UTC(),
	}
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case got := <-received:
		if got.TaskID != "task-1" || string(got.RawPayload) != `{"status":"busy"}` {
			t.Fatalf("unexpected task: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("task never delivered")
	}
}

func TestLocalQueueRetriesThenDeadLetters(t *testing.T) {
	q := NewLocalQueue(8, 3, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})
	go q.Consume(ctx, func(_ context.Context, task domain.DeliveryTask) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		return fmt.Errorf("handler refuses task attempt %d", task.Attempt)
	})

	if err := q.Enqueue(ctx, domain.DeliveryTask{TaskID: "task-doomed"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		mu.Lock()
		n := attempts
		mu.Unlock()
		t.Fatalf("expected 3 attempts before DLQ, saw %d", n)
	}

	deadline := time.Now().Add(2 * time.Second)
	for q.DLQSize() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("task never reached the DLQ")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if size := q.DLQSize(); size != 1 {
		t.Fatalf("expected 1 dead-lettered task, got %d", size)
	}
}

func TestLocalQueueRetryDropsAfterConsumerStops(t *testing.T) {
	q := NewLocalQueue(1, 3, nil)
	ctx, cancel := context.WithCancel(context.Background())

	failed := make(chan struct{}, 1)
	consumed := make(chan error, 1)
	go func() {
		consumed <- q.Consume(ctx, func(context.Context, domain.DeliveryTask) error {
			failed <- struct{}{}
			return errors.New("handler refuses task")
		})
	}()

	if err := q.Enqueue(ctx, domain.DeliveryTask{TaskID: "task-retried"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-failed

	// Stop the consumer, then fill the buffer so the pending retry has
	// nowhere to go when its timer fires.
	cancel()
	if err := <-consumed; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled consumer, got %v", err)
	}
	if err := q.Enqueue(context.Background(), domain.DeliveryTask{TaskID: "filler"}); err != nil {
		t.Fatalf("enqueue filler: %v", err)
	}

	// Give the retry timer time to fire against the full buffer, then
	// drain it. The retry goroutine must have given up, not parked on
	// the send waiting for this receive.
	time.Sleep(time.Second)
	if got := <-q.ch; got.TaskID != "filler" {
		t.Fatalf("expected filler task, got %+v", got)
	}
	select {
	case got := <-q.ch:
		t.Fatalf("retry delivered after consumer shutdown: %+v", got)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestLocalQueueEnqueueHonorsContext(t *testing.T) {
	q := NewLocalQueue(1, 3, nil)
	ctx := context.Background()

	if err := q.Enqueue(ctx, domain.DeliveryTask{TaskID: "fills-buffer"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := q.Enqueue(cancelled, domain.DeliveryTask{TaskID: "blocked"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
