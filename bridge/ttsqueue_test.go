package bridge

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTtsQueueRunsOperationsInOrder(t *testing.T) {
	q := newTtsQueue()
	var order []int
	done := make(chan struct{})

	for i := 0; i < 3; i++ {
		i := i
		ch := q.enqueue(func(ctx context.Context) error {
			order = append(order, i)
			if i == 2 {
				close(done)
			}
			return nil
		})
		go func() { <-ch }()
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued operations to run")
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected operations to run in FIFO order, got %v", order)
		}
	}
}

func TestTtsQueueEnqueueReturnsRunError(t *testing.T) {
	q := newTtsQueue()
	boom := context.DeadlineExceeded
	ch := q.enqueue(func(ctx context.Context) error { return boom })
	select {
	case err := <-ch:
		if err != boom {
			t.Fatalf("got %v, want %v", err, boom)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for operation result")
	}
}

func TestTtsQueueClearClosesPendingWithoutRunning(t *testing.T) {
	q := newTtsQueue()
	var ran atomic.Bool
	block := make(chan struct{})

	first := q.enqueue(func(ctx context.Context) error {
		<-block
		return nil
	})
	pending := q.enqueue(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	q.clear()
	close(block)
	<-first

	select {
	case _, ok := <-pending:
		if ok {
			t.Fatal("expected the cleared operation's channel to be closed, not sent to")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cleared operation's channel to close")
	}
	if ran.Load() {
		t.Fatal("expected the pending operation to never run once cleared")
	}
}

func TestTtsQueueCancelsInFlightOperationOnClear(t *testing.T) {
	q := newTtsQueue()
	started := make(chan struct{})
	cancelled := make(chan struct{})

	ch := q.enqueue(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	<-started
	q.clear()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for in-flight operation's context to be cancelled")
	}
	<-ch
}
