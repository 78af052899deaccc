// Package workpool provides a bounded queue with producer/consumer
// backpressure and a worker pool built on top of it, used by the indexing
// pipeline's per-stage fan-out and by one-off concurrent fan-outs elsewhere
// in the service.
//
// Unlike a CPU-bound worker pool, these primitives are sized for I/O-heavy
// orchestration: file reads, embedding calls, vector-store round trips.
// Cancellation is cooperative — queued work that has not started is
// dropped, work already in flight runs to completion.
package workpool

import (
	"context"
	"sync"

	"github.com/codeindex-dev/codeindex/internal/errs"
)

// BoundedQueue is a fixed-capacity FIFO with cancellation-aware enqueue and
// dequeue. Capacity must be at least 1.
type BoundedQueue[T any] struct {
	items     chan T
	closeSig  chan struct{}
	closeOnce sync.Once
}

// NewBoundedQueue creates a queue of the given capacity.
func NewBoundedQueue[T any](capacity int) (*BoundedQueue[T], error) {
	if capacity < 1 {
		return nil, errs.New(errs.KindInvalidInput, "workpool.bounded_queue", "capacity must be a positive number")
	}
	return &BoundedQueue[T]{
		items:    make(chan T, capacity),
		closeSig: make(chan struct{}),
	}, nil
}

// Capacity returns the queue's configured capacity.
func (q *BoundedQueue[T]) Capacity() int { return cap(q.items) }

// Len returns the number of items currently buffered.
func (q *BoundedQueue[T]) Len() int { return len(q.items) }

// Enqueue waits for capacity, closure, or context cancellation, whichever
// happens first.
func (q *BoundedQueue[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case <-ctx.Done():
		return errs.Cancelled("queue.enqueue")
	case <-q.closeSig:
		return errQueueClosed()
	default:
	}

	select {
	case <-ctx.Done():
		return errs.Cancelled("queue.enqueue")
	case <-q.closeSig:
		return errQueueClosed()
	case q.items <- item:
		return nil
	}
}

// Dequeue waits for an available item, closure, or context cancellation.
// Items buffered before Close was called are still delivered; Close does
// not itself stop a pending Dequeue from draining them.
func (q *BoundedQueue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T

	// Drain any buffered item before honoring a close signal, so Close
	// (as opposed to CloseAndClear) never silently drops queued work.
	select {
	case item := <-q.items:
		return item, nil
	default:
	}

	select {
	case <-ctx.Done():
		return zero, errs.Cancelled("queue.dequeue")
	case item := <-q.items:
		return item, nil
	case <-q.closeSig:
		select {
		case item := <-q.items:
			return item, nil
		default:
		}
		return zero, errQueueClosed()
	}
}

// Close marks the queue closed. Items already buffered may still be
// drained by Dequeue; no further Enqueue succeeds.
func (q *BoundedQueue[T]) Close() {
	q.closeOnce.Do(func() { close(q.closeSig) })
}

// CloseAndClear closes the queue and discards any buffered items. Intended
// for cancellation paths where queued work must not execute.
func (q *BoundedQueue[T]) CloseAndClear() {
	q.Close()
	for {
		select {
		case <-q.items:
		default:
			return
		}
	}
}

func errQueueClosed() *errs.Envelope {
	return errs.New(errs.KindInvariant, "workpool.queue_closed", "bounded queue is closed")
}
