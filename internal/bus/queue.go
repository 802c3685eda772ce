package bus

import (
	"context"
	"sync/atomic"

	"hftcore/pkg/exception"
)

// Queue is a bounded, non-blocking queue feeding the runner from I/O goroutines.
type Queue[T any] struct {
	ch     chan T
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// TryPublish enqueues an item without blocking.
func (q *Queue[T]) TryPublish(v T) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return exception.ErrQueueClosed
	}
	select {
	case q.ch <- v:
		return nil
	default:
		return exception.ErrQueueFull
	}
}

// Publish blocks until there is room, the queue is closed or ctx is done.
// Producers use it to apply back-pressure to the I/O side.
func (q *Queue[T]) Publish(ctx context.Context, v T) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return exception.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- v:
		return nil
	}
}

// C exposes the receive side for select loops.
func (q *Queue[T]) C() <-chan T { return q.ch }

func (q *Queue[T]) Len() int { return len(q.ch) }

func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Close stops the queue from accepting new items.
func (q *Queue[T]) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Drain removes every buffered item without blocking.
func (q *Queue[T]) Drain(handler func(T)) int {
	n := 0
	for {
		select {
		case v, ok := <-q.ch:
			if !ok {
				return n
			}
			handler(v)
			n++
		default:
			return n
		}
	}
}

// Run consumes items until the context is done or the queue is closed.
func (q *Queue[T]) Run(ctx context.Context, handler func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-q.ch:
			if !ok {
				return
			}
			handler(v)
		}
	}
}
