package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by queue operations after Close.
var ErrClosed = errors.New("queue closed")

// Bounded is a FIFO queue holding at most a fixed number of items. Put blocks
// while the queue is full, which is how a fast producer is slowed down to the
// pace of its consumer.
type Bounded[T any] struct {
	items  chan T
	closed chan struct{}
	once   sync.Once
}

// NewBounded creates a queue with the given capacity.
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{
		items:  make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Put appends an item, waiting for room until ctx is done or the queue is closed.
func (q *Bounded[T]) Put(ctx context.Context, item T) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}

	select {
	case q.items <- item:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get removes and returns the oldest item, waiting until one is available.
// Items still buffered when the queue is closed are returned before ErrClosed.
func (q *Bounded[T]) Get(ctx context.Context) (T, error) {
	select {
	case item := <-q.items:
		return item, nil
	default:
	}

	var zero T
	select {
	case item := <-q.items:
		return item, nil
	case <-q.closed:
		select {
		case item := <-q.items:
			return item, nil
		default:
			return zero, ErrClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Len returns the number of buffered items.
func (q *Bounded[T]) Len() int { return len(q.items) }

// Cap returns the configured bound.
func (q *Bounded[T]) Cap() int { return cap(q.items) }

// Close wakes up every waiting Put and Get.
func (q *Bounded[T]) Close() {
	q.once.Do(func() { close(q.closed) })
}

// Unbounded is a FIFO queue whose Put never blocks. It can be drained in one
// call, which the playback side uses to drop audio after an interruption.
type Unbounded[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
	closed bool
}

func NewUnbounded[T any]() *Unbounded[T] {
	return &Unbounded[T]{notify: make(chan struct{}, 1)}
}

// Put appends an item.
func (q *Unbounded[T]) Put(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Get removes and returns the oldest item, waiting until one is available.
func (q *Unbounded[T]) Get(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return zero, ErrClosed
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Drain discards every buffered item and returns how many were dropped.
func (q *Unbounded[T]) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = nil
	return n
}

func (q *Unbounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further Puts. Buffered items can still be read.
func (q *Unbounded[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *Unbounded[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
