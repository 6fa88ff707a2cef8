package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned when the queue is at capacity
	ErrQueueFull = errors.New("queue is full")

	// ErrQueueClosed is returned when operations are attempted on a closed queue
	ErrQueueClosed = errors.New("queue is closed")

	// ErrQueueEmpty is returned when no item arrived in time
	ErrQueueEmpty = errors.New("queue is empty")
)

// Queue is a thread-safe FIFO. Enqueue never blocks; consumers wait with a
// timeout so they can poll other state between items.
type Queue[T any] struct {
	maxSize int

	mu     sync.Mutex
	items  []T
	closed bool
	stats  Stats

	// notify has one slot; it is signaled whenever items are added.
	notify chan struct{}
	done   chan struct{}
}

// Stats tracks queue performance metrics
type Stats struct {
	TotalEnqueued int64
	TotalDequeued int64
	TotalDropped  int64
	TotalCleared  int64
	CurrentSize   int
	PeakSize      int
	LastEnqueue   time.Time
	LastDequeue   time.Time
}

// New creates a queue. maxSize <= 0 means unbounded.
func New[T any](maxSize int) *Queue[T] {
	return &Queue[T]{
		maxSize: maxSize,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Enqueue appends items in order. It is all or nothing.
func (q *Queue[T]) Enqueue(items ...T) error {
	if len(items) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.maxSize > 0 && len(q.items)+len(items) > q.maxSize {
		q.stats.TotalDropped += int64(len(items))
		return ErrQueueFull
	}

	q.items = append(q.items, items...)
	q.stats.TotalEnqueued += int64(len(items))
	q.stats.LastEnqueue = time.Now()
	if len(q.items) > q.stats.PeakSize {
		q.stats.PeakSize = len(q.items)
	}
	q.signal()
	return nil
}

func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	q.stats.TotalDequeued++
	q.stats.LastDequeue = time.Now()
	if len(q.items) > 0 {
		q.signal()
	}
	return item, true
}

// Dequeue waits up to timeout for an item. It returns ErrQueueEmpty on
// timeout, ErrQueueClosed once the queue is closed and drained and
// ctx.Err() if ctx ends first.
func (q *Queue[T]) Dequeue(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		item, ok := q.popLocked()
		closed := q.closed
		q.mu.Unlock()

		if ok {
			return item, nil
		}
		if closed {
			return zero, ErrQueueClosed
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-timer.C:
			return zero, ErrQueueEmpty
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Size returns the current number of items.
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear removes all items and returns how many were dropped.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = nil
	q.stats.TotalCleared += int64(n)
	return n
}

// RemoveIf deletes every item for which drop returns true, keeping the
// order of the rest, and returns how many were removed.
func (q *Queue[T]) RemoveIf(drop func(T) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	for _, item := range q.items {
		if !drop(item) {
			kept = append(kept, item)
		}
	}
	n := len(q.items) - len(kept)
	var zero T
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = zero
	}
	q.items = kept
	q.stats.TotalCleared += int64(n)
	return n
}

// GetStats returns current queue statistics.
func (q *Queue[T]) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := q.stats
	stats.CurrentSize = len(q.items)
	return stats
}

// Close stops accepting items. Queued items can still be dequeued.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}
