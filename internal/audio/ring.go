package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRingSeconds is how much audio the ring holds by default.
const DefaultRingSeconds = 60

// DefaultPutTimeout is how long Put waits for space before dropping.
const DefaultPutTimeout = 100 * time.Millisecond

var (
	// ErrRingFull indicates a block was dropped because the ring stayed full
	ErrRingFull = errors.New("audio queue full")

	// ErrRingClosed indicates the ring no longer accepts blocks
	ErrRingClosed = errors.New("audio queue closed")
)

// RingStats tracks ring throughput.
type RingStats struct {
	TotalAdded     uint64
	TotalRetrieved uint64
	TotalDropped   uint64
	TotalCleared   uint64
	PeakSize       int
}

// Ring is the bounded block queue between the producer and the device
// callback. Put waits a bounded time for space and then drops the block;
// TryPop never blocks.
type Ring struct {
	blocks     chan Block
	putTimeout time.Duration

	closeOnce sync.Once
	done      chan struct{}

	added     atomic.Uint64
	retrieved atomic.Uint64
	dropped   atomic.Uint64
	cleared   atomic.Uint64
	peak      atomic.Int64
}

// NewRing creates a ring holding up to capacity blocks.
func NewRing(capacity int, putTimeout time.Duration) *Ring {
	if capacity <= 0 {
		capacity = BlocksFor(DefaultRingSeconds * time.Second)
	}
	if putTimeout <= 0 {
		putTimeout = DefaultPutTimeout
	}
	return &Ring{
		blocks:     make(chan Block, capacity),
		putTimeout: putTimeout,
		done:       make(chan struct{}),
	}
}

// Put queues b. It returns ErrRingFull if no space freed up within the put
// timeout, ctx.Err() if ctx ended first and ErrRingClosed after Close.
func (r *Ring) Put(ctx context.Context, b Block) error {
	select {
	case <-r.done:
		return ErrRingClosed
	default:
	}

	select {
	case r.blocks <- b:
		r.noteAdded()
		return nil
	default:
	}

	timer := time.NewTimer(r.putTimeout)
	defer timer.Stop()

	select {
	case r.blocks <- b:
		r.noteAdded()
		return nil
	case <-timer.C:
		r.dropped.Add(1)
		return ErrRingFull
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrRingClosed
	}
}

func (r *Ring) noteAdded() {
	r.added.Add(1)
	n := int64(len(r.blocks))
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

// TryPop returns the oldest block without blocking.
func (r *Ring) TryPop() (Block, bool) {
	select {
	case b := <-r.blocks:
		r.retrieved.Add(1)
		return b, true
	default:
		return nil, false
	}
}

// Len returns the number of queued blocks.
func (r *Ring) Len() int {
	return len(r.blocks)
}

// Cap returns the ring capacity in blocks.
func (r *Ring) Cap() int {
	return cap(r.blocks)
}

// Seconds returns the queued audio duration in seconds.
func (r *Ring) Seconds() float64 {
	return BlockSeconds(r.Len())
}

// Clear discards all queued blocks and returns how many were removed.
func (r *Ring) Clear() int {
	n := 0
	for {
		select {
		case <-r.blocks:
			n++
		default:
			r.cleared.Add(uint64(n))
			return n
		}
	}
}

// Close stops accepting blocks. Queued blocks can still be popped.
func (r *Ring) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}

// Stats returns a snapshot of ring counters.
func (r *Ring) Stats() RingStats {
	return RingStats{
		TotalAdded:     r.added.Load(),
		TotalRetrieved: r.retrieved.Load(),
		TotalDropped:   r.dropped.Load(),
		TotalCleared:   r.cleared.Load(),
		PeakSize:       int(r.peak.Load()),
	}
}
