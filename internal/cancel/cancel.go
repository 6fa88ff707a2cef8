// Package cancel provides the stop signal shared by the pipeline stages.
//
// A Token carries an epoch counter. Stop bumps the epoch and raises the
// stop flag; workers take a Ticket when they start an item and check it at
// every line, token and block boundary. The orchestrator is the only
// component that acknowledges a stop, after it has drained the queues, so
// work started after that point runs normally.
package cancel

import (
	"context"
	"sync"
	"sync/atomic"
)

// Token is a reusable stop signal.
type Token struct {
	epoch   atomic.Uint64
	stopped atomic.Bool

	mu     sync.Mutex
	cancel []context.CancelFunc
}

// New creates a token in the running state.
func New() *Token {
	return &Token{}
}

// Stop requests that all in-flight work halts. Calling it repeatedly is
// harmless; each call still bumps the epoch.
func (t *Token) Stop() {
	t.epoch.Add(1)
	t.stopped.Store(true)

	t.mu.Lock()
	cancels := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// Stopped reports whether a stop is pending acknowledgement.
func (t *Token) Stopped() bool {
	return t.stopped.Load()
}

// Epoch returns the number of stops requested so far.
func (t *Token) Epoch() uint64 {
	return t.epoch.Load()
}

// Acknowledge clears the pending stop. Only the orchestrator calls it,
// once the queues have been drained.
func (t *Token) Acknowledge() {
	t.stopped.Store(false)
}

// Ticket snapshots the current epoch.
func (t *Token) Ticket() Ticket {
	return Ticket{token: t, epoch: t.epoch.Load()}
}

// Context returns a context canceled on the next Stop.
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	t.mu.Lock()
	t.cancel = append(t.cancel, cancel)
	t.mu.Unlock()
	if t.stopped.Load() {
		cancel()
	}
	return ctx, cancel
}

// Ticket identifies the epoch a piece of work started in.
type Ticket struct {
	token *Token
	epoch uint64
}

// Canceled reports whether a stop was requested after the ticket was taken
// or is still pending.
func (k Ticket) Canceled() bool {
	if k.token == nil {
		return false
	}
	return k.token.stopped.Load() || k.token.epoch.Load() != k.epoch
}
