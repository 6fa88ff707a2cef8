// Package playsync ties display text to audio playback. The device callback
// advances a tick counter once per block; text is scheduled for the tick at
// which its first block will be played and released in FIFO order.
package playsync

import (
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

// Timeline holds the device tick counter and the queue of scheduled text.
// It is shared by the producer (Schedule) and the device callback (Advance,
// PopDue); both sides only hold the lock for a slice operation.
type Timeline struct {
	tick atomic.Uint64

	mu    sync.Mutex
	items []tts.SyncedTextItem
}

// New creates an empty timeline at tick zero.
func New() *Timeline {
	return &Timeline{}
}

// Tick returns the current tick.
func (t *Timeline) Tick() uint64 {
	return t.tick.Load()
}

// Advance increments the tick and returns the new value. Only the device
// callback calls it.
func (t *Timeline) Advance() uint64 {
	return t.tick.Add(1)
}

// Schedule queues text to be shown once the tick reaches target.
func (t *Timeline) Schedule(target uint64, text string) {
	t.mu.Lock()
	t.items = append(t.items, tts.SyncedTextItem{TargetTick: target, Text: text})
	t.mu.Unlock()
}

// ScheduleAfter queues text for the block at position depth in the device
// queue, where 1 is the next block played. Depth 0 releases the text on the
// next callback.
func (t *Timeline) ScheduleAfter(depth int, text string) uint64 {
	target := t.Tick() + uint64(depth)
	t.Schedule(target, text)
	return target
}

// PopDue removes and returns the head item if its target tick has been
// reached. Items are released strictly in the order they were scheduled.
func (t *Timeline) PopDue(tick uint64) (tts.SyncedTextItem, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.items) == 0 || tick < t.items[0].TargetTick {
		return tts.SyncedTextItem{}, false
	}
	item := t.items[0]
	t.items[0] = tts.SyncedTextItem{}
	t.items = t.items[1:]
	return item, true
}

// Pending returns the number of scheduled items.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Clear drops all scheduled items. The tick is left untouched.
func (t *Timeline) Clear() {
	t.mu.Lock()
	t.items = nil
	t.mu.Unlock()
}
