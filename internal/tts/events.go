package tts

import (
	"fmt"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Event is something the pipeline reports to the UI. Concrete types are
// LogEvent, StatusEvent, BufferEvent, SyncedTextEvent and ContentEvent.
type Event interface {
	event()
}

// LogEvent is a line for the log pane.
type LogEvent struct {
	Level log.Level
	Text  string
}

// StatusEvent carries a generation status snapshot.
type StatusEvent struct {
	Status GenStatus
}

// BufferEvent reports how much audio is queued for the device.
type BufferEvent struct {
	Seconds float64

	// Depleted is set when the buffer just went from non-empty to empty
	Depleted bool
}

// SyncedTextEvent is emitted when the audio for Text starts playing. An
// empty Text clears the highlight.
type SyncedTextEvent struct {
	Text string
}

// ContentKind distinguishes transcript entries.
type ContentKind int

const (
	ContentUser ContentKind = iota
	ContentAssistant
	ContentFeedback
	ContentMenu
)

// ContentEvent adds a block to the transcript. With Append set, Text
// extends the last block instead.
type ContentEvent struct {
	Kind   ContentKind
	Text   string
	Append bool
}

func (LogEvent) event()        {}
func (StatusEvent) event()     {}
func (BufferEvent) event()     {}
func (SyncedTextEvent) event() {}
func (ContentEvent) event()    {}

// DefaultEventsCapacity is the default bus buffer size.
const DefaultEventsCapacity = 1024

// Events is a bounded, non-blocking event bus. Emit never blocks so it is
// safe to call from the audio callback; events are dropped when the
// consumer falls behind.
type Events struct {
	ch      chan Event
	dropped atomic.Uint64
}

// NewEvents creates a bus holding up to capacity pending events.
func NewEvents(capacity int) *Events {
	if capacity <= 0 {
		capacity = DefaultEventsCapacity
	}
	return &Events{ch: make(chan Event, capacity)}
}

// Emit queues e without blocking. It reports false if e was dropped.
// A nil bus discards everything.
func (b *Events) Emit(e Event) bool {
	if b == nil {
		return false
	}
	select {
	case b.ch <- e:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// C returns the receive side of the bus.
func (b *Events) C() <-chan Event {
	return b.ch
}

// Drain discards all pending events and returns how many were removed.
func (b *Events) Drain() int {
	n := 0
	for {
		select {
		case <-b.ch:
			n++
		default:
			return n
		}
	}
}

// Dropped returns the number of events lost to a full bus.
func (b *Events) Dropped() uint64 {
	return b.dropped.Load()
}

// Logf emits a LogEvent and mirrors it to the file log.
func (b *Events) Logf(level log.Level, format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	switch level {
	case log.DebugLevel:
		log.Debug(text)
	case log.WarnLevel:
		log.Warn(text)
	case log.ErrorLevel:
		log.Error(text)
	default:
		log.Info(text)
	}
	b.Emit(LogEvent{Level: level, Text: text})
}
