package tts

import (
	"time"
)

// Mode selects where spoken text comes from.
type Mode string

const (
	// ModeChat speaks replies streamed from the chat model
	ModeChat Mode = "chat"

	// ModeDirect speaks the user's input as-is
	ModeDirect Mode = "direct"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeChat || m == ModeDirect
}

// Segment is a bounded unit of speakable text.
type Segment struct {
	// Text is the segment content, trimmed of surrounding whitespace
	Text string

	// MessageStart marks the first segment of a logical message
	MessageStart bool
}

// WorkItem is a unit of work for the orchestrator. It is either a
// ContentItem or an EndItem.
type WorkItem interface {
	workItem()
}

// ContentItem asks for one segment to be spoken.
type ContentItem struct {
	Segment Segment

	// Voice is the requested voice, possibly "random"
	Voice string

	// ShouldMassage runs the text through the TTS massager before synthesis
	ShouldMassage bool
}

// EndItem marks the end of a logical message.
type EndItem struct{}

func (ContentItem) workItem() {}
func (EndItem) workItem()     {}

// SyncedTextItem is display text scheduled for a device tick.
type SyncedTextItem struct {
	// TargetTick is the first tick at which the text may be shown
	TargetTick uint64

	// Text is the raw (unmassaged) segment text
	Text string
}

// GenStatus is a snapshot of one segment's generation progress.
type GenStatus struct {
	// Text is the segment text formatted for logs; empty means idle
	Text string

	// Duration is the amount of audio generated so far
	Duration time.Duration

	// Elapsed is wall time since the request started
	Elapsed time.Duration

	// TTFB is the time until the first audio frame arrived
	TTFB time.Duration

	// Finished is set on the final snapshot of a completed generation
	Finished bool
}

// Idle reports whether the status represents no generation.
func (s GenStatus) Idle() bool {
	return s.Text == ""
}

// Speed returns generated audio seconds per second of generation time after
// the first frame. It returns 0 until enough time has passed to be meaningful.
func (s GenStatus) Speed() float64 {
	delta := s.Elapsed - s.TTFB
	if delta < 330*time.Millisecond {
		return 0
	}
	return s.Duration.Seconds() / delta.Seconds()
}
