package orpheus

import (
	"context"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

// CustomTokenPrefix starts every audio token the model emits.
const CustomTokenPrefix = "<custom_token_"

const (
	// FrameTokens is the number of codec tokens per audio frame.
	FrameTokens = 7

	// WindowSize is how many of the most recent ids the codec receives.
	WindowSize = 4 * FrameTokens

	codebookSize = 4096
	tokenOffset  = 10
)

// ParseTokenID extracts the codec id from the last custom token in text.
// index is the number of valid ids seen so far; it selects the codebook
// offset. ok is false when text holds no complete token.
func ParseTokenID(text string, index int) (id int, ok bool) {
	text = strings.TrimSpace(text)
	start := strings.LastIndex(text, CustomTokenPrefix)
	if start < 0 {
		return 0, false
	}
	last := text[start:]
	if !strings.HasSuffix(last, ">") {
		return 0, false
	}
	n, err := strconv.Atoi(last[len(CustomTokenPrefix) : len(last)-1])
	if err != nil {
		return 0, false
	}
	return n - tokenOffset - (index%FrameTokens)*codebookSize, true
}

// Decoder turns token text into audio frames. Once more than WindowSize-1
// valid ids have arrived, every FrameTokens-th id triggers one codec call
// on the last WindowSize ids.
type Decoder struct {
	codec  Codec
	events *tts.Events

	window []int
	count  int
}

// NewDecoder creates a Decoder backed by codec.
func NewDecoder(codec Codec, events *tts.Events) *Decoder {
	return &Decoder{
		codec:  codec,
		events: events,
		window: make([]int, 0, WindowSize),
	}
}

// Push consumes one token fragment. It returns a frame when the fragment
// completed a decode step and the codec produced audio.
func (d *Decoder) Push(ctx context.Context, text string) []int16 {
	id, ok := ParseTokenID(text, d.count)
	if !ok || id <= 0 {
		return nil
	}

	if len(d.window) == WindowSize {
		copy(d.window, d.window[1:])
		d.window = d.window[:WindowSize-1]
	}
	d.window = append(d.window, id)
	d.count++

	if d.count%FrameTokens != 0 || d.count < WindowSize {
		return nil
	}

	samples, err := d.codec.Decode(ctx, append([]int(nil), d.window...), d.count)
	if err != nil {
		if ctx.Err() == nil {
			d.events.Logf(log.WarnLevel, "%v",
				tts.NewTTSError(tts.ErrorCodeDecode, "codec failed, skipping frame", err).WithContext("count", d.count))
		}
		return nil
	}
	if len(samples) == 0 {
		return nil
	}
	return samples
}

// Count returns the number of valid ids consumed.
func (d *Decoder) Count() int {
	return d.count
}

// Reset forgets all consumed ids.
func (d *Decoder) Reset() {
	d.window = d.window[:0]
	d.count = 0
}
