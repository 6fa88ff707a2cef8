package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

// DefaultMaxWords is the default word bound per segment.
const DefaultMaxWords = 25

// Segmenter turns streamed text into speakable segments. It is not safe for
// concurrent use; one Segmenter serves one message.
type Segmenter struct {
	maxWords int
	abbrevs  abbreviations

	buf     string
	started bool
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithMaxWords sets the word bound. Zero or less disables splitting.
func WithMaxWords(n int) Option {
	return func(s *Segmenter) {
		s.maxWords = n
	}
}

// WithAbbreviations replaces the abbreviation table.
func WithAbbreviations(entries []string) Option {
	return func(s *Segmenter) {
		s.abbrevs = newAbbreviations(entries)
	}
}

// New creates a Segmenter with the default word bound and abbreviation table.
func New(opts ...Option) *Segmenter {
	s := &Segmenter{
		maxWords: DefaultMaxWords,
		abbrevs:  newAbbreviations(DefaultAbbreviations),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddText appends chunk and returns the segments it completed. Text after
// the last sentence boundary is held back, as is a terminator at the very
// end of the buffer, since the next chunk may turn it into an abbreviation
// or a longer ellipsis.
func (s *Segmenter) AddText(chunk string) []tts.Segment {
	s.buf += chunk

	var out []tts.Segment
	for {
		end, ok := s.nextBoundary()
		if !ok {
			break
		}
		sentence := s.buf[:end]
		s.buf = s.buf[end:]
		out = s.emit(out, sentence)
	}
	return out
}

// Flush returns segments for any text still held back and resets the
// buffer. The held text is a single sentence but may still be split to
// respect the word bound.
func (s *Segmenter) Flush() []tts.Segment {
	rest := s.buf
	s.buf = ""
	return s.emit(nil, rest)
}

// Pending returns the text held back so far.
func (s *Segmenter) Pending() string {
	return s.buf
}

// Reset discards buffered text and starts a new message.
func (s *Segmenter) Reset() {
	s.buf = ""
	s.started = false
}

// Whole segments a complete message in one call.
func (s *Segmenter) Whole(text string) []tts.Segment {
	s.Reset()
	out := s.AddText(text)
	return append(out, s.Flush()...)
}

// SegmentWhole segments text with a fresh Segmenter.
func SegmentWhole(text string, opts ...Option) []tts.Segment {
	return New(opts...).Whole(text)
}

func (s *Segmenter) emit(out []tts.Segment, sentence string) []tts.Segment {
	sentence = strings.TrimSpace(sentence)
	if sentence == "" {
		return out
	}
	for _, piece := range split(sentence, s.maxWords) {
		out = append(out, tts.Segment{Text: piece, MessageStart: !s.started})
		s.started = true
	}
	return out
}

// nextBoundary returns the end offset of the first complete sentence in the
// buffer.
func (s *Segmenter) nextBoundary() (int, bool) {
	buf := s.buf
	for i := 0; i < len(buf); {
		r, size := utf8.DecodeRuneInString(buf[i:])
		if r == '\n' {
			return i + size, true
		}
		if !isTerminator(r) {
			i += size
			continue
		}

		j := i
		runLen := 0
		for j < len(buf) {
			r, size := utf8.DecodeRuneInString(buf[j:])
			if !isTerminator(r) {
				break
			}
			j += size
			runLen++
		}
		for j < len(buf) {
			r, size := utf8.DecodeRuneInString(buf[j:])
			if !isCloser(r) {
				break
			}
			j += size
		}
		if j == len(buf) {
			// Only a period can still grow into an ellipsis or abbreviation.
			if strings.ContainsRune(buf[i:j], '.') {
				return 0, false
			}
			return j, true
		}
		if !utf8.FullRuneInString(buf[j:]) {
			return 0, false
		}

		next, _ := utf8.DecodeRuneInString(buf[j:])
		if !unicode.IsSpace(next) && !unicode.IsUpper(next) {
			i = j
			continue
		}

		if runLen == 1 && buf[i] == '.' {
			switch s.abbrevs.match(buf, i) {
			case abbrevCovered:
				i = j
				continue
			case abbrevPending:
				return 0, false
			}
		}
		return j, true
	}
	return 0, false
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '?', '!', '…':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}
