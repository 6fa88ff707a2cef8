// Package producer turns one segment into queued audio blocks. A bridging
// goroutine pumps the blocking token stream through the decoder into a
// bounded frame channel; the calling goroutine slices frames into device
// blocks, feeds the ring and schedules the segment's display text for the
// tick at which its first block will play.
package producer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/orpheus-tts/internal/audio"
	"github.com/dgnsrekt/orpheus-tts/internal/cache"
	"github.com/dgnsrekt/orpheus-tts/internal/cancel"
	"github.com/dgnsrekt/orpheus-tts/internal/massage"
	"github.com/dgnsrekt/orpheus-tts/internal/orpheus"
	"github.com/dgnsrekt/orpheus-tts/internal/playsync"
	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

// TokenSource streams speech tokens for a prompt.
type TokenSource interface {
	Stream(ctx context.Context, text, voice string, fn func(token string) bool) error
	Fingerprint() string
}

// SegmentCache stores finished segment audio.
type SegmentCache interface {
	Get(key string) ([]int16, bool)
	Put(key string, samples []int16) error
}

// Defaults for Config.
const (
	DefaultStatusInterval = 100 * time.Millisecond
	DefaultFrameBuffer    = 32
)

// Config holds producer settings.
type Config struct {
	// StatusInterval is the minimum time between status snapshots
	StatusInterval time.Duration

	// FrameBuffer bounds the frames in flight between the bridge and the
	// block slicer
	FrameBuffer int
}

// Producer generates audio for one segment at a time.
type Producer struct {
	src      TokenSource
	codec    orpheus.Codec
	ring     *audio.Ring
	timeline *playsync.Timeline
	events   *tts.Events
	cache    SegmentCache
	cfg      Config
	now      func() time.Time
}

// Option configures a Producer.
type Option func(*Producer)

// WithCache replays and stores segments through c.
func WithCache(c SegmentCache) Option {
	return func(p *Producer) {
		p.cache = c
	}
}

// New creates a producer.
func New(src TokenSource, codec orpheus.Codec, ring *audio.Ring, timeline *playsync.Timeline, events *tts.Events, cfg Config, opts ...Option) *Producer {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = DefaultFrameBuffer
	}
	p := &Producer{
		src:      src,
		codec:    codec,
		ring:     ring,
		timeline: timeline,
		events:   events,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Request describes one segment.
type Request struct {
	// Display is the raw text shown when the audio starts playing
	Display string

	// Speech is the text sent for synthesis
	Speech string

	// Voice is a resolved voice name
	Voice string
}

// Result summarizes a finished segment.
type Result struct {
	Samples int
	Blocks  int
	Dropped int
	TTFB    time.Duration
	Elapsed time.Duration

	// Stopped is set when the ticket was canceled before completion
	Stopped bool

	// Cached is set when the audio was replayed from the cache
	Cached bool

	// Err is a transport failure that ended the segment early
	Err error
}

// Completed reports whether the whole segment was generated.
func (r Result) Completed() bool {
	return !r.Stopped && r.Err == nil
}

// Produce generates req and returns when every block has been queued or
// the ticket was canceled. sink, if set, receives each queued block.
func (p *Producer) Produce(ctx context.Context, ticket cancel.Ticket, req Request, sink func(audio.Block)) Result {
	if strings.TrimSpace(req.Speech) == "" {
		p.timeline.ScheduleAfter(0, req.Display)
		return Result{}
	}

	g := &generation{
		p:       p,
		ctx:     ctx,
		ticket:  ticket,
		req:     req,
		sink:    sink,
		start:   p.now(),
		limiter: rate.NewLimiter(rate.Every(p.cfg.StatusInterval), 1),
		text:    massage.ForLog(req.Display),
	}

	var key string
	if p.cache != nil {
		key = cache.Key(p.src.Fingerprint(), req.Voice, req.Speech)
		if samples, ok := p.cache.Get(key); ok {
			log.Debug("Replaying cached segment", "text", g.text, "samples", len(samples))
			g.res.Cached = true
			g.consume(samples)
			return g.finish()
		}
		g.keep = true
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g.ctx = ctx

	frames := make(chan []int16, p.cfg.FrameBuffer)
	errc := make(chan error, 1)
	go p.bridge(ctx, ticket, req, frames, errc)

	for pcm := range frames {
		if g.res.Stopped || ticket.Canceled() {
			g.res.Stopped = true
			stop()
			continue
		}
		g.consume(pcm)
	}

	if err := <-errc; err != nil {
		if errors.Is(err, tts.ErrCanceled) || ctx.Err() != nil {
			g.res.Stopped = true
		} else {
			g.res.Err = err
		}
	}
	if ticket.Canceled() {
		g.res.Stopped = true
	}

	res := g.finish()
	if p.cache != nil && res.Completed() && len(g.all) > 0 {
		if err := p.cache.Put(key, g.all); err != nil {
			log.Warn("Could not cache segment", "err", err)
		}
	}
	return res
}

// bridge runs the blocking token stream and decoder. Closing frames is the
// completion signal for the slicer.
func (p *Producer) bridge(ctx context.Context, ticket cancel.Ticket, req Request, frames chan<- []int16, errc chan<- error) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("token stream panic: %v", r)
		}
		close(frames)
		errc <- err
	}()

	dec := orpheus.NewDecoder(p.codec, p.events)
	err = p.src.Stream(ctx, req.Speech, req.Voice, func(token string) bool {
		if ticket.Canceled() {
			return false
		}
		pcm := dec.Push(ctx, token)
		if len(pcm) == 0 {
			return true
		}
		select {
		case frames <- pcm:
			return true
		case <-ctx.Done():
			return false
		}
	})
	log.Debug("Token stream finished", "tokens", dec.Count(), "err", err)
}

// generation holds the slicer state for one Produce call.
type generation struct {
	p      *Producer
	ctx    context.Context
	ticket cancel.Ticket
	req    Request
	sink   func(audio.Block)

	start     time.Time
	firstAt   time.Time
	limiter   *rate.Limiter
	text      string
	pending   []int16
	scheduled bool

	keep bool
	all  []int16
	res  Result
}

func (g *generation) consume(pcm []int16) {
	if g.firstAt.IsZero() {
		g.firstAt = g.p.now()
	}
	g.res.Samples += len(pcm)
	if g.keep {
		g.all = append(g.all, pcm...)
	}

	g.pending = append(g.pending, pcm...)
	for len(g.pending) >= audio.BlockSize && !g.res.Stopped {
		block := make(audio.Block, audio.BlockSize)
		copy(block, g.pending)
		g.pending = g.pending[audio.BlockSize:]
		if g.queue(block) && g.sink != nil {
			g.sink(block)
		}
	}

	if g.limiter.Allow() {
		g.p.events.Emit(tts.StatusEvent{Status: g.status(false)})
	}
}

// queue puts block on the ring and reports whether it was accepted.
func (g *generation) queue(block audio.Block) bool {
	if g.ticket.Canceled() {
		g.res.Stopped = true
		return false
	}

	err := g.p.ring.Put(g.ctx, block)
	switch {
	case err == nil:
	case errors.Is(err, audio.ErrRingFull):
		g.res.Dropped++
		g.p.events.Logf(log.WarnLevel, "%v",
			tts.NewTTSError(tts.ErrorCodeBackpressure, "audio queue full, dropping block", err))
		return false
	default:
		g.res.Stopped = true
		return false
	}

	g.res.Blocks++
	if !g.scheduled {
		g.scheduled = true
		g.p.timeline.ScheduleAfter(g.p.ring.Len(), g.req.Display)
	}
	return true
}

func (g *generation) status(finished bool) tts.GenStatus {
	now := g.p.now()
	ttfb := now.Sub(g.start)
	if !g.firstAt.IsZero() {
		ttfb = g.firstAt.Sub(g.start)
	}
	return tts.GenStatus{
		Text:     g.text,
		Duration: audio.SamplesDuration(g.res.Samples),
		Elapsed:  now.Sub(g.start),
		TTFB:     ttfb,
		Finished: finished,
	}
}

// finish queues the tail and emits the teardown statuses. The tail goes
// to the device padded with silence; the sink gets the exact samples.
func (g *generation) finish() Result {
	if g.ticket.Canceled() {
		g.res.Stopped = true
	}
	if !g.res.Stopped && len(g.pending) > 0 {
		padded := make(audio.Block, audio.BlockSize)
		n := copy(padded, g.pending)
		if g.queue(padded) && g.sink != nil {
			g.sink(padded[:n:n])
		}
	}
	g.pending = nil

	final := g.status(true)
	g.res.TTFB = final.TTFB
	g.res.Elapsed = final.Elapsed

	g.p.events.Emit(tts.StatusEvent{})
	if g.res.Completed() {
		g.p.events.Emit(tts.StatusEvent{Status: final})
	}
	return g.res
}
