// Package worker runs the orchestrator: a single goroutine that takes work
// items in order, generates one segment at a time, accumulates each
// message's audio and handles stop requests.
package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dgnsrekt/orpheus-tts/internal/audio"
	"github.com/dgnsrekt/orpheus-tts/internal/cancel"
	"github.com/dgnsrekt/orpheus-tts/internal/massage"
	"github.com/dgnsrekt/orpheus-tts/internal/orpheus"
	"github.com/dgnsrekt/orpheus-tts/internal/playsync"
	"github.com/dgnsrekt/orpheus-tts/internal/producer"
	"github.com/dgnsrekt/orpheus-tts/internal/queue"
	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

// DefaultPollInterval is how long the loop waits for an item before
// checking for a stop again.
const DefaultPollInterval = 50 * time.Millisecond

// Generator produces audio for one segment.
type Generator interface {
	Produce(ctx context.Context, ticket cancel.Ticket, req producer.Request, sink func(audio.Block)) producer.Result
}

// Saver persists a finished or truncated message.
type Saver interface {
	SaveAsync(text, voice string, truncated bool, blocks []audio.Block)
}

// Config holds worker settings.
type Config struct {
	PollInterval time.Duration

	// KeepData reports whether new messages should keep their audio for
	// saving. It is read when a message starts.
	KeepData func() bool

	// AudioEnabled reports whether there is an output device; without one
	// items are discarded.
	AudioEnabled func() bool
}

// MessageAudio accumulates the audio of one logical message.
type MessageAudio struct {
	ID       string
	Text     string
	Voice    string
	KeepData bool
	Blocks   []audio.Block
	Samples  int
}

// Duration returns the audio length generated for the message so far.
func (m *MessageAudio) Duration() time.Duration {
	return audio.SamplesDuration(m.Samples)
}

type envelope struct {
	epoch uint64
	item  tts.WorkItem
}

// Worker owns the work queue.
type Worker struct {
	gen      Generator
	ring     *audio.Ring
	timeline *playsync.Timeline
	token    *cancel.Token
	events   *tts.Events
	saver    Saver
	cfg      Config

	queue  *queue.Queue[envelope]
	warned bool

	// outstanding counts items queued or being handled.
	outstanding atomic.Int64

	// Owned by the run goroutine.
	current *MessageAudio

	wg sync.WaitGroup
}

// New creates a worker. saver may be nil when saving is unavailable.
func New(gen Generator, ring *audio.Ring, timeline *playsync.Timeline, token *cancel.Token, events *tts.Events, saver Saver, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.KeepData == nil {
		cfg.KeepData = func() bool { return false }
	}
	if cfg.AudioEnabled == nil {
		cfg.AudioEnabled = func() bool { return true }
	}
	return &Worker{
		gen:      gen,
		ring:     ring,
		timeline: timeline,
		token:    token,
		events:   events,
		saver:    saver,
		cfg:      cfg,
		queue:    queue.New[envelope](0),
	}
}

// Start runs the loop until ctx ends or Close is called.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Close stops accepting items and waits for the loop to exit. Call Stop
// first to abandon in-flight work. Items the loop never reached are
// discarded.
func (w *Worker) Close() {
	_ = w.queue.Close()
	w.wg.Wait()
	if n := w.queue.Clear(); n > 0 {
		w.outstanding.Add(-int64(n))
		log.Debug("Discarded unprocessed items", "count", n)
	}
}

// Stats returns work queue counters.
func (w *Worker) Stats() queue.Stats {
	return w.queue.GetStats()
}

// Enqueue adds items in order.
func (w *Worker) Enqueue(items ...tts.WorkItem) error {
	return w.EnqueueAt(w.token.Epoch(), items...)
}

// Epoch returns the current stop epoch.
func (w *Worker) Epoch() uint64 {
	return w.token.Epoch()
}

// EnqueueAt adds items that belong to epoch. Items from an epoch that has
// since been stopped are discarded instead of spoken, so a producer that
// outlives a stop cannot leak into the next request.
func (w *Worker) EnqueueAt(epoch uint64, items ...tts.WorkItem) error {
	if epoch != w.token.Epoch() {
		return tts.ErrCanceled
	}
	envs := make([]envelope, len(items))
	for i, it := range items {
		envs[i] = envelope{epoch: epoch, item: it}
	}
	w.outstanding.Add(int64(len(envs)))
	if err := w.queue.Enqueue(envs...); err != nil {
		w.outstanding.Add(-int64(len(envs)))
		return err
	}
	return nil
}

// Stop abandons queued and in-flight work. It returns once the queues are
// empty; items enqueued afterwards are processed normally.
func (w *Worker) Stop() {
	w.token.Stop()
	w.dropStale()
	w.ring.Clear()
	w.timeline.Clear()
}

// Busy reports whether items are queued or a segment is being generated.
func (w *Worker) Busy() bool {
	return w.outstanding.Load() > 0
}

func (w *Worker) dropStale() int {
	epoch := w.token.Epoch()
	n := w.queue.RemoveIf(func(e envelope) bool { return e.epoch < epoch })
	w.outstanding.Add(-int64(n))
	return n
}

// Pending returns the number of queued items.
func (w *Worker) Pending() int {
	return w.queue.Size()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	log.Debug("Worker started")
	defer log.Debug("Worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}
		if w.token.Stopped() {
			w.acknowledgeStop()
			continue
		}

		env, err := w.queue.Dequeue(ctx, w.cfg.PollInterval)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			continue
		}
		// A stop raised while idle is acknowledged before an item from the
		// new epoch is handled, or its ticket would read as canceled.
		if w.token.Stopped() {
			w.acknowledgeStop()
		}
		w.dispatch(ctx, env)
		w.outstanding.Add(-1)
	}
}

func (w *Worker) dispatch(ctx context.Context, env envelope) {
	if env.epoch != w.token.Epoch() {
		return
	}
	if !w.cfg.AudioEnabled() {
		if !w.warned {
			w.events.Logf(log.WarnLevel, "Audio output unavailable, skipping speech")
			w.warned = true
		}
		return
	}
	w.handle(ctx, env.item)
}

// acknowledgeStop drains what a stop left behind and clears the signal.
func (w *Worker) acknowledgeStop() {
	w.finalize(true)

	dropped := w.dropStale()
	blocks := w.ring.Clear()
	w.timeline.Clear()
	w.token.Acknowledge()

	log.Debug("Stop acknowledged", "dropped_items", dropped, "dropped_blocks", blocks)
}

func (w *Worker) handle(ctx context.Context, item tts.WorkItem) {
	switch it := item.(type) {
	case tts.EndItem:
		w.finalize(false)
	case tts.ContentItem:
		w.handleContent(ctx, it)
	default:
		log.Warn("Unknown work item", "type", item)
	}
}

func (w *Worker) handleContent(ctx context.Context, it tts.ContentItem) {
	ticket := w.token.Ticket()
	voice := orpheus.ResolveVoice(it.Voice)
	raw := it.Segment.Text

	if it.Segment.MessageStart {
		if w.current != nil {
			log.Warn("Message audio already exists, replacing", "id", w.current.ID)
		}
		w.current = &MessageAudio{
			ID:       uuid.NewString(),
			Text:     raw,
			Voice:    voice,
			KeepData: w.cfg.KeepData(),
		}
	} else if w.current != nil {
		w.current.Text = strings.TrimSpace(w.current.Text + " " + raw)
	}

	speech := raw
	if it.ShouldMassage {
		speech = massage.ForSpeech(raw)
	}

	var sink func(audio.Block)
	if msg := w.current; msg != nil {
		sink = func(b audio.Block) {
			msg.Samples += len(b)
			if msg.KeepData {
				msg.Blocks = append(msg.Blocks, b)
			}
		}
	}

	pctx, cancelFn := w.token.Context(ctx)
	res := w.gen.Produce(pctx, ticket, producer.Request{Display: raw, Speech: speech, Voice: voice}, sink)
	cancelFn()

	log.Debug("Segment done",
		"text", massage.ForLog(raw),
		"voice", voice,
		"samples", res.Samples,
		"dropped", res.Dropped,
		"cached", res.Cached,
		"stopped", res.Stopped,
		"ttfb", res.TTFB)

	if ticket.Canceled() {
		w.finalize(true)
	}
}

// finalize closes the current message. A truncated message is saved only
// when it kept audio; a complete one is saved or its length is reported.
func (w *Worker) finalize(truncated bool) {
	msg := w.current
	if msg == nil {
		return
	}
	w.current = nil

	if msg.KeepData && len(msg.Blocks) > 0 {
		if w.saver != nil {
			w.saver.SaveAsync(msg.Text, msg.Voice, truncated, msg.Blocks)
		}
		return
	}
	if !truncated {
		w.events.Logf(log.InfoLevel, "Generation complete (audio length: %.1fs)", msg.Duration().Seconds())
	}
}
