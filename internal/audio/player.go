package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/orpheus-tts/internal/playsync"
	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

// State represents the player's lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateUnderflow
	StateResetting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateUnderflow:
		return "underflow"
	case StateResetting:
		return "resetting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultDepthInterval throttles buffer depth events.
const DefaultDepthInterval = 100 * time.Millisecond

// PlayerConfig holds player settings.
type PlayerConfig struct {
	// DepthInterval is the minimum time between buffer depth events
	DepthInterval time.Duration
}

// Player owns the output stream. Its callback drains the ring, advances the
// timeline and releases synchronized text when its audio starts playing.
type Player struct {
	device   Device
	ring     *Ring
	timeline *playsync.Timeline
	events   *tts.Events
	cfg      PlayerConfig
	now      func() time.Time

	state  atomic.Int32
	resets atomic.Uint64

	mu     sync.Mutex
	stream Stream

	resetCh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// Touched only from the callback.
	lastDepthAt    time.Time
	lastDepthValue float64
}

// NewPlayer creates a player; call Start to open the device.
func NewPlayer(device Device, ring *Ring, timeline *playsync.Timeline, events *tts.Events, cfg PlayerConfig) *Player {
	if cfg.DepthInterval <= 0 {
		cfg.DepthInterval = DefaultDepthInterval
	}
	return &Player{
		device:   device,
		ring:     ring,
		timeline: timeline,
		events:   events,
		cfg:      cfg,
		now:      time.Now,
		resetCh:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start opens the output stream. A failure is reported once and leaves the
// player closed for the rest of the session.
func (p *Player) Start() error {
	if !p.state.CompareAndSwap(int32(StateUninitialized), int32(StateRunning)) {
		return fmt.Errorf("player already started (%s)", p.State())
	}

	stream, err := p.device.Open(p.Callback)
	if err != nil {
		p.state.Store(int32(StateClosed))
		terr := tts.NewTTSError(tts.ErrorCodeDevice, "error initializing audio stream, audio output will be disabled", err)
		p.events.Logf(log.ErrorLevel, "%v", terr)
		return terr
	}

	p.mu.Lock()
	p.stream = stream
	p.mu.Unlock()

	log.Debug("Audio stream started", "device", p.device.Describe())

	p.wg.Add(1)
	go p.resetLoop()
	return nil
}

// State returns the current state.
func (p *Player) State() State {
	return State(p.state.Load())
}

// Enabled reports whether audio output is available.
func (p *Player) Enabled() bool {
	s := p.State()
	return s != StateUninitialized && s != StateClosed
}

// Resets returns how many times the stream was reset after an underflow.
func (p *Player) Resets() uint64 {
	return p.resets.Load()
}

// Describe returns the device description.
func (p *Player) Describe() string {
	return p.device.Describe()
}

// Callback is the device callback. It never blocks: the ring pop and the
// event emits are non-blocking and the timeline lock is held only for a
// slice operation.
func (p *Player) Callback(out []int16, status Status) {
	defer func() {
		if r := recover(); r != nil {
			clear(out)
			p.warn("Audio callback error: %v", r)
		}
	}()

	tick := p.timeline.Advance()
	before := p.ring.Len()

	if status.Underflow {
		clear(out)
		if p.state.CompareAndSwap(int32(StateRunning), int32(StateUnderflow)) {
			p.warn("Audio buffer underflow, resetting stream.")
			select {
			case p.resetCh <- struct{}{}:
			default:
			}
		}
		return
	}

	if block, ok := p.ring.TryPop(); ok {
		switch {
		case len(block) == len(out):
			copy(out, block)
		case len(block) < len(out):
			p.warn("Audio chunk smaller (%d) than expected (%d), will pad", len(block), len(out))
			n := copy(out, block)
			clear(out[n:])
		default:
			p.warn("Audio chunk larger (%d) than expected (%d), will truncate", len(block), len(out))
			copy(out, block[:len(out)])
		}
	} else {
		clear(out)
	}

	p.reportDepth(before)

	if item, ok := p.timeline.PopDue(tick); ok {
		p.events.Emit(tts.SyncedTextEvent{Text: item.Text})
	}
}

func (p *Player) reportDepth(before int) {
	depth := p.ring.Len()
	seconds := BlockSeconds(depth)
	now := p.now()

	due := now.Sub(p.lastDepthAt) > p.cfg.DepthInterval && seconds != p.lastDepthValue
	depleted := depth == 0 && before > 0
	if !due && !depleted {
		return
	}
	p.events.Emit(tts.BufferEvent{Seconds: seconds, Depleted: depleted})
	p.lastDepthAt = now
	p.lastDepthValue = seconds
}

func (p *Player) warn(format string, args ...interface{}) {
	p.events.Emit(tts.LogEvent{Level: log.WarnLevel, Text: fmt.Sprintf(format, args...)})
}

func (p *Player) resetLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-p.resetCh:
			p.reset()
		}
	}
}

// reset closes and reopens the stream and clears stale audio.
func (p *Player) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.CompareAndSwap(int32(StateUnderflow), int32(StateResetting)) {
		return
	}
	log.Info("Resetting audio stream")

	if p.stream != nil {
		if err := p.stream.Close(); err != nil {
			log.Error("Error closing audio stream", "err", err)
		}
		p.stream = nil
	}
	p.ring.Clear()

	stream, err := p.device.Open(p.Callback)
	if err != nil {
		p.state.Store(int32(StateClosed))
		terr := tts.NewTTSError(tts.ErrorCodeDevice, "could not reopen audio stream, audio output disabled", err)
		p.events.Logf(log.ErrorLevel, "%v", terr)
		return
	}
	p.stream = stream
	p.resets.Add(1)
	p.state.CompareAndSwap(int32(StateResetting), int32(StateRunning))
	log.Info("Audio stream reset complete")
}

// Close stops the stream. The player cannot be restarted.
func (p *Player) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.state.Store(int32(StateClosed))
		close(p.done)
		p.wg.Wait()

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.stream != nil {
			err = p.stream.Close()
			p.stream = nil
		}
		log.Debug("Audio stream stopped and closed")
	})
	return err
}
