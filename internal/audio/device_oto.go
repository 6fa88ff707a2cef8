//go:build !nocgo
// +build !nocgo

package audio

import (
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// DefaultStallThreshold is how long the device may go without pulling audio
// before the next callback reports an underflow.
const DefaultStallThreshold = 500 * time.Millisecond

// OtoConfig configures the oto device.
type OtoConfig struct {
	// BufferSize is the driver buffer; zero picks a per-platform default
	BufferSize time.Duration

	// StallThreshold is the read gap treated as an underflow
	StallThreshold time.Duration

	// ReadyTimeout bounds driver initialization
	ReadyTimeout time.Duration
}

// The oto context can only be created once per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

func platformBufferSize() time.Duration {
	switch runtime.GOOS {
	case "darwin":
		return 100 * time.Millisecond
	case "windows":
		return 80 * time.Millisecond
	default:
		return 50 * time.Millisecond
	}
}

func otoContext(cfg OtoConfig) (*oto.Context, error) {
	otoOnce.Do(func() {
		options := &oto.NewContextOptions{
			SampleRate:   SampleRate,
			ChannelCount: Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   cfg.BufferSize,
		}

		log.Debug("Initializing audio context",
			"sample_rate", options.SampleRate,
			"channels", options.ChannelCount,
			"buffer_size", options.BufferSize)

		ctx, ready, err := oto.NewContext(options)
		if err != nil {
			otoErr = fmt.Errorf("failed to create audio context: %w", err)
			return
		}

		select {
		case <-ready:
			otoCtx = ctx
		case <-time.After(cfg.ReadyTimeout):
			otoErr = fmt.Errorf("audio context initialization timeout after %v", cfg.ReadyTimeout)
		}
	})
	return otoCtx, otoErr
}

// OtoDevice plays through the system output using oto.
type OtoDevice struct {
	cfg OtoConfig
}

// NewOtoDevice creates an oto backed device. The driver is initialized on
// the first Open.
func NewOtoDevice(cfg OtoConfig) *OtoDevice {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = platformBufferSize()
	}
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = DefaultStallThreshold
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Second
	}
	return &OtoDevice{cfg: cfg}
}

// Describe implements Device.
func (d *OtoDevice) Describe() string {
	return fmt.Sprintf("oto %s (%d Hz, %d ch, %v buffer)", runtime.GOOS, SampleRate, Channels, d.cfg.BufferSize)
}

// Open implements Device.
func (d *OtoDevice) Open(cb Callback) (Stream, error) {
	ctx, err := otoContext(d.cfg)
	if err != nil {
		return nil, err
	}

	r := &blockReader{
		cb:        cb,
		threshold: d.cfg.StallThreshold,
		samples:   make([]int16, BlockSize),
		buf:       make([]byte, 0, BlockSize*BytesPerSample),
	}
	p := ctx.NewPlayer(r)
	p.SetBufferSize(2 * BlockSize * BytesPerSample)
	p.Play()

	return &otoStream{player: p, reader: r}, nil
}

// blockReader adapts the pull callback to the io.Reader oto consumes.
// oto reads arbitrary byte counts; whole blocks are produced and sliced.
type blockReader struct {
	cb        Callback
	threshold time.Duration

	mu       sync.Mutex
	closed   bool
	lastRead time.Time
	samples  []int16
	buf      []byte
	pending  []byte
}

func (r *blockReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, io.EOF
	}

	now := time.Now()
	stalled := !r.lastRead.IsZero() && now.Sub(r.lastRead) > r.threshold
	r.lastRead = now

	n := 0
	for n < len(p) {
		if len(r.pending) == 0 {
			r.cb(r.samples, Status{Underflow: stalled})
			stalled = false
			r.buf = EncodePCM16LE(r.buf[:0], r.samples)
			r.pending = r.buf
		}
		c := copy(p[n:], r.pending)
		r.pending = r.pending[c:]
		n += c
	}
	return n, nil
}

func (r *blockReader) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

type otoStream struct {
	player *oto.Player
	reader *blockReader
}

func (s *otoStream) Close() error {
	s.reader.close()
	s.player.Pause()
	return s.player.Close()
}
