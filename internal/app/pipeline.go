// Package app wires the speech pipeline together and runs the interactive
// session on top of it.
package app

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"

	"github.com/dgnsrekt/orpheus-tts/internal/audio"
	"github.com/dgnsrekt/orpheus-tts/internal/cache"
	"github.com/dgnsrekt/orpheus-tts/internal/cancel"
	"github.com/dgnsrekt/orpheus-tts/internal/config"
	"github.com/dgnsrekt/orpheus-tts/internal/orpheus"
	"github.com/dgnsrekt/orpheus-tts/internal/playsync"
	"github.com/dgnsrekt/orpheus-tts/internal/producer"
	"github.com/dgnsrekt/orpheus-tts/internal/queue"
	"github.com/dgnsrekt/orpheus-tts/internal/tts"
	"github.com/dgnsrekt/orpheus-tts/internal/wavsave"
	"github.com/dgnsrekt/orpheus-tts/internal/worker"
)

const drainPoll = 20 * time.Millisecond

// Source streams speech tokens and can check that the server is up.
type Source interface {
	producer.TokenSource
	Ping(ctx context.Context) (orpheus.PingResult, error)
	URL() string
}

// Options override parts of the pipeline. Zero values build the real
// components from the configuration.
type Options struct {
	Events *tts.Events
	Device audio.Device
	Codec  orpheus.Codec
	Source Source

	// KeepData reports whether messages keep their audio for saving
	KeepData func() bool

	// CacheDir is used when cache.dir is not configured
	CacheDir string
}

// Pipeline owns every stage between work items and the output device.
type Pipeline struct {
	Events   *tts.Events
	Timeline *playsync.Timeline
	Ring     *audio.Ring
	Token    *cancel.Token
	Source   Source
	Producer *producer.Producer
	Player   *audio.Player
	Saver    *wavsave.Saver
	Worker   *worker.Worker

	lifecycle *Lifecycle
	cancelRun context.CancelFunc
	tail      time.Duration
	cache     *cache.DiskCache
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Queue         queue.Stats
	Ring          audio.RingStats
	Cache         *cache.Stats
	DroppedEvents uint64
}

// NewPipeline builds the pipeline. Nothing runs until Start.
func NewPipeline(cfg config.Config, opts Options) (*Pipeline, error) {
	p := &Pipeline{
		Events:    opts.Events,
		Timeline:  playsync.New(),
		Ring:      audio.NewRing(cfg.RingCapacity(), cfg.Audio.PutTimeout),
		Token:     cancel.New(),
		lifecycle: NewLifecycle(DefaultShutdownTimeout),
		tail:      2 * cfg.Audio.DeviceBuffer,
	}
	if p.Events == nil {
		p.Events = tts.NewEvents(tts.DefaultEventsCapacity)
	}

	p.Source = opts.Source
	if p.Source == nil {
		client, err := orpheus.NewClient(cfg.OrpheusClientConfig(), orpheus.WithEvents(p.Events))
		if err != nil {
			return nil, err
		}
		p.Source = client
	}

	codec := opts.Codec
	if codec == nil {
		var err error
		if codec, err = cfg.NewCodec(); err != nil {
			return nil, err
		}
	}
	p.lifecycle.Register(ComponentFunc("codec", func(context.Context) error {
		return codec.Close()
	}))

	var popts []producer.Option
	if cfg.Cache.Enabled {
		if dc, err := OpenCache(cfg, opts.CacheDir); err != nil {
			p.Events.Logf(log.WarnLevel, "Segment cache disabled: %v", err)
		} else {
			p.cache = dc
			popts = append(popts, producer.WithCache(dc))
			p.lifecycle.Register(ComponentFunc("cache", func(context.Context) error {
				return dc.Close()
			}))
		}
	}
	p.Producer = producer.New(p.Source, codec, p.Ring, p.Timeline, p.Events, producer.Config{}, popts...)

	if dir, err := wavsave.ResolveDir(cfg.Save.Dir); err != nil {
		p.Events.Logf(log.WarnLevel, "Saving audio is unavailable: %v", err)
	} else {
		p.Saver = wavsave.NewSaver(dir, p.Events)
		p.lifecycle.Register(ComponentFunc("saver", func(context.Context) error {
			p.Saver.Wait()
			return nil
		}))
	}

	if !cfg.Audio.Disabled {
		device := opts.Device
		if device == nil {
			device = audio.NewOtoDevice(cfg.OtoConfig())
		}
		p.Player = audio.NewPlayer(device, p.Ring, p.Timeline, p.Events, audio.PlayerConfig{})
		p.lifecycle.Register(ComponentFunc("player", func(context.Context) error {
			p.Ring.Close()
			return p.Player.Close()
		}))
	}

	var saver worker.Saver
	if p.Saver != nil {
		saver = p.Saver
	}
	p.Worker = worker.New(p.Producer, p.Ring, p.Timeline, p.Token, p.Events, saver, worker.Config{
		KeepData:     opts.KeepData,
		AudioEnabled: p.AudioEnabled,
	})
	p.lifecycle.Register(ComponentFunc("worker", func(context.Context) error {
		p.Worker.Stop()
		p.Worker.Close()
		if p.cancelRun != nil {
			p.cancelRun()
		}
		p.logStats()
		return nil
	}))

	return p, nil
}

// OpenCache opens the segment cache. defaultDir is used when cache.dir is
// not configured; empty means the user cache directory.
func OpenCache(cfg config.Config, defaultDir string) (*cache.DiskCache, error) {
	if defaultDir == "" {
		dir, err := gap.NewScope(gap.User, "orpheus").CacheDir()
		if err != nil {
			return nil, err
		}
		defaultDir = filepath.Join(dir, "segments")
	}
	settings, err := cfg.CacheSettings(defaultDir)
	if err != nil {
		return nil, err
	}
	return cache.NewDiskCache(settings)
}

// Start opens the output device and starts the worker. A device that
// fails to open disables audio for the session; the failure has already
// been reported as a log event.
func (p *Pipeline) Start(ctx context.Context) {
	if p.Player != nil {
		if err := p.Player.Start(); err != nil {
			log.Debug("Continuing without audio output", "error", err)
		}
	} else {
		p.Events.Logf(log.WarnLevel, "Audio output is disabled in the configuration")
	}

	ctx, p.cancelRun = context.WithCancel(ctx)
	p.Worker.Start(ctx)
}

// AudioEnabled reports whether there is a working output stream.
func (p *Pipeline) AudioEnabled() bool {
	return p.Player != nil && p.Player.Enabled()
}

// Stop abandons all queued and in-flight speech, drops undelivered events
// and clears the highlight.
func (p *Pipeline) Stop() {
	p.Worker.Stop()
	p.Events.Drain()
	p.Events.Emit(tts.SyncedTextEvent{})
}

// Drain waits until every queued item has been generated and played.
func (p *Pipeline) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()

	for {
		if !p.Worker.Busy() && (p.Ring.Len() == 0 || !p.AudioEnabled()) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	// Let the device play out what it already pulled.
	if p.AudioEnabled() && p.tail > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.tail):
		}
	}
	return nil
}

// Stats returns current counters. Cache is nil when caching is off.
func (p *Pipeline) Stats() Stats {
	st := Stats{
		Queue:         p.Worker.Stats(),
		Ring:          p.Ring.Stats(),
		DroppedEvents: p.Events.Dropped(),
	}
	if p.cache != nil {
		cs := p.cache.Stats()
		st.Cache = &cs
	}
	return st
}

func (p *Pipeline) logStats() {
	st := p.Stats()
	kv := []interface{}{
		"items", st.Queue.TotalEnqueued,
		"items_discarded", st.Queue.TotalCleared,
		"blocks", st.Ring.TotalAdded,
		"blocks_dropped", st.Ring.TotalDropped,
		"events_dropped", st.DroppedEvents,
	}
	if st.Cache != nil {
		kv = append(kv, "cache_hits", st.Cache.Hits, "cache_misses", st.Cache.Misses)
	}
	log.Debug("Pipeline stats", kv...)
}

// NotifySignals calls onSignal on SIGINT or SIGTERM until Close.
func (p *Pipeline) NotifySignals(onSignal func(os.Signal)) {
	p.lifecycle.NotifySignals(onSignal)
}

// Close shuts the pipeline down. It is safe to call more than once.
func (p *Pipeline) Close() error {
	return p.lifecycle.Shutdown()
}
