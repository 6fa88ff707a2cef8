package audio

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/orpheus-tts/internal/playsync"
	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

type playerFixture struct {
	dev      *MockDevice
	ring     *Ring
	timeline *playsync.Timeline
	events   *tts.Events
	player   *Player
}

func newPlayerFixture(t *testing.T, ringBlocks int) *playerFixture {
	t.Helper()
	f := &playerFixture{
		dev:      NewMockDevice(),
		ring:     NewRing(ringBlocks, 10*time.Millisecond),
		timeline: playsync.New(),
		events:   tts.NewEvents(4096),
	}
	f.player = NewPlayer(f.dev, f.ring, f.timeline, f.events, PlayerConfig{})
	if err := f.player.Start(); err != nil {
		t.Fatalf("Failed to start player: %v", err)
	}
	t.Cleanup(func() { _ = f.player.Close() })
	return f
}

func collectEvents(ev *tts.Events) []tts.Event {
	var out []tts.Event
	for {
		select {
		case e := <-ev.C():
			out = append(out, e)
		default:
			return out
		}
	}
}

func filledBlock(n int, v int16) Block {
	b := make(Block, n)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestPlayer_SilenceWhenEmpty(t *testing.T) {
	f := newPlayerFixture(t, 8)

	out, ok := f.dev.Pull(Status{})
	if !ok {
		t.Fatal("Expected an open stream")
	}
	for i, s := range out {
		if s != 0 {
			t.Fatalf("Expected silence, sample %d is %d", i, s)
		}
	}
	if f.timeline.Tick() != 1 {
		t.Errorf("Expected tick 1, got %d", f.timeline.Tick())
	}
}

func TestPlayer_BlockSizesArePaddedOrTruncated(t *testing.T) {
	f := newPlayerFixture(t, 64)
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 200; i++ {
		n := rng.IntN(2 * BlockSize)
		if err := f.ring.Put(context.Background(), filledBlock(n, 7)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		out, _ := f.dev.Pull(Status{})
		if len(out) != BlockSize {
			t.Fatalf("Expected %d samples, got %d", BlockSize, len(out))
		}
		for j, s := range out {
			want := int16(0)
			if j < n {
				want = 7
			}
			if s != want {
				t.Fatalf("Block of %d: sample %d expected %d, got %d", n, j, want, s)
			}
		}
	}

	var warnings int
	for _, e := range collectEvents(f.events) {
		if le, ok := e.(tts.LogEvent); ok && le.Level == log.WarnLevel {
			warnings++
		}
	}
	if warnings == 0 {
		t.Error("Expected size mismatch warnings")
	}
}

func TestPlayer_DepletedEdge(t *testing.T) {
	f := newPlayerFixture(t, 8)
	fixed := time.Unix(1000, 0)
	f.player.now = func() time.Time { return fixed }

	for i := 0; i < 2; i++ {
		_ = f.ring.Put(context.Background(), filledBlock(BlockSize, 1))
	}
	f.dev.Pull(Status{})
	f.dev.Pull(Status{})
	f.dev.Pull(Status{}) // already empty, no second edge

	var buffers []tts.BufferEvent
	for _, e := range collectEvents(f.events) {
		if be, ok := e.(tts.BufferEvent); ok {
			buffers = append(buffers, be)
		}
	}
	if len(buffers) != 2 {
		t.Fatalf("Expected 2 buffer events, got %d: %+v", len(buffers), buffers)
	}
	if buffers[0].Depleted || buffers[0].Seconds != BlockSeconds(1) {
		t.Errorf("Unexpected first event %+v", buffers[0])
	}
	if !buffers[1].Depleted || buffers[1].Seconds != 0 {
		t.Errorf("Expected depleted event, got %+v", buffers[1])
	}
}

func TestPlayer_SyncedTextReleasedWithAudio(t *testing.T) {
	f := newPlayerFixture(t, 8)

	_ = f.ring.Put(context.Background(), filledBlock(BlockSize, 1))
	_ = f.ring.Put(context.Background(), filledBlock(BlockSize, 2))
	f.timeline.ScheduleAfter(f.ring.Len(), "second")
	f.timeline.Schedule(0, "late") // must wait behind "second"

	var released []string
	var firstSample []int16
	for i := 0; i < 4; i++ {
		out, _ := f.dev.Pull(Status{})
		firstSample = append(firstSample, out[0])
		for _, e := range collectEvents(f.events) {
			if se, ok := e.(tts.SyncedTextEvent); ok {
				released = append(released, se.Text)
				if se.Text == "second" && out[0] != 2 {
					t.Errorf("Expected text with its block, playing sample %d", out[0])
				}
			}
		}
	}

	if len(released) != 2 || released[0] != "second" || released[1] != "late" {
		t.Errorf("Expected [second late], got %v", released)
	}
}

func TestPlayer_UnderflowResetsStream(t *testing.T) {
	f := newPlayerFixture(t, 8)
	_ = f.ring.Put(context.Background(), filledBlock(BlockSize, 3))

	out, _ := f.dev.Pull(Status{Underflow: true})
	for _, s := range out {
		if s != 0 {
			t.Fatal("Expected silence on underflow")
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.player.Resets() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.player.Resets() != 1 {
		t.Fatalf("Expected 1 reset, got %d", f.player.Resets())
	}
	if f.player.State() != StateRunning {
		t.Errorf("Expected running after reset, got %s", f.player.State())
	}
	if f.dev.Opens() != 2 || f.dev.Closes() != 1 {
		t.Errorf("Expected reopen, got %d opens %d closes", f.dev.Opens(), f.dev.Closes())
	}
	if f.ring.Len() != 0 {
		t.Errorf("Expected ring cleared on reset, got %d blocks", f.ring.Len())
	}
}

func TestPlayer_OpenFailureDisablesAudio(t *testing.T) {
	dev := NewMockDevice()
	dev.FailOpen = 0
	events := tts.NewEvents(16)
	p := NewPlayer(dev, NewRing(4, 0), playsync.New(), events, PlayerConfig{})

	err := p.Start()
	if err == nil {
		t.Fatal("Expected start to fail")
	}
	if tts.CodeOf(err) != tts.ErrorCodeDevice {
		t.Errorf("Expected device error, got %v", tts.CodeOf(err))
	}
	if p.Enabled() {
		t.Error("Expected audio disabled")
	}
	if err := p.Start(); err == nil {
		t.Error("Expected second start to be rejected")
	}

	var errs int
	for _, e := range collectEvents(events) {
		if le, ok := e.(tts.LogEvent); ok && le.Level == log.ErrorLevel {
			errs++
		}
	}
	if errs != 1 {
		t.Errorf("Expected failure reported once, got %d", errs)
	}
}

func TestPlayer_CallbackNeverBlocks(t *testing.T) {
	f := newPlayerFixture(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			_ = f.ring.Put(ctx, filledBlock(BlockSize, 1))
			f.timeline.ScheduleAfter(f.ring.Len(), "x")
		}
	}()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5000; i++ {
			f.dev.Pull(Status{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Callbacks did not complete")
	}
	cancel()
	wg.Wait()
}

func TestPlayer_CloseIsIdempotent(t *testing.T) {
	f := newPlayerFixture(t, 4)
	if err := f.player.Close(); err != nil {
		t.Errorf("Unexpected close error: %v", err)
	}
	if err := f.player.Close(); err != nil {
		t.Errorf("Unexpected second close error: %v", err)
	}
	if f.dev.IsOpen() {
		t.Error("Expected stream closed")
	}
	if f.player.State() != StateClosed {
		t.Errorf("Expected closed, got %s", f.player.State())
	}
}
