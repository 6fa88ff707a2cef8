package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/orpheus-tts/internal/audio"
	"github.com/dgnsrekt/orpheus-tts/internal/config"
	"github.com/dgnsrekt/orpheus-tts/internal/orpheus"
	"github.com/dgnsrekt/orpheus-tts/internal/prefs"
	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

// fakeSource yields one codec window of tokens per request.
type fakeSource struct {
	pingErr error

	mu    sync.Mutex
	texts []string
}

func (s *fakeSource) Stream(ctx context.Context, text, voice string, fn func(string) bool) error {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	for i := 0; i < orpheus.WindowSize; i++ {
		if ctx.Err() != nil {
			return tts.ErrCanceled
		}
		tok := fmt.Sprintf("<custom_token_%d>", 10+(i%orpheus.FrameTokens)*4096+100)
		if !fn(tok) {
			return nil
		}
	}
	return nil
}

func (s *fakeSource) Fingerprint() string { return "fake" }
func (s *fakeSource) URL() string         { return "http://orpheus.test/v1/completions" }

func (s *fakeSource) Ping(ctx context.Context) (orpheus.PingResult, error) {
	if s.pingErr != nil {
		return orpheus.PingResult{}, s.pingErr
	}
	return orpheus.PingResult{Latency: 12 * time.Millisecond}, nil
}

func (s *fakeSource) requested() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// fakeChat streams its deltas, then optionally blocks until canceled.
type fakeChat struct {
	deltas []string
	block  bool

	mu       sync.Mutex
	prompts  []string
	cleared  int
	canceled chan struct{}
}

func (c *fakeChat) Stream(ctx context.Context, prompt string, fn func(string)) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()

	var sb strings.Builder
	for _, d := range c.deltas {
		sb.WriteString(d)
		fn(d)
	}
	if c.block {
		<-ctx.Done()
		close(c.canceled)
		return sb.String(), tts.ErrCanceled
	}
	return sb.String(), nil
}

func (c *fakeChat) Clear() {
	c.mu.Lock()
	c.cleared++
	c.mu.Unlock()
}

type harness struct {
	p       *Pipeline
	s       *Session
	src     *fakeSource
	store   *prefs.Store
	device  *audio.MockDevice
	copied  []string
	saveDir string
}

func newHarness(t *testing.T, chat Chatter, mutate func(*config.Config)) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Orpheus.URL = "http://orpheus.test/v1/completions"
	cfg.Save.Dir = filepath.Join(t.TempDir(), "saved")
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		src:     &fakeSource{},
		device:  audio.NewMockDevice(),
		saveDir: cfg.Save.Dir,
	}
	events := tts.NewEvents(4096)

	var err error
	h.store, err = prefs.Open(filepath.Join(t.TempDir(), prefs.FileName), chat != nil, events)
	if err != nil {
		t.Fatalf("Failed to open prefs: %v", err)
	}

	codec := orpheus.CodecFunc(func(ctx context.Context, window []int, count int) ([]int16, error) {
		return make([]int16, audio.BlockSize), nil
	})
	h.p, err = NewPipeline(cfg, Options{
		Events:   events,
		Device:   h.device,
		Codec:    codec,
		Source:   h.src,
		KeepData: func() bool { return h.store.Get().SaveAudio },
	})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	h.s = NewSession(h.p, h.store, chat, SessionConfig{
		ChatURL:    "http://chat.test/v1",
		ConfigPath: "orpheus.yml",
		Clipboard: func(s string) error {
			h.copied = append(h.copied, s)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.p.Start(ctx)
	t.Cleanup(func() {
		h.s.Close()
		cancel()
		if err := h.p.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return h
}

// collect gathers events until done reports true or time runs out.
func (h *harness) collect(t *testing.T, done func([]tts.Event) bool) []tts.Event {
	t.Helper()
	var got []tts.Event
	deadline := time.After(2 * time.Second)
	for !done(got) {
		select {
		case e := <-h.p.Events.C():
			got = append(got, e)
		case <-deadline:
			t.Fatalf("Timed out collecting events, got %d", len(got))
		case <-time.After(5 * time.Millisecond):
		}
	}
	return got
}

func contents(events []tts.Event, kind tts.ContentKind) []tts.ContentEvent {
	var out []tts.ContentEvent
	for _, e := range events {
		if ce, ok := e.(tts.ContentEvent); ok && ce.Kind == kind {
			out = append(out, ce)
		}
	}
	return out
}

func hasContent(kind tts.ContentKind, n int) func([]tts.Event) bool {
	return func(events []tts.Event) bool {
		return len(contents(events, kind)) >= n
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSession_Commands(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		check func(t *testing.T, h *harness)
	}{
		{
			name:  "voice without value",
			input: "!voice",
			want:  `No value for voice provided (eg, "!voice=tara")`,
		},
		{
			name:  "bare voice name",
			input: "!zoe",
			want:  `Changed voice to: "zoe"`,
			check: func(t *testing.T, h *harness) {
				if v := h.store.Get().Voice; v != "zoe" {
					t.Errorf("Expected voice zoe, got %q", v)
				}
			},
		},
		{
			name:  "custom voice",
			input: "!voice = bob",
			want:  `Changed voice to: "bob" (Value is not one of the default Orpheus voices)`,
		},
		{
			name:  "random voice",
			input: "!random",
			want:  "Changed voice to: Random voice per generated audio segment",
		},
		{
			name:  "stop",
			input: "!s",
			want:  "Stopped",
		},
		{
			name:  "already direct",
			input: "!direct",
			want:  `Already in "direct input mode"`,
		},
		{
			name:  "chat disabled",
			input: "!c",
			want:  `Can't. Chat mode is disabled (edit "orpheus.yml").`,
		},
		{
			name:  "clear outside chat",
			input: "!clear",
			want:  `Not in "chat mode"`,
		},
		{
			name:  "nothing to copy",
			input: "!copy",
			want:  "Nothing to copy yet",
		},
		{
			name:  "unknown command",
			input: "!sav",
			want:  "No such command: !sav Did you mean !save?",
		},
		{
			name:  "save on",
			input: "!save",
			check: func(t *testing.T, h *harness) {
				if !h.store.Get().SaveAudio {
					t.Error("Expected saving enabled")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, nil)
			if err := h.s.Submit(context.Background(), tt.input); err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
			got := contents(h.collect(t, hasContent(tts.ContentFeedback, 1)), tts.ContentFeedback)
			if tt.want != "" && got[0].Text != tt.want {
				t.Errorf("Expected feedback %q, got %q", tt.want, got[0].Text)
			}
			if tt.check != nil {
				tt.check(t, h)
			}
		})
	}
}

func TestSession_SaveToggle(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	_ = h.s.Submit(ctx, "!save")
	got := contents(h.collect(t, hasContent(tts.ContentFeedback, 1)), tts.ContentFeedback)
	want := "\"Save audio output to disk\" set to: on\n" + h.saveDir
	if got[0].Text != want {
		t.Errorf("Expected %q, got %q", want, got[0].Text)
	}

	_ = h.s.Submit(ctx, "!save")
	got = contents(h.collect(t, hasContent(tts.ContentFeedback, 1)), tts.ContentFeedback)
	if got[0].Text != `"Save audio output to disk" set to: off` {
		t.Errorf("Unexpected feedback %q", got[0].Text)
	}
	if h.store.Get().SaveAudio {
		t.Error("Expected saving disabled")
	}
}

func TestSession_HelpAndQuit(t *testing.T) {
	h := newHarness(t, nil, nil)

	_ = h.s.Submit(context.Background(), "!help")
	menu := contents(h.collect(t, hasContent(tts.ContentMenu, 1)), tts.ContentMenu)
	if !strings.Contains(menu[0].Text, "`!stop`") || !strings.Contains(menu[0].Text, "direct input mode") {
		t.Errorf("Unexpected menu %q", menu[0].Text)
	}

	if err := h.s.Submit(context.Background(), "!q"); !errors.Is(err, ErrQuit) {
		t.Errorf("Expected ErrQuit, got %v", err)
	}
}

func TestSession_SpeakDirect(t *testing.T) {
	h := newHarness(t, nil, nil)

	input := "Hello there. **Not** massaged!"
	if err := h.s.Submit(context.Background(), "  "+input+"\n"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	user := contents(h.collect(t, hasContent(tts.ContentUser, 1)), tts.ContentUser)
	if user[0].Text != input {
		t.Errorf("Expected user content %q, got %q", input, user[0].Text)
	}

	waitFor(t, "generation", func() bool { return len(h.src.requested()) == 2 && !h.p.Worker.Busy() })
	want := []string{"Hello there.", "**Not** massaged!"}
	for i, w := range want {
		if got := h.src.requested()[i]; got != w {
			t.Errorf("Expected request %d to be %q, got %q", i, w, got)
		}
	}
	if h.s.LastMessage() != input {
		t.Errorf("Expected last message %q, got %q", input, h.s.LastMessage())
	}

	// Play everything out and check the first segment is highlighted.
	events := h.collect(t, func(events []tts.Event) bool {
		h.device.Pull(audio.Status{})
		for _, e := range events {
			if st, ok := e.(tts.SyncedTextEvent); ok && st.Text == "Hello there." {
				return true
			}
		}
		return false
	})
	if len(events) == 0 {
		t.Error("Expected events while playing")
	}

	_ = h.s.Submit(context.Background(), "!copy")
	h.collect(t, hasContent(tts.ContentFeedback, 1))
	if len(h.copied) != 1 || h.copied[0] != input {
		t.Errorf("Expected last message copied, got %v", h.copied)
	}
}

func TestSession_ChatStreamsReply(t *testing.T) {
	chat := &fakeChat{deltas: []string{"Hi there. How", " are", " you?"}}
	h := newHarness(t, chat, nil)

	if h.store.Get().Mode != tts.ModeChat {
		t.Fatalf("Expected chat mode by default, got %q", h.store.Get().Mode)
	}
	if err := h.s.Submit(context.Background(), "Say hi"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	events := h.collect(t, hasContent(tts.ContentAssistant, 3))
	assistant := contents(events, tts.ContentAssistant)
	if assistant[0].Append || !assistant[1].Append || !assistant[2].Append {
		t.Errorf("Expected the first delta to open a block, got %+v", assistant)
	}

	waitFor(t, "reply spoken", func() bool { return len(h.src.requested()) == 2 && !h.p.Worker.Busy() })
	want := []string{"Hi there.", "How are you?"}
	for i, w := range want {
		if got := h.src.requested()[i]; got != w {
			t.Errorf("Expected request %d to be %q, got %q", i, w, got)
		}
	}
	waitFor(t, "last message", func() bool { return h.s.LastMessage() == "Hi there. How are you?" })

	_ = h.s.Submit(context.Background(), "!clear")
	got := contents(h.collect(t, hasContent(tts.ContentFeedback, 1)), tts.ContentFeedback)
	if got[0].Text != "Cleared chat history" || chat.cleared != 1 {
		t.Errorf("Expected history cleared, got %q (%d)", got[0].Text, chat.cleared)
	}
}

func TestSession_StopAbortsChat(t *testing.T) {
	chat := &fakeChat{deltas: []string{"First sentence. Second"}, block: true, canceled: make(chan struct{})}
	h := newHarness(t, chat, nil)

	_ = h.s.Submit(context.Background(), "Talk")
	waitFor(t, "first segment", func() bool { return len(h.src.requested()) == 1 })

	_ = h.s.Submit(context.Background(), "!stop")
	select {
	case <-chat.canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the chat stream to be canceled")
	}

	waitFor(t, "idle", func() bool { return !h.p.Worker.Busy() })
	time.Sleep(20 * time.Millisecond)
	if got := h.src.requested(); len(got) != 1 {
		t.Errorf("Expected nothing spoken after stop, got %v", got)
	}
	if h.p.Ring.Len() != 0 {
		t.Errorf("Expected an empty ring after stop, got %d blocks", h.p.Ring.Len())
	}
}

func TestSession_ChatMissing(t *testing.T) {
	h := newHarness(t, nil, nil)
	if err := h.store.SetMode(tts.ModeChat); !errors.Is(err, tts.ErrChatDisabled) {
		t.Fatalf("Expected chat mode refused, got %v", err)
	}
	if h.s.Title() != "Orpheus (direct input mode) (voice: leah)" {
		t.Errorf("Unexpected title %q", h.s.Title())
	}
}

func TestSession_StartupPing(t *testing.T) {
	tests := []struct {
		name    string
		pingErr error
		want    string
	}{
		{"online", nil, "Orpheus server online (12ms)"},
		{"offline", errors.New("connection refused"), "Orpheus service request failed: connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, nil)
			h.src.pingErr = tt.pingErr

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			h.s.Startup(ctx)

			events := h.collect(t, func(events []tts.Event) bool {
				for _, e := range events {
					if le, ok := e.(tts.LogEvent); ok && le.Text == tt.want {
						return true
					}
				}
				return false
			})
			if len(contents(events, tts.ContentMenu)) != 1 {
				t.Error("Expected the menu on startup")
			}
		})
	}
}

func TestPipeline_AudioDisabled(t *testing.T) {
	h := newHarness(t, nil, func(c *config.Config) { c.Audio.Disabled = true })
	if h.p.AudioEnabled() {
		t.Fatal("Expected audio disabled")
	}

	_ = h.s.Speak("Nobody hears this.")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.p.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if got := h.src.requested(); len(got) != 0 {
		t.Errorf("Expected no generation without audio, got %v", got)
	}
}

func TestPipeline_Drain(t *testing.T) {
	h := newHarness(t, nil, func(c *config.Config) { c.Audio.DeviceBuffer = time.Millisecond })
	_ = h.s.Speak("One. Two.")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				h.device.Pull(audio.Status{})
				time.Sleep(time.Millisecond)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.p.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if h.p.Ring.Len() != 0 || len(h.src.requested()) != 2 {
		t.Errorf("Expected everything generated and played, got %d blocks left", h.p.Ring.Len())
	}
}

func TestPipeline_Stats(t *testing.T) {
	cacheDir := t.TempDir()
	h := newHarness(t, nil, func(c *config.Config) {
		c.Cache.Enabled = true
		c.Cache.Dir = cacheDir
	})
	_ = h.s.Speak("One. Two.")
	waitFor(t, "generation", func() bool { return len(h.src.requested()) == 2 && !h.p.Worker.Busy() })

	st := h.p.Stats()
	if st.Queue.TotalEnqueued < 2 || st.Queue.CurrentSize != 0 {
		t.Errorf("Unexpected queue stats %+v", st.Queue)
	}
	if st.Ring.TotalAdded == 0 {
		t.Error("Expected blocks added to the ring")
	}
	if st.Cache == nil || st.Cache.Misses != 2 {
		t.Errorf("Expected two cache misses, got %+v", st.Cache)
	}

	if plain := newHarness(t, nil, nil); plain.p.Stats().Cache != nil {
		t.Error("Expected no cache stats with caching off")
	}
}
