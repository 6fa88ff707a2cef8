package ui

import (
	"context"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/orpheus-tts/internal/app"
	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

type fakeSession struct {
	mu        sync.Mutex
	submitted []string
	stops     int
	busy      bool
	err       error
}

func (f *fakeSession) Submit(_ context.Context, input string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, input)
	return f.err
}

func (f *fakeSession) StopAll() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeSession) Title() string { return "Orpheus (direct input mode) (voice: tara)" }

func (f *fakeSession) Busy() bool { return f.busy }

func newTestModel(s Session) model {
	cfg := Config{GlamourStyle: "dark", LogLines: 3, MaxWidth: 80}
	m := newModel(cfg, s, make(chan tts.Event))
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return next.(model)
}

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(model), cmd
}

func TestModelSubmit(t *testing.T) {
	s := &fakeSession{}
	m := newTestModel(s)

	m.input.SetValue("Hello there.")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("Expected a submit command")
	}
	if m.input.Value() != "" {
		t.Errorf("Expected input to be reset, got %q", m.input.Value())
	}

	msg := cmd()
	if _, ok := msg.(submitErrMsg); !ok {
		t.Fatalf("Expected submitErrMsg, got %T", msg)
	}
	if len(s.submitted) != 1 || s.submitted[0] != "Hello there." {
		t.Errorf("Expected one submission, got %v", s.submitted)
	}
}

func TestModelBlankInputIgnored(t *testing.T) {
	s := &fakeSession{}
	m := newTestModel(s)

	m.input.SetValue("   ")
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Error("Expected no command for blank input")
	}
}

func TestModelQuit(t *testing.T) {
	m := newTestModel(&fakeSession{})

	_, cmd := update(t, m, submitErrMsg{app.ErrQuit})
	if cmd == nil {
		t.Fatal("Expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("Expected tea.QuitMsg")
	}
	if m.ctx.Err() == nil {
		t.Error("Expected the model context to be canceled")
	}
}

func TestModelEscapeStops(t *testing.T) {
	s := &fakeSession{}
	m := newTestModel(s)

	update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if s.stops != 1 {
		t.Errorf("Expected 1 stop, got %d", s.stops)
	}
}

func TestModelEvents(t *testing.T) {
	s := &fakeSession{busy: true}
	m := newTestModel(s)

	m, _ = update(t, m, eventMsg{tts.ContentEvent{Kind: tts.ContentUser, Text: "One. Two."}})
	m, _ = update(t, m, eventMsg{tts.SyncedTextEvent{Text: "Two."}})
	if m.transcript.hlEnd == 0 {
		t.Fatal("Expected a highlight after a synced text event")
	}

	// Still busy: a momentary underrun keeps the highlight.
	m, _ = update(t, m, eventMsg{tts.BufferEvent{Depleted: true}})
	if m.transcript.hlEnd == 0 {
		t.Error("Expected highlight to survive an underrun while busy")
	}

	s.busy = false
	m, _ = update(t, m, eventMsg{tts.BufferEvent{Depleted: true}})
	if m.transcript.hlEnd != 0 {
		t.Error("Expected highlight to clear once playback is done")
	}

	m, _ = update(t, m, eventMsg{tts.StatusEvent{Status: tts.GenStatus{Text: "One.", Finished: true}}})
	if !m.status.Idle() {
		t.Error("Expected status to be idle after a finished event")
	}

	m, _ = update(t, m, eventMsg{tts.LogEvent{Level: log.WarnLevel, Text: "careful"}})
	view := m.View()
	for _, want := range []string{"One.", "careful", "voice: tara"} {
		if !strings.Contains(view, want) {
			t.Errorf("Expected view to contain %q", want)
		}
	}
}

func TestModelLogPaneKeepsLastLines(t *testing.T) {
	m := newTestModel(&fakeSession{})
	for _, line := range []string{"a1", "a2", "a3", "a4", "a5"} {
		m, _ = update(t, m, eventMsg{tts.LogEvent{Level: log.InfoLevel, Text: line}})
	}

	out := m.logView()
	if strings.Contains(out, "a2") || !strings.Contains(out, "a5") {
		t.Errorf("Expected only the last 3 lines, got %q", out)
	}
}
