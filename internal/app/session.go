package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/log"
	"github.com/sahilm/fuzzy"

	"github.com/dgnsrekt/orpheus-tts/internal/orpheus"
	"github.com/dgnsrekt/orpheus-tts/internal/prefs"
	"github.com/dgnsrekt/orpheus-tts/internal/segment"
	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

// Name is shown in the title.
const Name = "Orpheus"

// ErrQuit is returned by Submit when the user asked to exit.
var ErrQuit = errors.New("quit requested")

// commands lists every command name, for suggestions.
var commands = []string{"chat", "direct", "voice", "stop", "clear", "save", "copy", "help", "menu", "quit"}

// Chatter streams replies from a chat model.
type Chatter interface {
	Stream(ctx context.Context, prompt string, fn func(delta string)) (string, error)
	Clear()
}

// SessionConfig holds session settings.
type SessionConfig struct {
	// ChatURL is shown when switching to chat mode
	ChatURL string

	// ConfigPath is shown when chat mode is unavailable
	ConfigPath string

	Segmenter []segment.Option

	// Clipboard copies text; defaults to the system clipboard
	Clipboard func(string) error
}

// Session turns user input into commands, direct speech or chat requests.
type Session struct {
	p     *Pipeline
	prefs *prefs.Store
	chat  Chatter
	cfg   SessionConfig

	mu          sync.Mutex
	chatCancel  context.CancelFunc
	lastMessage string

	wg sync.WaitGroup
}

// NewSession creates a session. chat is nil when chat mode is disabled.
func NewSession(p *Pipeline, store *prefs.Store, chat Chatter, cfg SessionConfig) *Session {
	if cfg.Clipboard == nil {
		cfg.Clipboard = clipboard.WriteAll
	}
	return &Session{p: p, prefs: store, chat: chat, cfg: cfg}
}

// Events returns the pipeline's event bus.
func (s *Session) Events() *tts.Events {
	return s.p.Events
}

// Title describes the current mode and voice.
func (s *Session) Title() string {
	p := s.prefs.Get()
	mode := "direct input mode"
	if p.Mode == tts.ModeChat {
		mode = "chat mode"
	}
	return fmt.Sprintf("%s (%s) (voice: %s)", Name, mode, p.Voice)
}

// Startup prints the menu, checks the speech server in the background and
// follows external edits of the preferences until ctx ends.
func (s *Session) Startup(ctx context.Context) {
	s.p.Events.Emit(tts.ContentEvent{Kind: tts.ContentMenu, Text: s.Menu()})

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.ping(ctx)
	}()
	go func() {
		defer s.wg.Done()
		err := s.prefs.Watch(ctx, func(p prefs.Prefs) {
			s.p.Events.Logf(log.InfoLevel, "Preferences reloaded (mode: %s, voice: %s)", p.Mode, p.Voice)
		})
		if err != nil {
			log.Warn("Not watching preferences", "error", err)
		}
	}()
}

func (s *Session) ping(ctx context.Context) {
	url := s.p.Source.URL()
	s.p.Events.Logf(log.InfoLevel, "Pinging Orpheus server %s", url)

	res, err := s.p.Source.Ping(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.p.Events.Logf(log.ErrorLevel, "Orpheus service request failed: %v", err)
		s.p.Events.Emit(tts.ContentEvent{
			Kind: tts.ContentFeedback,
			Text: fmt.Sprintf("Orpheus server at %s may not be online.\nCheck the configuration file.", url),
		})
		return
	}
	s.p.Events.Logf(log.InfoLevel, "Orpheus server online (%dms)", res.Latency.Milliseconds())
}

// Submit handles one line of user input. It returns ErrQuit when the user
// asked to exit.
func (s *Session) Submit(ctx context.Context, input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}
	if isCommand(input) {
		return s.command(input[1:])
	}
	if s.prefs.Get().Mode == tts.ModeChat {
		return s.chatRequest(ctx, input)
	}
	return s.Speak(input)
}

func isCommand(input string) bool {
	r := []rune(input)
	return len(r) >= 2 && r[0] == '!' && unicode.IsLetter(r[1])
}

// StopAll silences everything: queued and in-flight speech, the chat
// stream, pending UI events and the highlight.
func (s *Session) StopAll() {
	s.mu.Lock()
	cancel := s.chatCancel
	s.chatCancel = nil
	s.mu.Unlock()

	// Bump the epoch before canceling so late chat segments are refused.
	s.p.Stop()
	if cancel != nil {
		cancel()
	}
}

// Close stops everything and waits for background requests.
func (s *Session) Close() {
	s.StopAll()
	s.wg.Wait()
}

// Busy reports whether segments are still queued or being generated.
func (s *Session) Busy() bool {
	return s.p.Worker.Busy()
}

// LastMessage returns the most recent spoken message.
func (s *Session) LastMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMessage
}

func (s *Session) setLastMessage(text string) {
	s.mu.Lock()
	s.lastMessage = text
	s.mu.Unlock()
}

// Speak stops whatever is playing and speaks text as-is.
func (s *Session) Speak(text string) error {
	s.StopAll()
	s.p.Events.Emit(tts.ContentEvent{Kind: tts.ContentUser, Text: text})
	s.setLastMessage(text)

	voice := s.prefs.Get().Voice
	segs := segment.SegmentWhole(text, s.cfg.Segmenter...)
	items := make([]tts.WorkItem, 0, len(segs)+1)
	for _, seg := range segs {
		items = append(items, tts.ContentItem{Segment: seg, Voice: voice})
	}
	items = append(items, tts.EndItem{})
	return s.p.Worker.Enqueue(items...)
}

func (s *Session) chatRequest(ctx context.Context, input string) error {
	if s.chat == nil {
		s.p.Events.Logf(log.ErrorLevel, "Chat config missing! Edit %q and fix.", s.cfg.ConfigPath)
		return nil
	}

	s.StopAll()
	s.p.Events.Emit(tts.ContentEvent{Kind: tts.ContentUser, Text: input})

	epoch := s.p.Worker.Epoch()
	voice := s.prefs.Get().Voice
	cctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.chatCancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.streamReply(cctx, epoch, voice, input)
	}()
	return nil
}

// streamReply speaks the chat reply as it arrives. Segments are stamped
// with epoch so nothing is spoken after a stop.
func (s *Session) streamReply(ctx context.Context, epoch uint64, voice, input string) {
	seg := segment.New(s.cfg.Segmenter...)
	enqueue := func(segs []tts.Segment) {
		for _, sg := range segs {
			item := tts.ContentItem{Segment: sg, Voice: voice, ShouldMassage: true}
			if err := s.p.Worker.EnqueueAt(epoch, item); err != nil {
				return
			}
		}
	}

	started := false
	reply, err := s.chat.Stream(ctx, input, func(delta string) {
		if s.p.Worker.Epoch() != epoch {
			return
		}
		s.p.Events.Emit(tts.ContentEvent{Kind: tts.ContentAssistant, Text: delta, Append: started})
		started = true
		enqueue(seg.AddText(delta))
	})
	if errors.Is(err, tts.ErrCanceled) || s.p.Worker.Epoch() != epoch {
		return
	}
	if err != nil {
		s.p.Events.Logf(log.ErrorLevel, "%v", err)
	}

	enqueue(seg.Flush())
	_ = s.p.Worker.EnqueueAt(epoch, tts.EndItem{})
	if reply != "" {
		s.setLastMessage(reply)
	}
}

// command runs cmd, which is the input without its leading "!".
func (s *Session) command(cmd string) error {
	before := s.prefs.Get()

	name, value, _ := strings.Cut(cmd, "=")
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)

	// A bare voice name is shorthand for !voice=<name>.
	if orpheus.IsStockVoice(name) || name == orpheus.RandomVoice {
		name, value = "voice", name
	}

	var feedback string
	menu := false

	switch name {
	case "voice":
		feedback = s.changeVoice(value)

	case "clear":
		if before.Mode == tts.ModeChat && s.chat != nil {
			s.chat.Clear()
			feedback = "Cleared chat history"
		} else {
			feedback = `Not in "chat mode"`
		}

	case "stop", "s":
		feedback = "Stopped"

	case "direct", "d":
		if before.Mode == tts.ModeDirect {
			feedback = `Already in "direct input mode"`
			break
		}
		s.StopAll()
		if err := s.prefs.SetMode(tts.ModeDirect); err != nil {
			feedback = err.Error()
			break
		}
		feedback = `Switched to "direct input mode"`

	case "chat", "c":
		switch {
		case before.Mode == tts.ModeChat:
			feedback = "Already in chat mode"
		case s.chat == nil:
			feedback = fmt.Sprintf("Can't. Chat mode is disabled (edit %q).", s.cfg.ConfigPath)
		default:
			if err := s.prefs.SetMode(tts.ModeChat); err != nil {
				feedback = err.Error()
				break
			}
			feedback = fmt.Sprintf(`Switched to "chat mode" (%s)`, s.cfg.ChatURL)
		}

	case "save":
		feedback = s.toggleSave(before.SaveAudio)

	case "copy":
		feedback = s.copyLast()

	case "help", "h", "menu":
		menu = true

	case "quit", "q":
		s.StopAll()
		return ErrQuit

	default:
		feedback = "No such command: !" + name + suggest(name, commands)
	}

	if feedback != "" || menu {
		s.StopAll()
	}
	if feedback != "" {
		s.p.Events.Emit(tts.ContentEvent{Kind: tts.ContentFeedback, Text: feedback})
	}
	if menu {
		s.p.Events.Emit(tts.ContentEvent{Kind: tts.ContentMenu, Text: s.Menu()})
	}
	return nil
}

func (s *Session) changeVoice(value string) string {
	if value == "" {
		return `No value for voice provided (eg, "!voice=tara")`
	}
	if err := s.prefs.SetVoice(value); err != nil {
		return err.Error()
	}
	voice := s.prefs.Get().Voice
	if voice == orpheus.RandomVoice {
		return "Changed voice to: Random voice per generated audio segment"
	}
	feedback := fmt.Sprintf("Changed voice to: %q", voice)
	if !orpheus.IsStockVoice(voice) {
		feedback += " (Value is not one of the default Orpheus voices)" + suggest(voice, orpheus.StockVoices)
	}
	return feedback
}

func (s *Session) toggleSave(on bool) string {
	if on {
		if err := s.prefs.SetSaveAudio(false); err != nil {
			return err.Error()
		}
		return `"Save audio output to disk" set to: off`
	}
	if s.p.Saver == nil {
		return "Problem with output directory: no usable directory"
	}
	dir := s.p.Saver.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Sprintf("Problem with output directory %s: %v", dir, err)
	}
	if err := s.prefs.SetSaveAudio(true); err != nil {
		return err.Error()
	}
	return "\"Save audio output to disk\" set to: on\n" + dir
}

func (s *Session) copyLast() string {
	text := s.LastMessage()
	if text == "" {
		return "Nothing to copy yet"
	}
	if err := s.cfg.Clipboard(text); err != nil {
		return fmt.Sprintf("Couldn't copy to the clipboard: %v", err)
	}
	return "Copied the last message to the clipboard"
}

// suggest returns a " Did you mean ...?" hint for the closest candidates.
func suggest(term string, candidates []string) string {
	matches := fuzzy.Find(term, candidates)
	if len(matches) == 0 {
		return ""
	}
	if len(matches) > 3 {
		matches = matches[:3]
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = "!" + m.Str
	}
	return " Did you mean " + strings.Join(names, ", ") + "?"
}
