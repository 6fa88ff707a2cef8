// Package prefs persists the user's interactive preferences: mode, voice
// and whether finished messages are saved to disk.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	gap "github.com/muesli/go-app-paths"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/orpheus-tts/internal/orpheus"
	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

// FileName is the preferences file in the user config dir.
const FileName = "prefs.yml"

// Prefs are the persisted settings.
type Prefs struct {
	Mode      tts.Mode `yaml:"mode"`
	Voice     string   `yaml:"voice"`
	SaveAudio bool     `yaml:"save_audio"`
}

// file mirrors Prefs with optional fields so missing values can be told
// apart from zero values.
type file struct {
	Mode      string `yaml:"mode"`
	Voice     string `yaml:"voice"`
	SaveAudio *bool  `yaml:"save_audio"`
}

// DefaultPath returns the preferences path in the user config dir.
func DefaultPath() (string, error) {
	return gap.NewScope(gap.User, "orpheus").ConfigPath(FileName)
}

// Store loads, repairs and saves preferences. It is safe for concurrent use.
type Store struct {
	path        string
	chatEnabled bool
	events      *tts.Events

	mu sync.Mutex
	p  Prefs
}

// Open loads preferences from path, repairing invalid or missing values and
// writing the result back when anything changed. chatEnabled controls
// whether chat mode is allowed.
func Open(path string, chatEnabled bool, events *tts.Events) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create prefs directory: %w", err)
	}
	s := &Store{path: path, chatEnabled: chatEnabled, events: events}

	p, dirty := repair(s.read(), chatEnabled)
	s.p = p
	if dirty {
		if err := s.save(p); err != nil {
			return s, err
		}
	}
	log.Debug("Preferences loaded", "path", path, "mode", p.Mode, "voice", p.Voice, "save_audio", p.SaveAudio)
	return s, nil
}

// Path returns the preferences file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the current preferences.
func (s *Store) Get() Prefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p
}

// SetMode changes the interaction mode.
func (s *Store) SetMode(m tts.Mode) error {
	if !m.Valid() {
		return fmt.Errorf("invalid mode %q", m)
	}
	if m == tts.ModeChat && !s.chatEnabled {
		return tts.ErrChatDisabled
	}
	return s.update(func(p *Prefs) { p.Mode = m })
}

// SetVoice changes the voice. Long names are cut to orpheus.MaxVoiceLength.
func (s *Store) SetVoice(v string) error {
	if v == "" {
		return errors.New("voice is empty")
	}
	if len(v) > orpheus.MaxVoiceLength {
		v = v[:orpheus.MaxVoiceLength]
	}
	return s.update(func(p *Prefs) { p.Voice = v })
}

// SetSaveAudio toggles saving finished messages.
func (s *Store) SetSaveAudio(on bool) error {
	return s.update(func(p *Prefs) { p.SaveAudio = on })
}

func (s *Store) update(fn func(*Prefs)) error {
	s.mu.Lock()
	next := s.p
	fn(&next)
	if next == s.p {
		s.mu.Unlock()
		return nil
	}
	s.p = next
	s.mu.Unlock()
	return s.save(next)
}

// Watch reloads the file on external edits and calls onChange with the new
// values. It returns when ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func(Prefs)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create prefs watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	log.Debug("fsnotify watching prefs", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			log.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			if p, changed := s.reload(); changed && onChange != nil {
				onChange(p)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Debug("fsnotify error", "dir", dir, "error", err)
		}
	}
}

// reload re-reads the file. Repairs are kept in memory only; the next
// explicit change writes them.
func (s *Store) reload() (Prefs, bool) {
	p, _ := repair(s.read(), s.chatEnabled)

	s.mu.Lock()
	defer s.mu.Unlock()
	if p == s.p {
		return p, false
	}
	s.p = p
	return p, true
}

func (s *Store) read() file {
	var f file
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("Error loading prefs", "path", s.path, "err", err)
		}
		return f
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		log.Warn("Ignoring unreadable prefs", "path", s.path, "err", err)
		return file{}
	}
	return f
}

func (s *Store) save(p Prefs) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	err = os.WriteFile(tmp, data, 0o644)
	if err == nil {
		err = os.Rename(tmp, s.path)
	}
	if err != nil {
		os.Remove(tmp)
		s.events.Logf(log.ErrorLevel, "Error saving to prefs: %v", err)
		return fmt.Errorf("failed to save prefs: %w", err)
	}
	return nil
}

func repair(f file, chatEnabled bool) (Prefs, bool) {
	dirty := false
	p := Prefs{Mode: tts.Mode(f.Mode), Voice: f.Voice}

	if !p.Mode.Valid() {
		p.Mode = tts.ModeChat
		dirty = true
	}
	if p.Mode == tts.ModeChat && !chatEnabled {
		p.Mode = tts.ModeDirect
		dirty = true
	}

	switch {
	case p.Voice == "":
		p.Voice = orpheus.DefaultVoice
		dirty = true
	case len(p.Voice) > orpheus.MaxVoiceLength:
		p.Voice = p.Voice[:orpheus.MaxVoiceLength]
		dirty = true
	}

	if f.SaveAudio == nil {
		dirty = true
	} else {
		p.SaveAudio = *f.SaveAudio
	}
	return p, dirty
}
