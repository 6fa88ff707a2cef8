// Package wavsave writes message audio to WAV files.
package wavsave

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mitchellh/go-homedir"

	"github.com/dgnsrekt/orpheus-tts/internal/audio"
	"github.com/dgnsrekt/orpheus-tts/internal/massage"
	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

// MaxTextChars bounds the text part of a file name.
const MaxTextChars = 25

// ErrNoData is returned when there is nothing to save.
var ErrNoData = errors.New("no audio data")

type wavFile interface {
	io.WriteSeeker
	io.Closer
}

var createFile = func(path string) (wavFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// FileName builds "yyMMdd_HHmmss [voice] [truncated] text.wav".
func FileName(at time.Time, voice string, truncated bool, text string) string {
	var b strings.Builder
	b.WriteString(at.Format("060102_150405"))
	b.WriteByte(' ')
	if voice != "" {
		b.WriteString("[" + voice + "] ")
	}
	if truncated {
		b.WriteString("[truncated] ")
	}
	b.WriteString(massage.ForFilename(text, MaxTextChars))

	name := strings.TrimLeft(b.String(), "_")
	name = strings.TrimRight(strings.TrimSpace(name), ".")
	return name + ".wav"
}

// Write encodes samples as a mono 16-bit WAV at path and returns the
// audio duration.
func Write(path string, samples []int16) (time.Duration, error) {
	if len(samples) == 0 {
		return 0, ErrNoData
	}

	file, err := createFile(path)
	if err != nil {
		return 0, fmt.Errorf("create wav: %w", err)
	}
	if err := encode(file, samples); err != nil {
		_ = file.Close()
		return 0, err
	}
	if err := file.Close(); err != nil {
		return 0, tts.NewTTSError(tts.ErrorCodePersistence, "close wav file", err).WithContext("path", path)
	}
	return audio.SamplesDuration(len(samples)), nil
}

func encode(w io.WriteSeeker, samples []int16) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: audio.Channels, SampleRate: audio.SampleRate},
		Data:           data,
		SourceBitDepth: audio.BitDepth,
	}

	enc := wav.NewEncoder(w, audio.SampleRate, audio.BitDepth, audio.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// ResolveDir expands dir and makes sure it exists. When it cannot be used
// the user's Documents directory and then the working directory are tried.
func ResolveDir(dir string) (string, error) {
	var candidates []string
	if dir != "" {
		if expanded, err := homedir.Expand(dir); err == nil {
			candidates = append(candidates, expanded)
		}
	}
	if home, err := homedir.Dir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "Documents"))
	}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, wd)
	}

	for i, c := range candidates {
		if err := os.MkdirAll(c, 0o755); err != nil {
			continue
		}
		if i > 0 && dir != "" {
			log.Warn("Save directory unavailable, using fallback", "dir", dir, "fallback", c)
		}
		return c, nil
	}
	return "", fmt.Errorf("no usable save directory")
}

// Saver writes files in the background and reports the outcome as log
// events.
type Saver struct {
	dir    string
	events *tts.Events
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewSaver creates a saver writing into dir.
func NewSaver(dir string, events *tts.Events) *Saver {
	return &Saver{dir: dir, events: events, now: time.Now}
}

// Dir returns the save directory.
func (s *Saver) Dir() string {
	return s.dir
}

// SaveAsync writes blocks without blocking the caller.
func (s *Saver) SaveAsync(text, voice string, truncated bool, blocks []audio.Block) {
	path := filepath.Join(s.dir, FileName(s.now(), voice, truncated, text))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		n := 0
		for _, b := range blocks {
			n += len(b)
		}
		samples := make([]int16, 0, n)
		for _, b := range blocks {
			samples = append(samples, b...)
		}

		d, err := Write(path, samples)
		if err != nil {
			s.events.Logf(log.ErrorLevel, "%v",
				tts.NewTTSError(tts.ErrorCodePersistence, "save wav file failed", err).WithContext("path", path))
			return
		}

		size := ""
		if fi, err := os.Stat(path); err == nil {
			size = ", " + humanize.Bytes(uint64(fi.Size()))
		}
		s.events.Logf(log.InfoLevel, "Saved: %s (%.1fs%s)", filepath.Base(path), d.Seconds(), size)
	}()
}

// Wait blocks until pending saves finish.
func (s *Saver) Wait() {
	s.wg.Wait()
}
