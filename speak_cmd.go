package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

var (
	speakNoAudio bool

	speakCmd = &cobra.Command{
		Use:   "speak [TEXT|-]",
		Short: "Speak text and exit once playback finishes",
		Long: paragraph(fmt.Sprintf("\n%s the given text as-is, the way direct input mode does, then wait for the audio to finish. Use - or a pipe to read from stdin.",
			keyword("Speak"))),
		Example: paragraph("orpheus speak \"Hello there.\"\necho \"Hello there.\" | orpheus speak"),
		Args:    cobra.ArbitraryArgs,
		RunE:    runSpeak,
	}
)

func init() {
	speakCmd.Flags().BoolVar(&speakNoAudio, "no-audio", false, "generate without opening the output device")
}

func runSpeak(cmd *cobra.Command, args []string) error {
	text, err := readText(args, os.Stdin)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("nothing to speak")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s, p, cleanup, err := newSession(ctx, speakNoAudio)
	if err != nil {
		return err
	}

	var interrupted sync.Once
	p.NotifySignals(func(os.Signal) {
		interrupted.Do(func() {
			s.StopAll()
			cancel()
		})
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(ctx, s.Events().C(), cmd.ErrOrStderr())
	}()

	if err = s.Speak(text); err == nil {
		err = p.Drain(ctx)
	}

	cancel()
	<-done
	cleanup()

	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Stopped")
		return nil
	}
	return err
}

// printEvents writes log lines to w until ctx ends.
func printEvents(ctx context.Context, events <-chan tts.Event, w io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			le, ok := e.(tts.LogEvent)
			if !ok || le.Level < log.InfoLevel {
				continue
			}
			fmt.Fprintln(w, le.Text) //nolint:errcheck
		}
	}
}
