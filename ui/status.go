package ui

import (
	"fmt"
	"strings"
	"time"

	runewidth "github.com/mattn/go-runewidth"

	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

const statusTextWidth = 49

// elapsedString formats d as "12.3s" or "2m3.4s".
func elapsedString(d time.Duration) string {
	secs := d.Seconds()
	if secs < 60 {
		return fmt.Sprintf("%.1fs", secs)
	}
	minutes := int(secs) / 60
	return fmt.Sprintf("%dm%.1fs", minutes, secs-float64(minutes*60))
}

// statLine summarizes timing for a generation status.
func statLine(s tts.GenStatus) string {
	if s.Elapsed < 100*time.Millisecond {
		return "..."
	}
	line := fmt.Sprintf("Elapsed: %s TTFB: %s Length: %s",
		elapsedString(s.Elapsed), elapsedString(s.TTFB), elapsedString(s.Duration))
	if speed := s.Speed(); speed > 0 {
		line += fmt.Sprintf(" = %.1fx", speed)
	}
	return line
}

// statusView renders an in-progress generation. It returns "" when idle.
func statusView(s tts.GenStatus, spinner string) string {
	if s.Idle() {
		return ""
	}
	text := runewidth.Truncate(s.Text, statusTextWidth, "…")
	return statusLabelStyle.Render(spinner+" Generating") + "\n" +
		statusTextStyle.Render(text) + "\n" +
		statusStatStyle.Render(statLine(s))
}

// finishedLog is the log pane entry for a completed generation.
func finishedLog(s tts.GenStatus) string {
	return s.Text + "\n" + statLine(s)
}

// bufferView renders the queued audio meter.
func bufferView(seconds float64) string {
	if seconds <= 0 {
		return bufferOffStyle.Render("buffer: 0s")
	}
	const slots = 10
	n := int(seconds + 0.5)
	if n > slots {
		n = slots
	}
	bar := strings.Repeat("■", n) + strings.Repeat(" ", slots-n)
	return bufferOnStyle.Render(fmt.Sprintf("buffer: [%s] %.1fs", bar, seconds))
}
