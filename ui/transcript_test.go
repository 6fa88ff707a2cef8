package ui

import (
	"errors"
	"strings"
	"testing"

	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

func TestTranscriptAppend(t *testing.T) {
	var tr transcript
	tr.add(tts.ContentEvent{Kind: tts.ContentUser, Text: "hello"})
	tr.add(tts.ContentEvent{Kind: tts.ContentAssistant, Text: "Hi"})
	tr.add(tts.ContentEvent{Kind: tts.ContentAssistant, Text: " there.", Append: true})
	// Append on a different kind starts a new block.
	tr.add(tts.ContentEvent{Kind: tts.ContentFeedback, Text: "Stopped", Append: true})

	if len(tr.blocks) != 3 {
		t.Fatalf("Expected 3 blocks, got %d", len(tr.blocks))
	}
	if tr.blocks[1].text != "Hi there." {
		t.Errorf("Expected %q, got %q", "Hi there.", tr.blocks[1].text)
	}
	if tr.spoken() != 1 {
		t.Errorf("Expected spoken block 1, got %d", tr.spoken())
	}
}

func TestTranscriptHighlight(t *testing.T) {
	var tr transcript
	tr.add(tts.ContentEvent{Kind: tts.ContentUser, Text: "Go on. Go on. Stop."})

	tests := []struct {
		text      string
		wantStart int
		wantEnd   int
	}{
		{"Go on.", 0, 6},
		{"Go on.", 7, 13},
		{"Stop.", 14, 19},
		// Out of step: falls back to the first occurrence.
		{"Go on.", 0, 6},
	}
	for i, tc := range tests {
		tr.setHighlight(tc.text)
		if tr.hlStart != tc.wantStart || tr.hlEnd != tc.wantEnd {
			t.Errorf("Step %d: expected [%d,%d), got [%d,%d)",
				i, tc.wantStart, tc.wantEnd, tr.hlStart, tr.hlEnd)
		}
	}

	tr.setHighlight("missing")
	if tr.hlEnd != 0 {
		t.Error("Expected no highlight for text that isn't in the transcript")
	}

	tr.setHighlight("Stop.")
	tr.setHighlight("")
	if tr.hlEnd != 0 {
		t.Error("Expected empty text to clear the highlight")
	}
}

func TestTranscriptNewMessageResetsCursor(t *testing.T) {
	var tr transcript
	tr.add(tts.ContentEvent{Kind: tts.ContentUser, Text: "One. Two."})
	tr.setHighlight("Two.")
	tr.add(tts.ContentEvent{Kind: tts.ContentUser, Text: "Two. Three."})
	tr.setHighlight("Two.")

	if tr.hlBlock != 1 || tr.hlStart != 0 {
		t.Errorf("Expected highlight at block 1 offset 0, got block %d offset %d", tr.hlBlock, tr.hlStart)
	}
}

func TestTranscriptRender(t *testing.T) {
	var rendered string
	tr := transcript{
		renderMarkdown: func(md string, _ int) (string, error) {
			rendered = md
			return "\nMENU\n", nil
		},
	}
	tr.add(tts.ContentEvent{Kind: tts.ContentMenu, Text: "| a | b |"})
	tr.add(tts.ContentEvent{Kind: tts.ContentUser, Text: "Speak this"})
	tr.add(tts.ContentEvent{Kind: tts.ContentFeedback, Text: "Stopped"})

	out := tr.render(40)
	if rendered != "| a | b |" {
		t.Errorf("Expected menu markdown to be rendered, got %q", rendered)
	}
	for _, want := range []string{"MENU", "Speak this", "Stopped", "─"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestTranscriptRenderMarkdownError(t *testing.T) {
	tr := transcript{
		renderMarkdown: func(string, int) (string, error) {
			return "", errors.New("boom")
		},
	}
	tr.add(tts.ContentEvent{Kind: tts.ContentMenu, Text: "plain menu"})

	if out := tr.render(40); !strings.Contains(out, "plain menu") {
		t.Errorf("Expected raw menu text on render error, got %q", out)
	}
}
