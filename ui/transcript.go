package ui

import (
	"strings"

	"github.com/charmbracelet/log"
	"github.com/muesli/reflow/wordwrap"

	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

type block struct {
	kind tts.ContentKind
	text string
}

// transcript holds the conversation shown in the main viewport.
type transcript struct {
	blocks []block

	// Highlighted byte range within the spoken block; hlEnd == 0 means
	// none. cursor is where the next search starts.
	hlBlock, hlStart, hlEnd int
	cursor                  int

	// renderMarkdown renders menu blocks; nil leaves them as-is
	renderMarkdown func(md string, width int) (string, error)
}

func (t *transcript) add(e tts.ContentEvent) {
	if e.Append && len(t.blocks) > 0 && t.blocks[len(t.blocks)-1].kind == e.Kind {
		t.blocks[len(t.blocks)-1].text += e.Text
		return
	}
	t.blocks = append(t.blocks, block{kind: e.Kind, text: e.Text})
	if e.Kind == tts.ContentUser || e.Kind == tts.ContentAssistant {
		t.cursor = 0
	}
}

// setHighlight marks the next occurrence of text in the spoken block. An
// empty text clears the highlight.
func (t *transcript) setHighlight(text string) {
	t.hlEnd = 0
	text = strings.TrimSpace(text)
	idx := t.spoken()
	if text == "" || idx < 0 {
		return
	}

	body := t.blocks[idx].text
	if t.cursor > len(body) {
		t.cursor = 0
	}
	i := strings.Index(body[t.cursor:], text)
	if i < 0 {
		// Out of step with the transcript; search from the top.
		if i = strings.Index(body, text); i < 0 {
			return
		}
		t.cursor = 0
	}
	t.hlBlock = idx
	t.hlStart = t.cursor + i
	t.hlEnd = t.hlStart + len(text)
	t.cursor = t.hlEnd
}

func (t *transcript) clearHighlight() {
	t.hlEnd = 0
}

// spoken returns the index of the latest block that is being spoken.
func (t *transcript) spoken() int {
	for i := len(t.blocks) - 1; i >= 0; i-- {
		switch t.blocks[i].kind {
		case tts.ContentUser, tts.ContentAssistant:
			return i
		}
	}
	return -1
}

func (t *transcript) render(width int) string {
	active := -1
	if t.hlEnd > 0 {
		active = t.hlBlock
	}

	var sb strings.Builder
	for i, b := range t.blocks {
		if i > 0 {
			sb.WriteString("\n")
			if b.kind == tts.ContentUser || b.kind == tts.ContentMenu {
				sb.WriteString(strokeStyle.Render(strings.Repeat("─", max(width, 1))))
				sb.WriteString("\n")
			}
		}
		sb.WriteString(t.renderBlock(b, i == active, width))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (t *transcript) renderBlock(b block, active bool, width int) string {
	switch b.kind {
	case tts.ContentMenu:
		if t.renderMarkdown != nil {
			out, err := t.renderMarkdown(b.text, width)
			if err == nil {
				return strings.Trim(out, "\n")
			}
			log.Error("error rendering with Glamour", "error", err)
		}
		return wordwrap.String(b.text, width)
	case tts.ContentFeedback:
		return feedbackStyle.Render(wordwrap.String(b.text, width))
	}

	text := b.text
	if active && t.hlEnd <= len(text) {
		text = text[:t.hlStart] + highlightStyle.Render(text[t.hlStart:t.hlEnd]) + text[t.hlEnd:]
	}
	if b.kind == tts.ContentUser {
		return userStyle.Render(wordwrap.String(text, width))
	}
	return wordwrap.String(text, width)
}
