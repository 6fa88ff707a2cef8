package app

import (
	"fmt"
	"strings"

	"github.com/dgnsrekt/orpheus-tts/internal/orpheus"
	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

const menuText = `## Usage

Enter some text. That's it.

## Commands

| Command | |
|---|---|
| ` + "`!chat`" + ` or ` + "`!c`" + ` | switch to "chat mode" |
| ` + "`!direct`" + ` or ` + "`!d`" + ` | switch to "direct input mode" |
| %s, ` + "`!random`" + ` | change voice |
| ` + "`!voice=<name>`" + ` | use any voice name |
| ` + "`!stop`" + ` or ` + "`!s`" + ` | stop audio output |
| ` + "`!clear`" + ` | clear chat history |
| ` + "`!save`" + ` | save audio output to disk (toggle, currently: %s) |
| ` + "`!copy`" + ` | copy the last message to the clipboard |
| ` + "`!help`" + ` | this help text |
| ` + "`!quit`" + ` or ` + "`!q`" + ` | exit |
`

// Menu returns the help text as markdown.
func (s *Session) Menu() string {
	p := s.prefs.Get()

	voices := make([]string, len(orpheus.StockVoices))
	for i, v := range orpheus.StockVoices {
		voices[i] = "`!" + v + "`"
	}
	save := "off"
	if p.SaveAudio {
		save = "on"
	}

	var b strings.Builder
	fmt.Fprintf(&b, menuText, strings.Join(voices, ", "), save)
	b.WriteString("\n")
	if p.Mode == tts.ModeChat {
		b.WriteString("*You are in \"chat mode.\" The LLM will talk to you.*\n")
		if s.cfg.ChatURL != "" {
			fmt.Fprintf(&b, "\n`%s`\n", s.cfg.ChatURL)
		}
	} else {
		b.WriteString("*You are in \"direct input mode.\" Speech will be generated from your input.*\n")
	}
	return b.String()
}
