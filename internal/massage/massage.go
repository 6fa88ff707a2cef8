// Package massage adapts segment text for the speech model, the log and
// file names.
package massage

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	boldWordRe   = regexp.MustCompile(`\*\*(\w+)\*\*`)
	newlineRunRe = regexp.MustCompile(`\n+`)
	spaceRunRe   = regexp.MustCompile(` +`)
)

// ForSpeech prepares a segment for synthesis. It returns "" when there is
// nothing worth sending: the model misbehaves on bare punctuation.
func ForSpeech(text string) string {
	text = strings.TrimSpace(text)
	if !hasWordRune(text) {
		return ""
	}
	text = boldWordRe.ReplaceAllStringFunc(text, func(m string) string {
		return strings.ToUpper(strings.Trim(m, "*"))
	})
	text = replaceEmoji(text, " ")
	return strings.TrimSpace(text)
}

// ForLog flattens display text to a single line.
func ForLog(text string) string {
	text = newlineRunRe.ReplaceAllString(strings.TrimSpace(text), " / ")
	return spaceRunRe.ReplaceAllString(text, " ")
}

// ForFilename folds text to ASCII letters, digits and underscores and
// truncates it to max runes.
func ForFilename(text string, max int) string {
	var b strings.Builder
	underscore := false
	for _, r := range norm.NFKD.String(text) {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			underscore = false
		case !underscore:
			b.WriteByte('_')
			underscore = true
		}
	}
	out := b.String()
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return strings.Trim(out, "_")
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// replaceEmoji replaces each run of emoji code points with repl.
func replaceEmoji(s, repl string) string {
	var b strings.Builder
	inEmoji := false
	for _, r := range s {
		if isEmoji(r) {
			if !inEmoji {
				b.WriteString(repl)
			}
			inEmoji = true
			continue
		}
		inEmoji = false
		b.WriteRune(r)
	}
	return b.String()
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF: // pictographs, emoticons, flags, skin tones
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r >= 0x2B00 && r <= 0x2BFF: // arrows, stars
		return true
	case r >= 0xE0020 && r <= 0xE007F: // tag sequences
		return true
	case r == 0x200D, r == 0xFE0F, r == 0x20E3:
		return true
	}
	return false
}
