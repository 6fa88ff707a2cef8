package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultAbbreviations is the built-in abbreviation table. Entries are
// matched case-sensitively and must start at the beginning of the text or
// after whitespace.
//
// Ambiguous short forms ("no.", "etc.") and place names such as "D.C." are
// left out; callers that want them can supply their own table.
var DefaultAbbreviations = []string{
	"Mr.", "Mrs.", "Ms.", "Dr.", "Prof.", "Rev.", "Hon.",
	"Gov.", "Sen.", "Rep.", "Gen.", "Col.", "Lt.", "Sgt.", "Capt.", "Cmdr.", "Adm.",
	"Jr.", "Sr.", "St.", "Mt.", "Ft.",
	"vs.", "e.g.", "i.e.", "a.m.", "p.m.", "approx.", "dept.", "est.", "fig.", "vol.",
	"U.S.", "U.K.",
}

type abbrevMatch int

const (
	abbrevNone abbrevMatch = iota
	abbrevCovered
	abbrevPending
)

// dotRef is a period inside a table entry.
type dotRef struct {
	entry  string
	offset int
}

type abbreviations struct {
	dots []dotRef
}

func newAbbreviations(entries []string) abbreviations {
	var a abbreviations
	for _, e := range entries {
		e = strings.TrimSpace(e)
		for i := 0; i < len(e); i++ {
			if e[i] == '.' {
				a.dots = append(a.dots, dotRef{entry: e, offset: i})
			}
		}
	}
	return a
}

// match reports whether the period at buf[pos] belongs to a table entry.
// abbrevPending means buf ends part-way through an entry that would cover
// the period, so the decision has to wait for more text.
func (a abbreviations) match(buf string, pos int) abbrevMatch {
	pending := false
	for _, d := range a.dots {
		start := pos - d.offset
		if start < 0 || !startsWord(buf, start) {
			continue
		}
		end := start + len(d.entry)
		if end <= len(buf) {
			if buf[start:end] == d.entry {
				return abbrevCovered
			}
			continue
		}
		if strings.HasPrefix(d.entry, buf[start:]) {
			pending = true
		}
	}
	if pending {
		return abbrevPending
	}
	return abbrevNone
}

func startsWord(buf string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(buf[:i])
	return unicode.IsSpace(r)
}
