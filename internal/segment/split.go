package segment

import (
	"strings"
	"unicode"
)

// WordCount counts words the way they are spoken: a token made only of
// digits counts one word per digit.
func WordCount(s string) int {
	n := 0
	for _, f := range strings.Fields(s) {
		if isDigits(f) {
			n += len([]rune(f))
			continue
		}
		n++
	}
	return n
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// split breaks sentence into pieces of at most maxWords words. A piece
// without whitespace is emitted as-is even when it is over the bound.
func split(sentence string, maxWords int) []string {
	var out []string
	rest := sentence
	for {
		if maxWords <= 0 || WordCount(rest) <= maxWords || !strings.ContainsFunc(rest, unicode.IsSpace) {
			return append(out, rest)
		}
		left, right := cut(rest, maxWords)
		out = append(out, left)
		rest = right
	}
}

// cut splits s in two. It prefers the clause punctuation nearest the
// midpoint, then the whitespace run nearest the midpoint, and finally cuts
// after the first word. The left part never exceeds maxWords unless it is a
// single word.
func cut(s string, maxWords int) (string, string) {
	rs := []rune(s)
	mid := len(rs) / 2

	best := -1
	for i, r := range rs {
		if r != ',' && r != ';' && r != ':' {
			continue
		}
		if i+1 >= len(rs) || !unicode.IsSpace(rs[i+1]) {
			continue
		}
		left := strings.TrimSpace(string(rs[:i+1]))
		if left == "" || WordCount(left) > maxWords {
			continue
		}
		if best < 0 || abs(i-mid) < abs(best-mid) {
			best = i
		}
	}
	if best >= 0 {
		return pieces(rs, best+1)
	}

	best = -1
	for i := 0; i < len(rs); i++ {
		if !unicode.IsSpace(rs[i]) || (i > 0 && unicode.IsSpace(rs[i-1])) {
			continue
		}
		left := strings.TrimSpace(string(rs[:i]))
		if left == "" || WordCount(left) > maxWords {
			continue
		}
		if best < 0 || abs(i-mid) < abs(best-mid) {
			best = i
		}
	}
	if best >= 0 {
		return pieces(rs, best)
	}

	// The first word alone is over the bound.
	first := strings.IndexFunc(s, unicode.IsSpace)
	return strings.TrimSpace(s[:first]), strings.TrimSpace(s[first:])
}

func pieces(rs []rune, at int) (string, string) {
	return strings.TrimSpace(string(rs[:at])), strings.TrimSpace(string(rs[at:]))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
