package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '»', '”', '’':
		return true
	}
	return false
}

// SplitSentences cuts s after every sentence terminal (a run of . ! ?,
// plus closing quotes or brackets attached to it). Whitespace following a
// terminal belongs to the boundary. A terminal followed directly by a
// lowercase letter or a digit is not a boundary, so "3.14" and
// "example.com" stay whole. Complete sentences are returned trimmed; rest
// is the unterminated remainder, untouched.
func SplitSentences(s string) (sentences []string, rest string) {
	start := 0
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isTerminal(r) {
			i += size
			continue
		}

		j := i + size
		for j < len(s) {
			r, size := utf8.DecodeRuneInString(s[j:])
			if !isTerminal(r) && !isCloser(r) {
				break
			}
			j += size
		}

		if j < len(s) {
			next, _ := utf8.DecodeRuneInString(s[j:])
			if unicode.IsLower(next) || unicode.IsDigit(next) {
				i = j
				continue
			}
		}

		if sentence := strings.TrimSpace(s[start:j]); sentence != "" {
			sentences = append(sentences, sentence)
		}
		for j < len(s) {
			r, size := utf8.DecodeRuneInString(s[j:])
			if !unicode.IsSpace(r) {
				break
			}
			j += size
		}
		start = j
		i = j
	}
	return sentences, s[start:]
}
