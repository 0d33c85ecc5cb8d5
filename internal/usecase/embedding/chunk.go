package embedding

import (
	"strings"
	"unicode/utf8"
)

// Chunk splits text into pieces of at most maxRunes runes on word boundaries.
// maxRunes <= 0 disables splitting. Words longer than maxRunes are cut.
func Chunk(text string, maxRunes int) []string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, word := range strings.Fields(text) {
		r := []rune(word)
		for len(r) > maxRunes {
			flush()
			chunks = append(chunks, string(r[:maxRunes]))
			r = r[maxRunes:]
		}
		n := len(r)
		if n == 0 {
			continue
		}
		sep := 0
		if curLen > 0 {
			sep = 1
		}
		if curLen+sep+n > maxRunes {
			flush()
			sep = 0
		}
		if sep == 1 {
			cur.WriteByte(' ')
		}
		cur.WriteString(string(r))
		curLen += sep + n
	}
	flush()
	return chunks
}
