// Package textproc holds the tokenizer shared by the lexical index, the
// overlap scorer and the hashing encoder. All three must agree on tokens.
package textproc

import (
	"strings"
	"unicode"
)

// MinTokenLen drops one-letter tokens ("a", "x") that carry no signal.
const MinTokenLen = 2

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		an and are as at be been but by can could did do does for from had has have
		he her his how if in into is it its me more most my no not of on or our she
		so such than that the their them then there these they this those to too up
		us was we were what when where which while who why will with would you your
		der die das und el la los las de du le les et un une`) {
		stopwords[w] = struct{}{}
	}
}

// IsStopword reports whether tok is ignored by Tokenize.
func IsStopword(tok string) bool {
	_, ok := stopwords[tok]
	return ok
}

// Tokenize lowercases s and splits it on anything that is not a letter or a digit.
// Stopwords and tokens shorter than MinTokenLen are dropped. Order is preserved.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < MinTokenLen || IsStopword(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Bigrams joins adjacent tokens with a space.
func Bigrams(tokens []string) []string {
	if len(tokens) < 2 {
		return nil
	}
	out := make([]string, len(tokens)-1)
	for i := range out {
		out[i] = tokens[i] + " " + tokens[i+1]
	}
	return out
}

// CharNGrams returns the character n-grams of tok padded with '^' and '$'.
func CharNGrams(tok string, n int) []string {
	r := []rune("^" + tok + "$")
	if len(r) < n {
		return []string{string(r)}
	}
	out := make([]string, 0, len(r)-n+1)
	for i := 0; i+n <= len(r); i++ {
		out = append(out, string(r[i:i+n]))
	}
	return out
}

// TermFreq counts occurrences of each token.
func TermFreq(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	return tf
}
