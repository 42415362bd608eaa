package lexical

import (
	"strings"
	"unicode"
)

// Tokenize splits text into lowercase index terms. Identifiers are split
// on underscores and camelCase boundaries so that "getUserProfile" matches
// a query for "user profile". Single-character tokens carry no signal and
// are dropped.
func Tokenize(text string) []string {
	var tokens []string
	var word []rune

	flush := func() {
		if len(word) > 1 {
			tokens = append(tokens, strings.ToLower(string(word)))
		}
		word = word[:0]
	}

	var prev rune
	for _, r := range text {
		switch {
		case unicode.IsLetter(r):
			// camelCase boundary: lower followed by upper
			if unicode.IsUpper(r) && unicode.IsLower(prev) {
				flush()
			}
			word = append(word, r)
		case unicode.IsDigit(r):
			word = append(word, r)
		default:
			flush()
		}
		prev = r
	}
	flush()

	return tokens
}

// termCounts builds a term frequency map from tokens
func termCounts(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return counts
}
