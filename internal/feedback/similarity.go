package feedback

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Similarity is 1 - editDistance(a, b)/max(len(a), len(b)), case-insensitive
// and measured in runes. It is 0 if either string is empty.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// Keywords returns the n most frequent tokens of at least minTokenLength
// runes across texts. Ties keep first-seen order.
func Keywords(texts []string, n int) []string {
	counts := map[string]int{}
	var order []string
	for _, text := range texts {
		for _, tok := range tokenize(text) {
			if _, seen := counts[tok]; !seen {
				order = append(order, tok)
			}
			counts[tok]++
		}
	}

	// Stable selection keeps first-seen order among equal counts.
	ranked := make([]string, 0, len(order))
	for _, tok := range order {
		i := len(ranked)
		for i > 0 && counts[ranked[i-1]] < counts[tok] {
			i--
		}
		ranked = append(ranked, "")
		copy(ranked[i+1:], ranked[i:])
		ranked[i] = tok
	}
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

const minTokenLength = 3

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= minTokenLength {
			out = append(out, f)
		}
	}
	return out
}
