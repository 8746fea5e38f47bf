package feedback

import "strings"

// CategoryExtractor pulls a target category out of one correction text.
type CategoryExtractor interface {
	Category(correction string) (string, bool)
}

// ArrowExtractor reads corrections shaped like "<condition> → <category>"
// (or "->").
type ArrowExtractor struct{}

var arrows = []string{"→", "->"}

// Category returns the trimmed, lowercased text after the last arrow.
func (ArrowExtractor) Category(correction string) (string, bool) {
	cut := -1
	width := 0
	for _, a := range arrows {
		if i := strings.LastIndex(correction, a); i > cut {
			cut, width = i, len(a)
		}
	}
	if cut <= 0 {
		return "", false
	}
	condition := strings.TrimSpace(correction[:cut])
	category := strings.ToLower(strings.TrimSpace(correction[cut+width:]))
	if condition == "" || category == "" {
		return "", false
	}
	return category, true
}

// majorityCategory votes over texts. Ties keep the first category seen.
func majorityCategory(extractor CategoryExtractor, texts []string) string {
	counts := map[string]int{}
	best, bestCount := "", 0
	for _, text := range texts {
		c, ok := extractor.Category(text)
		if !ok {
			continue
		}
		counts[c]++
		if counts[c] > bestCount {
			best, bestCount = c, counts[c]
		}
	}
	return best
}
