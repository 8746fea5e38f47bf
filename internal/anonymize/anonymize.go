// Package anonymize replaces personal data in correction text with stable
// placeholders before it is stored.
package anonymize

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Pre-compiled PII patterns, most specific first so a card number is not
// half-eaten by the phone pattern.
var piiPatterns = []struct {
	re   *regexp.Regexp
	kind string
}{
	// IBAN (FR76 3000 6000 0112 3456 7890 189)
	{regexp.MustCompile(`\b[A-Z]{2}\d{2}[-\s]?[A-Z0-9]{4}[-\s]?(?:[A-Z0-9]{4}[-\s]?){1,7}[A-Z0-9]{1,4}\b`), "IBAN"},
	// Card numbers (Visa, Mastercard, Amex, Discover)
	{regexp.MustCompile(`\b4\d{3}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), "CARD"},
	{regexp.MustCompile(`\b5[1-5]\d{2}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), "CARD"},
	{regexp.MustCompile(`\b3[47]\d{2}[-\s]?\d{6}[-\s]?\d{5}\b`), "CARD"},
	{regexp.MustCompile(`\b6011[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), "CARD"},
	// French social security number (1 85 05 78 006 084 91)
	{regexp.MustCompile(`\b[12][\s]?\d{2}[\s]?\d{2}[\s]?\d{2}[\s]?\d{3}[\s]?\d{3}[\s]?\d{2}\b`), "NIR"},
	// US SSN
	{regexp.MustCompile(`\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`), "SSN"},
	{regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`), "EMAIL"},
	// French phone (06 12 34 56 78, +33 6 12 34 56 78)
	{regexp.MustCompile(`(?:\+33[\s.]?|\b0)[1-9](?:[\s.]?\d{2}){4}\b`), "PHONE"},
	// International phone with country code
	{regexp.MustCompile(`\+\d{1,3}[-\s]?\d{1,4}[-\s]?\d{3,4}[-\s]?\d{3,4}\b`), "PHONE"},
}

// Result is anonymized text plus the placeholder mapping needed to reverse it.
type Result struct {
	Text    string
	Mapping map[string]string // placeholder -> original
}

// Anonymizer scrubs PII with regex patterns.
type Anonymizer struct{}

func NewAnonymizer() *Anonymizer {
	return &Anonymizer{}
}

// Anonymize returns text with PII replaced by placeholders.
func (a *Anonymizer) Anonymize(ctx context.Context, text string) (string, error) {
	res, err := a.Scrub(ctx, text)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Scrub replaces every PII match with a placeholder such as [EMAIL_1]. The
// same value always gets the same placeholder within one call.
func (a *Anonymizer) Scrub(ctx context.Context, text string) (*Result, error) {
	res := &Result{Text: text, Mapping: map[string]string{}}
	byValue := map[string]string{}
	counters := map[string]int{}

	for _, p := range piiPatterns {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("anonymize: %w", err)
		}
		res.Text = p.re.ReplaceAllStringFunc(res.Text, func(match string) string {
			if ph, ok := byValue[match]; ok {
				return ph
			}
			var ph string
			for {
				counters[p.kind]++
				ph = fmt.Sprintf("[%s_%d]", p.kind, counters[p.kind])
				if !strings.Contains(text, ph) {
					break
				}
			}
			byValue[match] = ph
			res.Mapping[ph] = match
			return ph
		})
	}
	return res, nil
}

// Restore applies the mapping in reverse.
func Restore(text string, mapping map[string]string) string {
	if len(mapping) == 0 {
		return text
	}
	pairs := make([]string, 0, 2*len(mapping))
	for ph, original := range mapping {
		pairs = append(pairs, ph, original)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
