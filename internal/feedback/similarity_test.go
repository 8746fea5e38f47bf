package feedback

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("URSSAF → finance", "urssaf → FINANCE"))
	assert.Equal(t, 0.0, Similarity("", "finance"))
	assert.Equal(t, 0.0, Similarity("finance", ""))
	assert.InDelta(t, 1-3.0/7.0, Similarity("kitten", "sitting"), 1e-9)

	// Rune lengths, not bytes.
	assert.InDelta(t, 1-2.0/5.0, Similarity("été →", "ete →"), 1e-9)
}

func TestSimilarity_Thresholds(t *testing.T) {
	assert.GreaterOrEqual(t, Similarity("Facture URSSAF → finance", "Factures URSSAF → finance"), SimilarityThreshold)
	assert.Less(t, Similarity("URSSAF → finance", "Cotisations URSSAF → finance"), SimilarityThreshold)
	assert.Less(t, Similarity("URSSAF → finance", "Meeting notes → personal"), 0.5)
}

func TestSimilarity_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("similarity is symmetric", prop.ForAll(
		func(a, b string) bool {
			return Similarity(a, b) == Similarity(b, a)
		},
		gen.AnyString(), gen.AnyString(),
	))
	properties.Property("similarity stays within [0, 1]", prop.ForAll(
		func(a, b string) bool {
			s := Similarity(a, b)
			return s >= 0 && s <= 1
		},
		gen.AlphaString(), gen.AlphaString(),
	))
	properties.Property("a non-empty string is fully similar to itself", prop.ForAll(
		func(a string) bool {
			return a == "" || Similarity(a, a) == 1
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestKeywords(t *testing.T) {
	got := Keywords([]string{"Facture URSSAF → finance", "Factures URSSAF → finance"}, MaxKeywords)
	assert.Equal(t, []string{"urssaf", "finance", "facture", "factures"}, got)

	got = Keywords([]string{"a bb ccc dddd ccc eee fff ggg hhh"}, 3)
	assert.Equal(t, []string{"ccc", "dddd", "eee"}, got)

	assert.Empty(t, Keywords([]string{"a to be"}, MaxKeywords))
}

func TestArrowExtractor(t *testing.T) {
	var ex ArrowExtractor
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Facture URSSAF → Finance", "finance", true},
		{"invoice -> accounting ", "accounting", true},
		{"a → b → c", "c", true},
		{"no arrow here", "", false},
		{"→ finance", "", false},
		{"something →  ", "", false},
	}
	for _, tc := range cases {
		got, ok := ex.Category(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestMajorityCategory(t *testing.T) {
	assert.Equal(t, "b", majorityCategory(ArrowExtractor{}, []string{"x → a", "y → b", "z → b"}))
	assert.Equal(t, "a", majorityCategory(ArrowExtractor{}, []string{"x → a", "y → b"}))
	assert.Equal(t, "", majorityCategory(ArrowExtractor{}, []string{"plain", "text"}))
}
