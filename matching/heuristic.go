// Package matching scores lost/found report pairs and orchestrates the
// model-backed match operations with a deterministic local fallback.
package matching

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/durvesh-thorat/RETRIVA/models"
)

const (
	// tokens of three or fewer runes ("a", "the", "13") carry no signal
	minTokenLength = 4

	keywordBaseScore = 40
	keywordScore     = 15
	locationScore    = 20
	maxScore         = 100
)

// stripMarks removes diacritic marks so accented and plain spellings
// tokenize the same way.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func normalizeText(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Tokenize splits free text into matching tokens: lowercased, diacritics
// stripped, punctuation treated as a separator, short tokens dropped.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(normalizeText(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < minTokenLength {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

func tokenSetOf(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range Tokenize(text) {
		set[tok] = true
	}
	return set
}

// keywordSet collects the distinct tokens of a report's title and tags.
func keywordSet(report *models.ItemReport) map[string]bool {
	set := tokenSetOf(report.Title)
	for _, tag := range report.Tags {
		for _, tok := range Tokenize(tag) {
			set[tok] = true
		}
	}
	return set
}

// SharedKeywords returns the intersection of two reports' keyword sets,
// sorted so scores and explanations are stable across calls.
func SharedKeywords(a, b *models.ItemReport) []string {
	setB := keywordSet(b)

	var shared []string
	for tok := range keywordSet(a) {
		if setB[tok] {
			shared = append(shared, tok)
		}
	}
	sort.Strings(shared)
	return shared
}

// Score rates how likely two reports describe the same item, 0 to 100,
// using nothing but the reports themselves. A lost report only ever
// matches a found one, and the categories must agree: the category gate
// is what keeps a phone from matching a water bottle.
func Score(a, b *models.ItemReport) int {
	if a == nil || b == nil {
		return 0
	}
	if a.Type == b.Type {
		return 0
	}
	if a.Category != b.Category {
		return 0
	}

	score := 0
	if shared := SharedKeywords(a, b); len(shared) > 0 {
		score = keywordBaseScore + keywordScore*len(shared)
	}
	if locationsOverlap(a.Location, b.Location) {
		score += locationScore
	}
	if score > maxScore {
		score = maxScore
	}
	return score
}

// locationsOverlap reports whether one normalized location contains the
// other. Locations are free text, substring containment is the best
// signal available.
func locationsOverlap(a, b string) bool {
	na := strings.TrimSpace(normalizeText(a))
	nb := strings.TrimSpace(normalizeText(b))
	if na == "" || nb == "" {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

// LexicalSimilarity is the Jaccard index of two strings' token sets.
// When neither string yields tokens the normalized strings themselves are
// compared, so identical short strings still count as identical.
func LexicalSimilarity(a, b string) float64 {
	setA := tokenSetOf(a)
	setB := tokenSetOf(b)

	if len(setA) == 0 && len(setB) == 0 {
		if strings.TrimSpace(normalizeText(a)) == strings.TrimSpace(normalizeText(b)) {
			return 1
		}
		return 0
	}

	intersection := 0
	union := len(setB)
	for tok := range setA {
		if setB[tok] {
			intersection++
		} else {
			union++
		}
	}
	return float64(intersection) / float64(union)
}
