package analysis

import "strings"

// mergeThreshold is the minimum title similarity for folding a pending
// proposal into an earlier one.
const mergeThreshold = 0.82

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "for": true, "in": true,
	"of": true, "on": true, "or": true, "the": true, "to": true,
	"with": true, "your": true, "more": true, "daily": true,
}

// TitleSimilarity scores two proposal titles in [0, 1] as the Jaccard
// overlap of their word sets after lowercasing and stopword removal.
// Identical titles score 1; titles sharing no content words score 0.
func TitleSimilarity(a, b string) float64 {
	wa, wb := titleWords(a), titleWords(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func titleWords(title string) map[string]bool {
	out := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(title)) {
		word := strings.Trim(field, ".,;:!?()\"'")
		if word == "" || stopwords[word] {
			continue
		}
		out[word] = true
	}
	return out
}
