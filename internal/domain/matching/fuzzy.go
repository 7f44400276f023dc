package matching

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

const (
	// DefaultMinSimilarity is the lowest fuzzy ratio accepted as a match
	DefaultMinSimilarity = 0.70

	substringFloor = 0.80
	overlapBoost   = 1.3
	overlapCap     = 0.95
)

// Similarity returns a ratio in [0,1] between two normalized names. The base
// is the Levenshtein ratio; containment lifts it to at least 0.8 and sharing
// two or more tokens lifts it towards the token Jaccard overlap.
func Similarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	score := 1 - float64(fuzzy.LevenshteinDistance(a, b))/float64(maxLen)

	if strings.Contains(a, b) || strings.Contains(b, a) {
		score = math.Max(score, substringFloor)
	}

	ta, tb := tokenSet(a), tokenSet(b)
	shared := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			shared++
		}
	}
	if shared >= 2 {
		union := len(ta) + len(tb) - shared
		jaccard := float64(shared) / float64(union)
		score = math.Max(score, math.Min(jaccard*overlapBoost, overlapCap))
	}

	return math.Max(0, math.Min(1, score))
}

// bestFuzzy scans every catalog name and returns the highest scoring one.
// Ties keep the earlier catalog entry.
func (c *Catalog) bestFuzzy(query string, minScore float64) (int, float64, bool) {
	best, bestScore := -1, 0.0
	for _, k := range c.keys {
		score := Similarity(query, k.name)
		if score > bestScore {
			best, bestScore = k.entry, score
		}
	}
	if best < 0 || bestScore < minScore {
		return 0, bestScore, false
	}
	return best, bestScore, true
}
