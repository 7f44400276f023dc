package categorization

import (
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// TokenGroup is a named set of tokens; a group hits when any token occurs
// as a substring of the (lowercased) text.
type TokenGroup struct {
	Name   string
	Tokens []string
}

// TokenEngine matches every token of every group in a single pass using the
// Aho-Corasick algorithm. Time is O(n + m) in text length and match count,
// independent of how many tokens are loaded.
// It is immutable after construction and safe for concurrent use.
type TokenEngine struct {
	matcher  *ahocorasick.Matcher
	patterns []string
	groups   [][]int // groups[i] lists the group indices that own patterns[i]
	names    []string
}

// NewTokenEngine builds the automaton. Duplicate tokens across groups are
// stored once with every owning group recorded.
func NewTokenEngine(groups []TokenGroup) *TokenEngine {
	e := &TokenEngine{names: make([]string, len(groups))}

	patternToIndex := make(map[string]int)
	for gi, g := range groups {
		e.names[gi] = g.Name
		for _, tok := range g.Tokens {
			clean := strings.ToLower(strings.TrimSpace(tok))
			if clean == "" {
				continue
			}
			if idx, exists := patternToIndex[clean]; exists {
				e.groups[idx] = appendUnique(e.groups[idx], gi)
				continue
			}
			patternToIndex[clean] = len(e.patterns)
			e.patterns = append(e.patterns, clean)
			e.groups = append(e.groups, []int{gi})
		}
	}

	if len(e.patterns) > 0 {
		bytePatterns := make([][]byte, len(e.patterns))
		for i, p := range e.patterns {
			bytePatterns[i] = []byte(p)
		}
		e.matcher = ahocorasick.NewMatcher(bytePatterns)
	}

	return e
}

// TokenHits records which groups matched a text, indexed like the groups
// passed to NewTokenEngine.
type TokenHits []bool

// Hit reports whether group i matched. Negative indices never match.
func (h TokenHits) Hit(i int) bool {
	return i >= 0 && i < len(h) && h[i]
}

// Match scans text once and reports every group that hit
func (e *TokenEngine) Match(text string) TokenHits {
	hits := make(TokenHits, len(e.names))
	if e.matcher == nil {
		return hits
	}

	for _, idx := range e.matcher.Match([]byte(strings.ToLower(text))) {
		if idx < 0 || idx >= len(e.groups) {
			continue
		}
		for _, gi := range e.groups[idx] {
			hits[gi] = true
		}
	}
	return hits
}

// MatchedTokens returns the distinct tokens found in text.
func (e *TokenEngine) MatchedTokens(text string) []string {
	if e.matcher == nil {
		return nil
	}
	idxs := e.matcher.Match([]byte(strings.ToLower(text)))
	out := make([]string, 0, len(idxs))
	for _, idx := range idxs {
		if idx >= 0 && idx < len(e.patterns) {
			out = append(out, e.patterns[idx])
		}
	}
	return out
}

// PatternCount returns the number of distinct tokens loaded
func (e *TokenEngine) PatternCount() int {
	return len(e.patterns)
}

// IsEmpty returns true if no tokens are loaded
func (e *TokenEngine) IsEmpty() bool {
	return e.matcher == nil
}

func appendUnique(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}
