package matching

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// abbreviations seen on scanned wholesale receipts
var abbreviations = map[string]string{
	"org":   "organic",
	"orgnc": "organic",
	"chkn":  "chicken",
	"chk":   "chicken",
	"frzn":  "frozen",
	"fz":    "frozen",
	"whl":   "whole",
	"bnls":  "boneless",
	"sknls": "skinless",
	"brst":  "breast",
	"grnd":  "ground",
	"veg":   "vegetable",
	"lg":    "large",
	"sm":    "small",
	"med":   "medium",
	"hvy":   "heavy",
	"crm":   "cream",
}

// NormalizeName folds case, turns punctuation into spaces and expands common
// abbreviations. Catalog keys and receipt descriptions go through the same
// function so they compare equal.
func NormalizeName(s string) string {
	// a Caser is stateful; one per call keeps this safe for concurrent use
	folded := cases.Fold().String(s)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	fields := strings.Fields(b.String())
	for i, f := range fields {
		if full, ok := abbreviations[f]; ok {
			fields[i] = full
		}
	}
	return strings.Join(fields, " ")
}

var stopWords = map[string]bool{
	"the": true, "and": true, "with": true, "for": true, "per": true,
}

// significantWords returns the distinct words longer than two characters
// that carry meaning on their own. Pure numbers are skipped.
func significantWords(normalized string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range strings.Fields(normalized) {
		if len([]rune(w)) <= 2 || stopWords[w] || isNumeric(w) || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func tokenSet(normalized string) map[string]struct{} {
	fields := strings.Fields(normalized)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
