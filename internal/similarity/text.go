// Package similarity holds the scoring primitives shared by the matcher and
// the consensus engine: bigram text overlap and fixed-length image
// fingerprints.
package similarity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldMarks = runes.Remove(runes.In(unicode.Mn))

// Normalize lowercases input, folds accents to their base letter, replaces
// every character outside [a-z0-9] with a space and collapses runs of spaces.
func Normalize(input string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, foldMarks, norm.NFC), input)
	if err != nil {
		folded = input
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// TextSimilarity returns the Dice coefficient over character bigram
// multisets of the two normalized inputs.
func TextSimilarity(a, b string) float64 {
	x := Normalize(a)
	y := Normalize(b)
	if x == "" || y == "" {
		return 0
	}
	if x == y {
		return 1
	}

	bx := bigrams(x)
	by := bigrams(y)
	overlap := 0
	for token, count := range bx {
		overlap += min(count, by[token])
	}

	denominator := (len(x) - 1) + (len(y) - 1)
	if denominator <= 0 {
		return 0
	}
	return float64(2*overlap) / float64(denominator)
}

// bigrams is only called on normalized input, which is ASCII.
func bigrams(value string) map[string]int {
	counts := make(map[string]int, len(value))
	for i := 0; i+1 < len(value); i++ {
		counts[value[i:i+2]]++
	}
	return counts
}
