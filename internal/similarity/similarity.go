// Package similarity scores how close two business names are, for the
// near-duplicate merchant detection in the merge engine.
package similarity

import (
	"sort"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// DefaultThreshold is the minimum score at which two business names are
// considered merge candidates.
const DefaultThreshold = 0.85

// Match pairs a candidate string with its similarity score.
type Match struct {
	Candidate string
	Score     float64
}

// unitCosts charges 1 per edit. The library default charges 2 per
// substitution, which would skew Score below the normalized range.
var unitCosts = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

// EditDistance returns the Levenshtein distance between a and b
// (insert/delete/substitute, cost 1 each), computed over runes so
// non-ASCII merchant names are measured per character.
func EditDistance(a, b string) int {
	return levenshtein.DistanceForStrings([]rune(a), []rune(b), unitCosts)
}

// Score returns a similarity in [0,1]: 1 for identical strings
// (case-insensitive), 0 when exactly one side is empty.
func Score(a, b string) float64 {
	la := strings.ToLower(a)
	lb := strings.ToLower(b)
	if la == lb {
		return 1.0
	}
	longest := maxRuneLen(la, lb)
	if longest == 0 {
		return 1.0
	}
	if len(la) == 0 || len(lb) == 0 {
		return 0.0
	}
	return 1.0 - float64(EditDistance(la, lb))/float64(longest)
}

// FindSimilar scores target against every candidate and returns those
// at or above threshold, highest first. Ties keep input order.
func FindSimilar(target string, candidates []string, threshold float64) []Match {
	var matches []Match
	for _, c := range candidates {
		if score := Score(target, c); score >= threshold {
			matches = append(matches, Match{Candidate: c, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

func maxRuneLen(a, b string) int {
	la := len([]rune(a))
	if lb := len([]rune(b)); lb > la {
		return lb
	}
	return la
}
