package header

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Tier identifies the match strategy that paired a column with a field.
// Lower tiers take priority.
type Tier int

const (
	TierExact Tier = iota + 1
	TierCaseInsensitive
	TierNormalized
	TierFuzzy
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierCaseInsensitive:
		return "case_insensitive"
	case TierNormalized:
		return "normalized"
	case TierFuzzy:
		return "fuzzy"
	default:
		return "unknown"
	}
}

// MarshalText renders the tier name in JSON output.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Strategy is a pure predicate deciding whether a column matches an alias.
type Strategy struct {
	Tier  Tier
	Match func(alias, column string) bool
}

// Strategies are applied in order; the first tier that matches wins.
// Fuzzy matching is not a Strategy: it only produces suggestions.
var Strategies = []Strategy{
	{Tier: TierExact, Match: matchExact},
	{Tier: TierCaseInsensitive, Match: matchCaseInsensitive},
	{Tier: TierNormalized, Match: matchNormalized},
}

func matchExact(alias, column string) bool {
	return alias == column
}

func matchCaseInsensitive(alias, column string) bool {
	return strings.EqualFold(strings.TrimSpace(alias), strings.TrimSpace(column))
}

func matchNormalized(alias, column string) bool {
	a := Normalize(alias)
	return a != "" && a == Normalize(column)
}

// Normalize folds a header name to lowercase letters and digits only, after
// Unicode compatibility normalization, so "Pub_Med ID" becomes "pubmedid".
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// minSubstringLen is the shortest normalized alias that may match by
// containment; shorter aliases ("pmc", "url") match too many columns.
const minSubstringLen = 4

// Similarity scores how alike an alias and a column are, in [0, 1].
// It is the Levenshtein ratio of the normalized strings, raised to the
// threshold when one contains the other.
func Similarity(alias, column string, threshold float64) float64 {
	a, c := Normalize(alias), Normalize(column)
	if a == "" || c == "" {
		return 0
	}
	score := levenshteinRatio(a, c)
	if score < threshold && len(a) >= minSubstringLen && len(c) >= minSubstringLen &&
		(strings.Contains(c, a) || strings.Contains(a, c)) {
		score = threshold
	}
	return score
}

func levenshteinRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
