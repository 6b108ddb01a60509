package lang

import (
	"slices"
	"strings"
	"unicode/utf8"
)

// Short is the coarse meaning of a short confirmation.
type Short string

const (
	ShortNone  Short = ""
	ShortYes   Short = "yes"
	ShortNo    Short = "no"
	ShortMaybe Short = "maybe"
)

// Fuzzy matching thresholds for short confirmations.
const (
	MaybeSimilarity  = 0.86
	YesNoSimilarity  = 0.90
	maxFuzzyRuneSize = 24
)

// Ratio returns the similarity of a and b as 2*M/T, where M is the number of
// runes in the matching blocks found by repeatedly taking the longest common
// substring and T is the combined length.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingRunes(ra, rb)) / float64(total)
}

func matchingRunes(a, b []rune) int {
	i, j, k := longestMatch(a, b)
	if k == 0 {
		return 0
	}
	return k + matchingRunes(a[:i], b[:j]) + matchingRunes(a[i+k:], b[j+k:])
}

// longestMatch finds the longest common run, preferring the earliest start
// in a and then in b.
func longestMatch(a, b []rune) (int, int, int) {
	var bi, bj, bk int
	prev := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		cur := make([]int, len(b)+1)
		for j := 1; j <= len(b); j++ {
			if a[i-1] != b[j-1] {
				continue
			}
			cur[j] = prev[j-1] + 1
			if cur[j] > bk {
				bk = cur[j]
				bi, bj = i-bk, j-bk
			}
		}
		prev = cur
	}
	return bi, bj, bk
}

// ShortAnswer classifies bare yes/no/maybe replies across langs. Exact
// matches are tried first, then fuzzy matches when the text is short.
func ShortAnswer(langs []*Language, text string) Short {
	t := strings.Trim(Fold(text), " .!,;:")
	if t == "" {
		return ShortNone
	}
	for _, l := range langs {
		switch {
		case slices.Contains(l.Yes, t):
			return ShortYes
		case slices.Contains(l.No, t):
			return ShortNo
		case slices.Contains(l.Maybe, t):
			return ShortMaybe
		}
	}
	if utf8.RuneCountInString(t) > maxFuzzyRuneSize {
		return ShortNone
	}
	for _, l := range langs {
		for _, w := range l.Maybe {
			if Ratio(t, w) >= MaybeSimilarity {
				return ShortMaybe
			}
		}
	}
	for _, l := range langs {
		for _, w := range l.Yes {
			if Ratio(t, w) >= YesNoSimilarity {
				return ShortYes
			}
		}
	}
	for _, l := range langs {
		for _, w := range l.No {
			if Ratio(t, w) >= YesNoSimilarity {
				return ShortNo
			}
		}
	}
	return ShortNone
}
