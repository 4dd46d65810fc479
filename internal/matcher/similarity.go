package matcher

import (
	"sort"
	"strings"
)

// Pure string-similarity primitives used by the counterparty and symbol
// scoring rules. All functions operate on runes and return values in [0,1].

// ratio returns the normalized indel similarity of two strings: twice the
// length of their longest common subsequence over their combined length.
func ratio(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}

	r1, r2 := []rune(s1), []rune(s2)
	total := len(r1) + len(r2)
	if total == 0 {
		return 1.0
	}

	return 2.0 * float64(lcsLength(r1, r2)) / float64(total)
}

// lcsLength computes the longest common subsequence length with a two-row
// dynamic program.
func lcsLength(r1, r2 []rune) int {
	if len(r1) == 0 || len(r2) == 0 {
		return 0
	}

	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)

	for i := 1; i <= len(r1); i++ {
		for j := 1; j <= len(r2); j++ {
			if r1[i-1] == r2[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}

	return prev[len(r2)]
}

// tokenSortRatio compares the strings with their whitespace-separated tokens
// sorted, making the result order-insensitive.
func tokenSortRatio(s1, s2 string) float64 {
	return ratio(sortedTokenString(s1), sortedTokenString(s2))
}

func sortedTokenString(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// tokenSetRatio compares the strings on their shared tokens: the best of
// (intersection vs each combined form) and (combined vs combined). A string
// whose tokens are a subset of the other's scores 1.0.
func tokenSetRatio(s1, s2 string) float64 {
	tokens1 := uniqueSortedTokens(s1)
	tokens2 := uniqueSortedTokens(s2)

	common, diff1, diff2 := splitTokenSets(tokens1, tokens2)

	sect := strings.Join(common, " ")
	combined1 := strings.TrimSpace(sect + " " + strings.Join(diff1, " "))
	combined2 := strings.TrimSpace(sect + " " + strings.Join(diff2, " "))

	best := ratio(combined1, combined2)
	if r := ratio(sect, combined1); r > best {
		best = r
	}
	if r := ratio(sect, combined2); r > best {
		best = r
	}
	return best
}

func uniqueSortedTokens(s string) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, token := range strings.Fields(s) {
		if !seen[token] {
			seen[token] = true
			tokens = append(tokens, token)
		}
	}
	sort.Strings(tokens)
	return tokens
}

// splitTokenSets partitions two sorted unique token slices into their
// intersection and the remainders on each side, preserving sort order.
func splitTokenSets(tokens1, tokens2 []string) (common, diff1, diff2 []string) {
	set2 := make(map[string]bool, len(tokens2))
	for _, token := range tokens2 {
		set2[token] = true
	}

	set1 := make(map[string]bool, len(tokens1))
	for _, token := range tokens1 {
		set1[token] = true
		if set2[token] {
			common = append(common, token)
		} else {
			diff1 = append(diff1, token)
		}
	}

	for _, token := range tokens2 {
		if !set1[token] {
			diff2 = append(diff2, token)
		}
	}

	return common, diff1, diff2
}

// jaroSimilarity returns the Jaro similarity of two strings: matching
// characters within a sliding window, penalized by transpositions.
func jaroSimilarity(s1, s2 string) float64 {
	r1, r2 := []rune(s1), []rune(s2)
	len1, len2 := len(r1), len(r2)

	if len1 == 0 && len2 == 0 {
		return 1.0
	}
	if len1 == 0 || len2 == 0 {
		return 0.0
	}

	window := len1
	if len2 > window {
		window = len2
	}
	window = window/2 - 1
	if window < 0 {
		window = 0
	}

	matched1 := make([]bool, len1)
	matched2 := make([]bool, len2)

	matches := 0
	for i := 0; i < len1; i++ {
		lo := i - window
		if lo < 0 {
			lo = 0
		}
		hi := i + window
		if hi >= len2 {
			hi = len2 - 1
		}
		for j := lo; j <= hi; j++ {
			if !matched2[j] && r1[i] == r2[j] {
				matched1[i] = true
				matched2[j] = true
				matches++
				break
			}
		}
	}

	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	j := 0
	for i := 0; i < len1; i++ {
		if !matched1[i] {
			continue
		}
		for !matched2[j] {
			j++
		}
		if r1[i] != r2[j] {
			transpositions++
		}
		j++
	}

	m := float64(matches)
	t := float64(transpositions) / 2.0
	return (m/float64(len1) + m/float64(len2) + (m-t)/m) / 3.0
}

// jaroWinkler boosts the Jaro similarity for strings sharing a common
// prefix (up to 4 runes, scale 0.1). The boost only applies above 0.7.
func jaroWinkler(s1, s2 string) float64 {
	j := jaroSimilarity(s1, s2)
	if j <= 0.7 {
		return j
	}

	r1, r2 := []rune(s1), []rune(s2)
	prefix := 0
	for prefix < len(r1) && prefix < len(r2) && prefix < 4 && r1[prefix] == r2[prefix] {
		prefix++
	}

	return j + float64(prefix)*0.1*(1.0-j)
}
