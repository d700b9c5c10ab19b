// Package fuzzy provides bounded edit-distance matching for domain terms.
package fuzzy

import (
	"sort"
	"strings"
)

// Distance returns the optimal string alignment distance between a and b:
// insertions, deletions, substitutions and adjacent transpositions each cost 1.
// Comparison is rune-wise and case-sensitive.
func Distance(a, b string) int {
	s1 := []rune(a)
	s2 := []rune(b)
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	// Three rows of the DP table: two back (for transpositions), previous, current.
	prev2 := make([]int, len(s2)+1)
	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 0
			if s1[i-1] != s2[j-1] {
				cost = 1
			}
			curr[j] = minInt(
				curr[j-1]+1,    // insertion
				prev[j]+1,      // deletion
				prev[j-1]+cost, // substitution
			)
			if i > 1 && j > 1 && s1[i-1] == s2[j-2] && s1[i-2] == s2[j-1] {
				if t := prev2[j-2] + 1; t < curr[j] {
					curr[j] = t
				}
			}
		}
		prev2, prev, curr = prev, curr, prev2
	}

	return prev[len(s2)]
}

// Threshold is the largest correction allowed for a token of the given length.
// Short tokens are never corrected; they collide with too many real words.
func Threshold(word string) int {
	n := len([]rune(word))
	switch {
	case n >= 8:
		return 2
	case n >= 5:
		return 1
	default:
		return 0
	}
}

// Best returns the unique closest candidate within maxDist of word.
// ok is false when nothing is close enough or two candidates tie.
func Best(word string, candidates []string, maxDist int) (match string, dist int, ok bool) {
	best := maxDist + 1
	tied := false
	for _, c := range candidates {
		if absInt(len(c)-len(word)) > maxDist {
			continue
		}
		d := Distance(word, c)
		switch {
		case d < best:
			best, match, tied = d, c, false
		case d == best && c != match:
			tied = true
		}
	}
	if match == "" || best > maxDist || tied {
		return "", 0, false
	}
	return match, best, true
}

// Suggest returns up to n candidates ordered by distance to word, ignoring case.
// Candidates further than half the word's length are dropped.
func Suggest(word string, candidates []string, n int) []string {
	type scored struct {
		value string
		dist  int
	}
	lw := strings.ToLower(word)
	limit := len([]rune(lw))/2 + 1

	var out []scored
	for _, c := range candidates {
		lc := strings.ToLower(c)
		d := Distance(lw, lc)
		if strings.Contains(lc, lw) || strings.Contains(lw, lc) {
			d = minInt(d, 1, d)
		}
		if d <= limit {
			out = append(out, scored{c, d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].dist != out[j].dist {
			return out[i].dist < out[j].dist
		}
		return out[i].value < out[j].value
	})

	result := make([]string, 0, n)
	for i := 0; i < len(out) && i < n; i++ {
		result = append(result, out[i].value)
	}
	return result
}

// minInt returns the minimum of three integers.
func minInt(a, b, c int) int {
	if a <= b && a <= c {
		return a
	}
	if b <= c {
		return b
	}
	return c
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
