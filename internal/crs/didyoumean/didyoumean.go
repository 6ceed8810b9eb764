// Package didyoumean computes Damerau-Levenshtein-closest suggestions over
// a known-name set, used by the solver for unresolved dependency names and
// by the manifest walker for unknown keys. No corpus dependency implements
// edit distance (see DESIGN.md), so this is hand-rolled.
package didyoumean

import "sort"

// Distance computes the Damerau-Levenshtein distance between a and b
// (insertions, deletions, substitutions, and adjacent transpositions each
// cost 1).
func Distance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)

	d := make([][]int, la+1)
	for i := range d {
		d[i] = make([]int, lb+1)
		d[i][0] = i
	}
	for j := 0; j <= lb; j++ {
		d[0][j] = j
	}

	for i := 1; i <= la; i++ {
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := d[i-1][j] + 1
			ins := d[i][j-1] + 1
			sub := d[i-1][j-1] + cost
			best := min3(del, ins, sub)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				trans := d[i-2][j-2] + 1
				if trans < best {
					best = trans
				}
			}
			d[i][j] = best
		}
	}
	return d[la][lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// Suggestions returns up to limit candidates from known, ranked by
// ascending edit distance from target (ties by name). Candidates farther
// than len(target)/3+1 are excluded, a length-proportional threshold so
// short names don't match everything.
func Suggestions(target string, known []string, limit int) []string {
	type scored struct {
		name string
		dist int
	}
	maxDistance := len(target)/3 + 1
	var candidates []scored
	for _, k := range known {
		if k == target {
			continue
		}
		dist := Distance(target, k)
		if dist <= maxDistance {
			candidates = append(candidates, scored{k, dist})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].name < candidates[j].name
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.name
	}
	return out
}
