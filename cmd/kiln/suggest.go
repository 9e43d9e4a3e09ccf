package main

import "github.com/kiln-build/kiln/internal/graph"

// suggestTarget returns the known path closest to the name the user
// typed, for "did you mean" on unknown targets. Only near misses are
// worth suggesting; anything further than maxSuggestDistance edits away
// yields "".
const maxSuggestDistance = 3

func suggestTarget(g *graph.Graph, name string) string {
	best := ""
	bestDistance := maxSuggestDistance + 1
	for i := 0; i < g.NumFiles(); i++ {
		p := g.File(graph.FileID(i)).Path
		if d, ok := distanceWithin(name, p, maxSuggestDistance); ok && d < bestDistance {
			bestDistance = d
			best = p
		}
	}
	return best
}

// distanceWithin reports the Levenshtein distance between a typed target
// and a known path, but gives up as soon as the distance is guaranteed to
// exceed limit: the length gap is checked up front, and each DP row's
// minimum bounds every distance reachable from it. Paths in a build graph
// are many and mostly nothing alike, so the early exits do almost all of
// the work.
func distanceWithin(typed, known string, limit int) (int, bool) {
	if gap := len(typed) - len(known); gap > limit || -gap > limit {
		return 0, false
	}
	prev := make([]int, len(known)+1)
	curr := make([]int, len(known)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(typed); i++ {
		curr[0] = i
		rowMin := i
		for j := 1; j <= len(known); j++ {
			cost := 1
			if typed[i-1] == known[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j-1]+cost, min(prev[j], curr[j-1])+1)
			if curr[j] < rowMin {
				rowMin = curr[j]
			}
		}
		if rowMin > limit {
			return 0, false
		}
		prev, curr = curr, prev
	}
	if d := prev[len(known)]; d <= limit {
		return d, true
	}
	return 0, false
}
