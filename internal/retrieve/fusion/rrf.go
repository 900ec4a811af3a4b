// Package fusion implements client-side Reciprocal Rank Fusion for vector
// stores without server-side fusion support.
package fusion

import (
	"sort"

	"github.com/claudecontext/claude-context/internal/vector"
)

// K is the RRF smoothing constant. Higher values reduce the impact of rank
// position differences.
const K = 60

// Fuse combines ranked result lists with RRF: each candidate scores
// sum(1/(K + rank)) over the lists it appears in, with 1-based ranks.
// Candidates absent from a list contribute nothing for it. Duplicates are
// collapsed by id; ties break on lexicographic id so results are
// deterministic. Applied to a single list, the input ordering is preserved.
func Fuse(lists ...[]vector.Result) []vector.Result {
	scores := make(map[string]float32)
	payloads := make(map[string]vector.Result)

	for _, list := range lists {
		for rank, r := range list {
			scores[r.ID] += 1.0 / float32(K+rank+1)
			if _, ok := payloads[r.ID]; !ok {
				payloads[r.ID] = r
			}
		}
	}

	fused := make([]vector.Result, 0, len(scores))
	for id, score := range scores {
		r := payloads[id]
		r.Score = score
		fused = append(fused, r)
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})

	return fused
}

// MergeRanked merges already-scored result lists from multiple collections,
// keeping the higher score for duplicate ids and breaking ties on id.
func MergeRanked(lists ...[]vector.Result) []vector.Result {
	best := make(map[string]vector.Result)
	for _, list := range lists {
		for _, r := range list {
			if cur, ok := best[r.ID]; !ok || r.Score > cur.Score {
				best[r.ID] = r
			}
		}
	}

	merged := make([]vector.Result, 0, len(best))
	for _, r := range best {
		merged = append(merged, r)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})

	return merged
}
