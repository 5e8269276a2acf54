package retrieval

import (
	"sort"

	"github.com/kgraph-ai/harmonizer/graphstore"
)

const defaultRRFK = 60

// fuseRRF combines vector and graph result sets via Reciprocal Rank Fusion:
// score(doc) = sum(weight_method / (k + rank_method)), summed over every
// method that surfaced the chunk. Fusion order is immaterial since RRF is
// associative — the concurrent vector/graph dispatch in Retrieve need not
// preserve any ordering between the two channels.
func fuseRRF(vecHits, graphHits []graphstore.SearchHit, weightVector, weightGraph float64, rrfK, maxResults int) []graphstore.SearchHit {
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}

	type fusedEntry struct {
		hit   graphstore.SearchHit
		score float64
	}
	fused := make(map[string]*fusedEntry)

	add := func(hits []graphstore.SearchHit, weight float64) {
		for rank, h := range hits {
			entry, ok := fused[h.ChunkID]
			if !ok {
				entry = &fusedEntry{hit: h}
				fused[h.ChunkID] = entry
			}
			entry.score += weight / float64(rrfK+rank+1)
		}
	}
	add(vecHits, weightVector)
	add(graphHits, weightGraph)

	entries := make([]*fusedEntry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].score > entries[j].score })

	if maxResults > 0 && len(entries) > maxResults {
		entries = entries[:maxResults]
	}

	out := make([]graphstore.SearchHit, len(entries))
	for i, e := range entries {
		out[i] = e.hit
		out[i].Score = e.score
	}
	return out
}
