// Package fusion merges ranked lists from independent retrieval channels via
// Reciprocal Rank Fusion.
//
// RRF operates on ranks rather than raw scores, which is exactly why it is
// used here: vector similarity and keyword relevance scores live on
// incomparable scales, but their rankings fuse cleanly.
package fusion

import (
	"sort"

	"github.com/hybridrag/hybridrag/chunk"
)

// DefaultK is the RRF smoothing constant. 60 de-emphasizes rank-1 dominance
// while still rewarding top placement; it is tunable, not a law.
const DefaultK = 60

// List is one channel's ranking, best first. Rank is 1-based position.
type List []chunk.ID

// Fused is one entry of the fused ordering.
type Fused struct {
	ID    chunk.ID
	Score float32 // sum over lists of 1/(k + rank)
}

// Fuse merges the given ranked lists into a single ordering.
//
// Each chunk scores sum(1/(k+rank)) over the lists it appears in; a chunk
// absent from a list contributes nothing for that list, and a chunk absent
// from every list never appears in the output. Ties are broken by
// lexicographic chunk ID for determinism. At most topK entries are returned;
// topK <= 0 returns the full fused ordering.
func Fuse(lists []List, k int, topK int) []Fused {
	if k <= 0 {
		k = DefaultK
	}

	scores := make(map[chunk.ID]float32)
	for _, list := range lists {
		for i, id := range list {
			scores[id] += 1.0 / float32(k+i+1)
		}
	}

	fused := make([]Fused, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, Fused{ID: id, Score: score})
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})

	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}
