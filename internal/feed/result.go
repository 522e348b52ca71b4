// Package feed composes ranked, size-bounded feeds from weighted candidate
// pools. The Composer orchestrates candidate fetching, scoring, slot
// allocation, merging, and caching for each request.
package feed

import (
	"sort"
	"time"

	"github.com/onnwee/feedmixer/internal/composition"
	"github.com/onnwee/feedmixer/internal/pool"
	"github.com/onnwee/feedmixer/internal/scoring"
)

// Result is one composed feed. Items are ordered by score descending with
// deterministic tie-breaks, never longer than the requested size, and never
// contain two entries with the same candidate ID.
type Result struct {
	Items           []scoring.ScoredCandidate `json:"items"`
	CompositionUsed composition.Config        `json:"composition_used"`
	ExperimentGroup string                    `json:"experiment_group,omitempty"`

	// PoolsDegraded lists pools whose fetch failed or timed out; their
	// contribution was dropped rather than failing the request.
	PoolsDegraded []pool.Kind `json:"pools_degraded,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
	CacheKey    string    `json:"cache_key"`
}

// Clone deep-copies the result so cached values cannot be mutated by
// callers holding a previous response.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Items = make([]scoring.ScoredCandidate, len(r.Items))
	for i, item := range r.Items {
		out.Items[i] = item
		out.Items[i].Candidate = item.Candidate.Clone()
	}
	out.CompositionUsed = r.CompositionUsed.Clone()
	if r.PoolsDegraded != nil {
		out.PoolsDegraded = append([]pool.Kind(nil), r.PoolsDegraded...)
	}
	return &out
}

// SortByRank orders scored candidates by the global feed ordering: score
// descending, then created_at descending, then ID ascending. The final key
// makes the order total, so equal inputs always produce equal output.
func SortByRank(items []scoring.ScoredCandidate) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

// DedupeByID removes duplicate candidate IDs in place, keeping the first
// occurrence. Pools can overlap, so the same item may be sourced twice; it
// must never be shown twice.
func DedupeByID(items []scoring.ScoredCandidate) []scoring.ScoredCandidate {
	seen := make(map[string]struct{}, len(items))
	kept := items[:0]
	for _, item := range items {
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		kept = append(kept, item)
	}
	return kept
}
