package vectorstore

import "sort"

// fuseRanked combines per-subrequest ranked result lists into one ordered
// list, via RRF (score += weight / (k + rank)) or a simple weighted-score
// sum, truncated to limit. Ties break by ascending id for determinism.
func fuseRanked(ranked [][]SearchResult, weights []float64, opts HybridOptions) []SearchResult {
	type accum struct {
		result SearchResult
		score  float64
	}
	byID := make(map[string]*accum)

	k := opts.RerankK
	if k <= 0 {
		k = 60
	}

	for listIdx, list := range ranked {
		weight := 1.0
		if opts.Rerank == RerankWeighted && listIdx < len(weights) {
			weight = weights[listIdx]
		}
		for rank, r := range list {
			var contribution float64
			switch opts.Rerank {
			case RerankWeighted:
				contribution = weight * float64(r.Score)
			default: // RRF: weight is fixed at 1.0 — DenseWeight/SparseWeight
				// are a weighted-strategy-only multiplier (port.go).
				contribution = weight / float64(k+rank+1)
			}
			if existing, ok := byID[r.ID]; ok {
				existing.score += contribution
			} else {
				byID[r.ID] = &accum{result: r, score: contribution}
			}
		}
	}

	fused := make([]SearchResult, 0, len(byID))
	for _, a := range byID {
		a.result.Score = float32(a.score)
		fused = append(fused, a.result)
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})

	limit := opts.Limit
	if limit > 0 && len(fused) > limit {
		fused = fused[:limit]
	}
	return fused
}
