package rag

import (
	"sort"
)

// FusionConfig holds the Reciprocal Rank Fusion constants. K is the rank
// smoothing constant; WeightSumFallback is used by the normalizer when the
// actual weight sum is unknown. Both are configuration, not invariants.
type FusionConfig struct {
	K                 int
	WeightSumFallback float64
}

// DefaultFusionConfig matches the commonly used RRF defaults.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{K: 60, WeightSumFallback: 1.0}
}

type fusedHit struct {
	hit       SearchHit
	score     float64
	bestRank  int
	insertion int
}

// FuseRRF merges per-query ranked lists into one list with
// fused(doc) = sum over queries containing doc of weight/(k+rank), rank
// 1-based. Ties break by best individual rank, then insertion order, so the
// merge is deterministic for identical inputs. Output is truncated to topK
// (topK <= 0 means no truncation). Weights missing for a query default to 1.
func FuseRRF(lists [][]SearchHit, weights []float64, cfg FusionConfig, topK int) []SearchHit {
	k := float64(cfg.K)
	fused := make(map[string]*fusedHit)
	var insertion int

	for qi, list := range lists {
		weight := 1.0
		if qi < len(weights) && weights[qi] > 0 {
			weight = weights[qi]
		}
		for rank, hit := range list {
			entry, ok := fused[hit.ID]
			if !ok {
				entry = &fusedHit{hit: hit, bestRank: rank + 1, insertion: insertion}
				fused[hit.ID] = entry
				insertion++
			}
			entry.score += weight / (k + float64(rank+1))
			if rank+1 < entry.bestRank {
				entry.bestRank = rank + 1
			}
		}
	}

	merged := make([]*fusedHit, 0, len(fused))
	for _, entry := range fused {
		merged = append(merged, entry)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].score != merged[j].score {
			return merged[i].score > merged[j].score
		}
		if merged[i].bestRank != merged[j].bestRank {
			return merged[i].bestRank < merged[j].bestRank
		}
		return merged[i].insertion < merged[j].insertion
	})

	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}

	out := make([]SearchHit, len(merged))
	for i, entry := range merged {
		hit := entry.hit
		hit.Score = entry.score
		out[i] = hit
	}
	return out
}

// NormalizeScore maps a raw fused score to [0,100]. The theoretical maximum
// for a document ranked first in every query is weightSum/(k+1), so the
// result is independent of k and query count. weightSum <= 0 falls back to
// the configured default.
func NormalizeScore(raw, weightSum float64, cfg FusionConfig) float64 {
	if weightSum <= 0 {
		weightSum = cfg.WeightSumFallback
	}
	if weightSum <= 0 {
		return 0
	}
	max := weightSum / float64(cfg.K+1)
	if max <= 0 {
		return 0
	}
	normalized := raw / max * 100
	if normalized < 0 {
		return 0
	}
	if normalized > 100 {
		return 100
	}
	return normalized
}
