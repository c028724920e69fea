package routing

import (
	"sort"

	"llm-relay/domain/routing"
)

// LatencyOptimizedStrategy ranks providers by ascending rolling average
// latency. Providers with no recorded latency sort after every measured
// provider, in registration order; they stay in the list so fallback and the
// health checker still exercise them and produce their first measurements.
type LatencyOptimizedStrategy struct{}

func NewLatencyOptimizedStrategy() *LatencyOptimizedStrategy {
	return &LatencyOptimizedStrategy{}
}

func (s *LatencyOptimizedStrategy) Rank(candidates []routing.Candidate) []routing.Candidate {
	out := append([]routing.Candidate(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		mi, mj := out[i].Stats.HasLatencyHistory(), out[j].Stats.HasLatencyHistory()
		switch {
		case mi && mj:
			return out[i].Stats.RollingAvgLatencyMs < out[j].Stats.RollingAvgLatencyMs
		case mi:
			return true
		default:
			return false
		}
	})
	return out
}

func (s *LatencyOptimizedStrategy) Name() string {
	return routing.KindLatencyOptimized
}
