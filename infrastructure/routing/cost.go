package routing

import (
	"sort"

	"llm-relay/domain/routing"
)

// CostOptimizedStrategy ranks providers by ascending combined per-1k rate
// (input + output). Providers without published pricing are treated as
// infinitely expensive: they sort after every priced provider but remain in
// the list so fallback can still reach them. Ties keep registration order.
type CostOptimizedStrategy struct{}

func NewCostOptimizedStrategy() *CostOptimizedStrategy {
	return &CostOptimizedStrategy{}
}

func (s *CostOptimizedStrategy) Rank(candidates []routing.Candidate) []routing.Candidate {
	out := append([]routing.Candidate(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Provider.Pricing(), out[j].Provider.Pricing()
		switch {
		case pi == nil && pj == nil:
			return false
		case pi == nil:
			return false
		case pj == nil:
			return true
		default:
			return pi.TotalPer1K() < pj.TotalPer1K()
		}
	})
	return out
}

func (s *CostOptimizedStrategy) Name() string {
	return routing.KindCostOptimized
}
