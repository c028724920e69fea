package routing

import (
	"sync/atomic"

	"llm-relay/domain/routing"
)

// RoundRobinStrategy rotates the starting offset into the candidate list on
// every call. State is a single monotonically increasing counter wrapped mod
// the candidate count, so over N consecutive requests each of N providers
// leads the list exactly once. Order after the offset is stable registration
// order, which keeps fallback deterministic.
type RoundRobinStrategy struct {
	counter atomic.Int64
}

func NewRoundRobinStrategy() *RoundRobinStrategy {
	return &RoundRobinStrategy{}
}

func (s *RoundRobinStrategy) Rank(candidates []routing.Candidate) []routing.Candidate {
	n := len(candidates)
	if n <= 1 {
		return append([]routing.Candidate(nil), candidates...)
	}

	start := int((s.counter.Add(1) - 1) % int64(n))
	out := make([]routing.Candidate, 0, n)
	out = append(out, candidates[start:]...)
	out = append(out, candidates[:start]...)
	return out
}

func (s *RoundRobinStrategy) Name() string {
	return routing.KindRoundRobin
}
