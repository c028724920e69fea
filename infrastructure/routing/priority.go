package routing

import (
	"llm-relay/domain/routing"
)

// PriorityStrategy ranks providers by a configured id order. Ids not present
// among the candidates are skipped silently; candidates not named in the
// order keep their registration order after the named ones, so every
// registered provider stays reachable for fallback.
//
// With an empty order the strategy is a no-op and the candidate list keeps
// registration order, which is the router default.
type PriorityStrategy struct {
	order []string
}

// NewPriorityStrategy creates a priority strategy. Pass no ids to rank by
// registration order.
func NewPriorityStrategy(providerIDs ...string) *PriorityStrategy {
	return &PriorityStrategy{order: providerIDs}
}

func (s *PriorityStrategy) Rank(candidates []routing.Candidate) []routing.Candidate {
	out := make([]routing.Candidate, 0, len(candidates))
	if len(s.order) == 0 {
		return append(out, candidates...)
	}

	taken := make(map[string]bool, len(candidates))
	byID := make(map[string]routing.Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.Provider.ID()] = c
	}
	for _, id := range s.order {
		c, ok := byID[id]
		if !ok || taken[id] {
			continue
		}
		out = append(out, c)
		taken[id] = true
	}
	for _, c := range candidates {
		if !taken[c.Provider.ID()] {
			out = append(out, c)
		}
	}
	return out
}

func (s *PriorityStrategy) Name() string {
	return routing.KindPriority
}
