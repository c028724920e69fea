package routing

import (
	"llm-relay/domain/llm"
	"llm-relay/domain/routing"
)

// Engine produces the ordered candidate list for one request: snapshot stats
// for every registered provider, rank via the active strategy, then move
// unhealthy providers to the end. Unhealthy providers are deprioritized, not
// removed, so the full ranked list remains the last resort.
type Engine struct {
	strategy routing.Strategy
	health   routing.HealthTracker
}

func NewEngine(strategy routing.Strategy, health routing.HealthTracker) *Engine {
	return &Engine{strategy: strategy, health: health}
}

// Candidates ranks the registered providers for one request. The input slice
// is in registration order and is not mutated.
func (e *Engine) Candidates(providers []llm.Provider) []routing.Candidate {
	candidates := make([]routing.Candidate, 0, len(providers))
	for _, p := range providers {
		stats, ok := e.health.Stats(p.ID())
		if !ok {
			// Not yet tracked: optimistically healthy until proven otherwise.
			stats = routing.ProviderStats{ProviderID: p.ID(), IsHealthy: true}
		}
		candidates = append(candidates, routing.Candidate{Provider: p, Stats: stats})
	}
	return partitionHealthy(e.strategy.Rank(candidates))
}

// StrategyName reports the active strategy for logging and events.
func (e *Engine) StrategyName() string {
	return e.strategy.Name()
}

// partitionHealthy stably moves unhealthy candidates behind healthy ones.
// When no candidate is healthy the ranked order is returned unchanged so the
// router degrades gracefully instead of refusing outright.
func partitionHealthy(ranked []routing.Candidate) []routing.Candidate {
	healthy := make([]routing.Candidate, 0, len(ranked))
	unhealthy := make([]routing.Candidate, 0)
	for _, c := range ranked {
		if c.Stats.IsHealthy {
			healthy = append(healthy, c)
		} else {
			unhealthy = append(unhealthy, c)
		}
	}
	if len(healthy) == 0 {
		return ranked
	}
	return append(healthy, unhealthy...)
}
