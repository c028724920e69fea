package routing

import (
	"fmt"

	"llm-relay/domain/routing"
)

// NewStrategy builds a ranking strategy from its configured name. The empty
// name means priority in registration order, the router default.
// priorityOrder is only consulted for the priority strategy.
func NewStrategy(kind string, priorityOrder ...string) (routing.Strategy, error) {
	switch kind {
	case "", routing.KindPriority:
		return NewPriorityStrategy(priorityOrder...), nil
	case routing.KindRoundRobin:
		return NewRoundRobinStrategy(), nil
	case routing.KindCostOptimized:
		return NewCostOptimizedStrategy(), nil
	case routing.KindLatencyOptimized:
		return NewLatencyOptimizedStrategy(), nil
	case routing.KindRandom:
		return NewRandomStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown routing strategy %q", kind)
	}
}
