package routing

import "time"

// Strategy names used by configuration and logging.
const (
	KindPriority         = "priority"
	KindRoundRobin       = "round_robin"
	KindCostOptimized    = "cost_optimized"
	KindLatencyOptimized = "latency_optimized"
	KindRandom           = "random"
)

// Defaults applied by the router builder when fields are unset.
const (
	DefaultPerRequestTimeout   = 30 * time.Second
	DefaultHealthCheckInterval = 60 * time.Second
)

// Config governs one router instance for its lifetime.
//
// Zero values mean: Strategy nil = priority in registration order,
// MaxFallbackAttempts 0 = provider count, PerRequestTimeout 0 = 30s,
// HealthCheckInterval 0 = 60s, BudgetUSD nil = unlimited.
type Config struct {
	Strategy            Strategy
	MaxFallbackAttempts int
	PerRequestTimeout   time.Duration
	HealthCheckInterval time.Duration
	BudgetUSD           *float64
}
