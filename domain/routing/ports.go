package routing

import (
	"time"

	"llm-relay/domain/llm"
)

// Strategy orders the candidates for one request. Rank never adds or removes
// entries; health partitioning happens after ranking so unhealthy providers
// fall to the end of the list without becoming unreachable.
type Strategy interface {
	Rank(candidates []Candidate) []Candidate
	Name() string
}

// HealthTracker maintains per-provider stats from real traffic and explicit
// health checks. Implementations must apply concurrent updates without losing
// any.
type HealthTracker interface {
	// Register creates the stats record for a provider. Idempotent.
	Register(providerID string)

	// RecordSuccess notes a successful attempt and its latency. One success
	// restores health.
	RecordSuccess(providerID string, latency time.Duration)

	// RecordFailure notes a failed attempt. Three consecutive failures mark
	// the provider unhealthy.
	RecordFailure(providerID string)

	// RecordCheck applies the outcome of an explicit health check.
	RecordCheck(providerID string, healthy bool)

	// Stats returns a copy of one provider's record.
	Stats(providerID string) (ProviderStats, bool)

	// Snapshot returns copies of every record.
	Snapshot() map[string]ProviderStats
}

// CostTracker accumulates spend and enforces the budget ceiling.
type CostTracker interface {
	// Add records the cost of one completed request.
	Add(providerID string, costUSD float64)

	// Total returns cumulative spend across all providers.
	Total() float64

	// ByProvider returns cumulative spend per provider.
	ByProvider() map[string]float64

	// CheckBudget returns BudgetExceededError once cumulative spend has
	// reached the ceiling, nil otherwise or when no budget is set.
	CheckBudget() error
}

// Observer receives routing outcomes after the fact. Implementations must be
// non-blocking; anything slow hands off to its own worker.
type Observer interface {
	RequestCompleted(ev RequestEvent)
	AttemptFailed(ev AttemptEvent)
	EmbeddingCompleted(ev EmbeddingEvent)
}

// RequestEvent is the terminal outcome of one routed request.
type RequestEvent struct {
	RequestID string
	Provider  string
	Model     string
	Strategy  string
	Streaming bool
	Attempts  int
	Usage     llm.TokenUsage
	CostUSD   float64
	LatencyMs int64
	Err       error
	At        time.Time
}

// AttemptEvent is one failed attempt inside a fallback chain.
type AttemptEvent struct {
	RequestID string
	Provider  string
	Model     string
	Attempt   int
	LatencyMs int64
	Err       error
	At        time.Time
}

// EmbeddingEvent is the outcome of one embeddings call. Vector holds the
// returned embedding on success so observers can persist it; it is nil on
// failure.
type EmbeddingEvent struct {
	RequestID  string
	Provider   string
	Model      string
	TextLen    int
	Dimensions int
	Vector     []float32
	LatencyMs  int64
	Err        error
	At         time.Time
}
