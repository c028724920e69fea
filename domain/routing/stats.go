package routing

import (
	"time"

	"llm-relay/domain/llm"
)

// ProviderStats is the per-provider rolling record consulted by selection.
// Created on registration, updated after every attempt, never deleted while
// the provider stays registered. Snapshots are copies; mutation happens only
// inside the health tracker.
type ProviderStats struct {
	ProviderID          string     `json:"provider_id"`
	TotalRequests       int64      `json:"total_requests"`
	Successes           int64      `json:"successes"`
	Failures            int64      `json:"failures"`
	ConsecutiveFailures int64      `json:"consecutive_failures"`
	RollingAvgLatencyMs float64    `json:"rolling_avg_latency_ms"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	IsHealthy           bool       `json:"is_healthy"`
}

// HasLatencyHistory reports whether any latency sample has been recorded.
func (s ProviderStats) HasLatencyHistory() bool {
	return s.Successes > 0 && s.RollingAvgLatencyMs > 0
}

// Candidate pairs a provider with the stats snapshot taken at selection time.
type Candidate struct {
	Provider llm.Provider
	Stats    ProviderStats
}
