package persistence

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the generic persistence contract shared by all log tables.
type Repository[T any] interface {
	Create(ctx context.Context, entity *T) error
	FindByID(ctx context.Context, id uuid.UUID) (*T, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RequestLogRepository stores terminal request outcomes.
type RequestLogRepository interface {
	Repository[RequestLog]

	FindByRequestID(ctx context.Context, requestID string) (*RequestLog, error)
	FindRecent(ctx context.Context, limit int) ([]*RequestLog, error)
	FindByProvider(ctx context.Context, provider string, limit int) ([]*RequestLog, error)
	Aggregate(ctx context.Context) (*AggregatedStats, error)
}

// AttemptLogRepository stores failed attempts from fallback chains.
type AttemptLogRepository interface {
	Repository[AttemptLog]

	FindByRequestID(ctx context.Context, requestID string) ([]*AttemptLog, error)
	CountByProvider(ctx context.Context) (map[string]int64, error)
}

// EmbeddingLogRepository stores embedding call outcomes.
type EmbeddingLogRepository interface {
	Repository[EmbeddingLog]

	FindRecent(ctx context.Context, limit int) ([]*EmbeddingLog, error)
}

// AggregatedStats summarizes the request_logs table.
type AggregatedStats struct {
	TotalRequests     int64   `json:"total_requests"`
	CompletedRequests int64   `json:"completed_requests"`
	FailedRequests    int64   `json:"failed_requests"`
	TotalCost         float64 `json:"total_cost"`
	TotalTokens       int64   `json:"total_tokens"`
	AverageLatencyMs  float64 `json:"average_latency_ms"`
}

// EventProcessor drains recording events to the repositories without ever
// blocking the request path. Enqueue drops on a full queue.
type EventProcessor interface {
	Start(ctx context.Context) error
	Stop() error
	Enqueue(event any) error
	Health() ProcessorHealth
}

// ProcessorHealth is a point-in-time snapshot of the processor.
type ProcessorHealth struct {
	IsRunning      bool  `json:"is_running"`
	QueueSize      int   `json:"queue_size"`
	ProcessedCount int64 `json:"processed_count"`
	ErrorCount     int64 `json:"error_count"`
	DroppedCount   int64 `json:"dropped_count"`
}

// DatabaseManager owns the database connection and its repositories.
type DatabaseManager interface {
	Connect(ctx context.Context, driver, dsn string) error
	Close() error
	Migrate() error
	Health(ctx context.Context) error
	Repositories() (RequestLogRepository, AttemptLogRepository, EmbeddingLogRepository)
}

// TransactionManager runs a function inside one database transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
