package persistence

import (
	"context"
	"errors"
	"fmt"

	"llm-relay/domain/persistence"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RequestLogRepository struct {
	db *gorm.DB
}

func NewRequestLogRepository(db *gorm.DB) persistence.RequestLogRepository {
	return &RequestLogRepository{db: db}
}

func (r *RequestLogRepository) Create(ctx context.Context, entity *persistence.RequestLog) error {
	if err := dbFrom(ctx, r.db).Create(entity).Error; err != nil {
		return fmt.Errorf("failed to create request log: %w", err)
	}
	return nil
}

func (r *RequestLogRepository) FindByID(ctx context.Context, id uuid.UUID) (*persistence.RequestLog, error) {
	var log persistence.RequestLog
	if err := dbFrom(ctx, r.db).First(&log, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("request log not found: %w", err)
		}
		return nil, fmt.Errorf("failed to find request log: %w", err)
	}
	return &log, nil
}

func (r *RequestLogRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := dbFrom(ctx, r.db).Delete(&persistence.RequestLog{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete request log: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("request log not found for deletion")
	}
	return nil
}

func (r *RequestLogRepository) FindByRequestID(ctx context.Context, requestID string) (*persistence.RequestLog, error) {
	var log persistence.RequestLog
	if err := dbFrom(ctx, r.db).First(&log, "request_id = ?", requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("request log not found: %w", err)
		}
		return nil, fmt.Errorf("failed to find request log: %w", err)
	}
	return &log, nil
}

func (r *RequestLogRepository) FindRecent(ctx context.Context, limit int) ([]*persistence.RequestLog, error) {
	var logs []*persistence.RequestLog
	query := dbFrom(ctx, r.db).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to find recent request logs: %w", err)
	}
	return logs, nil
}

func (r *RequestLogRepository) FindByProvider(ctx context.Context, provider string, limit int) ([]*persistence.RequestLog, error) {
	var logs []*persistence.RequestLog
	query := dbFrom(ctx, r.db).Where("provider = ?", provider).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to find request logs by provider: %w", err)
	}
	return logs, nil
}

func (r *RequestLogRepository) Aggregate(ctx context.Context) (*persistence.AggregatedStats, error) {
	var stats persistence.AggregatedStats

	row := dbFrom(ctx, r.db).
		Model(&persistence.RequestLog{}).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(cost_usd), 0) AS total_cost,
			COALESCE(SUM(total_tokens), 0) AS total_tokens,
			COALESCE(AVG(latency_ms), 0) AS avg_latency`,
			persistence.RequestStatusCompleted, persistence.RequestStatusFailed).
		Row()
	if err := row.Scan(
		&stats.TotalRequests,
		&stats.CompletedRequests,
		&stats.FailedRequests,
		&stats.TotalCost,
		&stats.TotalTokens,
		&stats.AverageLatencyMs,
	); err != nil {
		return nil, fmt.Errorf("failed to aggregate request logs: %w", err)
	}
	return &stats, nil
}
