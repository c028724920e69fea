package persistence

import (
	"context"
	"errors"
	"fmt"

	"llm-relay/domain/persistence"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AttemptLogRepository struct {
	db *gorm.DB
}

func NewAttemptLogRepository(db *gorm.DB) persistence.AttemptLogRepository {
	return &AttemptLogRepository{db: db}
}

func (r *AttemptLogRepository) Create(ctx context.Context, entity *persistence.AttemptLog) error {
	if err := dbFrom(ctx, r.db).Create(entity).Error; err != nil {
		return fmt.Errorf("failed to create attempt log: %w", err)
	}
	return nil
}

func (r *AttemptLogRepository) FindByID(ctx context.Context, id uuid.UUID) (*persistence.AttemptLog, error) {
	var log persistence.AttemptLog
	if err := dbFrom(ctx, r.db).First(&log, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("attempt log not found: %w", err)
		}
		return nil, fmt.Errorf("failed to find attempt log: %w", err)
	}
	return &log, nil
}

func (r *AttemptLogRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := dbFrom(ctx, r.db).Delete(&persistence.AttemptLog{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete attempt log: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("attempt log not found for deletion")
	}
	return nil
}

func (r *AttemptLogRepository) FindByRequestID(ctx context.Context, requestID string) ([]*persistence.AttemptLog, error) {
	var logs []*persistence.AttemptLog
	if err := dbFrom(ctx, r.db).
		Where("request_id = ?", requestID).
		Order("attempt ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to find attempt logs: %w", err)
	}
	return logs, nil
}

func (r *AttemptLogRepository) CountByProvider(ctx context.Context) (map[string]int64, error) {
	type providerCount struct {
		Provider string
		Count    int64
	}

	var rows []providerCount
	if err := dbFrom(ctx, r.db).
		Model(&persistence.AttemptLog{}).
		Select("provider, COUNT(*) AS count").
		Group("provider").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count attempt logs by provider: %w", err)
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Provider] = row.Count
	}
	return out, nil
}
