package persistence

import (
	"context"
	"errors"
	"fmt"

	"llm-relay/domain/persistence"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EmbeddingLogRepository struct {
	db *gorm.DB
}

func NewEmbeddingLogRepository(db *gorm.DB) persistence.EmbeddingLogRepository {
	return &EmbeddingLogRepository{db: db}
}

func (r *EmbeddingLogRepository) Create(ctx context.Context, entity *persistence.EmbeddingLog) error {
	if err := dbFrom(ctx, r.db).Create(entity).Error; err != nil {
		return fmt.Errorf("failed to create embedding log: %w", err)
	}
	return nil
}

func (r *EmbeddingLogRepository) FindByID(ctx context.Context, id uuid.UUID) (*persistence.EmbeddingLog, error) {
	var log persistence.EmbeddingLog
	if err := dbFrom(ctx, r.db).First(&log, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("embedding log not found: %w", err)
		}
		return nil, fmt.Errorf("failed to find embedding log: %w", err)
	}
	return &log, nil
}

func (r *EmbeddingLogRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := dbFrom(ctx, r.db).Delete(&persistence.EmbeddingLog{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete embedding log: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("embedding log not found for deletion")
	}
	return nil
}

func (r *EmbeddingLogRepository) FindRecent(ctx context.Context, limit int) ([]*persistence.EmbeddingLog, error) {
	var logs []*persistence.EmbeddingLog
	query := dbFrom(ctx, r.db).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to find recent embedding logs: %w", err)
	}
	return logs, nil
}
