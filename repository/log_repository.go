package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vnkhanh/submission-ingest-backend/models"
)

type LogRepository struct {
	db *gorm.DB
}

func NewLogRepository(db *gorm.DB) *LogRepository {
	return &LogRepository{db: db}
}

func (r *LogRepository) Append(ctx context.Context, entry *models.ProcessingLogEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("insert processing log: %w", err)
	}
	return nil
}

func (r *LogRepository) ListByFile(ctx context.Context, fileID uuid.UUID) ([]models.ProcessingLogEntry, error) {
	var entries []models.ProcessingLogEntry
	err := r.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("created_at").Order("id").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list processing logs: %w", err)
	}
	return entries, nil
}
