package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vnkhanh/submission-ingest-backend/models"
	"github.com/vnkhanh/submission-ingest-backend/pkg/apperror"
)

type ListFilter struct {
	Status models.ProcessingStatus
	Limit  int
}

type FileRepository struct {
	db *gorm.DB
}

func NewFileRepository(db *gorm.DB) *FileRepository {
	return &FileRepository{db: db}
}

func (r *FileRepository) Create(ctx context.Context, f *models.UploadedFile) error {
	if err := r.db.WithContext(ctx).Create(f).Error; err != nil {
		return fmt.Errorf("insert uploaded file: %w", err)
	}
	return nil
}

// ownerScope restricts a query to rows owned by the principal.
func ownerScope(p models.Principal) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch p.Role {
		case models.RoleTeacher:
			return db.Where("teacher_id = ?", p.UserID)
		case models.RoleStudent:
			return db.Where("student_id = ?", p.UserID)
		default:
			return db.Where("1 = 0")
		}
	}
}

func (r *FileRepository) FindOwned(ctx context.Context, id uuid.UUID, p models.Principal) (*models.UploadedFile, error) {
	var f models.UploadedFile
	err := r.db.WithContext(ctx).Scopes(ownerScope(p)).First(&f, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select uploaded file: %w", err)
	}
	return &f, nil
}

func (r *FileRepository) ListOwned(ctx context.Context, p models.Principal, filter ListFilter) ([]models.UploadedFile, error) {
	q := r.db.WithContext(ctx).Scopes(ownerScope(p)).Order("created_at DESC").Order("id")
	if filter.Status != "" {
		q = q.Where("processing_status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var files []models.UploadedFile
	if err := q.Find(&files).Error; err != nil {
		return nil, fmt.Errorf("list uploaded files: %w", err)
	}
	return files, nil
}

// Complete moves a processing row to completed. Rows already in a terminal
// status are left alone and reported as not found.
func (r *FileRepository) Complete(ctx context.Context, id uuid.UUID, text *string, at time.Time) error {
	return r.finish(ctx, id, map[string]interface{}{
		"processing_status": models.StatusCompleted,
		"extracted_text":    text,
		"error_message":     nil,
		"processed_at":      at,
	})
}

func (r *FileRepository) Fail(ctx context.Context, id uuid.UUID, message string, at time.Time) error {
	return r.finish(ctx, id, map[string]interface{}{
		"processing_status": models.StatusFailed,
		"extracted_text":    nil,
		"error_message":     message,
		"processed_at":      at,
	})
}

func (r *FileRepository) finish(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.UploadedFile{}).
		Where("id = ? AND processing_status = ?", id, models.StatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update uploaded file %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("uploaded file %s not in processing: %w", id, apperror.ErrNotFound)
	}
	return nil
}

// DeleteOwned removes the row and its processing log in one transaction.
func (r *FileRepository) DeleteOwned(ctx context.Context, id uuid.UUID, p models.Principal) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Scopes(ownerScope(p)).Where("id = ?", id).Delete(&models.UploadedFile{})
		if res.Error != nil {
			return fmt.Errorf("delete uploaded file: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperror.ErrNotFound
		}
		if err := tx.Where("file_id = ?", id).Delete(&models.ProcessingLogEntry{}).Error; err != nil {
			return fmt.Errorf("delete processing logs: %w", err)
		}
		return nil
	})
}

// FindStale returns rows still processing that were created before cutoff.
func (r *FileRepository) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]models.UploadedFile, error) {
	var files []models.UploadedFile
	err := r.db.WithContext(ctx).
		Where("processing_status = ? AND created_at < ?", models.StatusProcessing, cutoff).
		Order("created_at").
		Limit(limit).
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("select stale uploads: %w", err)
	}
	return files, nil
}

func (r *FileRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
