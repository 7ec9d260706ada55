package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vnkhanh/submission-ingest-backend/models"
	"github.com/vnkhanh/submission-ingest-backend/pkg/apperror"
	"github.com/vnkhanh/submission-ingest-backend/repository"
	"github.com/vnkhanh/submission-ingest-backend/storage"
)

type OwnedFileStore interface {
	FindOwned(ctx context.Context, id uuid.UUID, p models.Principal) (*models.UploadedFile, error)
	ListOwned(ctx context.Context, p models.Principal, filter repository.ListFilter) ([]models.UploadedFile, error)
	DeleteOwned(ctx context.Context, id uuid.UUID, p models.Principal) error
}

type LogReader interface {
	ListByFile(ctx context.Context, fileID uuid.UUID) ([]models.ProcessingLogEntry, error)
}

// FileService serves reads and deletes of uploads, always scoped to the owner.
type FileService struct {
	files OwnedFileStore
	logs  LogReader
	store storage.Gateway
	log   zerolog.Logger
}

func NewFileService(files OwnedFileStore, logs LogReader, store storage.Gateway, log zerolog.Logger) *FileService {
	return &FileService{
		files: files,
		logs:  logs,
		store: store,
		log:   log.With().Str("component", "file_service").Logger(),
	}
}

func (s *FileService) Get(ctx context.Context, p models.Principal, id uuid.UUID) (*models.UploadedFile, error) {
	return s.files.FindOwned(ctx, id, p)
}

func (s *FileService) List(ctx context.Context, p models.Principal, filter repository.ListFilter) ([]models.UploadedFile, error) {
	return s.files.ListOwned(ctx, p, filter)
}

func (s *FileService) Logs(ctx context.Context, p models.Principal, id uuid.UUID) ([]models.ProcessingLogEntry, error) {
	if _, err := s.files.FindOwned(ctx, id, p); err != nil {
		return nil, err
	}
	return s.logs.ListByFile(ctx, id)
}

// Delete removes the stored object best-effort, then the metadata row, which
// is authoritative.
func (s *FileService) Delete(ctx context.Context, p models.Principal, id uuid.UUID) error {
	f, err := s.files.FindOwned(ctx, id, p)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, f.StorageKey); err != nil {
		s.log.Warn().Err(err).
			Str("file_id", id.String()).
			Str("storage_key", f.StorageKey).
			Msg("storage delete failed, removing metadata anyway")
	}

	if err := s.files.DeleteOwned(ctx, id, p); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return &apperror.PersistenceError{Op: "delete uploaded file", Err: err}
	}
	s.log.Info().Str("file_id", id.String()).Msg("upload deleted")
	return nil
}
