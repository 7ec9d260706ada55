package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vnkhanh/submission-ingest-backend/models"
	"github.com/vnkhanh/submission-ingest-backend/pkg/apperror"
	"github.com/vnkhanh/submission-ingest-backend/storage"
)

const (
	msgNoTextNoCredentials = "no extractable text and no OCR credentials configured"
	msgNoOCRConfigured     = "no OCR provider configured"
)

// FileStore is the part of the file repository the pipeline writes through.
type FileStore interface {
	Create(ctx context.Context, f *models.UploadedFile) error
	Complete(ctx context.Context, id uuid.UUID, text *string, at time.Time) error
	Fail(ctx context.Context, id uuid.UUID, message string, at time.Time) error
}

type IngestRequest struct {
	Principal    models.Principal
	Kind         models.FileKind
	FileName     string
	MimeType     string
	Size         int64
	SubmissionID *string
	// SkipOCR marks an image as non-text content. Ignored for PDFs.
	SkipOCR bool
	// Open is only called after validation passed.
	Open func() (io.ReadCloser, error)
}

type IngestResult struct {
	File           models.UploadedFile
	SkippedOCR     bool
	ProcessingTime time.Duration
}

func (r IngestResult) Succeeded() bool {
	return r.File.ProcessingStatus == models.StatusCompleted
}

// Pipeline runs validate, store, record, extract, finish for one upload.
type Pipeline struct {
	store    storage.Gateway
	files    FileStore
	logs     *ProcessingLog
	chain    Chain
	rules    map[models.FileKind]UploadRules
	notifier Notifier
	now      func() time.Time
	log      zerolog.Logger
}

type PipelineDeps struct {
	Storage   storage.Gateway
	Files     FileStore
	Logs      *ProcessingLog
	Notifier  Notifier
	ImageRule UploadRules
	PDFRule   UploadRules
	// Strategies in priority order. Each one declares which kinds it applies to.
	Strategies []Strategy
	Now        func() time.Time
}

func NewPipeline(deps PipelineDeps, log zerolog.Logger) *Pipeline {
	p := &Pipeline{
		store:    deps.Storage,
		files:    deps.Files,
		logs:     deps.Logs,
		chain:    Chain(deps.Strategies),
		notifier: deps.Notifier,
		now:      deps.Now,
		rules: map[models.FileKind]UploadRules{
			models.FileKindImage: deps.ImageRule,
			models.FileKindPDF:   deps.PDFRule,
		},
		log: log.With().Str("component", "pipeline").Logger(),
	}
	if p.notifier == nil {
		p.notifier = NopNotifier{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	rules, ok := p.rules[req.Kind]
	if !ok {
		return nil, apperror.NewValidationError("file", "unsupported file kind %q", req.Kind)
	}
	if err := ValidateFile(req.Size, req.MimeType, rules); err != nil {
		return nil, err
	}
	if !req.Principal.CanUpload() {
		return nil, models.ErrRoleNotAllowed
	}

	data, err := readLimited(req.Open, rules.MaxBytes)
	if err != nil {
		return nil, err
	}

	key := GenerateStorageKey(req.Principal.StoragePrefix(), req.FileName, p.now())
	obj, err := p.store.Put(ctx, key, data, req.MimeType)
	if err != nil {
		if !apperror.IsStorage(err) {
			err = &apperror.StorageError{Op: "put", Key: key, Err: err}
		}
		return nil, err
	}

	file := models.UploadedFile{
		SubmissionID:     req.SubmissionID,
		FileName:         req.FileName,
		FileKind:         req.Kind,
		MimeType:         req.MimeType,
		FileSize:         int64(len(data)),
		StorageKey:       obj.Key,
		ProcessingStatus: models.StatusProcessing,
	}
	if obj.URL != "" {
		url := obj.URL
		file.StorageURL = &url
	}
	if err := file.SetOwner(req.Principal); err != nil {
		return nil, err
	}
	if err := p.files.Create(ctx, &file); err != nil {
		p.removeOrphan(obj.Key)
		return nil, &apperror.PersistenceError{Op: "insert uploaded file", Err: err}
	}

	// From here on the row exists and must reach a terminal status even if
	// the caller goes away.
	ctx = context.WithoutCancel(ctx)
	logger := p.log.With().Str("file_id", file.ID.String()).Str("kind", string(req.Kind)).Logger()

	p.logs.Append(ctx, file.ID, StepResult{
		Step:    models.StepUpload,
		Status:  models.StepCompleted,
		Message: fmt.Sprintf("stored %d bytes via %s", len(data), p.store.Name()),
		Details: map[string]any{"storage_key": obj.Key, "storage": p.store.Name()},
	})
	p.notifier.StatusChanged(file)

	if req.SkipOCR && req.Kind == models.FileKindImage {
		p.logs.Append(ctx, file.ID, StepResult{
			Step:    models.StepSkipOCR,
			Status:  models.StepCompleted,
			Message: "OCR skipped, image kept as-is",
		})
		if err := p.finish(ctx, &file, nil, ""); err != nil {
			return nil, err
		}
		logger.Info().Msg("upload stored without extraction")
		return &IngestResult{File: file, SkippedOCR: true}, nil
	}

	start := p.now()
	text, failure := p.extract(ctx, file.ID, Document{
		Name:     req.FileName,
		MimeType: req.MimeType,
		Size:     int64(len(data)),
		Kind:     req.Kind,
		Bytes:    data,
	})
	elapsed := p.now().Sub(start)

	if err := p.finish(ctx, &file, text, failure); err != nil {
		return nil, err
	}
	logger.Info().
		Str("status", string(file.ProcessingStatus)).
		Dur("took", elapsed).
		Msg("upload processed")
	return &IngestResult{File: file, ProcessingTime: elapsed}, nil
}

// extract walks the chain. It returns the text of the first successful
// strategy, or nil and an aggregated failure message.
func (p *Pipeline) extract(ctx context.Context, fileID uuid.UUID, doc Document) (*string, string) {
	var (
		failures  []string
		ocrTried  bool
		nativeRan bool
	)
	for _, s := range p.chain.For(doc) {
		if !s.Configured() {
			continue
		}
		if s.Step() == models.StepPDFText {
			nativeRan = true
		} else {
			ocrTried = true
		}

		t0 := p.now()
		res, err := s.Attempt(ctx, doc)
		took := p.now().Sub(t0)

		if err == nil {
			text := NormalizeText(res.Text)
			p.logs.Append(ctx, fileID, StepResult{
				Step:     s.Step(),
				Status:   models.StepCompleted,
				Message:  fmt.Sprintf("extracted %d characters", len([]rune(text))),
				Duration: &took,
				Details:  res.Details,
			})
			return &text, ""
		}

		status := models.StepFailed
		if errors.Is(err, apperror.ErrInsufficientText) {
			status = models.StepInsufficient
		}
		p.logs.Append(ctx, fileID, StepResult{
			Step:     s.Step(),
			Status:   status,
			Message:  err.Error(),
			Duration: &took,
			Details:  res.Details,
		})
		failures = append(failures, err.Error())
	}

	switch {
	case !ocrTried && nativeRan:
		return nil, msgNoTextNoCredentials
	case !ocrTried:
		return nil, msgNoOCRConfigured
	default:
		return nil, "all extraction strategies failed: " + strings.Join(failures, "; ")
	}
}

// finish writes the single terminal update. A non-empty failure marks the
// file failed.
func (p *Pipeline) finish(ctx context.Context, file *models.UploadedFile, text *string, failure string) error {
	at := p.now()
	var err error
	if failure != "" {
		err = p.files.Fail(ctx, file.ID, failure, at)
	} else {
		err = p.files.Complete(ctx, file.ID, text, at)
	}
	if err != nil {
		p.log.Error().Err(err).Str("file_id", file.ID.String()).Msg("terminal status update failed, row left in processing")
		return &apperror.PersistenceError{Op: "update terminal status", Err: err}
	}

	file.ProcessedAt = &at
	if failure != "" {
		file.ProcessingStatus = models.StatusFailed
		file.ErrorMessage = &failure
		file.ExtractedText = nil
	} else {
		file.ProcessingStatus = models.StatusCompleted
		file.ExtractedText = text
		file.ErrorMessage = nil
	}
	p.notifier.StatusChanged(*file)
	return nil
}

func (p *Pipeline) removeOrphan(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.store.Delete(ctx, key); err != nil {
		p.log.Warn().Err(err).Str("storage_key", key).Msg("failed to remove orphaned object")
	}
}

func readLimited(open func() (io.ReadCloser, error), max int64) ([]byte, error) {
	if open == nil {
		return nil, apperror.NewValidationError("file", "no file provided")
	}
	rc, err := open()
	if err != nil {
		return nil, apperror.NewValidationError("file", "cannot read uploaded file: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, max+1))
	if err != nil {
		return nil, apperror.NewValidationError("file", "cannot read uploaded file: %v", err)
	}
	if int64(len(data)) > max {
		return nil, apperror.NewValidationError("file", "File size exceeds %.1fMB limit", float64(max)/1024/1024)
	}
	if len(data) == 0 {
		return nil, apperror.NewValidationError("file", "file is empty")
	}
	return data, nil
}
