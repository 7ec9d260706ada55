package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/vnkhanh/submission-ingest-backend/models"
)

type LogStore interface {
	Append(ctx context.Context, entry *models.ProcessingLogEntry) error
}

// StepResult is one row of the audit trail before it is stored.
type StepResult struct {
	Step     string
	Status   models.StepStatus
	Message  string
	Duration *time.Duration
	Details  map[string]any
}

// ProcessingLog appends audit entries. Failures are reported on the operator
// log and never returned.
type ProcessingLog struct {
	store    LogStore
	notifier Notifier
	log      zerolog.Logger
}

func NewProcessingLog(store LogStore, notifier Notifier, log zerolog.Logger) *ProcessingLog {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ProcessingLog{
		store:    store,
		notifier: notifier,
		log:      log.With().Str("component", "processing_log").Logger(),
	}
}

func (p *ProcessingLog) Append(ctx context.Context, fileID uuid.UUID, r StepResult) {
	entry := models.ProcessingLogEntry{
		FileID:  fileID,
		Step:    r.Step,
		Status:  r.Status,
		Message: r.Message,
	}
	if r.Duration != nil {
		ms := r.Duration.Milliseconds()
		entry.DurationMs = &ms
	}
	if len(r.Details) > 0 {
		if raw, err := json.Marshal(r.Details); err == nil {
			entry.Details = datatypes.JSON(raw)
		} else {
			p.log.Warn().Err(err).Str("file_id", fileID.String()).Msg("cannot encode step details")
		}
	}

	if err := p.store.Append(context.WithoutCancel(ctx), &entry); err != nil {
		p.log.Error().Err(err).
			Str("file_id", fileID.String()).
			Str("step", r.Step).
			Str("status", string(r.Status)).
			Msg("failed to append processing log")
		return
	}
	p.notifier.StepRecorded(entry)
}
