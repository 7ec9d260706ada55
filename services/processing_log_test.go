package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vnkhanh/submission-ingest-backend/models"
)

type recordingStore struct {
	entries []models.ProcessingLogEntry
	err     error
	ctxErr  error
}

func (s *recordingStore) Append(ctx context.Context, e *models.ProcessingLogEntry) error {
	s.ctxErr = ctx.Err()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, *e)
	return nil
}

type recordingNotifier struct {
	steps    []models.ProcessingLogEntry
	statuses []models.UploadedFile
}

func (n *recordingNotifier) StepRecorded(e models.ProcessingLogEntry) { n.steps = append(n.steps, e) }
func (n *recordingNotifier) StatusChanged(f models.UploadedFile)      { n.statuses = append(n.statuses, f) }

func TestProcessingLogAppendEncodesEntry(t *testing.T) {
	store := &recordingStore{}
	notifier := &recordingNotifier{}
	plog := NewProcessingLog(store, notifier, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	took := 1500 * time.Millisecond
	id := uuid.New()
	plog.Append(ctx, id, StepResult{
		Step:     models.StepOCRPrimary,
		Status:   models.StepCompleted,
		Message:  "extracted 11 characters",
		Duration: &took,
		Details:  map[string]any{"provider": "google_vision"},
	})

	if store.ctxErr != nil {
		t.Fatal("append must not inherit cancellation")
	}
	if len(store.entries) != 1 {
		t.Fatalf("entries = %d", len(store.entries))
	}
	e := store.entries[0]
	if e.FileID != id || e.DurationMs == nil || *e.DurationMs != 1500 {
		t.Fatalf("entry = %+v", e)
	}
	var details map[string]string
	if err := json.Unmarshal(e.Details, &details); err != nil || details["provider"] != "google_vision" {
		t.Fatalf("details = %s (%v)", e.Details, err)
	}
	if len(notifier.steps) != 1 {
		t.Fatal("notifier not called")
	}
}

func TestProcessingLogAppendFailureIsSwallowed(t *testing.T) {
	store := &recordingStore{err: errors.New("disk full")}
	notifier := &recordingNotifier{}
	plog := NewProcessingLog(store, notifier, zerolog.Nop())

	plog.Append(context.Background(), uuid.New(), StepResult{Step: models.StepUpload, Status: models.StepCompleted})

	if len(notifier.steps) != 0 {
		t.Fatal("failed append must not be broadcast")
	}
}
