package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/vnkhanh/submission-ingest-backend/models"
	"github.com/vnkhanh/submission-ingest-backend/repository/repotest"
)

func TestListByFileKeepsAppendOrder(t *testing.T) {
	logs := NewLogRepository(repotest.Open(t))
	ctx := context.Background()
	fileID := uuid.New()
	steps := []string{models.StepUpload, models.StepPDFText, models.StepOCRPrimary, models.StepOCRSecondary}

	for _, step := range steps {
		ms := int64(12)
		entry := &models.ProcessingLogEntry{
			FileID:     fileID,
			Step:       step,
			Status:     models.StepFailed,
			DurationMs: &ms,
			Details:    datatypes.JSON(`{"provider":"test"}`),
		}
		if err := logs.Append(ctx, entry); err != nil {
			t.Fatalf("Append %s: %v", step, err)
		}
	}
	if err := logs.Append(ctx, &models.ProcessingLogEntry{FileID: uuid.New(), Step: models.StepUpload, Status: models.StepCompleted}); err != nil {
		t.Fatal(err)
	}

	entries, err := logs.ListByFile(ctx, fileID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(steps) {
		t.Fatalf("got %d entries", len(entries))
	}
	for i, e := range entries {
		if e.Step != steps[i] {
			t.Fatalf("entry %d step = %s, want %s", i, e.Step, steps[i])
		}
	}
	if entries[0].DurationMs == nil || *entries[0].DurationMs != 12 {
		t.Fatalf("duration not persisted")
	}
}
