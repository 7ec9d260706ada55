package services

import (
	"github.com/vnkhanh/submission-ingest-backend/models"
)

// Notifier receives progress events for live status streams.
type Notifier interface {
	StepRecorded(entry models.ProcessingLogEntry)
	StatusChanged(file models.UploadedFile)
}

type NopNotifier struct{}

func (NopNotifier) StepRecorded(models.ProcessingLogEntry) {}
func (NopNotifier) StatusChanged(models.UploadedFile)      {}
