package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type StepStatus string

const (
	StepCompleted    StepStatus = "completed"
	StepFailed       StepStatus = "failed"
	StepInsufficient StepStatus = "insufficient"
)

// Step names recorded in the processing log.
const (
	StepUpload       = "upload"
	StepPDFText      = "pdf_text_extraction"
	StepOCRPrimary   = "ocr_primary"
	StepOCRSecondary = "ocr_secondary"
	StepSkipOCR      = "skip_ocr"
	StepSweep        = "sweep"
)

// ProcessingLogEntry is append-only. ID breaks ties between entries created in
// the same clock tick.
type ProcessingLogEntry struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	FileID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"file_id"`
	Step       string         `gorm:"size:50;not null" json:"step"`
	Status     StepStatus     `gorm:"type:varchar(20);not null" json:"status"`
	Message    string         `gorm:"type:text" json:"message"`
	DurationMs *int64         `json:"duration_ms"`
	Details    datatypes.JSON `json:"details,omitempty"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (ProcessingLogEntry) TableName() string {
	return "file_processing_logs"
}
