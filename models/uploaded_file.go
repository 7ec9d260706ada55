package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FileKind string

const (
	FileKindImage FileKind = "image"
	FileKindPDF   FileKind = "pdf"
)

type ProcessingStatus string

const (
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var ErrOwnerAmbiguous = errors.New("exactly one of teacher_id or student_id must be set")

type UploadedFile struct {
	ID               uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	TeacherID        *uuid.UUID       `gorm:"type:uuid;index" json:"teacher_id"`
	StudentID        *uuid.UUID       `gorm:"type:uuid;index" json:"student_id"`
	SubmissionID     *string          `gorm:"size:64;index" json:"submission_id"`
	FileName         string           `gorm:"size:255;not null" json:"file_name"`
	FileKind         FileKind         `gorm:"type:varchar(10);not null" json:"file_type"`
	MimeType         string           `gorm:"size:100;not null" json:"mime_type"`
	FileSize         int64            `json:"file_size"` // bytes
	StorageKey       string           `gorm:"type:text;not null;uniqueIndex" json:"storage_key"`
	StorageURL       *string          `gorm:"type:text" json:"storage_url"`
	ProcessingStatus ProcessingStatus `gorm:"type:varchar(20);not null;index" json:"processing_status"`
	ExtractedText    *string          `gorm:"type:text" json:"extracted_text"`
	ErrorMessage     *string          `gorm:"type:text" json:"error_message"`
	ProcessedAt      *time.Time       `json:"processed_at"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UploadedFile) TableName() string {
	return "uploaded_files"
}

func (f *UploadedFile) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if (f.TeacherID == nil) == (f.StudentID == nil) {
		return ErrOwnerAmbiguous
	}
	return nil
}

// SetOwner fills the owner column matching the principal's role.
func (f *UploadedFile) SetOwner(p Principal) error {
	id := p.UserID
	switch p.Role {
	case RoleTeacher:
		f.TeacherID, f.StudentID = &id, nil
	case RoleStudent:
		f.StudentID, f.TeacherID = &id, nil
	default:
		return ErrRoleNotAllowed
	}
	return nil
}

func (f *UploadedFile) OwnedBy(p Principal) bool {
	switch p.Role {
	case RoleTeacher:
		return f.TeacherID != nil && *f.TeacherID == p.UserID
	case RoleStudent:
		return f.StudentID != nil && *f.StudentID == p.UserID
	}
	return false
}
