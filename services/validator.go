package services

import (
	"github.com/vnkhanh/submission-ingest-backend/pkg/apperror"
)

// UploadRules are the size and type limits for one upload kind.
type UploadRules struct {
	AllowedMimeTypes []string
	MaxBytes         int64
}

// ValidateFile enforces the size limit and the MIME allowlist. It performs no
// I/O and must run before any storage or network call.
func ValidateFile(size int64, mimeType string, rules UploadRules) error {
	if size > rules.MaxBytes {
		return apperror.NewValidationError("file", "File size exceeds %.1fMB limit", float64(rules.MaxBytes)/1024/1024)
	}
	for _, allowed := range rules.AllowedMimeTypes {
		if mimeType == allowed {
			return nil
		}
	}
	return apperror.NewValidationError("file", "File type %s is not allowed", displayType(mimeType))
}

func displayType(mimeType string) string {
	if mimeType == "" {
		return "(unknown)"
	}
	return mimeType
}
