package services

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// GenerateStorageKey returns <prefix>/<unix-millis>_<random>_<sanitized-name>.
func GenerateStorageKey(prefix, fileName string, now time.Time) string {
	if prefix == "" {
		prefix = "anonymous"
	}
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s/%d_%s_%s", prefix, now.UnixMilli(), random, SanitizeFileName(fileName))
}

// SanitizeFileName keeps only [a-z0-9-] in the base name and a lowercase
// alphanumeric extension.
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := filepath.Ext(name)
	base := slug.Make(strings.TrimSuffix(name, ext))
	if base == "" {
		base = "file"
	}

	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	var b strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return base
	}
	return base + "." + b.String()
}
