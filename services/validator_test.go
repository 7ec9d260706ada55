package services

import (
	"strings"
	"testing"
	"time"

	"github.com/vnkhanh/submission-ingest-backend/pkg/apperror"
)

func TestValidateFile(t *testing.T) {
	rules := UploadRules{
		AllowedMimeTypes: []string{"image/jpeg", "image/png"},
		MaxBytes:         10 * 1024 * 1024,
	}
	tests := []struct {
		name    string
		size    int64
		mime    string
		wantErr string
	}{
		{"ok", 1024, "image/png", ""},
		{"exactly at limit", rules.MaxBytes, "image/jpeg", ""},
		{"too large", rules.MaxBytes + 1, "image/png", "File size exceeds 10.0MB limit"},
		{"wrong type", 10, "application/pdf", "File type application/pdf is not allowed"},
		{"missing type", 10, "", "File type (unknown) is not allowed"},
	}
	for _, tt := range tests {
		err := ValidateFile(tt.size, tt.mime, rules)
		if tt.wantErr == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		if !apperror.IsValidation(err) || !strings.Contains(err.Error(), tt.wantErr) {
			t.Fatalf("%s: got %v, want %q", tt.name, err, tt.wantErr)
		}
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := map[string]string{
		"My Essay (final).PNG": "my-essay-final.png",
		"../../etc/passwd":     "passwd",
		`C:\scans\page 1.jpg`:  "page-1.jpg",
		"   .pdf":              "file.pdf",
		"noext":                "noext",
		".hidden":              "file.hidden",
	}
	for in, want := range tests {
		if got := SanitizeFileName(in); got != want {
			t.Fatalf("SanitizeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGenerateStorageKey(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	key := GenerateStorageKey("student_42", "Lab Report.pdf", now)
	parts := strings.SplitN(key, "/", 2)
	if parts[0] != "student_42" {
		t.Fatalf("prefix = %q", parts[0])
	}
	fields := strings.SplitN(parts[1], "_", 3)
	if len(fields) != 3 || fields[0] != "1700000000123" || len(fields[1]) != 8 || fields[2] != "lab-report.pdf" {
		t.Fatalf("key = %q", key)
	}
	if GenerateStorageKey("student_42", "Lab Report.pdf", now) == key {
		t.Fatalf("keys for the same name and instant must differ")
	}
	if !strings.HasPrefix(GenerateStorageKey("", "a.png", now), "anonymous/") {
		t.Fatalf("empty prefix should become anonymous")
	}
}
