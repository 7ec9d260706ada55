package services

import (
	"regexp"
	"strings"
)

var (
	reTrailingSpace = regexp.MustCompile(`[ \t\x{00A0}]+\n`)
	reManyNewlines  = regexp.MustCompile(`\n{3,}`)
)

// NormalizeText evens out line endings and blank runs in provider output.
// Page markers survive because they are separated by exactly one blank line.
func NormalizeText(text string) string {
	cleaned := strings.ReplaceAll(text, "\r\n", "\n")
	cleaned = strings.ReplaceAll(cleaned, "\r", "\n")
	cleaned = strings.ReplaceAll(cleaned, "\x00", "")
	cleaned = reTrailingSpace.ReplaceAllString(cleaned, "\n")
	cleaned = reManyNewlines.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
