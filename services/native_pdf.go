package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/vnkhanh/submission-ingest-backend/models"
	"github.com/vnkhanh/submission-ingest-backend/pkg/apperror"
)

// NativePDFOptions are the parser settings, fixed at construction.
type NativePDFOptions struct {
	// MinChars is the minimum number of text characters, page markers
	// excluded, for the text layer to count as sufficient.
	MinChars int
	// MaxPages caps how many pages are read. Zero reads every page.
	MaxPages int
}

// NativePDFStrategy reads the PDF's embedded text layer.
type NativePDFStrategy struct {
	opts NativePDFOptions
}

func NewNativePDFStrategy(opts NativePDFOptions) *NativePDFStrategy {
	if opts.MinChars <= 0 {
		opts.MinChars = 100
	}
	return &NativePDFStrategy{opts: opts}
}

func (s *NativePDFStrategy) Step() string { return models.StepPDFText }

func (s *NativePDFStrategy) Applies(doc Document) bool { return doc.Kind == models.FileKindPDF }

func (s *NativePDFStrategy) Configured() bool { return true }

func (s *NativePDFStrategy) Attempt(ctx context.Context, doc Document) (Extraction, error) {
	if err := ctx.Err(); err != nil {
		return Extraction{}, &apperror.ExtractionError{Step: s.Step(), Message: "cancelled", Err: err}
	}

	text, stats, err := s.extract(ctx, doc.Bytes)
	details := map[string]any{
		"pages":         stats.pages,
		"pages_read":    stats.read,
		"pages_skipped": stats.skipped,
		"chars":         stats.chars,
	}
	if err != nil {
		return Extraction{Details: details}, &apperror.ExtractionError{Step: s.Step(), Message: "cannot parse PDF", Err: err}
	}
	if stats.chars == 0 {
		return Extraction{Details: details}, &apperror.ExtractionError{
			Step:    s.Step(),
			Message: "No text found in PDF (may be image-based PDF)",
			Err:     apperror.ErrInsufficientText,
		}
	}
	if stats.chars < s.opts.MinChars {
		return Extraction{Text: text, Details: details}, &apperror.ExtractionError{
			Step:    s.Step(),
			Message: fmt.Sprintf("text layer has %d characters, need at least %d", stats.chars, s.opts.MinChars),
			Err:     apperror.ErrInsufficientText,
		}
	}
	return Extraction{Text: text, Details: details}, nil
}

type pdfStats struct {
	pages, read, skipped, chars int
}

func (s *NativePDFStrategy) extract(ctx context.Context, b []byte) (text string, stats pdfStats, err error) {
	// ledongthuc/pdf panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", stats, err
	}

	stats.pages = reader.NumPage()
	last := stats.pages
	if s.opts.MaxPages > 0 && last > s.opts.MaxPages {
		last = s.opts.MaxPages
	}

	var sb strings.Builder
	for i := 1; i <= last; i++ {
		if err := ctx.Err(); err != nil {
			return "", stats, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			stats.skipped++
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			stats.skipped++
			continue
		}
		stats.read++
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		stats.chars += utf8.RuneCountInString(content)
		fmt.Fprintf(&sb, "\n\n[Page %d]\n%s", i, content)
	}
	return strings.TrimSpace(sb.String()), stats, nil
}
