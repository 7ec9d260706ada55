package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/vnkhanh/submission-ingest-backend/models"
	"github.com/vnkhanh/submission-ingest-backend/pkg/apperror"
)

type OCRSpaceOptions struct {
	APIKey   string
	Endpoint string
	Language string
	Timeout  time.Duration
	Client   *http.Client
}

// OCRSpaceStrategy is the fallback OCR provider, authenticated by API key.
type OCRSpaceStrategy struct {
	opts OCRSpaceOptions
}

func NewOCRSpaceStrategy(opts OCRSpaceOptions) *OCRSpaceStrategy {
	if opts.Endpoint == "" {
		opts.Endpoint = "https://api.ocr.space/parse/image"
	}
	if opts.Language == "" {
		opts.Language = "kor"
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return &OCRSpaceStrategy{opts: opts}
}

func (s *OCRSpaceStrategy) Step() string { return models.StepOCRSecondary }

func (s *OCRSpaceStrategy) Applies(doc Document) bool {
	return doc.Kind == models.FileKindImage || doc.Kind == models.FileKindPDF
}

func (s *OCRSpaceStrategy) Configured() bool { return s.opts.APIKey != "" }

type ocrSpaceResponse struct {
	ParsedResults []struct {
		ParsedText        string `json:"ParsedText"`
		ErrorMessage      string `json:"ErrorMessage"`
		FileParseExitCode int    `json:"FileParseExitCode"`
	} `json:"ParsedResults"`
	OCRExitCode           int             `json:"OCRExitCode"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage"`
}

// errorText flattens ErrorMessage, which the API sends as a string or a list.
func (r ocrSpaceResponse) errorText() string {
	if len(r.ErrorMessage) == 0 {
		return ""
	}
	var list []string
	if err := json.Unmarshal(r.ErrorMessage, &list); err == nil {
		return strings.Join(list, "; ")
	}
	var single string
	if err := json.Unmarshal(r.ErrorMessage, &single); err == nil {
		return single
	}
	return string(r.ErrorMessage)
}

func (s *OCRSpaceStrategy) Attempt(ctx context.Context, doc Document) (Extraction, error) {
	details := map[string]any{"provider": "ocr_space"}
	if !s.Configured() {
		return Extraction{Details: details}, &apperror.ExtractionError{Step: s.Step(), Message: "API key not configured", Err: apperror.ErrNotConfigured}
	}
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	body, contentType, err := s.buildForm(doc)
	if err != nil {
		return Extraction{Details: details}, &apperror.ExtractionError{Step: s.Step(), Message: "cannot build request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.Endpoint, body)
	if err != nil {
		return Extraction{Details: details}, &apperror.ExtractionError{Step: s.Step(), Message: "cannot build request", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("apikey", s.opts.APIKey)

	resp, err := s.opts.Client.Do(req)
	if err != nil {
		return Extraction{Details: details}, &apperror.ExtractionError{Step: s.Step(), Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Extraction{Details: details}, &apperror.ExtractionError{Step: s.Step(), Message: "cannot read response", Err: err}
	}
	details["http_status"] = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		details["upstream"] = truncate(string(raw), 500)
		return Extraction{Details: details}, &apperror.ExtractionError{Step: s.Step(), Message: fmt.Sprintf("OCR.space returned status %d", resp.StatusCode)}
	}

	var parsed ocrSpaceResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Extraction{Details: details}, &apperror.ExtractionError{Step: s.Step(), Message: "invalid response", Err: err}
	}
	details["exit_code"] = parsed.OCRExitCode
	if parsed.IsErroredOnProcessing {
		msg := parsed.errorText()
		if msg == "" {
			msg = "processing error"
		}
		details["upstream"] = truncate(msg, 500)
		return Extraction{Details: details}, &apperror.ExtractionError{Step: s.Step(), Message: "OCR.space: " + msg}
	}
	if len(parsed.ParsedResults) == 0 {
		return Extraction{Details: details}, &apperror.ExtractionError{Step: s.Step(), Message: "no parsed results", Err: apperror.ErrInsufficientText}
	}

	var text string
	if len(parsed.ParsedResults) == 1 {
		text = parsed.ParsedResults[0].ParsedText
	} else {
		var sb strings.Builder
		for i, r := range parsed.ParsedResults {
			if t := strings.TrimSpace(r.ParsedText); t != "" {
				fmt.Fprintf(&sb, "\n\n[Page %d]\n%s", i+1, t)
			}
		}
		text = sb.String()
	}
	text = strings.TrimSpace(text)
	details["pages"] = len(parsed.ParsedResults)
	details["chars"] = len([]rune(text))
	if text == "" {
		return Extraction{Details: details}, &apperror.ExtractionError{Step: s.Step(), Message: "no text detected", Err: apperror.ErrInsufficientText}
	}
	return Extraction{Text: text, Details: details}, nil
}

func (s *OCRSpaceStrategy) buildForm(doc Document) (io.Reader, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	fw, err := w.CreateFormFile("file", doc.Name)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(doc.Bytes); err != nil {
		return nil, "", err
	}
	fields := [][2]string{
		{"language", s.opts.Language},
		{"isOverlayRequired", "false"},
		{"detectOrientation", "true"},
		{"scale", "true"},
		{"OCREngine", "2"},
		{"filetype", ocrSpaceFileType(doc)},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

func ocrSpaceFileType(doc Document) string {
	switch doc.MimeType {
	case "application/pdf":
		return "PDF"
	case "image/png":
		return "PNG"
	case "image/jpeg", "image/jpg":
		return "JPG"
	}
	ext := strings.ToUpper(strings.TrimPrefix(filepath.Ext(doc.Name), "."))
	if ext == "" {
		return "JPG"
	}
	return ext
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
