package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"

	"github.com/vnkhanh/submission-ingest-backend/models"
	"github.com/vnkhanh/submission-ingest-backend/pkg/apperror"
)

// AccessTokenProvider yields bearer tokens for a service account.
type AccessTokenProvider interface {
	AccessToken(ctx context.Context, sa *ServiceAccount) (*oauth2.Token, error)
}

type VisionOptions struct {
	Endpoint      string
	Timeout       time.Duration
	LanguageHints []string
	// Transport is the base round tripper under the bearer token transport.
	Transport http.RoundTripper
}

// VisionOCRStrategy calls Google Cloud Vision. Images use TEXT_DETECTION,
// PDFs use DOCUMENT_TEXT_DETECTION through files:annotate.
type VisionOCRStrategy struct {
	tokens  AccessTokenProvider
	account *ServiceAccount
	opts    VisionOptions
}

// NewVisionOCRStrategy returns a strategy that reports itself unconfigured
// when account is nil.
func NewVisionOCRStrategy(tokens AccessTokenProvider, account *ServiceAccount, opts VisionOptions) *VisionOCRStrategy {
	if opts.Endpoint == "" {
		opts.Endpoint = "https://vision.googleapis.com/"
	}
	if !strings.HasSuffix(opts.Endpoint, "/") {
		opts.Endpoint += "/"
	}
	if len(opts.LanguageHints) == 0 {
		opts.LanguageHints = []string{"ko", "en"}
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	return &VisionOCRStrategy{tokens: tokens, account: account, opts: opts}
}

func (s *VisionOCRStrategy) Step() string { return models.StepOCRPrimary }

func (s *VisionOCRStrategy) Applies(doc Document) bool {
	return doc.Kind == models.FileKindImage || doc.Kind == models.FileKindPDF
}

func (s *VisionOCRStrategy) Configured() bool { return s.account != nil && s.tokens != nil }

func (s *VisionOCRStrategy) Attempt(ctx context.Context, doc Document) (Extraction, error) {
	details := map[string]any{"provider": "google_vision"}
	if !s.Configured() {
		return Extraction{Details: details}, &apperror.ExtractionError{Step: s.Step(), Message: "service account not configured", Err: apperror.ErrNotConfigured}
	}
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	tok, err := s.tokens.AccessToken(ctx, s.account)
	if err != nil {
		return Extraction{Details: details}, &apperror.ExtractionError{Step: s.Step(), Message: "cannot obtain access token", Err: err}
	}

	httpClient := &http.Client{Transport: &oauth2.Transport{
		Source: oauth2.StaticTokenSource(tok),
		Base:   s.opts.Transport,
	}}
	svc, err := vision.NewService(ctx, option.WithHTTPClient(httpClient), option.WithEndpoint(s.opts.Endpoint))
	if err != nil {
		return Extraction{Details: details}, &apperror.ExtractionError{Step: s.Step(), Message: "cannot create vision client", Err: err}
	}

	content := base64.StdEncoding.EncodeToString(doc.Bytes)
	imageContext := &vision.ImageContext{LanguageHints: s.opts.LanguageHints}

	var text string
	if doc.Kind == models.FileKindPDF {
		details["mode"] = "DOCUMENT_TEXT_DETECTION"
		text, err = s.annotateFile(ctx, svc, content, doc.MimeType, imageContext, details)
	} else {
		details["mode"] = "TEXT_DETECTION"
		text, err = s.annotateImage(ctx, svc, content, imageContext)
	}
	if err != nil {
		return Extraction{Details: details}, &apperror.ExtractionError{Step: s.Step(), Message: "vision request failed", Err: err}
	}

	text = strings.TrimSpace(text)
	details["chars"] = len([]rune(text))
	if text == "" {
		return Extraction{Details: details}, &apperror.ExtractionError{Step: s.Step(), Message: "no text detected", Err: apperror.ErrInsufficientText}
	}
	return Extraction{Text: text, Details: details}, nil
}

func (s *VisionOCRStrategy) annotateImage(ctx context.Context, svc *vision.Service, content string, ic *vision.ImageContext) (string, error) {
	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image:        &vision.Image{Content: content},
			Features:     []*vision.Feature{{Type: "TEXT_DETECTION", MaxResults: 1}},
			ImageContext: ic,
		}},
	}
	resp, err := svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(resp.Responses) == 0 {
		return "", fmt.Errorf("empty response")
	}
	return imageResponseText(resp.Responses[0])
}

// annotateFile sends the whole PDF inline. The synchronous API reads at most
// the first five pages.
func (s *VisionOCRStrategy) annotateFile(ctx context.Context, svc *vision.Service, content, mimeType string, ic *vision.ImageContext, details map[string]any) (string, error) {
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	req := &vision.BatchAnnotateFilesRequest{
		Requests: []*vision.AnnotateFileRequest{{
			InputConfig:  &vision.InputConfig{Content: content, MimeType: mimeType},
			Features:     []*vision.Feature{{Type: "DOCUMENT_TEXT_DETECTION"}},
			ImageContext: ic,
		}},
	}
	resp, err := svc.Files.Annotate(req).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(resp.Responses) == 0 {
		return "", fmt.Errorf("empty response")
	}
	file := resp.Responses[0]
	if file.Error != nil && file.Error.Code != 0 {
		return "", fmt.Errorf("vision error %d: %s", file.Error.Code, file.Error.Message)
	}
	details["pages"] = file.TotalPages

	var sb strings.Builder
	for i, page := range file.Responses {
		pageText, err := imageResponseText(page)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i+1, err)
		}
		if pageText = strings.TrimSpace(pageText); pageText != "" {
			fmt.Fprintf(&sb, "\n\n[Page %d]\n%s", i+1, pageText)
		}
	}
	return sb.String(), nil
}

func imageResponseText(r *vision.AnnotateImageResponse) (string, error) {
	if r == nil {
		return "", nil
	}
	if r.Error != nil && r.Error.Code != 0 {
		return "", fmt.Errorf("vision error %d: %s", r.Error.Code, r.Error.Message)
	}
	if r.FullTextAnnotation != nil && r.FullTextAnnotation.Text != "" {
		return r.FullTextAnnotation.Text, nil
	}
	if len(r.TextAnnotations) > 0 {
		return r.TextAnnotations[0].Description, nil
	}
	return "", nil
}
