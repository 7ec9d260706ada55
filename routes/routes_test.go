package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vnkhanh/submission-ingest-backend/controllers"
	"github.com/vnkhanh/submission-ingest-backend/models"
	"github.com/vnkhanh/submission-ingest-backend/repository"
	"github.com/vnkhanh/submission-ingest-backend/repository/repotest"
	"github.com/vnkhanh/submission-ingest-backend/services"
	"github.com/vnkhanh/submission-ingest-backend/storage"
	"github.com/vnkhanh/submission-ingest-backend/utils"
	"github.com/vnkhanh/submission-ingest-backend/ws"
)

const secret = "route-secret"

type stubOCR struct {
	text string
}

func (s stubOCR) Step() string                     { return models.StepOCRPrimary }
func (s stubOCR) Applies(d services.Document) bool { return d.Kind == models.FileKindImage }
func (s stubOCR) Configured() bool                 { return true }
func (s stubOCR) Attempt(context.Context, services.Document) (services.Extraction, error) {
	return services.Extraction{Text: s.text}, nil
}

type app struct {
	router *gin.Engine
	store  *storage.MemoryGateway
}

func newApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := repotest.Open(t)
	files := repository.NewFileRepository(db)
	logs := repository.NewLogRepository(db)
	store := storage.NewMemoryGateway("https://cdn.test")
	hub := ws.NewHub(zerolog.Nop())

	pipeline := services.NewPipeline(services.PipelineDeps{
		Storage:   store,
		Files:     files,
		Logs:      services.NewProcessingLog(logs, hub, zerolog.Nop()),
		Notifier:  hub,
		ImageRule: services.UploadRules{AllowedMimeTypes: []string{"image/png", "image/jpeg"}, MaxBytes: 1 << 20},
		PDFRule:   services.UploadRules{AllowedMimeTypes: []string{"application/pdf"}, MaxBytes: 1 << 20},
		Strategies: []services.Strategy{
			services.NewNativePDFStrategy(services.NativePDFOptions{MinChars: 100}),
			stubOCR{text: "Hello World"},
		},
	}, zerolog.Nop())

	r := gin.New()
	SetupRouter(r, Handlers{
		Uploads:   controllers.NewUploadController(pipeline, services.NewFileService(files, logs, store, zerolog.Nop()), 1<<20, zerolog.Nop()),
		Health:    controllers.NewHealthController(files, store.Name(), map[string]bool{"google_vision": true}, hub),
		WebSocket: ws.NewHandler(hub, secret, files, nil, zerolog.Nop()),
		JWTSecret: secret,
	})
	return &app{router: r, store: store}
}

func token(t *testing.T, id uuid.UUID, role string) string {
	t.Helper()
	tok, err := utils.GenerateToken(secret, id.String(), role, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func multipartBody(t *testing.T, name, contentType string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, name))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	for k, v := range fields {
		w.WriteField(k, v)
	}
	w.Close()
	return body, w.FormDataContentType()
}

func (a *app) do(t *testing.T, method, path, tok string, body *bytes.Buffer, contentType string) (int, map[string]any) {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	out := map[string]any{}
	json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func TestUploadImageAndReadBack(t *testing.T) {
	a := newApp(t)
	owner := uuid.New()
	tok := token(t, owner, "student")

	body, ct := multipartBody(t, "page.png", "image/png", []byte("\x89PNG data"), map[string]string{"submission_id": "hw-7"})
	code, res := a.do(t, http.MethodPost, "/api/upload/image", tok, body, ct)
	if code != http.StatusOK {
		t.Fatalf("status = %d body = %v", code, res)
	}
	if res["success"] != true || res["extracted_text"] != "Hello World" || res["skipped_ocr"] != false {
		t.Fatalf("response = %v", res)
	}
	if _, ok := res["processing_time_ms"].(float64); !ok {
		t.Fatalf("processing_time_ms missing: %v", res)
	}
	id := res["file_id"].(string)

	code, got := a.do(t, http.MethodGet, "/api/upload/"+id, tok, nil, "")
	if code != http.StatusOK || got["student_id"] != owner.String() || got["submission_id"] != "hw-7" || got["teacher_id"] != nil {
		t.Fatalf("get = %d %v", code, got)
	}

	code, logs := a.do(t, http.MethodGet, "/api/upload/"+id+"/logs", tok, nil, "")
	if code != http.StatusOK || len(logs["data"].([]any)) != 2 {
		t.Fatalf("logs = %d %v", code, logs)
	}

	code, list := a.do(t, http.MethodGet, "/api/upload?status=completed&limit=500", tok, nil, "")
	if code != http.StatusOK || list["count"].(float64) != 1 {
		t.Fatalf("list = %d %v", code, list)
	}
}

func TestUploadImageSkipOCR(t *testing.T) {
	a := newApp(t)
	tok := token(t, uuid.New(), "teacher")

	body, ct := multipartBody(t, "chart.png", "image/png", []byte("img"), map[string]string{"skip_ocr": "true"})
	code, res := a.do(t, http.MethodPost, "/api/upload/image", tok, body, ct)
	if code != http.StatusOK {
		t.Fatalf("status = %d %v", code, res)
	}
	if res["skipped_ocr"] != true || res["extracted_text"] != nil || res["image_url"] != res["storage_url"] || res["image_url"] == nil {
		t.Fatalf("response = %v", res)
	}
}

func TestUploadPDFWithoutTextLayerReportsFailure(t *testing.T) {
	a := newApp(t)
	tok := token(t, uuid.New(), "teacher")

	body, ct := multipartBody(t, "scan.pdf", "application/pdf", []byte("%PDF-1.4 not really"), nil)
	code, res := a.do(t, http.MethodPost, "/api/upload/pdf", tok, body, ct)
	if code != http.StatusOK {
		t.Fatalf("extraction failure must still be 200, got %d %v", code, res)
	}
	if res["success"] != false || res["processing_status"] != "failed" || res["error_message"] == nil {
		t.Fatalf("response = %v", res)
	}
	if _, ok := res["skipped_ocr"]; ok {
		t.Fatal("pdf responses carry no skip flag")
	}
}

func TestUploadRejections(t *testing.T) {
	a := newApp(t)
	tok := token(t, uuid.New(), "teacher")

	body, ct := multipartBody(t, "a.gif", "image/gif", []byte("GIF89a"), nil)
	if code, res := a.do(t, http.MethodPost, "/api/upload/image", tok, body, ct); code != http.StatusBadRequest || res["error"] != "File type image/gif is not allowed" {
		t.Fatalf("gif = %d %v", code, res)
	}

	big := bytes.Repeat([]byte("x"), 2<<20)
	body, ct = multipartBody(t, "big.png", "image/png", big, nil)
	if code, res := a.do(t, http.MethodPost, "/api/upload/image", tok, body, ct); code != http.StatusBadRequest || res["error"] != "File size exceeds 1.0MB limit" {
		t.Fatalf("big = %d %v", code, res)
	}

	body, ct = multipartBody(t, "a.png", "image/png", []byte("x"), nil)
	if code, _ := a.do(t, http.MethodPost, "/api/upload/image", "", body, ct); code != http.StatusUnauthorized {
		t.Fatalf("anonymous = %d", code)
	}

	body, ct = multipartBody(t, "a.png", "image/png", []byte("x"), nil)
	if code, _ := a.do(t, http.MethodPost, "/api/upload/image", token(t, uuid.New(), "admin"), body, ct); code != http.StatusForbidden {
		t.Fatalf("admin = %d", code)
	}

	if a.store.Len() != 0 {
		t.Fatalf("rejected uploads reached storage")
	}
}

// unsized hides the body length, as with a chunked request.
type unsized struct{ r *bytes.Buffer }

func (u unsized) Read(p []byte) (int, error) { return u.r.Read(p) }

func TestUploadBodyCappedBeforeBuffering(t *testing.T) {
	a := newApp(t)
	tok := token(t, uuid.New(), "teacher")
	huge := bytes.Repeat([]byte("x"), 5<<20)

	body, ct := multipartBody(t, "huge.png", "image/png", huge, nil)
	if code, res := a.do(t, http.MethodPost, "/api/upload/image", tok, body, ct); code != http.StatusBadRequest || res["error"] != "File size exceeds 1.0MB limit" || res["field"] != "file" {
		t.Fatalf("declared length = %d %v", code, res)
	}

	body, ct = multipartBody(t, "huge.pdf", "application/pdf", huge, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/upload/pdf", unsized{body})
	req.ContentLength = -1
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	res := map[string]any{}
	json.Unmarshal(w.Body.Bytes(), &res)
	if w.Code != http.StatusBadRequest || res["error"] != "File size exceeds 1.0MB limit" {
		t.Fatalf("streamed = %d %v", w.Code, res)
	}

	if a.store.Len() != 0 {
		t.Fatal("oversized upload reached storage")
	}
}

func TestOwnershipAndDelete(t *testing.T) {
	a := newApp(t)
	owner := token(t, uuid.New(), "teacher")
	other := token(t, uuid.New(), "teacher")

	body, ct := multipartBody(t, "a.png", "image/png", []byte("img"), nil)
	_, res := a.do(t, http.MethodPost, "/api/upload/image", owner, body, ct)
	id := res["file_id"].(string)

	for _, path := range []string{"/api/upload/" + id, "/api/upload/" + id + "/logs"} {
		if code, _ := a.do(t, http.MethodGet, path, other, nil, ""); code != http.StatusNotFound {
			t.Fatalf("GET %s by stranger = %d", path, code)
		}
	}
	if code, _ := a.do(t, http.MethodDelete, "/api/upload/"+id, other, nil, ""); code != http.StatusNotFound {
		t.Fatalf("DELETE by stranger = %d", code)
	}
	if code, _ := a.do(t, http.MethodGet, "/api/upload/not-a-uuid", owner, nil, ""); code != http.StatusNotFound {
		t.Fatalf("malformed id = %d", code)
	}

	if code, _ := a.do(t, http.MethodDelete, "/api/upload/"+id, owner, nil, ""); code != http.StatusOK {
		t.Fatalf("DELETE = %d", code)
	}
	if a.store.Len() != 0 {
		t.Fatal("object not deleted")
	}
	if code, _ := a.do(t, http.MethodDelete, "/api/upload/"+id, owner, nil, ""); code != http.StatusNotFound {
		t.Fatalf("second DELETE = %d", code)
	}
}

func TestHealth(t *testing.T) {
	a := newApp(t)
	code, res := a.do(t, http.MethodGet, "/health", "", nil, "")
	if code != http.StatusOK || res["db"] != "ok" || res["storage"] != "memory" {
		t.Fatalf("health = %d %v", code, res)
	}
}
