package controllers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vnkhanh/submission-ingest-backend/middleware"
	"github.com/vnkhanh/submission-ingest-backend/models"
	"github.com/vnkhanh/submission-ingest-backend/pkg/apperror"
	"github.com/vnkhanh/submission-ingest-backend/repository"
	"github.com/vnkhanh/submission-ingest-backend/services"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxSubmissionID  = 64

	// multipart framing and form fields on top of the file itself
	multipartOverhead = 1 << 20
)

type UploadController struct {
	pipeline  *services.Pipeline
	files     *services.FileService
	maxUpload int64
	log       zerolog.Logger
}

// NewUploadController caps request bodies at maxUpload plus multipart
// overhead, so oversized uploads are cut off before they are buffered.
func NewUploadController(pipeline *services.Pipeline, files *services.FileService, maxUpload int64, log zerolog.Logger) *UploadController {
	return &UploadController{
		pipeline:  pipeline,
		files:     files,
		maxUpload: maxUpload,
		log:       log.With().Str("component", "upload_controller").Logger(),
	}
}

func (uc *UploadController) UploadImage(c *gin.Context) {
	uc.upload(c, models.FileKindImage)
}

func (uc *UploadController) UploadPDF(c *gin.Context) {
	uc.upload(c, models.FileKindPDF)
}

func (uc *UploadController) upload(c *gin.Context, kind models.FileKind) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	limit := uc.maxUpload + multipartOverhead
	if c.Request.ContentLength > limit {
		uc.fail(c, uc.tooLarge())
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			uc.fail(c, uc.tooLarge())
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided", "field": "file"})
		return
	}

	var submissionID *string
	if v := strings.TrimSpace(c.PostForm("submission_id")); v != "" {
		if len(v) > maxSubmissionID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "submission_id is too long", "field": "submission_id"})
			return
		}
		submissionID = &v
	}

	skipOCR := false
	if kind == models.FileKindImage {
		if v := c.PostForm("skip_ocr"); v != "" {
			skipOCR, err = strconv.ParseBool(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "skip_ocr must be a boolean", "field": "skip_ocr"})
				return
			}
		}
	}

	res, err := uc.pipeline.Ingest(c.Request.Context(), services.IngestRequest{
		Principal:    principal,
		Kind:         kind,
		FileName:     fh.Filename,
		MimeType:     fh.Header.Get("Content-Type"),
		Size:         fh.Size,
		SubmissionID: submissionID,
		SkipOCR:      skipOCR,
		Open:         func() (io.ReadCloser, error) { return fh.Open() },
	})
	if err != nil {
		uc.fail(c, err)
		return
	}

	f := res.File
	body := gin.H{
		"success":            res.Succeeded(),
		"file_id":            f.ID,
		"file_name":          f.FileName,
		"storage_key":        f.StorageKey,
		"storage_url":        f.StorageURL,
		"extracted_text":     f.ExtractedText,
		"processing_time_ms": res.ProcessingTime.Milliseconds(),
		"processing_status":  f.ProcessingStatus,
	}
	if kind == models.FileKindImage {
		body["skipped_ocr"] = res.SkippedOCR
	}
	if res.SkippedOCR {
		body["image_url"] = f.StorageURL
	}
	if f.ErrorMessage != nil {
		body["error_message"] = *f.ErrorMessage
	}
	c.JSON(http.StatusOK, body)
}

func (uc *UploadController) tooLarge() error {
	return apperror.NewValidationError("file", "File size exceeds %.1fMB limit", float64(uc.maxUpload)/1024/1024)
}

func (uc *UploadController) GetUpload(c *gin.Context) {
	principal, id, ok := uc.ownedTarget(c)
	if !ok {
		return
	}
	f, err := uc.files.Get(c.Request.Context(), principal, id)
	if err != nil {
		uc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (uc *UploadController) ListUploads(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	filter := repository.ListFilter{Limit: defaultListLimit}
	if v := c.Query("status"); v != "" {
		status := models.ProcessingStatus(v)
		if status != models.StatusProcessing && !status.Terminal() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(v), "field": "status"})
			return
		}
		filter.Status = status
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer", "field": "limit"})
			return
		}
		filter.Limit = min(n, maxListLimit)
	}

	files, err := uc.files.List(c.Request.Context(), principal, filter)
	if err != nil {
		uc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": files, "count": len(files)})
}

func (uc *UploadController) GetUploadLogs(c *gin.Context) {
	principal, id, ok := uc.ownedTarget(c)
	if !ok {
		return
	}
	entries, err := uc.files.Logs(c.Request.Context(), principal, id)
	if err != nil {
		uc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"file_id": id, "data": entries})
}

func (uc *UploadController) DeleteUpload(c *gin.Context) {
	principal, id, ok := uc.ownedTarget(c)
	if !ok {
		return
	}
	if err := uc.files.Delete(c.Request.Context(), principal, id); err != nil {
		uc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "File deleted"})
}

// ownedTarget extracts the caller and the :id param. A malformed id is
// reported like any file the caller does not own.
func (uc *UploadController) ownedTarget(c *gin.Context) (models.Principal, uuid.UUID, bool) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return models.Principal{}, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return models.Principal{}, uuid.Nil, false
	}
	return principal, id, true
}

func (uc *UploadController) fail(c *gin.Context, err error) {
	var (
		validation  *apperror.ValidationError
		storageErr  *apperror.StorageError
		persistence *apperror.PersistenceError
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Message, "field": validation.Field})
	case errors.Is(err, apperror.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
	case errors.Is(err, models.ErrRoleNotAllowed):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &storageErr):
		uc.log.Error().Err(err).Str("storage_key", storageErr.Key).Msg("storage failure")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file", "details": storageErr.Error()})
	case errors.As(err, &persistence):
		uc.log.Error().Err(err).Str("op", persistence.Op).Msg("persistence failure")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file record", "details": persistence.Op})
	default:
		uc.log.Error().Err(err).Msg("unexpected upload error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
	c.Error(err)
}
