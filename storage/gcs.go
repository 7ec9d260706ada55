package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/vnkhanh/submission-ingest-backend/pkg/apperror"
)

type GCSGateway struct {
	client *gcs.Client
	bucket string
}

func NewGCSGateway(client *gcs.Client, bucket string) *GCSGateway {
	return &GCSGateway{client: client, bucket: bucket}
}

func (g *GCSGateway) Name() string { return "gcs" }

// Put writes only if the object does not exist yet, so a key collision is an
// error instead of a silent overwrite.
func (g *GCSGateway) Put(ctx context.Context, key string, data []byte, contentType string) (Object, error) {
	w := g.client.Bucket(g.bucket).Object(key).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return Object{}, &apperror.StorageError{Op: "put", Key: key, Err: err}
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			err = fmt.Errorf("object already exists: %w", err)
		}
		return Object{}, &apperror.StorageError{Op: "put", Key: key, Err: err}
	}
	return Object{Key: key, URL: fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, key)}, nil
}

func (g *GCSGateway) Delete(ctx context.Context, key string) error {
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err == nil || errors.Is(err, gcs.ErrObjectNotExist) {
		return nil
	}
	return &apperror.StorageError{Op: "delete", Key: key, Err: err}
}
