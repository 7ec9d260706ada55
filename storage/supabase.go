package storage

import (
	"bytes"
	"context"
	"strings"

	storage_go "github.com/supabase-community/storage-go"

	"github.com/vnkhanh/submission-ingest-backend/pkg/apperror"
)

type SupabaseGateway struct {
	baseURL string
	key     string
	bucket  string
}

func NewSupabaseGateway(supabaseURL, key, bucket string) *SupabaseGateway {
	return &SupabaseGateway{
		baseURL: strings.TrimRight(supabaseURL, "/"),
		key:     key,
		bucket:  bucket,
	}
}

func (g *SupabaseGateway) Name() string { return "supabase" }

// client is built per call: the storage-go client keeps per-upload headers on
// the shared transport.
func (g *SupabaseGateway) client() *storage_go.Client {
	return storage_go.NewClient(g.baseURL+"/storage/v1", g.key, map[string]string{"apikey": g.key})
}

func (g *SupabaseGateway) Put(ctx context.Context, key string, data []byte, contentType string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, &apperror.StorageError{Op: "put", Key: key, Err: err}
	}
	c := g.client()
	upsert := false
	_, err := c.UploadFile(g.bucket, key, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return Object{}, &apperror.StorageError{Op: "put", Key: key, Err: err}
	}
	return Object{Key: key, URL: c.GetPublicUrl(g.bucket, key).SignedURL}, nil
}

// Delete removes the object. Supabase answers a missing key with an empty
// result list, so no special casing is needed.
func (g *SupabaseGateway) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return &apperror.StorageError{Op: "delete", Key: key, Err: err}
	}
	if _, err := g.client().RemoveFile(g.bucket, []string{key}); err != nil {
		return &apperror.StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}
