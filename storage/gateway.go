package storage

import (
	"context"
	"fmt"

	gcs "cloud.google.com/go/storage"

	"github.com/vnkhanh/submission-ingest-backend/config"
)

// Object is a stored blob's stable key and accessible URL.
type Object struct {
	Key string
	URL string
}

// Gateway is durable put/delete of raw bytes. Delete of an absent key is not
// an error.
type Gateway interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (Object, error)
	Delete(ctx context.Context, key string) error
	Name() string
}

// New builds the gateway selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (Gateway, error) {
	switch cfg.Driver {
	case "supabase":
		if cfg.Supabase.URL == "" || cfg.Supabase.Key == "" {
			return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_KEY are required for the supabase driver")
		}
		return NewSupabaseGateway(cfg.Supabase.URL, cfg.Supabase.Key, cfg.Supabase.Bucket), nil
	case "gcs":
		if cfg.GCS.Bucket == "" {
			return nil, fmt.Errorf("GCS_BUCKET is required for the gcs driver")
		}
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		return NewGCSGateway(client, cfg.GCS.Bucket), nil
	case "s3":
		return NewS3Gateway(cfg.S3)
	case "memory":
		return NewMemoryGateway("memory://uploads"), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
