package blobstore

import (
	"context"
	"fmt"

	"github.com/local/docengine/internal/config"
)

// New selects the BlobStore backend named by cfg.Backend ("local" or "s3").
func New(ctx context.Context, cfg config.BlobConfig) (BlobStore, error) {
	switch cfg.Backend {
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("blobstore: BLOB_S3_BUCKET required when BLOB_BACKEND=s3")
		}
		return NewS3Store(ctx, cfg.S3Bucket)
	case "local", "":
		return NewLocalStore(cfg.LocalDir)
	default:
		return nil, fmt.Errorf("blobstore: unknown backend %q", cfg.Backend)
	}
}
