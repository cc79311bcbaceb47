// Package blob stores uploaded images and issues time-limited download URLs
// for the recognition worker.
package blob

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"time"

	"ocr-job-pipeline/internal/config"
	"ocr-job-pipeline/internal/models"
)

// Store is implemented by the S3 and MinIO bindings.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (models.StorageRef, error)
	SignedURL(ctx context.Context, ref models.StorageRef, ttl time.Duration) (string, time.Time, error)
}

// New builds the binding selected by cfg.Driver.
func New(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3(ctx, cfg)
	case "minio":
		return NewMinio(cfg)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// ObjectKey derives the storage path for an image from its idempotency key,
// so re-uploads of the same image overwrite one object.
func ObjectKey(folder, idempotencyKey, ext string) string {
	name := unsafeKeyChars.ReplaceAllString(idempotencyKey, "_")
	if name == "" {
		name = "image"
	}
	if ext == "" {
		ext = ".jpg"
	}
	return path.Join(folder, name+ext)
}
