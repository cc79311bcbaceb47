package blob

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"ocr-job-pipeline/internal/config"
	"ocr-job-pipeline/internal/models"
)

// MinioStore targets any S3-compatible endpoint through minio-go.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinio(cfg config.BlobConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func (m *MinioStore) Upload(ctx context.Context, key string, data []byte, contentType string) (models.StorageRef, error) {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return models.StorageRef{}, fmt.Errorf("put object %s: %w", key, err)
	}
	ct := contentType
	return models.StorageRef{Bucket: m.bucket, Path: key, ContentType: &ct}, nil
}

func (m *MinioStore) SignedURL(ctx context.Context, ref models.StorageRef, ttl time.Duration) (string, time.Time, error) {
	u, err := m.client.PresignedGetObject(ctx, ref.Bucket, ref.Path, ttl, url.Values{})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign %s/%s: %w", ref.Bucket, ref.Path, err)
	}
	return u.String(), time.Now().Add(ttl), nil
}
