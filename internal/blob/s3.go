package blob

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"ocr-job-pipeline/internal/config"
	"ocr-job-pipeline/internal/models"
)

// S3Store uploads with PutObject and signs GETs with the presign client.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// NewS3 loads credentials from the default AWS chain.
func NewS3(ctx context.Context, cfg config.BlobConfig) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3WithConfig(awsCfg, cfg), nil
}

// NewS3WithConfig builds the store from an existing aws.Config.
func NewS3WithConfig(awsCfg aws.Config, cfg config.BlobConfig) *S3Store {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	})
	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
	}
}

func (s *S3Store) Upload(ctx context.Context, key string, data []byte, contentType string) (models.StorageRef, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return models.StorageRef{}, fmt.Errorf("put object %s: %w", key, err)
	}
	return models.StorageRef{Bucket: s.bucket, Path: key, ContentType: aws.String(contentType)}, nil
}

func (s *S3Store) SignedURL(ctx context.Context, ref models.StorageRef, ttl time.Duration) (string, time.Time, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Path),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign %s/%s: %w", ref.Bucket, ref.Path, err)
	}
	return req.URL, time.Now().Add(ttl), nil
}
