package blob

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocr-job-pipeline/internal/config"
	"ocr-job-pipeline/internal/models"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestNormalizeShrinksAndReencodes(t *testing.T) {
	out, contentType, err := Normalize(pngBytes(t, 400, 200), 100)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", contentType)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestNormalizeKeepsSmallImages(t *testing.T) {
	out, _, err := Normalize(pngBytes(t, 40, 30), 100)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 30, cfg.Height)
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, _, err := Normalize([]byte("not an image"), 100)
	assert.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "images/AgADx-1_2.jpg", ObjectKey("images", "AgADx-1/2", ".jpg"))
	assert.Equal(t, "images/image.jpg", ObjectKey("images", "", ""))
}

func TestS3SignedURL(t *testing.T) {
	awsCfg := aws.Config{
		Region: "us-east-1",
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKID", SecretAccessKey: "SECRET"}, nil
		}),
	}
	st := NewS3WithConfig(awsCfg, config.BlobConfig{Bucket: "ocr-images", S3Endpoint: "http://localhost:9000", S3PathStyle: true})

	before := time.Now()
	raw, expires, err := st.SignedURL(context.Background(), models.StorageRef{Bucket: "ocr-images", Path: "images/a.jpg"}, 168*time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(168*time.Hour), expires, time.Minute)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/ocr-images/images/a.jpg", u.Path)
	assert.Equal(t, "604800", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestMinioSignedURL(t *testing.T) {
	st, err := NewMinio(config.BlobConfig{Bucket: "ocr-images", MinioEndpoint: "localhost:9000", MinioAccessKey: "minio", MinioSecretKey: "minio123", S3Region: "us-east-1"})
	require.NoError(t, err)

	raw, _, err := st.SignedURL(context.Background(), models.StorageRef{Bucket: "ocr-images", Path: "images/a.jpg"}, time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "http://localhost:9000/ocr-images/images/a.jpg?"), raw)
	assert.Contains(t, raw, "X-Amz-Expires=3600")
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), config.BlobConfig{Driver: "floppy"})
	assert.Error(t, err)
}
