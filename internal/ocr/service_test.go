package ocr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocr-job-pipeline/internal/models"
	"ocr-job-pipeline/internal/store"
	"ocr-job-pipeline/internal/telemetry"
)

func TestCreateJobIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.createJob(t, "file-1")
	again, created, err := h.svc.CreateJob(ctx, CreateJobInput{IdempotencyKey: "file-1", ChatID: "999", UserID: "200"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "100", again.ChatID)
	assert.Equal(t, 2, again.MaxAttempts)

	require.Equal(t, 1, h.pub.count())
	assert.Equal(t, models.StartMessage{JobID: first.ID, IdempotencyKey: "file-1", ChatID: "100", UserID: "200"}, h.pub.starts[0])
}

func TestCreateJobKeepsJobWhenPublishFails(t *testing.T) {
	h := newHarness(t)
	h.pub.err = errors.New("broker down")
	ctx := context.Background()
	// The binding counts its own failures.
	publishErrors := testutil.ToFloat64(telemetry.PublishErrors.WithLabelValues("fake"))

	job, created, err := h.svc.CreateJob(ctx, CreateJobInput{IdempotencyKey: "file-1", ChatID: "100", UserID: "200"})
	require.Error(t, err)
	assert.True(t, created)
	assert.Equal(t, publishErrors, testutil.ToFloat64(telemetry.PublishErrors.WithLabelValues("fake")))
	stored, ferr := h.store.FindByID(ctx, job.ID)
	require.NoError(t, ferr)
	assert.Equal(t, models.StatusPending, stored.Status)

	h.pub.err = nil
	_, err = h.svc.StartJob(ctx, StartInput{IdempotencyKey: "file-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.pub.count())
}

func TestStartJobGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.StartJob(ctx, StartInput{JobID: "missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = h.svc.StartJob(ctx, StartInput{})
	assert.ErrorIs(t, err, store.ErrNotFound)

	ready := h.needConfirm(t, "file-1", depositJSON(1500000))
	_, err = h.svc.StartJob(ctx, StartInput{JobID: ready.ID})
	assert.ErrorIs(t, err, ErrResultRecorded)

	_, err = h.svc.Reject(ctx, ready.ID)
	require.NoError(t, err)
	_, err = h.svc.StartJob(ctx, StartInput{JobID: ready.ID})
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	before := h.pub.count()
	pending := h.createJob(t, "file-2")
	job, err := h.svc.StartJob(ctx, StartInput{JobID: pending.ID, IdempotencyKey: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, pending.ID, job.ID)
	assert.Equal(t, before+2, h.pub.count())
}

func TestSignedURLMarksProcessing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.createJob(t, "file-1")

	url, expires, err := h.svc.SignedURL(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, "https://blob.example/ocr-images/images/file-1.jpg", url)
	assert.Equal(t, fixedNow.Add(time.Hour), expires)

	stored, err := h.store.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, stored.Status)

	// A second fetch leaves PROCESSING alone.
	_, _, err = h.svc.SignedURL(ctx, "file-1")
	require.NoError(t, err)

	_, _, err = h.svc.SignedURL(ctx, "unknown")
	assert.ErrorIs(t, err, store.ErrNotFound)

	noBlob := newHarness(t, func(o *Options) { o.Blob = nil })
	noBlob.createJob(t, "file-1")
	_, _, err = noBlob.svc.SignedURL(ctx, "file-1")
	assert.ErrorIs(t, err, ErrBlobUnavailable)
}

func TestSignedURLRefusesFinalizedJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.needConfirm(t, "file-1", depositJSON(10))
	_, err := h.svc.Reject(ctx, job.ID)
	require.NoError(t, err)

	_, _, err = h.svc.SignedURL(ctx, "file-1")
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}
