// Package ocr orchestrates the OCR job lifecycle: intake, dispatch to the
// recognition worker, result and error callbacks, and the user decision that
// writes the ledger.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ocr-job-pipeline/internal/blob"
	"ocr-job-pipeline/internal/chat"
	"ocr-job-pipeline/internal/dispatch"
	"ocr-job-pipeline/internal/models"
	"ocr-job-pipeline/internal/ratelimit"
	"ocr-job-pipeline/internal/store"
	"ocr-job-pipeline/internal/telemetry"
)

// Store is the persistence the service needs. Both store.Store and
// store.MemoryStore satisfy it.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	FindOrCreate(ctx context.Context, p store.CreateJobParams) (models.Job, bool, error)
	FindByIdempotencyKey(ctx context.Context, key string) (models.Job, bool, error)
	FindByID(ctx context.Context, id string) (models.Job, error)
	LockJob(ctx context.Context, id string) (models.Job, error)
	UpdateStatus(ctx context.Context, id string, status models.Status) (models.Job, error)
	IncrementAttempts(ctx context.Context, id string) (models.Job, error)
	UpdateLastError(ctx context.Context, id string, message string) (models.Job, error)
	MarkNeedConfirm(ctx context.Context, id string, p store.NeedConfirmParams) (models.Job, error)
	MarkFailed(ctx context.Context, id string, lastError string) (models.Job, error)
	MarkConfirmed(ctx context.Context, id string, ledgerRef string, at time.Time) (models.Job, error)
	MarkRejected(ctx context.Context, id string, at time.Time) (models.Job, error)
	UpdateSentMessageID(ctx context.Context, id string, messageID string) (models.Job, error)
	UpsertDeposit(ctx context.Context, d models.DepositTransaction) (models.DepositTransaction, error)
	UpsertCertificate(ctx context.Context, c models.CertificateTransaction) (models.CertificateTransaction, error)
}

// Transport sends and edits chat messages.
type Transport interface {
	SendMessage(ctx context.Context, chatID string, text string, buttons []chat.Button) (string, error)
	EditMessage(ctx context.Context, chatID, messageID string, text string) error
	AnswerCallback(ctx context.Context, callbackID string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)
}

// Options wires a Service. Blob and Quota may be nil.
type Options struct {
	Store        Store
	Publisher    dispatch.Publisher
	Chat         Transport
	Blob         blob.Store
	Quota        *ratelimit.UploadQuota
	Formatter    *Formatter
	Logger       *zap.Logger
	MaxAttempts  int
	SignedURLTTL time.Duration
	UploadFolder string
	MaxImageDim  int
	AllowedUsers []string
	LedgerLoc    *time.Location
	Now          func() time.Time
}

type Service struct {
	store        Store
	publisher    dispatch.Publisher
	chat         Transport
	blob         blob.Store
	quota        *ratelimit.UploadQuota
	format       *Formatter
	log          *zap.Logger
	maxAttempts  int
	signedURLTTL time.Duration
	uploadFolder string
	maxImageDim  int
	allowed      map[string]struct{}
	ledgerLoc    *time.Location
	now          func() time.Time
}

func NewService(o Options) *Service {
	s := &Service{
		store:        o.Store,
		publisher:    o.Publisher,
		chat:         o.Chat,
		blob:         o.Blob,
		quota:        o.Quota,
		format:       o.Formatter,
		log:          o.Logger,
		maxAttempts:  o.MaxAttempts,
		signedURLTTL: o.SignedURLTTL,
		uploadFolder: o.UploadFolder,
		maxImageDim:  o.MaxImageDim,
		ledgerLoc:    o.LedgerLoc,
		now:          o.Now,
	}
	if s.publisher == nil {
		s.publisher = dispatch.Disabled{Reason: "no publisher"}
	}
	if s.format == nil {
		s.format = NewFormatter("en")
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = models.DefaultMaxAttempts
	}
	if s.signedURLTTL <= 0 {
		s.signedURLTTL = 7 * 24 * time.Hour
	}
	if s.ledgerLoc == nil {
		s.ledgerLoc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	if len(o.AllowedUsers) > 0 {
		s.allowed = make(map[string]struct{}, len(o.AllowedUsers))
		for _, id := range o.AllowedUsers {
			s.allowed[id] = struct{}{}
		}
	}
	return s
}

// CreateJobInput identifies an uploaded image and where to report back.
type CreateJobInput struct {
	IdempotencyKey string
	ChatID         string
	UserID         string
	Storage        models.StorageRef
}

// CreateJob returns the job for the idempotency key, creating it and
// publishing a start message when it is new. The boolean reports whether a
// job was created. A publish failure leaves the PENDING job in place and is
// returned alongside it.
func (s *Service) CreateJob(ctx context.Context, in CreateJobInput) (models.Job, bool, error) {
	job, reused, err := s.store.FindOrCreate(ctx, store.CreateJobParams{
		IdempotencyKey: in.IdempotencyKey,
		ChatID:         in.ChatID,
		UserID:         in.UserID,
		Storage:        in.Storage,
		MaxAttempts:    s.maxAttempts,
	})
	if err != nil {
		return models.Job{}, false, err
	}
	if reused {
		telemetry.JobsDeduplicated.Inc()
		s.log.Debug("reused existing job", zap.String("job_id", job.ID), zap.String("status", string(job.Status)))
		return job, false, nil
	}

	telemetry.JobsCreated.Inc()
	s.log.Info("job created", zap.String("job_id", job.ID), zap.String("user_id", job.UserID))
	if err := s.publishStart(ctx, job); err != nil {
		return job, true, err
	}
	return job, true, nil
}

// StartInput selects a job by id or idempotency key. JobID wins when both
// are set.
type StartInput struct {
	JobID          string
	IdempotencyKey string
}

// StartJob re-publishes the start message for a job that is still awaiting
// its result.
func (s *Service) StartJob(ctx context.Context, in StartInput) (models.Job, error) {
	job, err := s.resolve(ctx, in)
	if err != nil {
		return models.Job{}, err
	}
	switch {
	case job.Status.IsTerminal():
		return job, fmt.Errorf("%w: job %s is %s", ErrAlreadyFinalized, job.ID, job.Status)
	case job.Status == models.StatusNeedConfirm:
		return job, fmt.Errorf("%w: job %s", ErrResultRecorded, job.ID)
	}
	if err := s.publishStart(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// GetJob returns the job by id.
func (s *Service) GetJob(ctx context.Context, id string) (models.Job, error) {
	return s.store.FindByID(ctx, id)
}

// SignedURL issues a time-limited URL for the job's image and marks a
// PENDING job as PROCESSING, since fetching the image means the worker has
// picked it up.
func (s *Service) SignedURL(ctx context.Context, idempotencyKey string) (string, time.Time, error) {
	job, found, err := s.store.FindByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return "", time.Time{}, err
	}
	if !found {
		return "", time.Time{}, fmt.Errorf("%w: idempotency key %s", store.ErrNotFound, idempotencyKey)
	}
	if job.Status.IsTerminal() {
		return "", time.Time{}, fmt.Errorf("%w: job %s is %s", ErrAlreadyFinalized, job.ID, job.Status)
	}
	if s.blob == nil {
		return "", time.Time{}, ErrBlobUnavailable
	}
	url, expires, err := s.blob.SignedURL(ctx, job.Storage, s.signedURLTTL)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign url for job %s: %w", job.ID, err)
	}
	if job.Status == models.StatusPending {
		if _, err := s.store.UpdateStatus(ctx, job.ID, models.StatusProcessing); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
			s.log.Warn("mark processing failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return url, expires, nil
}

func (s *Service) resolve(ctx context.Context, in StartInput) (models.Job, error) {
	if in.JobID != "" {
		return s.store.FindByID(ctx, in.JobID)
	}
	if in.IdempotencyKey == "" {
		return models.Job{}, fmt.Errorf("%w: no job id or idempotency key", store.ErrNotFound)
	}
	job, found, err := s.store.FindByIdempotencyKey(ctx, in.IdempotencyKey)
	if err != nil {
		return models.Job{}, err
	}
	if !found {
		return models.Job{}, fmt.Errorf("%w: idempotency key %s", store.ErrNotFound, in.IdempotencyKey)
	}
	return job, nil
}

func (s *Service) publishStart(ctx context.Context, job models.Job) error {
	if err := s.publisher.PublishJobStart(ctx, models.StartMessageFor(job)); err != nil {
		s.log.Error("publish job start failed", zap.String("job_id", job.ID), zap.String("binding", s.publisher.Name()), zap.Error(err))
		return fmt.Errorf("publish start for job %s: %w", job.ID, err)
	}
	return nil
}
