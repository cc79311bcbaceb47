package ocr

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ocr-job-pipeline/internal/blob"
	"ocr-job-pipeline/internal/chat"
	"ocr-job-pipeline/internal/models"
	"ocr-job-pipeline/internal/telemetry"
)

const (
	replyReceived     = "📥 Image received. Recognising the transaction, please wait..."
	replyDuplicate    = "ℹ️ This image was already submitted (status: %s)."
	replyLimitReached = "⛔ Daily upload limit of %d images reached. Please try again tomorrow."
	replyQueueFailed  = "⚠️ Image saved but recognition could not be started. Please try again later."
	replyUploadFailed = "❌ Could not process this image. Please send it again."
)

// IngestInput is an image submitted for recognition.
type IngestInput struct {
	IdempotencyKey string
	ChatID         string
	UserID         string
	Data           []byte
}

// Ingest normalizes and stores the image, then creates the job. A known
// idempotency key short-circuits before any upload.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (models.Job, bool, error) {
	if existing, found, err := s.store.FindByIdempotencyKey(ctx, in.IdempotencyKey); err != nil {
		return models.Job{}, false, err
	} else if found {
		telemetry.JobsDeduplicated.Inc()
		return existing, false, nil
	}
	if s.blob == nil {
		return models.Job{}, false, ErrBlobUnavailable
	}

	data, contentType, err := blob.Normalize(in.Data, s.maxImageDim)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	ref, err := s.blob.Upload(ctx, blob.ObjectKey(s.uploadFolder, in.IdempotencyKey, ".jpg"), data, contentType)
	if err != nil {
		return models.Job{}, false, err
	}
	return s.CreateJob(ctx, CreateJobInput{
		IdempotencyKey: in.IdempotencyKey,
		ChatID:         in.ChatID,
		UserID:         in.UserID,
		Storage:        ref,
	})
}

// HandlePhoto turns a chat photo into a job. Messages from users outside the
// allowlist and messages without a photo are ignored.
func (s *Service) HandlePhoto(ctx context.Context, msg *chat.Message) error {
	if msg == nil || msg.From == nil {
		return nil
	}
	userID := chat.FormatID(msg.From.ID)
	chatID := chat.FormatID(msg.Chat.ID)
	if !s.userAllowed(userID) {
		s.log.Info("ignoring message from user outside allowlist", zap.String("user_id", userID))
		return nil
	}
	photo, ok := msg.LargestPhoto()
	if !ok {
		return nil
	}

	existing, found, err := s.store.FindByIdempotencyKey(ctx, photo.FileUniqueID)
	if err != nil {
		return err
	}
	if found {
		telemetry.JobsDeduplicated.Inc()
		s.reply(ctx, chatID, fmt.Sprintf(replyDuplicate, existing.Status))
		return nil
	}

	if s.quota != nil {
		allowed, err := s.quota.Allow(ctx, userID)
		if err != nil {
			s.log.Warn("upload quota check failed, allowing", zap.String("user_id", userID), zap.Error(err))
		} else if !allowed {
			telemetry.UploadRateLimits.Inc()
			s.reply(ctx, chatID, fmt.Sprintf(replyLimitReached, s.quota.Limit()))
			return nil
		}
	}

	data, _, err := s.chat.DownloadFile(ctx, photo.FileID)
	if err != nil {
		s.reply(ctx, chatID, replyUploadFailed)
		return fmt.Errorf("download photo %s: %w", photo.FileUniqueID, err)
	}
	job, created, err := s.Ingest(ctx, IngestInput{
		IdempotencyKey: photo.FileUniqueID,
		ChatID:         chatID,
		UserID:         userID,
		Data:           data,
	})
	switch {
	case err != nil && created:
		s.reply(ctx, chatID, replyQueueFailed)
		return err
	case err != nil:
		s.reply(ctx, chatID, replyUploadFailed)
		return err
	case !created:
		s.reply(ctx, chatID, fmt.Sprintf(replyDuplicate, job.Status))
		return nil
	}
	s.reply(ctx, chatID, replyReceived)
	return nil
}

func (s *Service) userAllowed(userID string) bool {
	if s.allowed == nil {
		return true
	}
	_, ok := s.allowed[userID]
	return ok
}
