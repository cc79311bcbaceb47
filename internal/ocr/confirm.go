package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ocr-job-pipeline/internal/chat"
	"ocr-job-pipeline/internal/models"
	"ocr-job-pipeline/internal/store"
	"ocr-job-pipeline/internal/telemetry"
)

const (
	replyInvalidData = "❌ Invalid confirmation data."
	replyNotFound    = "❌ OCR job not found."
	replyConfirmed   = "⚠️ This transaction was already confirmed."
	replyRejected    = "⚠️ This transaction was already rejected."
	replyNotReady    = "❌ OCR job is not ready for confirmation."
	replyMalformed   = "❌ Could not read the transaction from this result. Please enter it manually."
	replyTryAgain    = "❌ Could not process your choice right now. Please try again."
)

// Confirm writes the ledger row for a NEED_CONFIRM job and marks it
// CONFIRMED. The ledger write and the transition share one transaction with
// the job row locked, so concurrent confirms produce one ledger row.
func (s *Service) Confirm(ctx context.Context, jobID string) (models.Job, error) {
	var job models.Job
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		locked, err := s.store.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if err := decisionGuard(locked); err != nil {
			return err
		}
		now := s.now()
		ref, err := s.writeLedger(ctx, locked, now)
		if err != nil {
			return err
		}
		job, err = s.store.MarkConfirmed(ctx, jobID, ref, now)
		return err
	})
	if err != nil {
		return models.Job{}, s.explainDecision(ctx, jobID, err)
	}
	telemetry.Decisions.WithLabelValues("confirmed").Inc()
	s.log.Info("job confirmed", zap.String("job_id", job.ID), zap.Stringp("ledger_ref", job.LedgerRef))
	s.editPrompt(ctx, job, textConfirmed)
	return job, nil
}

// Reject marks a NEED_CONFIRM job REJECTED without touching the ledger. It
// takes the same row lock as Confirm so a reject cannot land between a
// confirm's ledger write and its transition.
func (s *Service) Reject(ctx context.Context, jobID string) (models.Job, error) {
	var job models.Job
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		locked, err := s.store.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if err := decisionGuard(locked); err != nil {
			return err
		}
		job, err = s.store.MarkRejected(ctx, jobID, s.now())
		return err
	})
	if err != nil {
		return models.Job{}, s.explainDecision(ctx, jobID, err)
	}
	telemetry.Decisions.WithLabelValues("rejected").Inc()
	s.log.Info("job rejected", zap.String("job_id", job.ID))
	s.editPrompt(ctx, job, textRejected)
	return job, nil
}

// HandleCallback applies an inline button press. The user always gets a
// reply; the returned error is for logging.
func (s *Service) HandleCallback(ctx context.Context, q chat.CallbackQuery) error {
	if err := s.chat.AnswerCallback(ctx, q.ID); err != nil {
		s.log.Warn("answer callback failed", zap.String("callback_id", q.ID), zap.Error(err))
	}
	chatID := chat.FormatID(q.From.ID)
	if q.Message != nil {
		chatID = chat.FormatID(q.Message.Chat.ID)
	}

	action, jobID, err := chat.DecodeCallback(q.Data)
	if err != nil {
		s.reply(ctx, chatID, replyInvalidData)
		return err
	}
	switch action {
	case chat.ActionConfirm:
		_, err = s.Confirm(ctx, jobID)
	case chat.ActionReject:
		_, err = s.Reject(ctx, jobID)
	}
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		s.reply(ctx, chatID, replyNotFound)
	case errors.Is(err, ErrAlreadyConfirmed):
		s.reply(ctx, chatID, replyConfirmed)
	case errors.Is(err, ErrAlreadyRejected):
		s.reply(ctx, chatID, replyRejected)
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrAlreadyFinalized):
		s.reply(ctx, chatID, replyNotReady)
	case errors.Is(err, ErrMalformedResult):
		s.reply(ctx, chatID, replyMalformed)
	default:
		s.log.Error("decision failed", zap.String("job_id", jobID), zap.String("action", string(action)), zap.Error(err))
		s.reply(ctx, chatID, replyTryAgain)
	}
	return err
}

func decisionGuard(job models.Job) error {
	switch job.Status {
	case models.StatusNeedConfirm:
		return nil
	case models.StatusConfirmed:
		return fmt.Errorf("%w: job %s", ErrAlreadyConfirmed, job.ID)
	case models.StatusRejected:
		return fmt.Errorf("%w: job %s", ErrAlreadyRejected, job.ID)
	}
	return fmt.Errorf("%w: job %s is %s", ErrNotReady, job.ID, job.Status)
}

// explainDecision turns a lost transition into the guard error for the
// job's current status.
func (s *Service) explainDecision(ctx context.Context, jobID string, err error) error {
	if !errors.Is(err, store.ErrInvalidTransition) {
		return err
	}
	current, ferr := s.store.FindByID(ctx, jobID)
	if ferr != nil {
		return ferr
	}
	if gerr := decisionGuard(current); gerr != nil {
		return gerr
	}
	return err
}

// writeLedger upserts the ledger row keyed by the job and returns its id.
func (s *Service) writeLedger(ctx context.Context, job models.Job, now time.Time) (string, error) {
	y, m, d := now.In(s.ledgerLoc).Date()
	date := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	txID := models.LedgerTransactionID(job.ID)

	switch r := models.DecodeResult(job.Result).(type) {
	case models.DepositResult:
		if r.Amount == nil {
			return "", fmt.Errorf("%w: deposit amount missing", ErrMalformedResult)
		}
		saved, err := s.store.UpsertDeposit(ctx, models.DepositTransaction{
			TransactionDate: date,
			Capital:         *r.Amount,
			TransactionID:   txID,
		})
		if err != nil {
			return "", err
		}
		return saved.ID, nil
	case models.CertificateResult:
		if r.MatchedQuantity == nil || r.MatchedPrice == nil {
			return "", fmt.Errorf("%w: matched quantity and price are required", ErrMalformedResult)
		}
		saved, err := s.store.UpsertCertificate(ctx, models.CertificateTransaction{
			TransactionDate:      date,
			NumberOfCertificates: *r.MatchedQuantity,
			Price:                *r.MatchedPrice,
			TransactionID:        txID,
		})
		if err != nil {
			return "", err
		}
		return saved.ID, nil
	case models.UndeterminedResult:
		return "", fmt.Errorf("%w: unsupported transaction type %q", ErrMalformedResult, r.RawType)
	}
	return "", fmt.Errorf("%w: unknown result", ErrMalformedResult)
}

// editPrompt replaces the confirmation prompt. Delivery is best effort; the
// decision is already persisted.
func (s *Service) editPrompt(ctx context.Context, job models.Job, text string) {
	if job.SentMessageID == nil {
		return
	}
	if err := s.chat.EditMessage(ctx, job.ChatID, *job.SentMessageID, text); err != nil {
		s.log.Warn("edit prompt failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (s *Service) reply(ctx context.Context, chatID, text string) {
	if _, err := s.chat.SendMessage(ctx, chatID, text, nil); err != nil {
		s.log.Warn("reply failed", zap.String("chat_id", chatID), zap.Error(err))
	}
}
