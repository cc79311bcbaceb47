package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ocr-job-pipeline/internal/chat"
	"ocr-job-pipeline/internal/models"
	"ocr-job-pipeline/internal/store"
	"ocr-job-pipeline/internal/telemetry"
)

// ResultResponse is returned to the worker after a success callback.
type ResultResponse struct {
	JobID         string        `json:"jobId"`
	Status        models.Status `json:"status"`
	SentMessageID string        `json:"sentMessageId,omitempty"`
}

// ErrorReport is the worker's failure description.
type ErrorReport struct {
	Message string
	Code    string
}

// ErrorResponse tells the worker whether the job will be retried.
type ErrorResponse struct {
	JobID       string        `json:"jobId"`
	Status      models.Status `json:"status"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"maxAttempts"`
	Retried     bool          `json:"retried"`
}

// HandleResult records a recognition result and prompts the user to confirm
// it. A duplicate delivery for a job already in NEED_CONFIRM sends nothing
// new unless the first prompt never went out.
func (s *Service) HandleResult(ctx context.Context, jobID string, env models.ResultEnvelope) (ResultResponse, error) {
	if len(env.ResultJSON) == 0 || !json.Valid(env.ResultJSON) {
		return ResultResponse{}, fmt.Errorf("%w: resultJson must be valid JSON", ErrMalformedResult)
	}
	job, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		return ResultResponse{}, err
	}
	if job.Status.IsTerminal() {
		return ResultResponse{}, fmt.Errorf("%w: job %s is %s", ErrAlreadyFinalized, job.ID, job.Status)
	}

	if job.Status.AwaitingResult() {
		job, err = s.store.MarkNeedConfirm(ctx, job.ID, store.NeedConfirmParams{
			Result:       env.ResultJSON,
			Provider:     env.Provider,
			Model:        env.Model,
			Warnings:     env.Warnings,
			ConfirmToken: uuid.NewString(),
		})
		switch {
		case errors.Is(err, store.ErrInvalidTransition):
			// Lost a race with a concurrent delivery; that one owns the prompt.
			current, ferr := s.store.FindByID(ctx, jobID)
			if ferr != nil {
				return ResultResponse{}, ferr
			}
			if current.Status.IsTerminal() {
				return ResultResponse{}, fmt.Errorf("%w: job %s is %s", ErrAlreadyFinalized, current.ID, current.Status)
			}
			return resultResponse(current), nil
		case err != nil:
			return ResultResponse{}, err
		}
		telemetry.ResultsAccepted.Inc()
		s.log.Info("result recorded", zap.String("job_id", job.ID), zap.String("provider", env.Provider), zap.String("model", env.Model))
	} else if job.SentMessageID != nil {
		s.log.Debug("duplicate result ignored", zap.String("job_id", job.ID))
		return resultResponse(job), nil
	}

	return s.sendPrompt(ctx, job)
}

func (s *Service) sendPrompt(ctx context.Context, job models.Job) (ResultResponse, error) {
	text := s.format.ResultMessage(models.DecodeResult(job.Result), job.Warnings)
	buttons := []chat.Button{
		{Text: labelConfirm, Data: chat.EncodeCallback(chat.ActionConfirm, job.ID)},
		{Text: labelReject, Data: chat.EncodeCallback(chat.ActionReject, job.ID)},
	}
	msgID, err := s.chat.SendMessage(ctx, job.ChatID, text, buttons)
	if err != nil {
		return ResultResponse{}, fmt.Errorf("send prompt for job %s: %w", job.ID, err)
	}
	job, err = s.store.UpdateSentMessageID(ctx, job.ID, msgID)
	if err != nil {
		return ResultResponse{}, err
	}
	return resultResponse(job), nil
}

// HandleError records a recognition failure. Under the attempt bound the job
// goes back to PENDING and is re-published; at the bound it fails and the
// user is told.
func (s *Service) HandleError(ctx context.Context, jobID string, report ErrorReport) (ErrorResponse, error) {
	job, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		return ErrorResponse{}, err
	}
	if err := rejectErrorCallback(job); err != nil {
		return ErrorResponse{}, err
	}

	msg := report.Message
	if report.Code != "" {
		msg = fmt.Sprintf("[%s] %s", report.Code, report.Message)
	}

	job, err = s.store.IncrementAttempts(ctx, jobID)
	if err != nil {
		// A redelivery after a failed MarkFailed finds the bound already
		// reached; it still owes the FAILED transition.
		if job, err = s.exhaustedJob(ctx, jobID, err); err != nil {
			return ErrorResponse{}, err
		}
	}
	job, err = s.store.UpdateLastError(ctx, jobID, msg)
	if err != nil {
		return ErrorResponse{}, s.explainTransition(ctx, jobID, err)
	}

	log := s.log.With(zap.String("job_id", job.ID), zap.Int("attempts", job.Attempts), zap.Int("max_attempts", job.MaxAttempts))

	if job.Attempts < job.MaxAttempts {
		job, err = s.store.UpdateStatus(ctx, jobID, models.StatusPending)
		if err != nil {
			return ErrorResponse{}, s.explainTransition(ctx, jobID, err)
		}
		if err := s.publisher.PublishJobStart(ctx, models.StartMessageFor(job)); err != nil {
			telemetry.RepublishErrors.Inc()
			log.Error("republish failed", zap.Error(err))
		}
		telemetry.ErrorCallbacks.WithLabelValues("retried").Inc()
		log.Warn("recognition failed, retrying", zap.String("error", msg))
		return errorResponse(job, true), nil
	}

	job, err = s.store.MarkFailed(ctx, jobID, msg)
	if err != nil {
		return ErrorResponse{}, s.explainTransition(ctx, jobID, err)
	}
	telemetry.ErrorCallbacks.WithLabelValues("failed").Inc()
	log.Error("recognition failed permanently", zap.String("error", msg))
	if _, err := s.chat.SendMessage(ctx, job.ChatID, s.format.FailureNotice(job.MaxAttempts), nil); err != nil {
		log.Warn("failure notice not delivered", zap.Error(err))
	}
	return errorResponse(job, false), nil
}

func rejectErrorCallback(job models.Job) error {
	switch {
	case job.Status.IsTerminal():
		return fmt.Errorf("%w: job %s is %s", ErrAlreadyFinalized, job.ID, job.Status)
	case job.Status == models.StatusNeedConfirm:
		return fmt.Errorf("%w: job %s", ErrResultRecorded, job.ID)
	}
	return nil
}

// exhaustedJob returns the job when the increment missed only because the
// attempt bound is already reached on a non-terminal job.
func (s *Service) exhaustedJob(ctx context.Context, jobID string, err error) (models.Job, error) {
	if !errors.Is(err, store.ErrInvalidTransition) {
		return models.Job{}, err
	}
	current, ferr := s.store.FindByID(ctx, jobID)
	if ferr != nil {
		return models.Job{}, ferr
	}
	if rerr := rejectErrorCallback(current); rerr != nil {
		return models.Job{}, rerr
	}
	if current.Attempts < current.MaxAttempts {
		return models.Job{}, fmt.Errorf("increment attempts for job %s: %w", jobID, err)
	}
	return current, nil
}

// explainTransition maps a lost conditional update to the reason the job
// moved underneath us.
func (s *Service) explainTransition(ctx context.Context, jobID string, err error) error {
	if !errors.Is(err, store.ErrInvalidTransition) {
		return err
	}
	current, ferr := s.store.FindByID(ctx, jobID)
	if ferr != nil {
		return ferr
	}
	if rerr := rejectErrorCallback(current); rerr != nil {
		return rerr
	}
	return err
}

func resultResponse(job models.Job) ResultResponse {
	r := ResultResponse{JobID: job.ID, Status: job.Status}
	if job.SentMessageID != nil {
		r.SentMessageID = *job.SentMessageID
	}
	return r
}

func errorResponse(job models.Job, retried bool) ErrorResponse {
	return ErrorResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Retried:     retried,
	}
}
