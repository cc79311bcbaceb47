package models

import (
	"encoding/json"
	"time"
)

// Status enumerates OCR job lifecycle states persisted in Postgres.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusProcessing  Status = "PROCESSING"
	StatusNeedConfirm Status = "NEED_CONFIRM"
	StatusConfirmed   Status = "CONFIRMED"
	StatusRejected    Status = "REJECTED"
	StatusFailed      Status = "FAILED"
)

// DefaultMaxAttempts is used when a job is created without an explicit bound.
const DefaultMaxAttempts = 2

// IsTerminal reports whether no further mutation is allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusConfirmed, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// IsDecided reports whether the user already confirmed or rejected the job.
func (s Status) IsDecided() bool {
	return s == StatusConfirmed || s == StatusRejected
}

// AwaitingResult reports whether recognition may still report back for this job.
func (s Status) AwaitingResult() bool {
	return s == StatusPending || s == StatusProcessing
}

// StorageRef locates the uploaded image in the blob store.
type StorageRef struct {
	Bucket      string  `json:"bucket"`
	Path        string  `json:"path"`
	ContentType *string `json:"content_type,omitempty"`
}

// Job tracks one image from upload through recognition to user confirmation.
type Job struct {
	ID             string          `json:"id"`
	Status         Status          `json:"status"`
	IdempotencyKey string          `json:"idempotency_key"`
	ChatID         string          `json:"chat_id"`
	UserID         string          `json:"user_id"`
	Storage        StorageRef      `json:"storage"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	Result         json.RawMessage `json:"result,omitempty"`
	Provider       *string         `json:"provider,omitempty"`
	Model          *string         `json:"model,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
	ConfirmToken   *string         `json:"-"`
	SentMessageID  *string         `json:"sent_message_id,omitempty"`
	LedgerRef      *string         `json:"ledger_ref,omitempty"`
	LastError      *string         `json:"last_error,omitempty"`
	ConfirmedAt    *time.Time      `json:"confirmed_at,omitempty"`
	RejectedAt     *time.Time      `json:"rejected_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// StartMessage is the payload published to the recognition worker queue.
type StartMessage struct {
	JobID          string `json:"jobId"`
	IdempotencyKey string `json:"idempotencyKey"`
	ChatID         string `json:"chatId"`
	UserID         string `json:"userId"`
}

// StartMessageFor builds the start message from the job's routing fields.
func StartMessageFor(job Job) StartMessage {
	return StartMessage{
		JobID:          job.ID,
		IdempotencyKey: job.IdempotencyKey,
		ChatID:         job.ChatID,
		UserID:         job.UserID,
	}
}

// ResultEnvelope is what the worker posts back to the result callback.
type ResultEnvelope struct {
	ResultJSON json.RawMessage `json:"resultJson"`
	Provider   string          `json:"provider"`
	Model      string          `json:"model"`
	Warnings   []string        `json:"warnings,omitempty"`
}

// AllowedFrom lists the statuses a job may be in immediately before moving to
// the given status. Terminal statuses never appear in the result.
func AllowedFrom(to Status) []Status {
	switch to {
	case StatusPending, StatusProcessing, StatusNeedConfirm, StatusFailed:
		return []Status{StatusPending, StatusProcessing}
	case StatusConfirmed, StatusRejected:
		return []Status{StatusNeedConfirm}
	}
	return nil
}
