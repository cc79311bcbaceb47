package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"ocr-job-pipeline/internal/models"
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateJobParams collects inputs required to insert a job.
type CreateJobParams struct {
	IdempotencyKey string
	ChatID         string
	UserID         string
	Storage        models.StorageRef
	MaxAttempts    int
}

// NeedConfirmParams carries the recognition outcome recorded by MarkNeedConfirm.
type NeedConfirmParams struct {
	Result       json.RawMessage
	Provider     string
	Model        string
	Warnings     []string
	ConfirmToken string
}

const jobColumns = `id, status, idempotency_key, chat_id, user_id, storage_bucket, storage_path, content_type,
	attempts, max_attempts, result, provider, model, warnings, confirm_token, sent_message_id, ledger_ref,
	last_error, confirmed_at, rejected_at, created_at, updated_at`

// FindOrCreate returns the job owning the idempotency key, inserting a fresh
// PENDING job when none exists. The boolean reports whether an existing job
// was reused. A concurrent insert of the same key loses on the unique index
// and returns the winner's row.
func (s *Store) FindOrCreate(ctx context.Context, p CreateJobParams) (models.Job, bool, error) {
	if p.IdempotencyKey == "" {
		return models.Job{}, false, errors.New("idempotency key is required")
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = models.DefaultMaxAttempts
	}

	// If an idempotency key already exists, short-circuit before creating anything.
	if existing, found, err := s.FindByIdempotencyKey(ctx, p.IdempotencyKey); err != nil {
		return models.Job{}, false, err
	} else if found {
		return existing, true, nil
	}

	job, err := scanJob(s.q(ctx).QueryRow(ctx, `
		INSERT INTO ocr_jobs (id, status, idempotency_key, chat_id, user_id, storage_bucket, storage_path, content_type,
			attempts, max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, NOW(), NOW())
		RETURNING `+jobColumns,
		uuid.New().String(), string(models.StatusPending), p.IdempotencyKey, p.ChatID, p.UserID,
		p.Storage.Bucket, p.Storage.Path, p.Storage.ContentType, p.MaxAttempts))
	if err == nil {
		return job, false, nil
	}
	if !isUniqueViolation(err) {
		return models.Job{}, false, fmt.Errorf("insert job: %w", err)
	}

	// Someone else claimed the key after our initial check; return existing job.
	existing, found, err := s.FindByIdempotencyKey(ctx, p.IdempotencyKey)
	if err != nil {
		return models.Job{}, false, err
	}
	if !found {
		return models.Job{}, false, errors.New("idempotency conflict but no existing job found")
	}
	return existing, true, nil
}

// FindByIdempotencyKey returns the job mapped to the key if present.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (models.Job, bool, error) {
	job, err := scanJob(s.q(ctx).QueryRow(ctx, `SELECT `+jobColumns+` FROM ocr_jobs WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("query idempotency key: %w", err)
	}
	return job, true, nil
}

// FindByID fetches a job by id.
func (s *Store) FindByID(ctx context.Context, id string) (models.Job, error) {
	if uuid.Validate(id) != nil {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	job, err := scanJob(s.q(ctx).QueryRow(ctx, `SELECT `+jobColumns+` FROM ocr_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// LockJob reads the job with a row lock held until the surrounding
// transaction ends. Outside InTx it behaves like FindByID.
func (s *Store) LockJob(ctx context.Context, id string) (models.Job, error) {
	if uuid.Validate(id) != nil {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	job, err := scanJob(s.q(ctx).QueryRow(ctx, `SELECT `+jobColumns+` FROM ocr_jobs WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("lock job: %w", err)
	}
	return job, nil
}

// UpdateStatus moves the job to status if its current status allows it.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.Status) (models.Job, error) {
	return s.transition(ctx, id, `
		UPDATE ocr_jobs SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+jobColumns, id, string(status), statusList(models.AllowedFrom(status)))
}

// IncrementAttempts bumps attempts by one. The update never lets attempts
// pass max_attempts and never touches a job outside PENDING/PROCESSING.
func (s *Store) IncrementAttempts(ctx context.Context, id string) (models.Job, error) {
	return s.transition(ctx, id, `
		UPDATE ocr_jobs SET attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2) AND attempts < max_attempts
		RETURNING `+jobColumns, id, statusList(models.AllowedFrom(models.StatusFailed)))
}

// UpdateLastError overwrites last_error on a job still awaiting recognition.
func (s *Store) UpdateLastError(ctx context.Context, id string, message string) (models.Job, error) {
	return s.transition(ctx, id, `
		UPDATE ocr_jobs SET last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+jobColumns, id, message, statusList(models.AllowedFrom(models.StatusFailed)))
}

// MarkNeedConfirm records the recognition result and the confirmation token.
func (s *Store) MarkNeedConfirm(ctx context.Context, id string, p NeedConfirmParams) (models.Job, error) {
	warnings, err := marshalWarnings(p.Warnings)
	if err != nil {
		return models.Job{}, err
	}
	return s.transition(ctx, id, `
		UPDATE ocr_jobs
		SET status = $2, result = $3, provider = $4, model = $5, warnings = $6, confirm_token = $7, updated_at = NOW()
		WHERE id = $1 AND status = ANY($8)
		RETURNING `+jobColumns,
		id, string(models.StatusNeedConfirm), []byte(p.Result), emptyToNil(p.Provider), emptyToNil(p.Model),
		warnings, p.ConfirmToken, statusList(models.AllowedFrom(models.StatusNeedConfirm)))
}

// MarkFailed finalizes a job that ran out of attempts.
func (s *Store) MarkFailed(ctx context.Context, id string, lastError string) (models.Job, error) {
	return s.transition(ctx, id, `
		UPDATE ocr_jobs SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+jobColumns, id, string(models.StatusFailed), lastError, statusList(models.AllowedFrom(models.StatusFailed)))
}

// MarkConfirmed finalizes a job the user accepted.
func (s *Store) MarkConfirmed(ctx context.Context, id string, ledgerRef string, at time.Time) (models.Job, error) {
	return s.transition(ctx, id, `
		UPDATE ocr_jobs SET status = $2, ledger_ref = $3, confirmed_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5 AND confirmed_at IS NULL AND rejected_at IS NULL
		RETURNING `+jobColumns, id, string(models.StatusConfirmed), ledgerRef, at.UTC(), string(models.StatusNeedConfirm))
}

// MarkRejected finalizes a job the user discarded.
func (s *Store) MarkRejected(ctx context.Context, id string, at time.Time) (models.Job, error) {
	return s.transition(ctx, id, `
		UPDATE ocr_jobs SET status = $2, rejected_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4 AND confirmed_at IS NULL AND rejected_at IS NULL
		RETURNING `+jobColumns, id, string(models.StatusRejected), at.UTC(), string(models.StatusNeedConfirm))
}

// UpdateSentMessageID stores the chat message id of the confirmation prompt.
func (s *Store) UpdateSentMessageID(ctx context.Context, id string, messageID string) (models.Job, error) {
	return s.transition(ctx, id, `
		UPDATE ocr_jobs SET sent_message_id = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+jobColumns, id, messageID)
}

// transition runs a conditional single-row update. A miss is resolved into
// ErrNotFound or ErrInvalidTransition by re-reading the row.
func (s *Store) transition(ctx context.Context, id string, sql string, args ...any) (models.Job, error) {
	job, err := scanJob(s.q(ctx).QueryRow(ctx, sql, args...))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("update job %s: %w", id, err)
	}
	current, err := s.FindByID(ctx, id)
	if err != nil {
		return models.Job{}, err
	}
	return models.Job{}, fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, current.Status)
}

func scanJob(row pgx.Row) (models.Job, error) {
	var (
		job                                               models.Job
		status                                            string
		contentType, provider, model, token, sent, ledger pgtype.Text
		lastErr                                           pgtype.Text
		result, warnings                                  []byte
		confirmedAt, rejectedAt                           pgtype.Timestamptz
	)
	if err := row.Scan(&job.ID, &status, &job.IdempotencyKey, &job.ChatID, &job.UserID,
		&job.Storage.Bucket, &job.Storage.Path, &contentType,
		&job.Attempts, &job.MaxAttempts, &result, &provider, &model, &warnings, &token, &sent, &ledger,
		&lastErr, &confirmedAt, &rejectedAt, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.Job{}, err
	}
	job.Status = models.Status(status)
	job.Storage.ContentType = textPtr(contentType)
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	if len(warnings) > 0 {
		if err := json.Unmarshal(warnings, &job.Warnings); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal warnings: %w", err)
		}
	}
	job.Provider = textPtr(provider)
	job.Model = textPtr(model)
	job.ConfirmToken = textPtr(token)
	job.SentMessageID = textPtr(sent)
	job.LedgerRef = textPtr(ledger)
	job.LastError = textPtr(lastErr)
	job.ConfirmedAt = timePtr(confirmedAt)
	job.RejectedAt = timePtr(rejectedAt)
	return job, nil
}

func marshalWarnings(w []string) ([]byte, error) {
	if len(w) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal warnings: %w", err)
	}
	return b, nil
}

func statusList(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
