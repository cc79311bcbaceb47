package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ocr-job-pipeline/internal/models"
)

// jobStore is the surface shared by Store and MemoryStore.
type jobStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	FindOrCreate(ctx context.Context, p CreateJobParams) (models.Job, bool, error)
	FindByID(ctx context.Context, id string) (models.Job, error)
	FindByIdempotencyKey(ctx context.Context, key string) (models.Job, bool, error)
	LockJob(ctx context.Context, id string) (models.Job, error)
	UpdateStatus(ctx context.Context, id string, status models.Status) (models.Job, error)
	IncrementAttempts(ctx context.Context, id string) (models.Job, error)
	UpdateLastError(ctx context.Context, id string, message string) (models.Job, error)
	MarkNeedConfirm(ctx context.Context, id string, p NeedConfirmParams) (models.Job, error)
	MarkFailed(ctx context.Context, id string, lastError string) (models.Job, error)
	MarkConfirmed(ctx context.Context, id string, ledgerRef string, at time.Time) (models.Job, error)
	MarkRejected(ctx context.Context, id string, at time.Time) (models.Job, error)
	UpdateSentMessageID(ctx context.Context, id string, messageID string) (models.Job, error)
	UpsertDeposit(ctx context.Context, d models.DepositTransaction) (models.DepositTransaction, error)
	UpsertCertificate(ctx context.Context, c models.CertificateTransaction) (models.CertificateTransaction, error)
	FindCertificate(ctx context.Context, transactionID string) (models.CertificateTransaction, bool, error)
}

var (
	_ jobStore = (*Store)(nil)
	_ jobStore = (*MemoryStore)(nil)
)

func stores(t *testing.T) map[string]jobStore {
	t.Helper()
	out := map[string]jobStore{"memory": NewMemoryStore()}
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		return out
	}
	ctx := context.Background()
	pg, err := New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, pg.RunMigrations(ctx, zap.NewNop()))
	t.Cleanup(pg.Close)
	out["postgres"] = pg
	return out
}

func params(key string) CreateJobParams {
	return CreateJobParams{
		IdempotencyKey: key,
		ChatID:         "chat-1",
		UserID:         "user-1",
		Storage:        models.StorageRef{Bucket: "ocr-images", Path: "images/" + key + ".jpg"},
	}
}

func newKey() string { return "file-" + uuid.NewString() }

func TestFindOrCreateIdempotent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := newKey()

			first, reused, err := s.FindOrCreate(ctx, params(key))
			require.NoError(t, err)
			assert.False(t, reused)
			assert.Equal(t, models.StatusPending, first.Status)
			assert.Equal(t, 0, first.Attempts)
			assert.Equal(t, models.DefaultMaxAttempts, first.MaxAttempts)

			p := params(key)
			p.ChatID = "chat-2"
			second, reused, err := s.FindOrCreate(ctx, p)
			require.NoError(t, err)
			assert.True(t, reused)
			assert.Equal(t, first.ID, second.ID)
			assert.Equal(t, "chat-1", second.ChatID)
		})
	}
}

func TestFindOrCreateConcurrent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := newKey()

			const n = 16
			ids := make([]string, n)
			errs := make([]error, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					job, _, err := s.FindOrCreate(ctx, params(key))
					ids[i], errs[i] = job.ID, err
				}(i)
			}
			wg.Wait()
			for i := 0; i < n; i++ {
				require.NoError(t, errs[i])
				assert.Equal(t, ids[0], ids[i])
			}
		})
	}
}

func TestFindMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.FindByID(ctx, uuid.NewString())
			assert.ErrorIs(t, err, ErrNotFound)

			_, found, err := s.FindByIdempotencyKey(ctx, newKey())
			require.NoError(t, err)
			assert.False(t, found)

			_, err = s.MarkRejected(ctx, uuid.NewString(), time.Now())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestIncrementAttemptsBounded(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job, _, err := s.FindOrCreate(ctx, params(newKey()))
			require.NoError(t, err)

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = s.IncrementAttempts(ctx, job.ID)
				}()
			}
			wg.Wait()

			got, err := s.FindByID(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, got.MaxAttempts, got.Attempts)

			_, err = s.IncrementAttempts(ctx, job.ID)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestTerminalJobsRejectMutation(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job, _, err := s.FindOrCreate(ctx, params(newKey()))
			require.NoError(t, err)

			job, err = s.MarkFailed(ctx, job.ID, "[TIMEOUT] worker gave up")
			require.NoError(t, err)
			assert.Equal(t, models.StatusFailed, job.Status)

			_, err = s.UpdateStatus(ctx, job.ID, models.StatusPending)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			_, err = s.IncrementAttempts(ctx, job.ID)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			_, err = s.UpdateLastError(ctx, job.ID, "late")
			assert.ErrorIs(t, err, ErrInvalidTransition)
			_, err = s.MarkNeedConfirm(ctx, job.ID, NeedConfirmParams{Result: json.RawMessage(`{"type":"undefined"}`), ConfirmToken: "t"})
			assert.ErrorIs(t, err, ErrInvalidTransition)
			_, err = s.MarkConfirmed(ctx, job.ID, "ocr_x", time.Now())
			assert.ErrorIs(t, err, ErrInvalidTransition)

			got, err := s.FindByID(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusFailed, got.Status)
			assert.Equal(t, 0, got.Attempts)
			assert.Nil(t, got.Result)
		})
	}
}

func TestNeedConfirmThenDecide(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job, _, err := s.FindOrCreate(ctx, params(newKey()))
			require.NoError(t, err)

			_, err = s.MarkConfirmed(ctx, job.ID, "ocr_"+job.ID, time.Now())
			assert.ErrorIs(t, err, ErrInvalidTransition)

			job, err = s.MarkNeedConfirm(ctx, job.ID, NeedConfirmParams{
				Result:       json.RawMessage(`{"type":"deposit","amount":"10"}`),
				Provider:     "gemini",
				Model:        "flash",
				Warnings:     []string{"blurry"},
				ConfirmToken: "token-1",
			})
			require.NoError(t, err)
			assert.Equal(t, models.StatusNeedConfirm, job.Status)
			require.NotNil(t, job.ConfirmToken)
			assert.Equal(t, "token-1", *job.ConfirmToken)
			assert.Equal(t, []string{"blurry"}, job.Warnings)
			assert.JSONEq(t, `{"type":"deposit","amount":"10"}`, string(job.Result))

			job, err = s.UpdateSentMessageID(ctx, job.ID, "42")
			require.NoError(t, err)
			require.NotNil(t, job.SentMessageID)
			assert.Equal(t, "42", *job.SentMessageID)

			// NEED_CONFIRM is never re-entered from PENDING.
			_, err = s.UpdateStatus(ctx, job.ID, models.StatusPending)
			assert.ErrorIs(t, err, ErrInvalidTransition)

			job, err = s.MarkRejected(ctx, job.ID, time.Now())
			require.NoError(t, err)
			assert.Equal(t, models.StatusRejected, job.Status)
			assert.NotNil(t, job.RejectedAt)

			_, err = s.MarkConfirmed(ctx, job.ID, "ocr_"+job.ID, time.Now())
			assert.ErrorIs(t, err, ErrInvalidTransition)
			got, err := s.FindByID(ctx, job.ID)
			require.NoError(t, err)
			assert.Nil(t, got.ConfirmedAt)
			assert.NotNil(t, got.RejectedAt)
		})
	}
}

func TestUpsertCertificateByTransactionID(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			txID := models.LedgerTransactionID(uuid.NewString())
			day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

			first, err := s.UpsertCertificate(ctx, models.CertificateTransaction{TransactionDate: day, NumberOfCertificates: 100, Price: 24.5, TransactionID: txID})
			require.NoError(t, err)
			second, err := s.UpsertCertificate(ctx, models.CertificateTransaction{TransactionDate: day, NumberOfCertificates: 120, Price: 25, TransactionID: txID})
			require.NoError(t, err)
			assert.Equal(t, first.ID, second.ID)

			got, found, err := s.FindCertificate(ctx, txID)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, 120.0, got.NumberOfCertificates)
			assert.Equal(t, 25.0, got.Price)
		})
	}
}

func TestInTxPropagatesError(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			boom := errors.New("boom")
			err := s.InTx(context.Background(), func(ctx context.Context) error {
				return s.InTx(ctx, func(context.Context) error { return boom })
			})
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestMemoryLedgerSize(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_, err := m.UpsertDeposit(ctx, models.DepositTransaction{Capital: 1, TransactionID: "ocr_a"})
	require.NoError(t, err)
	_, err = m.UpsertDeposit(ctx, models.DepositTransaction{Capital: 2, TransactionID: "ocr_a"})
	require.NoError(t, err)
	deposits, certificates := m.LedgerSize()
	assert.Equal(t, 1, deposits)
	assert.Equal(t, 0, certificates)

	d, found, err := m.FindDeposit(ctx, "ocr_a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2.0, d.Capital)
}
