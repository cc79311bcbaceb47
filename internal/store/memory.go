package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"ocr-job-pipeline/internal/models"
)

// MemoryStore is an in-process implementation with the same semantics as
// Store. It backs tests and STORE_DRIVER=memory.
type MemoryStore struct {
	// txMu serialises InTx callers, mu guards the maps.
	txMu sync.Mutex
	mu   sync.RWMutex

	jobs         map[string]*models.Job
	byKey        map[string]string
	deposits     map[string]models.DepositTransaction
	certificates map[string]models.CertificateTransaction

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:         make(map[string]*models.Job),
		byKey:        make(map[string]string),
		deposits:     make(map[string]models.DepositTransaction),
		certificates: make(map[string]models.CertificateTransaction),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() {}

// InTx runs fn while holding the store-wide transaction lock. Writes are not
// rolled back when fn fails; callers order their writes so the last one
// commits the outcome.
func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inMemoryTx(ctx) {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(context.WithValue(ctx, transactionKey, memoryTx{}))
}

type memoryTx struct{}

func inMemoryTx(ctx context.Context) bool {
	_, ok := ctx.Value(transactionKey).(memoryTx)
	return ok
}

func (m *MemoryStore) FindOrCreate(_ context.Context, p CreateJobParams) (models.Job, bool, error) {
	if p.IdempotencyKey == "" {
		return models.Job{}, false, errors.New("idempotency key is required")
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = models.DefaultMaxAttempts
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byKey[p.IdempotencyKey]; ok {
		return cloneJob(m.jobs[id]), true, nil
	}
	now := m.now()
	job := &models.Job{
		ID:             uuid.New().String(),
		Status:         models.StatusPending,
		IdempotencyKey: p.IdempotencyKey,
		ChatID:         p.ChatID,
		UserID:         p.UserID,
		Storage:        p.Storage,
		MaxAttempts:    p.MaxAttempts,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.jobs[job.ID] = job
	m.byKey[job.IdempotencyKey] = job.ID
	return cloneJob(job), false, nil
}

func (m *MemoryStore) FindByIdempotencyKey(_ context.Context, key string) (models.Job, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[key]
	if !ok {
		return models.Job{}, false, nil
	}
	return cloneJob(m.jobs[id]), true, nil
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneJob(job), nil
}

func (m *MemoryStore) LockJob(ctx context.Context, id string) (models.Job, error) {
	return m.FindByID(ctx, id)
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, status models.Status) (models.Job, error) {
	return m.transition(id, models.AllowedFrom(status), func(j *models.Job) bool {
		j.Status = status
		return true
	})
}

func (m *MemoryStore) IncrementAttempts(_ context.Context, id string) (models.Job, error) {
	return m.transition(id, models.AllowedFrom(models.StatusFailed), func(j *models.Job) bool {
		if j.Attempts >= j.MaxAttempts {
			return false
		}
		j.Attempts++
		return true
	})
}

func (m *MemoryStore) UpdateLastError(_ context.Context, id string, message string) (models.Job, error) {
	return m.transition(id, models.AllowedFrom(models.StatusFailed), func(j *models.Job) bool {
		j.LastError = &message
		return true
	})
}

func (m *MemoryStore) MarkNeedConfirm(_ context.Context, id string, p NeedConfirmParams) (models.Job, error) {
	return m.transition(id, models.AllowedFrom(models.StatusNeedConfirm), func(j *models.Job) bool {
		j.Status = models.StatusNeedConfirm
		j.Result = append([]byte(nil), p.Result...)
		j.Provider = emptyToNil(p.Provider)
		j.Model = emptyToNil(p.Model)
		j.Warnings = slices.Clone(p.Warnings)
		token := p.ConfirmToken
		j.ConfirmToken = &token
		return true
	})
}

func (m *MemoryStore) MarkFailed(_ context.Context, id string, lastError string) (models.Job, error) {
	return m.transition(id, models.AllowedFrom(models.StatusFailed), func(j *models.Job) bool {
		j.Status = models.StatusFailed
		j.LastError = &lastError
		return true
	})
}

func (m *MemoryStore) MarkConfirmed(_ context.Context, id string, ledgerRef string, at time.Time) (models.Job, error) {
	return m.transition(id, models.AllowedFrom(models.StatusConfirmed), func(j *models.Job) bool {
		if j.ConfirmedAt != nil || j.RejectedAt != nil {
			return false
		}
		at := at.UTC()
		j.Status = models.StatusConfirmed
		j.LedgerRef = &ledgerRef
		j.ConfirmedAt = &at
		return true
	})
}

func (m *MemoryStore) MarkRejected(_ context.Context, id string, at time.Time) (models.Job, error) {
	return m.transition(id, models.AllowedFrom(models.StatusRejected), func(j *models.Job) bool {
		if j.ConfirmedAt != nil || j.RejectedAt != nil {
			return false
		}
		at := at.UTC()
		j.Status = models.StatusRejected
		j.RejectedAt = &at
		return true
	})
}

func (m *MemoryStore) UpdateSentMessageID(_ context.Context, id string, messageID string) (models.Job, error) {
	return m.transition(id, nil, func(j *models.Job) bool {
		j.SentMessageID = &messageID
		return true
	})
}

// transition applies mutate under the write lock when the job's status is in
// from (any status when from is nil). mutate returning false is a miss.
func (m *MemoryStore) transition(id string, from []models.Status, mutate func(*models.Job) bool) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if from != nil && !slices.Contains(from, job.Status) {
		return models.Job{}, fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
	}
	next := cloneJob(job)
	if !mutate(&next) {
		return models.Job{}, fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
	}
	next.UpdatedAt = m.now()
	m.jobs[id] = &next
	return cloneJob(&next), nil
}

func (m *MemoryStore) UpsertDeposit(_ context.Context, d models.DepositTransaction) (models.DepositTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if existing, ok := m.deposits[d.TransactionID]; ok {
		existing.TransactionDate = d.TransactionDate
		existing.Capital = d.Capital
		existing.UpdatedAt = now
		m.deposits[d.TransactionID] = existing
		return existing, nil
	}
	d.ID = uuid.New().String()
	d.CreatedAt, d.UpdatedAt = now, now
	m.deposits[d.TransactionID] = d
	return d, nil
}

func (m *MemoryStore) UpsertCertificate(_ context.Context, c models.CertificateTransaction) (models.CertificateTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if existing, ok := m.certificates[c.TransactionID]; ok {
		existing.TransactionDate = c.TransactionDate
		existing.NumberOfCertificates = c.NumberOfCertificates
		existing.Price = c.Price
		existing.UpdatedAt = now
		m.certificates[c.TransactionID] = existing
		return existing, nil
	}
	c.ID = uuid.New().String()
	c.CreatedAt, c.UpdatedAt = now, now
	m.certificates[c.TransactionID] = c
	return c, nil
}

func (m *MemoryStore) FindDeposit(_ context.Context, transactionID string) (models.DepositTransaction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deposits[transactionID]
	return d, ok, nil
}

func (m *MemoryStore) FindCertificate(_ context.Context, transactionID string) (models.CertificateTransaction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.certificates[transactionID]
	return c, ok, nil
}

// LedgerSize reports how many deposit and certificate rows exist.
func (m *MemoryStore) LedgerSize() (deposits, certificates int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.deposits), len(m.certificates)
}

func cloneJob(j *models.Job) models.Job {
	out := *j
	out.Result = append([]byte(nil), j.Result...)
	if len(j.Result) == 0 {
		out.Result = nil
	}
	out.Warnings = slices.Clone(j.Warnings)
	return out
}
