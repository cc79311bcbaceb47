package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"ocr-job-pipeline/internal/models"
)

// UpsertDeposit inserts a deposit row or updates the one sharing its
// transaction id.
func (s *Store) UpsertDeposit(ctx context.Context, d models.DepositTransaction) (models.DepositTransaction, error) {
	var out models.DepositTransaction
	err := s.q(ctx).QueryRow(ctx, `
		INSERT INTO deposit_transactions (id, transaction_date, capital, transaction_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (transaction_id) DO UPDATE
		SET transaction_date = EXCLUDED.transaction_date, capital = EXCLUDED.capital, updated_at = NOW()
		RETURNING id, transaction_date, capital, transaction_id, created_at, updated_at
	`, uuid.New().String(), d.TransactionDate, d.Capital, d.TransactionID).
		Scan(&out.ID, &out.TransactionDate, &out.Capital, &out.TransactionID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return models.DepositTransaction{}, fmt.Errorf("upsert deposit %s: %w", d.TransactionID, err)
	}
	return out, nil
}

// UpsertCertificate inserts a certificate row or updates the one sharing its
// transaction id.
func (s *Store) UpsertCertificate(ctx context.Context, c models.CertificateTransaction) (models.CertificateTransaction, error) {
	var out models.CertificateTransaction
	err := s.q(ctx).QueryRow(ctx, `
		INSERT INTO certificate_transactions (id, transaction_date, number_of_certificates, price, transaction_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (transaction_id) DO UPDATE
		SET transaction_date = EXCLUDED.transaction_date, number_of_certificates = EXCLUDED.number_of_certificates,
			price = EXCLUDED.price, updated_at = NOW()
		RETURNING id, transaction_date, number_of_certificates, price, transaction_id, created_at, updated_at
	`, uuid.New().String(), c.TransactionDate, c.NumberOfCertificates, c.Price, c.TransactionID).
		Scan(&out.ID, &out.TransactionDate, &out.NumberOfCertificates, &out.Price, &out.TransactionID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return models.CertificateTransaction{}, fmt.Errorf("upsert certificate %s: %w", c.TransactionID, err)
	}
	return out, nil
}

// FindDeposit returns the deposit row for a transaction id.
func (s *Store) FindDeposit(ctx context.Context, transactionID string) (models.DepositTransaction, bool, error) {
	var out models.DepositTransaction
	err := s.q(ctx).QueryRow(ctx, `
		SELECT id, transaction_date, capital, transaction_id, created_at, updated_at
		FROM deposit_transactions WHERE transaction_id = $1
	`, transactionID).Scan(&out.ID, &out.TransactionDate, &out.Capital, &out.TransactionID, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DepositTransaction{}, false, nil
	}
	if err != nil {
		return models.DepositTransaction{}, false, fmt.Errorf("query deposit: %w", err)
	}
	return out, true, nil
}

// FindCertificate returns the certificate row for a transaction id.
func (s *Store) FindCertificate(ctx context.Context, transactionID string) (models.CertificateTransaction, bool, error) {
	var out models.CertificateTransaction
	err := s.q(ctx).QueryRow(ctx, `
		SELECT id, transaction_date, number_of_certificates, price, transaction_id, created_at, updated_at
		FROM certificate_transactions WHERE transaction_id = $1
	`, transactionID).Scan(&out.ID, &out.TransactionDate, &out.NumberOfCertificates, &out.Price, &out.TransactionID, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CertificateTransaction{}, false, nil
	}
	if err != nil {
		return models.CertificateTransaction{}, false, fmt.Errorf("query certificate: %w", err)
	}
	return out, true, nil
}
