package models

import "time"

// LedgerTransactionID derives the external transaction id for a job, which
// guarantees at most one ledger row per job.
func LedgerTransactionID(jobID string) string {
	return "ocr_" + jobID
}

// DepositTransaction is a capital deposit ledger row.
type DepositTransaction struct {
	ID              string    `json:"id"`
	TransactionDate time.Time `json:"transaction_date"`
	Capital         float64   `json:"capital"`
	TransactionID   string    `json:"transaction_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CertificateTransaction is a fund certificate purchase ledger row.
type CertificateTransaction struct {
	ID                   string    `json:"id"`
	TransactionDate      time.Time `json:"transaction_date"`
	NumberOfCertificates float64   `json:"number_of_certificates"`
	Price                float64   `json:"price"`
	TransactionID        string    `json:"transaction_id"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}
