package ocr

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyFinalized rejects any mutation of a CONFIRMED, REJECTED or
	// FAILED job.
	ErrAlreadyFinalized = errors.New("OCR job is already finalized")
	ErrAlreadyConfirmed = fmt.Errorf("%w: confirmed", ErrAlreadyFinalized)
	ErrAlreadyRejected  = fmt.Errorf("%w: rejected", ErrAlreadyFinalized)

	// ErrResultRecorded rejects error callbacks and start requests for a job
	// whose recognition already succeeded.
	ErrResultRecorded = errors.New("OCR result already recorded for job")
	// ErrNotReady is returned for a decision on a job not in NEED_CONFIRM.
	ErrNotReady = errors.New("OCR job is not ready for confirmation")
	// ErrMalformedResult means the stored result lacks a field the ledger
	// needs. The job stays in NEED_CONFIRM.
	ErrMalformedResult = errors.New("malformed OCR result")
	ErrInvalidImage    = errors.New("invalid image")
	ErrBlobUnavailable = errors.New("blob store not configured")
)
