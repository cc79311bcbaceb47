package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when no job matches the id or idempotency key.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a conditional update matched the
	// job but its current status does not permit the transition.
	ErrInvalidTransition = errors.New("invalid job state transition")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
