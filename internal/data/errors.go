package data

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is returned when a job is not found (or owned by another user).
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal is returned when attempting to mutate a job that already
	// reached a terminal state. This is a programming-error class: callers log
	// and drop the write rather than surfacing it to end users.
	ErrJobTerminal = errors.New("job is already terminal")
	// ErrInvalidTransition is returned for a status change that is not forward-only.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrQuotaNotFound is returned when no quota row exists for an owner.
	ErrQuotaNotFound = errors.New("quota record not found")
)

// isUniqueViolation reports whether err is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// isForeignKeyViolation reports whether err is a PostgreSQL FK constraint violation.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}
