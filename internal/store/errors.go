package store

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrNoneAvailable is the normal outcome of a lease attempt that found no
// eligible, unlocked account. Callers branch on it; the store never retries.
var ErrNoneAvailable = errors.New("no account available")

// IntegrityError wraps a constraint violation reported by the database,
// keeping the original constraint context.
type IntegrityError struct {
	Constraint string
	Err        error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation on %s: %v", e.Constraint, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// wrapErr maps driver errors onto the store taxonomy. Class 23 covers
// integrity constraint violations (23505 unique, 23503 foreign key).
func wrapErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return &IntegrityError{Constraint: pqErr.Constraint, Err: err}
	}
	return err
}
