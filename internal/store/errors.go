package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Store outcomes that callers branch on. Anything else is an internal
// failure and rolls back the surrounding transaction.
var (
	// ErrNotFound means the target (kind,id) does not exist, or is a
	// tombstone where only live records are eligible.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate means an insert collided with an existing (kind,id).
	ErrDuplicate = errors.New("duplicate record id")

	// ErrVersionMismatch means a conditional write found a different
	// version than expected.
	ErrVersionMismatch = errors.New("version mismatch")

	// ErrDuplicateOperation means the ledger already holds this
	// operationId.
	ErrDuplicateOperation = errors.New("operation already recorded")

	// ErrConflictNotFound means no conflict exists with the given id.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrIllegalTransition means a resolve/dismiss targeted a conflict
	// that is no longer PENDING.
	ErrIllegalTransition = errors.New("conflict is not pending")
)

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
