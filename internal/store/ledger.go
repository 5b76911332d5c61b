package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// LedgerStore is the idempotency ledger: an append-only log of completed
// operationIds. Presence of an id means the operation is terminally
// applied; conflicts are a pending state and are never recorded here.
type LedgerStore struct{}

// Seen reports whether operationID has already been applied.
func (LedgerStore) Seen(ctx context.Context, q Querier, operationID string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_operations WHERE operation_id = $1)`,
		operationID).Scan(&exists)
	return exists, err
}

// Record appends an entry. Must run in the same transaction as the side
// effect it records, otherwise idempotency does not survive a crash
// between the two writes. A duplicate id is an error and fails the
// transaction.
func (LedgerStore) Record(ctx context.Context, q Querier, operationID string, action Action, kind Kind) error {
	_, err := q.Exec(ctx, `
		INSERT INTO processed_operations (operation_id, action, kind, processed_at)
		VALUES ($1, $2, $3, $4)`,
		operationID, action, kind, time.Now().UTC())
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateOperation
	}
	return err
}

// Get returns the ledger entry for operationID, or (nil, nil) if absent.
func (LedgerStore) Get(ctx context.Context, q Querier, operationID string) (*LedgerEntry, error) {
	var e LedgerEntry
	err := q.QueryRow(ctx, `
		SELECT operation_id, action, kind, processed_at
		FROM processed_operations WHERE operation_id = $1`,
		operationID).Scan(&e.OperationID, &e.Action, &e.Kind, &e.ProcessedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}
