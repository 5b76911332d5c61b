package store

import (
	"context"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
// Store methods take a Querier so the same code runs inside and outside
// a coordinated transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Coordinator serializes units of work that read-then-write the record,
// ledger, and conflict state for one (kind,id). Each unit runs in its own
// database transaction holding a transaction-scoped advisory lock on the
// record key, so two units touching the same record are strictly ordered
// even when the record row does not exist yet (CREATE must serialize
// against an absent row, which row locks cannot cover).
type Coordinator struct {
	pool *pgxpool.Pool
}

// NewCoordinator creates a coordinator over the given pool.
func NewCoordinator(pool *pgxpool.Pool) *Coordinator {
	return &Coordinator{pool: pool}
}

// Serialized runs fn inside a transaction locked on (kind, recordID).
// A nil error from fn commits; any error rolls back, leaving no partial
// writes across the three stores.
func (c *Coordinator) Serialized(ctx context.Context, kind Kind, recordID string, fn func(tx pgx.Tx) error) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, recordLockKey(kind, recordID)); err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// recordLockKey hashes a record key into the advisory lock keyspace.
// Collisions only over-serialize, they never under-serialize.
func recordLockKey(kind Kind, recordID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(kind))
	h.Write([]byte{'/'})
	h.Write([]byte(recordID))
	return int64(h.Sum64())
}
