package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ConflictStore persists conflict evidence: the server snapshot, the
// client payload, both versions, and the lifecycle state.
type ConflictStore struct{}

const conflictCols = `id, kind, record_id, server_data, client_data, server_version, client_version, status, created_at, resolved_at, resolved_data`

func scanConflict(row pgx.Row) (*Conflict, error) {
	var c Conflict
	var serverData, clientData, resolvedData []byte
	err := row.Scan(&c.ID, &c.Kind, &c.RecordID, &serverData, &clientData,
		&c.ServerVersion, &c.ClientVersion, &c.Status, &c.CreatedAt, &c.ResolvedAt, &resolvedData)
	if err != nil {
		return nil, err
	}
	c.ServerData = json.RawMessage(serverData)
	c.ClientData = json.RawMessage(clientData)
	c.ResolvedData = json.RawMessage(resolvedData)
	return &c, nil
}

// Create inserts a PENDING conflict keyed by operationId. If a conflict
// with the same id already exists (a retried operation that conflicts
// again), the existing row is returned untouched so there is never more
// than one conflict per operation.
func (s ConflictStore) Create(ctx context.Context, q Querier, c *Conflict) (*Conflict, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO conflicts (id, kind, record_id, server_data, client_data, server_version, client_version, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
		RETURNING `+conflictCols,
		c.ID, c.Kind, c.RecordID, []byte(c.ServerData), []byte(c.ClientData),
		c.ServerVersion, c.ClientVersion, ConflictPending, time.Now().UTC())

	created, err := scanConflict(row)
	if err == pgx.ErrNoRows {
		existing, err := s.Get(ctx, q, c.ID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, ErrConflictNotFound
		}
		return existing, nil
	}
	return created, err
}

// Get returns the conflict with the given id, or (nil, nil) if absent.
func (ConflictStore) Get(ctx context.Context, q Querier, id string) (*Conflict, error) {
	row := q.QueryRow(ctx, `SELECT `+conflictCols+` FROM conflicts WHERE id = $1`, id)
	c, err := scanConflict(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// List returns conflicts matching the filter, newest first.
func (ConflictStore) List(ctx context.Context, q Querier, f ConflictFilter) ([]*Conflict, error) {
	query := `SELECT ` + conflictCols + ` FROM conflicts WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Kind != "" {
		args = append(args, f.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Conflict, 0)
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TransitionToResolved moves a PENDING conflict to RESOLVED, recording
// the applied snapshot. Any other starting state is an illegal
// transition.
func (s ConflictStore) TransitionToResolved(ctx context.Context, q Querier, id string, resolvedData json.RawMessage) (*Conflict, error) {
	row := q.QueryRow(ctx, `
		UPDATE conflicts SET status = $2, resolved_at = $3, resolved_data = $4
		WHERE id = $1 AND status = $5
		RETURNING `+conflictCols,
		id, ConflictResolved, time.Now().UTC(), []byte(resolvedData), ConflictPending)
	c, err := scanConflict(row)
	if err == pgx.ErrNoRows {
		return nil, s.disambiguateTransition(ctx, q, id)
	}
	return c, err
}

// TransitionToDismissed moves a PENDING conflict to DISMISSED without
// touching the record.
func (s ConflictStore) TransitionToDismissed(ctx context.Context, q Querier, id string) (*Conflict, error) {
	row := q.QueryRow(ctx, `
		UPDATE conflicts SET status = $2, resolved_at = $3
		WHERE id = $1 AND status = $4
		RETURNING `+conflictCols,
		id, ConflictDismissed, time.Now().UTC(), ConflictPending)
	c, err := scanConflict(row)
	if err == pgx.ErrNoRows {
		return nil, s.disambiguateTransition(ctx, q, id)
	}
	return c, err
}

func (s ConflictStore) disambiguateTransition(ctx context.Context, q Querier, id string) error {
	existing, err := s.Get(ctx, q, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrConflictNotFound
	}
	return ErrIllegalTransition
}

// Stats counts conflicts by status and by kind.
func (ConflictStore) Stats(ctx context.Context, q Querier) (*ConflictStats, error) {
	stats := &ConflictStats{ByKind: make(map[Kind]int)}

	rows, err := q.Query(ctx, `SELECT status, kind, COUNT(*) FROM conflicts GROUP BY status, kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status ConflictStatus
		var kind Kind
		var n int
		if err := rows.Scan(&status, &kind, &n); err != nil {
			return nil, err
		}
		switch status {
		case ConflictPending:
			stats.Pending += n
		case ConflictResolved:
			stats.Resolved += n
		case ConflictDismissed:
			stats.Dismissed += n
		}
		stats.ByKind[kind] += n
	}
	return stats, rows.Err()
}
