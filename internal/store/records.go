package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// RecordStore is the durable keyed storage for todos and notes. It is
// stateless; callers pass a Querier (pool or coordinated transaction).
// Layout is table-per-kind: the two tables are identical except that
// records_todos carries a status column.
type RecordStore struct{}

func selectCols(kind Kind) string {
	if kind.HasStatus() {
		return "id, title, content, status, version, created_at, updated_at, deleted_at"
	}
	return "id, title, content, version, created_at, updated_at, deleted_at"
}

func scanRecord(kind Kind, row pgx.Row) (*Record, error) {
	var r Record
	var err error
	if kind.HasStatus() {
		err = row.Scan(&r.ID, &r.Title, &r.Content, &r.Status, &r.Version, &r.CreatedAt, &r.UpdatedAt, &r.DeletedAt)
	} else {
		err = row.Scan(&r.ID, &r.Title, &r.Content, &r.Version, &r.CreatedAt, &r.UpdatedAt, &r.DeletedAt)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Get returns the current record including tombstones, or (nil, nil) if
// the id has never existed. The sync processor relies on seeing
// tombstones here for conflict detection.
func (RecordStore) Get(ctx context.Context, q Querier, kind Kind, id string) (*Record, error) {
	row := q.QueryRow(ctx,
		`SELECT `+selectCols(kind)+` FROM `+kind.table()+` WHERE id = $1`, id)
	rec, err := scanRecord(kind, row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// GetLive returns the record only if it is not tombstoned.
func (RecordStore) GetLive(ctx context.Context, q Querier, kind Kind, id string) (*Record, error) {
	row := q.QueryRow(ctx,
		`SELECT `+selectCols(kind)+` FROM `+kind.table()+` WHERE id = $1 AND deleted_at IS NULL`, id)
	rec, err := scanRecord(kind, row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// Insert writes a new record at version 1. Returns ErrDuplicate when the
// (kind,id) already exists, live or tombstoned.
func (RecordStore) Insert(ctx context.Context, q Querier, kind Kind, r *Record) (*Record, error) {
	var row pgx.Row
	if kind.HasStatus() {
		status := r.Status
		if status == "" {
			status = DefaultTodoStatus
		}
		row = q.QueryRow(ctx, `
			INSERT INTO `+kind.table()+` (id, title, content, status, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5, $6)
			RETURNING `+selectCols(kind),
			r.ID, r.Title, r.Content, status, r.CreatedAt, r.UpdatedAt)
	} else {
		row = q.QueryRow(ctx, `
			INSERT INTO `+kind.table()+` (id, title, content, version, created_at, updated_at)
			VALUES ($1, $2, $3, 1, $4, $5)
			RETURNING `+selectCols(kind),
			r.ID, r.Title, r.Content, r.CreatedAt, r.UpdatedAt)
	}
	rec, err := scanRecord(kind, row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// UpdateIfVersion is an atomic compare-and-set on version: when the live
// record's version equals expected, it applies the non-nil fields and
// increments version by exactly one. Tombstones are ineligible.
func (s RecordStore) UpdateIfVersion(ctx context.Context, q Querier, kind Kind, id string, expected int, fields RecordFields) (*Record, error) {
	now := time.Now().UTC()
	var row pgx.Row
	if kind.HasStatus() {
		row = q.QueryRow(ctx, `
			UPDATE `+kind.table()+` SET
				title      = COALESCE($3, title),
				content    = COALESCE($4, content),
				status     = COALESCE($5, status),
				version    = version + 1,
				updated_at = $6
			WHERE id = $1 AND version = $2 AND deleted_at IS NULL
			RETURNING `+selectCols(kind),
			id, expected, fields.Title, fields.Content, fields.Status, now)
	} else {
		row = q.QueryRow(ctx, `
			UPDATE `+kind.table()+` SET
				title      = COALESCE($3, title),
				content    = COALESCE($4, content),
				version    = version + 1,
				updated_at = $5
			WHERE id = $1 AND version = $2 AND deleted_at IS NULL
			RETURNING `+selectCols(kind),
			id, expected, fields.Title, fields.Content, now)
	}
	rec, err := scanRecord(kind, row)
	if err == pgx.ErrNoRows {
		return nil, s.disambiguateMiss(ctx, q, kind, id)
	}
	return rec, err
}

// SoftDeleteIfVersion tombstones the live record when its version equals
// expected, incrementing version. Same eligibility rules as
// UpdateIfVersion.
func (s RecordStore) SoftDeleteIfVersion(ctx context.Context, q Querier, kind Kind, id string, expected int) (*Record, error) {
	now := time.Now().UTC()
	row := q.QueryRow(ctx, `
		UPDATE `+kind.table()+` SET
			deleted_at = $3,
			version    = version + 1,
			updated_at = $3
		WHERE id = $1 AND version = $2 AND deleted_at IS NULL
		RETURNING `+selectCols(kind),
		id, expected, now)
	rec, err := scanRecord(kind, row)
	if err == pgx.ErrNoRows {
		return nil, s.disambiguateMiss(ctx, q, kind, id)
	}
	return rec, err
}

// disambiguateMiss turns an empty conditional write into ErrNotFound or
// ErrVersionMismatch.
func (RecordStore) disambiguateMiss(ctx context.Context, q Querier, kind Kind, id string) error {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+kind.table()+` WHERE id = $1 AND deleted_at IS NULL)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionMismatch
}

// ForceUpdate writes fields unconditionally, incrementing version to
// supersede whatever was there. Used only by the conflict resolver,
// where the conflict itself is the authority over current state. An
// absent record is created at version 1.
func (s RecordStore) ForceUpdate(ctx context.Context, q Querier, kind Kind, id string, fields RecordFields) (*Record, error) {
	cur, err := s.Get(ctx, q, kind, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	if cur == nil {
		r := &Record{ID: id, CreatedAt: now, UpdatedAt: now}
		if fields.Title != nil {
			r.Title = *fields.Title
		}
		r.Content = fields.Content
		if fields.Status != nil {
			r.Status = *fields.Status
		}
		return s.Insert(ctx, q, kind, r)
	}

	var row pgx.Row
	if kind.HasStatus() {
		row = q.QueryRow(ctx, `
			UPDATE `+kind.table()+` SET
				title      = COALESCE($2, title),
				content    = COALESCE($3, content),
				status     = COALESCE($4, status),
				version    = version + 1,
				updated_at = $5
			WHERE id = $1
			RETURNING `+selectCols(kind),
			id, fields.Title, fields.Content, fields.Status, now)
	} else {
		row = q.QueryRow(ctx, `
			UPDATE `+kind.table()+` SET
				title      = COALESCE($2, title),
				content    = COALESCE($3, content),
				version    = version + 1,
				updated_at = $4
			WHERE id = $1
			RETURNING `+selectCols(kind),
			id, fields.Title, fields.Content, now)
	}
	return scanRecord(kind, row)
}

// List returns records ordered by most recent update. Tombstones are
// excluded unless includeDeleted is set.
func (RecordStore) List(ctx context.Context, q Querier, kind Kind, limit int, includeDeleted bool) ([]*Record, error) {
	query := `SELECT ` + selectCols(kind) + ` FROM ` + kind.table()
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY updated_at DESC, id LIMIT $1`

	rows, err := q.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(kind, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
