package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// migration is one named, idempotent schema step. Steps run in order on
// every startup; each uses IF NOT EXISTS so reruns are no-ops.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{"records_todos_table", `
		CREATE TABLE IF NOT EXISTS records_todos (
			id         text PRIMARY KEY,
			title      text NOT NULL,
			content    text,
			status     text NOT NULL DEFAULT 'pending',
			version    integer NOT NULL DEFAULT 1,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now(),
			deleted_at timestamptz
		)`},
	{"records_notes_table", `
		CREATE TABLE IF NOT EXISTS records_notes (
			id         text PRIMARY KEY,
			title      text NOT NULL,
			content    text,
			version    integer NOT NULL DEFAULT 1,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now(),
			deleted_at timestamptz
		)`},
	{"records_deleted_at_indexes", `
		CREATE INDEX IF NOT EXISTS records_todos_deleted_at_idx ON records_todos (deleted_at);
		CREATE INDEX IF NOT EXISTS records_notes_deleted_at_idx ON records_notes (deleted_at)`},
	{"conflicts_table", `
		CREATE TABLE IF NOT EXISTS conflicts (
			id             text PRIMARY KEY,
			kind           text NOT NULL,
			record_id      text NOT NULL,
			server_data    jsonb,
			client_data    jsonb NOT NULL,
			server_version integer NOT NULL,
			client_version integer NOT NULL,
			status         text NOT NULL DEFAULT 'PENDING',
			created_at     timestamptz NOT NULL DEFAULT now(),
			resolved_at    timestamptz,
			resolved_data  jsonb
		)`},
	{"conflicts_indexes", `
		CREATE INDEX IF NOT EXISTS conflicts_status_idx ON conflicts (status);
		CREATE INDEX IF NOT EXISTS conflicts_kind_record_idx ON conflicts (kind, record_id)`},
	{"processed_operations_table", `
		CREATE TABLE IF NOT EXISTS processed_operations (
			operation_id text PRIMARY KEY,
			action       text NOT NULL,
			kind         text NOT NULL,
			processed_at timestamptz NOT NULL DEFAULT now()
		)`},
}

// Migrate creates the schema if it does not exist. Safe to run on every
// startup and from test setup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			log.Error().Err(err).Str("migration", m.name).Msg("schema migration failed")
			return err
		}
	}
	log.Info().Int("steps", len(migrations)).Msg("schema verified")
	return nil
}
