package syncservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/offlinekit/sync-api/internal/opx"
	"github.com/offlinekit/sync-api/internal/store"
	"github.com/rs/zerolog/log"
)

// Resolution is the user's choice of which side a conflict settles on.
type Resolution string

const (
	ResolveClient Resolution = "CLIENT"
	ResolveServer Resolution = "SERVER"
	ResolveCustom Resolution = "CUSTOM"
)

// Valid reports whether r is a known resolution choice.
func (r Resolution) Valid() bool {
	return r == ResolveClient || r == ResolveServer || r == ResolveCustom
}

// ErrCustomDataRequired is returned when a CUSTOM resolution arrives
// without a payload.
var ErrCustomDataRequired = errors.New("resolvedData is required for CUSTOM resolution")

// ErrInvalidResolvedData is returned when a resolution payload violates
// the record field constraints (empty or oversized title, bad status).
var ErrInvalidResolvedData = errors.New("resolvedData violates record constraints")

// ResolutionOutcome is what a resolve or dismiss returns: the terminal
// conflict and, when the record was touched, its new state.
type ResolutionOutcome struct {
	Conflict *store.Conflict `json:"conflict"`
	Record   *store.Record   `json:"record,omitempty"`
}

// resolutionFields is the subset of a stored payload the resolver can
// apply to a record. Both serverData snapshots and clientData payloads
// decode into it.
type resolutionFields struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
	Status  *string `json:"status"`
}

func (f resolutionFields) fields() store.RecordFields {
	return store.RecordFields{Title: f.Title, Content: f.Content, Status: f.Status}
}

// Resolve settles a PENDING conflict by applying the chosen payload
// through a force update, then marking the conflict RESOLVED. The force
// update bypasses version checks: the conflict itself is the authority
// over what current state should become, and its version bump
// supersedes both sides. Resolution carries no operationId, so the
// ledger is not involved.
func (s *Service) Resolve(ctx context.Context, conflictID string, choice Resolution, customData json.RawMessage) (*ResolutionOutcome, error) {
	if !choice.Valid() {
		return nil, errors.New("resolution must be CLIENT, SERVER or CUSTOM")
	}
	if choice == ResolveCustom && len(customData) == 0 {
		return nil, ErrCustomDataRequired
	}

	// First read locates the record key to serialize on; state is
	// re-checked inside the transaction.
	peek, err := s.conflicts.Get(ctx, s.DB, conflictID)
	if err != nil {
		return nil, err
	}
	if peek == nil {
		return nil, store.ErrConflictNotFound
	}

	// CUSTOM payloads come straight from the caller and never passed
	// batch validation; reject constraint violations before any write.
	if choice == ResolveCustom {
		var f resolutionFields
		if err := json.Unmarshal(customData, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResolvedData, err)
		}
		if err := opx.ValidateFields(peek.Kind, f.fields()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResolvedData, err)
		}
	}

	out := &ResolutionOutcome{}
	err = s.Coord.Serialized(ctx, peek.Kind, peek.RecordID, func(tx pgx.Tx) error {
		c, err := s.conflicts.Get(ctx, tx, conflictID)
		if err != nil {
			return err
		}
		if c == nil {
			return store.ErrConflictNotFound
		}
		if c.Status != store.ConflictPending {
			return store.ErrIllegalTransition
		}

		var selected json.RawMessage
		switch choice {
		case ResolveClient:
			selected = c.ClientData
		case ResolveServer:
			selected = c.ServerData
		case ResolveCustom:
			selected = customData
		}

		// SERVER on an absent-record conflict: there is nothing to
		// restore, so the attempted mutation is effectively dismissed at
		// the record level, but the conflict still ends RESOLVED.
		if len(selected) > 0 && string(selected) != "null" {
			var f resolutionFields
			if err := json.Unmarshal(selected, &f); err != nil {
				return err
			}
			fields := f.fields()
			if err := opx.ValidateFields(c.Kind, fields); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidResolvedData, err)
			}

			cur, err := s.records.Get(ctx, tx, c.Kind, c.RecordID)
			if err != nil {
				return err
			}
			// A titleless payload against an absent record has nothing
			// creatable; the record side collapses like SERVER-on-absent.
			if cur != nil || fields.Title != nil {
				rec, err := s.records.ForceUpdate(ctx, tx, c.Kind, c.RecordID, fields)
				if err != nil {
					return err
				}
				out.Record = rec
			}
		}

		resolved, err := s.conflicts.TransitionToResolved(ctx, tx, conflictID, selected)
		if err != nil {
			return err
		}
		out.Conflict = resolved
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().
		Str("conflictId", conflictID).
		Str("resolution", string(choice)).
		Msg("conflict resolved")
	return out, nil
}

// Dismiss settles a PENDING conflict without touching the record.
func (s *Service) Dismiss(ctx context.Context, conflictID string) (*ResolutionOutcome, error) {
	peek, err := s.conflicts.Get(ctx, s.DB, conflictID)
	if err != nil {
		return nil, err
	}
	if peek == nil {
		return nil, store.ErrConflictNotFound
	}

	out := &ResolutionOutcome{}
	err = s.Coord.Serialized(ctx, peek.Kind, peek.RecordID, func(tx pgx.Tx) error {
		dismissed, err := s.conflicts.TransitionToDismissed(ctx, tx, conflictID)
		if err != nil {
			return err
		}
		out.Conflict = dismissed
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().Str("conflictId", conflictID).Msg("conflict dismissed")
	return out, nil
}

// Conflicts exposes read access for the HTTP layer.
func (s *Service) Conflicts(ctx context.Context, f store.ConflictFilter) ([]*store.Conflict, error) {
	return s.conflicts.List(ctx, s.DB, f)
}

// Conflict returns one conflict by id, or (nil, nil) when absent.
func (s *Service) Conflict(ctx context.Context, id string) (*store.Conflict, error) {
	return s.conflicts.Get(ctx, s.DB, id)
}

// ConflictStats returns counts by status and kind.
func (s *Service) ConflictStats(ctx context.Context) (*store.ConflictStats, error) {
	return s.conflicts.Stats(ctx, s.DB)
}
