package syncservice

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/offlinekit/sync-api/internal/opx"
	"github.com/offlinekit/sync-api/internal/store"
	"github.com/rs/zerolog/log"
)

// ProcessBatch applies a validated batch sequentially in input order.
// Each operation runs in its own coordinated transaction; a failure in
// one never affects its siblings, and earlier operations are fully
// committed before the next begins.
func (s *Service) ProcessBatch(ctx context.Context, ops []opx.Operation) *BatchOutcome {
	out := &BatchOutcome{Results: make([]OpResult, 0, len(ops))}
	out.Summary.Total = len(ops)

	for _, op := range ops {
		res := s.processOne(ctx, op)
		out.Results = append(out.Results, res)
		switch res.Status {
		case StatusApplied:
			out.Summary.Applied++
		case StatusConflict:
			out.Summary.Conflicts++
		case StatusError:
			out.Summary.Errors++
		}
	}
	return out
}

// processOne runs a single operation inside one serialized transaction:
// ledger check first, then dispatch on action. The ledger is consulted
// before the record read so a replayed operationId is rejected even if
// the record has since moved past the version that would have matched.
func (s *Service) processOne(ctx context.Context, op opx.Operation) OpResult {
	res := OpResult{OperationID: op.OperationID}

	err := s.Coord.Serialized(ctx, op.Kind, op.Data.ID, func(tx pgx.Tx) error {
		seen, err := s.ledger.Seen(ctx, tx, op.OperationID)
		if err != nil {
			return err
		}
		if seen {
			res.Status = StatusError
			res.Message = MsgAlreadyProcessed
			return nil
		}

		switch op.Action {
		case store.ActionCreate:
			return s.applyCreate(ctx, tx, op, &res)
		case store.ActionUpdate:
			return s.applyUpdate(ctx, tx, op, &res)
		case store.ActionDelete:
			return s.applyDelete(ctx, tx, op, &res)
		}
		return errors.New("unknown action")
	})

	if err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("operationId", op.OperationID).
			Str("action", string(op.Action)).
			Str("kind", string(op.Kind)).
			Msg("sync operation failed")
		return OpResult{OperationID: op.OperationID, Status: StatusError, Message: err.Error()}
	}
	return res
}

// applyCreate inserts at version 1. Client-supplied version and
// deletedAt are ignored; echoed timestamps are honored when parseable.
func (s *Service) applyCreate(ctx context.Context, tx pgx.Tx, op opx.Operation, res *OpResult) error {
	rec := &store.Record{
		ID:        op.Data.ID,
		CreatedAt: opx.TimeOrNow(op.Data.CreatedAt),
		UpdatedAt: opx.TimeOrNow(op.Data.UpdatedAt),
	}
	if op.Data.Title != nil {
		rec.Title = *op.Data.Title
	}
	rec.Content = op.Data.Content
	if op.Data.Status != nil {
		rec.Status = *op.Data.Status
	}

	created, err := s.records.Insert(ctx, tx, op.Kind, rec)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Same operationId replays are caught by the ledger; a new
			// operationId hitting an existing (kind,id) is a client bug.
			res.Status = StatusError
			res.Message = "duplicate id"
			return nil
		}
		return err
	}

	if err := s.ledger.Record(ctx, tx, op.OperationID, op.Action, op.Kind); err != nil {
		return err
	}
	res.Status = StatusApplied
	res.Data = created
	return nil
}

// applyUpdate applies the mutated fields when the client's version
// matches the current one exactly. Any mismatch, an absent record, or a
// tombstoned record raises a conflict instead of mutating.
func (s *Service) applyUpdate(ctx context.Context, tx pgx.Tx, op opx.Operation, res *OpResult) error {
	cur, err := s.records.Get(ctx, tx, op.Kind, op.Data.ID)
	if err != nil {
		return err
	}

	if cur == nil || cur.DeletedAt != nil || cur.Version != op.Data.Version {
		return s.raiseConflict(ctx, tx, op, cur, res)
	}

	updated, err := s.records.UpdateIfVersion(ctx, tx, op.Kind, op.Data.ID, op.Data.Version, op.Data.Fields())
	if err != nil {
		if errors.Is(err, store.ErrVersionMismatch) || errors.Is(err, store.ErrNotFound) {
			// The coordinator serializes per-record access, so the CAS
			// cannot lose a race here. Defend anyway, without a ledger
			// write.
			res.Status = StatusError
			res.Message = "race"
			return nil
		}
		return err
	}

	if err := s.ledger.Record(ctx, tx, op.OperationID, op.Action, op.Kind); err != nil {
		return err
	}
	res.Status = StatusApplied
	res.Data = updated
	return nil
}

// applyDelete tombstones the record on an exact version match. Deleting
// something already gone is applied, not a conflict: two clients that
// independently delete must not livelock on each other's success.
func (s *Service) applyDelete(ctx context.Context, tx pgx.Tx, op opx.Operation, res *OpResult) error {
	cur, err := s.records.Get(ctx, tx, op.Kind, op.Data.ID)
	if err != nil {
		return err
	}

	if cur == nil || cur.DeletedAt != nil {
		if err := s.ledger.Record(ctx, tx, op.OperationID, op.Action, op.Kind); err != nil {
			return err
		}
		res.Status = StatusApplied
		res.Message = "already deleted"
		return nil
	}

	if cur.Version != op.Data.Version {
		return s.raiseConflict(ctx, tx, op, cur, res)
	}

	tombstone, err := s.records.SoftDeleteIfVersion(ctx, tx, op.Kind, op.Data.ID, op.Data.Version)
	if err != nil {
		if errors.Is(err, store.ErrVersionMismatch) || errors.Is(err, store.ErrNotFound) {
			res.Status = StatusError
			res.Message = "race"
			return nil
		}
		return err
	}

	if err := s.ledger.Record(ctx, tx, op.OperationID, op.Action, op.Kind); err != nil {
		return err
	}
	res.Status = StatusApplied
	res.Data = tombstone
	return nil
}

// raiseConflict persists conflict evidence in the same transaction and
// reports CONFLICT. No record mutation and no ledger entry happen on
// this path; the conflict is the pending state the resolver acts on.
func (s *Service) raiseConflict(ctx context.Context, tx pgx.Tx, op opx.Operation, cur *store.Record, res *OpResult) error {
	clientData, err := json.Marshal(op.Data)
	if err != nil {
		return err
	}

	c := &store.Conflict{
		ID:            op.OperationID,
		Kind:          op.Kind,
		RecordID:      op.Data.ID,
		ClientData:    clientData,
		ClientVersion: op.Data.Version,
	}
	if cur != nil {
		serverData, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		c.ServerData = serverData
		c.ServerVersion = cur.Version
	}

	created, err := s.conflicts.Create(ctx, tx, c)
	if err != nil {
		return err
	}

	log.Ctx(ctx).Info().
		Str("operationId", op.OperationID).
		Str("kind", string(op.Kind)).
		Str("recordId", op.Data.ID).
		Int("serverVersion", c.ServerVersion).
		Int("clientVersion", c.ClientVersion).
		Msg("version conflict recorded")

	res.Status = StatusConflict
	res.Message = "version conflict"
	res.ConflictID = created.ID
	return nil
}
