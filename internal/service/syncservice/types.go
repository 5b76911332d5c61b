package syncservice

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/offlinekit/sync-api/internal/store"
)

// ResultStatus is the terminal outcome of one operation.
type ResultStatus string

const (
	StatusApplied  ResultStatus = "APPLIED"
	StatusConflict ResultStatus = "CONFLICT"
	StatusError    ResultStatus = "ERROR"
)

// MsgAlreadyProcessed is the sentinel replay message. Clients match on
// it to drop an already-applied operation from their outbox, so the
// exact string is part of the contract.
const MsgAlreadyProcessed = "Operation already processed"

// OpResult is one entry of the result vector, positionally matched to
// the input batch.
type OpResult struct {
	OperationID string        `json:"operationId"`
	Status      ResultStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	Data        *store.Record `json:"data,omitempty"`
	ConflictID  string        `json:"conflictId,omitempty"`
}

// Summary tallies a batch's outcomes.
type Summary struct {
	Total     int `json:"total"`
	Applied   int `json:"applied"`
	Conflicts int `json:"conflicts"`
	Errors    int `json:"errors"`
}

// BatchOutcome is the full sync response payload.
type BatchOutcome struct {
	Results []OpResult `json:"results"`
	Summary Summary    `json:"summary"`
}

// Service owns the sync batch processor and the conflict resolver. Both
// run every unit of work through the coordinator so record, ledger, and
// conflict writes for one operation land atomically.
type Service struct {
	DB    *pgxpool.Pool
	Coord *store.Coordinator

	records   store.RecordStore
	ledger    store.LedgerStore
	conflicts store.ConflictStore
}

// New creates the sync service over the given pool.
func New(pool *pgxpool.Pool) *Service {
	return &Service{
		DB:    pool,
		Coord: store.NewCoordinator(pool),
	}
}
