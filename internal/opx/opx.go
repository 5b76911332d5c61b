// Package opx decodes and validates sync batch payloads before they
// reach the processor. A batch failing any shape constraint here is
// rejected whole with a 400; nothing in it is dispatched.
package opx

import (
	"fmt"
	"time"

	"github.com/offlinekit/sync-api/internal/store"
)

// Batch size and field limits enforced pre-dispatch.
const (
	MaxBatchSize = 100
	MaxTitleLen  = 200
)

// Operation is one unit of client intent: a CREATE, UPDATE, or DELETE of
// a single record, identified by operationId. The JSON field for the
// kind tag is "table" on the wire.
type Operation struct {
	OperationID string       `json:"operationId"`
	Action      store.Action `json:"action"`
	Kind        store.Kind   `json:"table"`
	Data        Payload      `json:"data"`
}

// Payload carries the record fields of an operation. For CREATE it is
// the full record minus server-managed fields; for UPDATE/DELETE it is
// at minimum id and the client's version. Client-supplied version and
// deletedAt on CREATE are ignored: the server owns both.
type Payload struct {
	ID        string  `json:"id"`
	Title     *string `json:"title,omitempty"`
	Content   *string `json:"content,omitempty"`
	Status    *string `json:"status,omitempty"`
	Version   int     `json:"version,omitempty"`
	CreatedAt *string `json:"createdAt,omitempty"`
	UpdatedAt *string `json:"updatedAt,omitempty"`
	DeletedAt *string `json:"deletedAt,omitempty"`
}

// Fields extracts the client-mutable fields of the payload.
func (p Payload) Fields() store.RecordFields {
	return store.RecordFields{Title: p.Title, Content: p.Content, Status: p.Status}
}

// BatchRequest is the body of POST /api/sync.
type BatchRequest struct {
	Operations []Operation `json:"operations"`
}

// ValidateBatch checks the whole-batch constraints and every operation's
// shape. The first violation is returned; the caller surfaces it as a
// single 400 for the entire batch.
func ValidateBatch(b *BatchRequest) error {
	n := len(b.Operations)
	if n < 1 {
		return fmt.Errorf("operations must contain between 1 and %d entries", MaxBatchSize)
	}
	if n > MaxBatchSize {
		return fmt.Errorf("operations must contain between 1 and %d entries, got %d", MaxBatchSize, n)
	}

	seen := make(map[string]bool, n)
	for i, op := range b.Operations {
		if err := validateOperation(i, op); err != nil {
			return err
		}
		if seen[op.OperationID] {
			return fmt.Errorf("operations[%d]: duplicate operationId %q in batch", i, op.OperationID)
		}
		seen[op.OperationID] = true
	}
	return nil
}

func validateOperation(i int, op Operation) error {
	if op.OperationID == "" {
		return fmt.Errorf("operations[%d]: operationId is required", i)
	}
	if !op.Action.Valid() {
		return fmt.Errorf("operations[%d]: action must be CREATE, UPDATE or DELETE", i)
	}
	if !op.Kind.Valid() {
		return fmt.Errorf("operations[%d]: table must be todos or notes", i)
	}

	switch op.Action {
	case store.ActionCreate:
		return validateCreate(i, op)
	case store.ActionUpdate:
		if err := validateTarget(i, op); err != nil {
			return err
		}
		if op.Data.Title != nil {
			if err := validateTitle(i, *op.Data.Title); err != nil {
				return err
			}
		}
		if op.Data.Status != nil {
			return validateStatus(i, op.Kind, *op.Data.Status)
		}
	case store.ActionDelete:
		return validateTarget(i, op)
	}
	return nil
}

func validateCreate(i int, op Operation) error {
	if op.Data.ID == "" {
		return fmt.Errorf("operations[%d]: data.id is required", i)
	}
	if op.Data.Title == nil {
		return fmt.Errorf("operations[%d]: data.title is required", i)
	}
	if err := validateTitle(i, *op.Data.Title); err != nil {
		return err
	}
	if op.Data.Status != nil {
		return validateStatus(i, op.Kind, *op.Data.Status)
	}
	return nil
}

// validateTarget checks the minimum UPDATE/DELETE payload: a target id
// and a positive integer version.
func validateTarget(i int, op Operation) error {
	if op.Data.ID == "" {
		return fmt.Errorf("operations[%d]: data.id is required", i)
	}
	if op.Data.Version < 1 {
		return fmt.Errorf("operations[%d]: data.version must be a positive integer", i)
	}
	return nil
}

func validateTitle(i int, title string) error {
	if err := checkTitle(title); err != nil {
		return fmt.Errorf("operations[%d]: data.%s", i, err)
	}
	return nil
}

func validateStatus(i int, kind store.Kind, status string) error {
	if err := checkStatus(kind, status); err != nil {
		return fmt.Errorf("operations[%d]: data.%s", i, err)
	}
	return nil
}

func checkTitle(title string) error {
	if title == "" {
		return fmt.Errorf("title must be non-empty")
	}
	if len(title) > MaxTitleLen {
		return fmt.Errorf("title exceeds %d characters", MaxTitleLen)
	}
	return nil
}

func checkStatus(kind store.Kind, status string) error {
	if !kind.HasStatus() {
		return fmt.Errorf("status is only valid for todos")
	}
	if !store.TodoStatuses[status] {
		return fmt.Errorf("status must be pending, in-progress or completed")
	}
	return nil
}

// ValidateFields checks mutable field values against the record
// constraints. Nil fields are unset and pass. Used for sync payloads and
// for conflict resolution payloads, which otherwise reach the record
// store without passing through batch validation.
func ValidateFields(kind store.Kind, f store.RecordFields) error {
	if f.Title != nil {
		if err := checkTitle(*f.Title); err != nil {
			return err
		}
	}
	if f.Status != nil {
		if err := checkStatus(kind, *f.Status); err != nil {
			return err
		}
	}
	return nil
}

// ParseTime parses a client-echoed timestamp. Accepts RFC3339 with or
// without sub-second precision.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// TimeOrNow resolves an optional echoed timestamp, falling back to
// server time.
func TimeOrNow(s *string) time.Time {
	if s != nil {
		if t, ok := ParseTime(*s); ok {
			return t
		}
	}
	return time.Now().UTC()
}
