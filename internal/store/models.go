package store

import (
	"encoding/json"
	"time"
)

// Kind identifies an entity collection. The two kinds share a lifecycle;
// todos additionally carry a status field.
type Kind string

const (
	KindTodos Kind = "todos"
	KindNotes Kind = "notes"
)

// Valid reports whether k names a known collection.
func (k Kind) Valid() bool {
	return k == KindTodos || k == KindNotes
}

// HasStatus reports whether records of this kind carry a status field.
func (k Kind) HasStatus() bool {
	return k == KindTodos
}

// table maps a kind to its record table. Adding a kind means extending
// this map, the validation rules, and nothing else.
func (k Kind) table() string {
	switch k {
	case KindTodos:
		return "records_todos"
	case KindNotes:
		return "records_notes"
	}
	return ""
}

// Kinds returns all known kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindTodos, KindNotes}
}

// Action is the mutation verb carried by a sync operation.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// TodoStatuses is the allowed status set for todos.
var TodoStatuses = map[string]bool{
	"pending":     true,
	"in-progress": true,
	"completed":   true,
}

// DefaultTodoStatus is assigned when a todo is created without a status.
const DefaultTodoStatus = "pending"

// Record is the server-authoritative state of one entity. A non-nil
// DeletedAt marks a tombstone: excluded from live queries, still visible
// to the sync processor for conflict detection.
type Record struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Content   *string    `json:"content,omitempty"`
	Status    string     `json:"status,omitempty"` // todos only
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt"`
}

// RecordFields is the set of client-mutable fields. Nil pointers leave
// the stored value unchanged.
type RecordFields struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
	Status  *string `json:"status,omitempty"`
}

// ConflictStatus is the lifecycle state of a conflict record.
type ConflictStatus string

const (
	ConflictPending   ConflictStatus = "PENDING"
	ConflictResolved  ConflictStatus = "RESOLVED"
	ConflictDismissed ConflictStatus = "DISMISSED"
)

// Valid reports whether s is a known conflict status.
func (s ConflictStatus) Valid() bool {
	return s == ConflictPending || s == ConflictResolved || s == ConflictDismissed
}

// Conflict is the durable evidence of a version mismatch. Its ID is the
// operationId that raised it, which also caps conflicts at one per
// operation.
type Conflict struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	RecordID      string          `json:"recordId"`
	ServerData    json.RawMessage `json:"serverData"` // null when the record was absent
	ClientData    json.RawMessage `json:"clientData"`
	ServerVersion int             `json:"serverVersion"`
	ClientVersion int             `json:"clientVersion"`
	Status        ConflictStatus  `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	ResolvedAt    *time.Time      `json:"resolvedAt"`
	ResolvedData  json.RawMessage `json:"resolvedData,omitempty"`
}

// ConflictFilter narrows conflict listings. Zero values match everything.
type ConflictFilter struct {
	Status ConflictStatus
	Kind   Kind
}

// ConflictStats summarizes the conflict table.
type ConflictStats struct {
	Pending   int          `json:"pending"`
	Resolved  int          `json:"resolved"`
	Dismissed int          `json:"dismissed"`
	ByKind    map[Kind]int `json:"byKind"`
}

// LedgerEntry marks one terminally applied operation. Entries are written
// once and never updated or deleted.
type LedgerEntry struct {
	OperationID string    `json:"operationId"`
	Action      Action    `json:"action"`
	Kind        Kind      `json:"kind"`
	ProcessedAt time.Time `json:"processedAt"`
}
