package syncservice

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/offlinekit/sync-api/internal/opx"
	"github.com/offlinekit/sync-api/internal/store"
)

// raiseTestConflict puts a record at version 2 and produces a PENDING
// conflict from a stale update, returning the conflict id.
func raiseTestConflict(t *testing.T, svc *Service) string {
	t.Helper()
	ctx := context.Background()
	svc.ProcessBatch(ctx, []opx.Operation{createOp("seed-1", "t1", "buy milk")})
	svc.ProcessBatch(ctx, []opx.Operation{updateOp("seed-2", "t1", "buy milk", 1)})
	out := svc.ProcessBatch(ctx, []opx.Operation{updateOp("o2", "t1", "buy bread", 1)})
	if out.Results[0].Status != StatusConflict {
		t.Fatalf("setup: expected conflict, got %+v", out.Results[0])
	}
	return out.Results[0].ConflictID
}

func TestResolveWithClientData(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	ctx := context.Background()

	id := raiseTestConflict(t, svc)

	out, err := svc.Resolve(ctx, id, ResolveClient, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Record takes the client's fields and advances past both sides
	if out.Record == nil || out.Record.Title != "buy bread" || out.Record.Version != 3 {
		t.Errorf("unexpected record after resolution: %+v", out.Record)
	}
	if out.Conflict.Status != store.ConflictResolved || out.Conflict.ResolvedAt == nil {
		t.Errorf("unexpected conflict after resolution: %+v", out.Conflict)
	}

	var resolved map[string]any
	if err := json.Unmarshal(out.Conflict.ResolvedData, &resolved); err != nil {
		t.Fatalf("resolvedData: %v", err)
	}
	if resolved["title"] != "buy bread" {
		t.Errorf("resolvedData should carry the applied snapshot, got %v", resolved)
	}
}

func TestResolveWithServerData(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	ctx := context.Background()

	id := raiseTestConflict(t, svc)

	out, err := svc.Resolve(ctx, id, ResolveServer, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Server fields win, version still advances to supersede the client
	if out.Record == nil || out.Record.Title != "buy milk" || out.Record.Version != 3 {
		t.Errorf("unexpected record after server resolution: %+v", out.Record)
	}
	if out.Conflict.Status != store.ConflictResolved {
		t.Errorf("conflict not resolved: %+v", out.Conflict)
	}
}

func TestResolveWithCustomData(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	ctx := context.Background()

	id := raiseTestConflict(t, svc)

	// CUSTOM without a payload is rejected before any write
	if _, err := svc.Resolve(ctx, id, ResolveCustom, nil); !errors.Is(err, ErrCustomDataRequired) {
		t.Fatalf("expected ErrCustomDataRequired, got %v", err)
	}

	out, err := svc.Resolve(ctx, id, ResolveCustom, json.RawMessage(`{"title":"merged title","status":"in-progress"}`))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Record.Title != "merged title" || out.Record.Status != "in-progress" || out.Record.Version != 3 {
		t.Errorf("unexpected record after custom resolution: %+v", out.Record)
	}
}

func TestResolveServerOnAbsentRecordConflict(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	ctx := context.Background()

	out := svc.ProcessBatch(ctx, []opx.Operation{updateOp("o9", "ghost", "anything", 2)})
	if out.Results[0].Status != StatusConflict {
		t.Fatalf("setup: expected conflict, got %+v", out.Results[0])
	}

	resolved, err := svc.Resolve(ctx, "o9", ResolveServer, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Nothing to restore: record untouched, conflict still RESOLVED
	if resolved.Record != nil {
		t.Errorf("expected no record write, got %+v", resolved.Record)
	}
	if resolved.Conflict.Status != store.ConflictResolved {
		t.Errorf("conflict not resolved: %+v", resolved.Conflict)
	}
	var rs store.RecordStore
	if rec, _ := rs.Get(ctx, pool, store.KindTodos, "ghost"); rec != nil {
		t.Error("server resolution of an absent-record conflict must not create the record")
	}
}

func TestResolveIllegalStates(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	ctx := context.Background()

	id := raiseTestConflict(t, svc)

	if _, err := svc.Resolve(ctx, "no-such-conflict", ResolveClient, nil); !errors.Is(err, store.ErrConflictNotFound) {
		t.Errorf("expected ErrConflictNotFound, got %v", err)
	}

	if _, err := svc.Resolve(ctx, id, ResolveClient, nil); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	// A second transition of any kind is illegal
	if _, err := svc.Resolve(ctx, id, ResolveClient, nil); !errors.Is(err, store.ErrIllegalTransition) {
		t.Errorf("expected ErrIllegalTransition on re-resolve, got %v", err)
	}
	if _, err := svc.Dismiss(ctx, id); !errors.Is(err, store.ErrIllegalTransition) {
		t.Errorf("expected ErrIllegalTransition on dismiss after resolve, got %v", err)
	}
}

func TestDismissLeavesRecordUntouched(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	ctx := context.Background()

	id := raiseTestConflict(t, svc)

	out, err := svc.Dismiss(ctx, id)
	if err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if out.Conflict.Status != store.ConflictDismissed {
		t.Errorf("unexpected status: %+v", out.Conflict)
	}

	var rs store.RecordStore
	rec, _ := rs.Get(ctx, pool, store.KindTodos, "t1")
	if rec.Version != 2 || rec.Title != "buy milk" {
		t.Errorf("dismiss must not touch the record: %+v", rec)
	}
}

func TestResolveCustomRejectsInvalidFields(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	ctx := context.Background()

	id := raiseTestConflict(t, svc)

	tests := []struct {
		name string
		data string
	}{
		{"empty title", `{"title":""}`},
		{"oversized title", `{"title":"` + strings.Repeat("x", opx.MaxTitleLen+1) + `"}`},
		{"unknown status", `{"title":"ok","status":"done"}`},
		{"malformed json", `{"title":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Resolve(ctx, id, ResolveCustom, json.RawMessage(tt.data))
			if !errors.Is(err, ErrInvalidResolvedData) {
				t.Fatalf("expected ErrInvalidResolvedData, got %v", err)
			}
		})
	}

	// Rejections leave both sides untouched
	c, err := svc.Conflict(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != store.ConflictPending {
		t.Errorf("conflict must stay pending after rejected payloads: %+v", c)
	}
	var rs store.RecordStore
	rec, _ := rs.Get(ctx, pool, store.KindTodos, "t1")
	if rec.Version != 2 || rec.Title != "buy milk" {
		t.Errorf("record must be untouched after rejected payloads: %+v", rec)
	}
}

func TestResolveClientTitlelessPayloadOnAbsentRecord(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	ctx := context.Background()

	// An update carrying only content is a valid payload; against an
	// absent record it raises a conflict whose clientData has no title.
	content := "orphaned note body"
	out := svc.ProcessBatch(ctx, []opx.Operation{{
		OperationID: "o7",
		Action:      store.ActionUpdate,
		Kind:        store.KindNotes,
		Data:        opx.Payload{ID: "ghost", Content: &content, Version: 3},
	}})
	if out.Results[0].Status != StatusConflict {
		t.Fatalf("setup: expected conflict, got %+v", out.Results[0])
	}

	resolved, err := svc.Resolve(ctx, "o7", ResolveClient, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Nothing creatable without a title: no record write, conflict done
	if resolved.Record != nil {
		t.Errorf("expected no record write, got %+v", resolved.Record)
	}
	if resolved.Conflict.Status != store.ConflictResolved {
		t.Errorf("conflict not resolved: %+v", resolved.Conflict)
	}
	var rs store.RecordStore
	if rec, _ := rs.Get(ctx, pool, store.KindNotes, "ghost"); rec != nil {
		t.Errorf("titleless resolution must not create the record: %+v", rec)
	}
}
