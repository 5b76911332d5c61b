package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/offlinekit/sync-api/internal/opx"
	"github.com/offlinekit/sync-api/internal/store"
	"github.com/rs/zerolog/log"
)

// REST CRUD for records. These routes serve interactive clients that are
// online; offline mutations go through /api/sync. All writes run through
// the same stores and coordinator as sync, so version monotonicity and
// soft-delete semantics are identical. Optimistic concurrency uses the
// If-Match header carrying the expected version; a mismatch is a 409.

// parseIfMatchVersion extracts the expected version from If-Match.
// Handles both quoted ETags (If-Match: "5") and unquoted (If-Match: 5)
// per RFC 7232 section 2.3.
func parseIfMatchVersion(r *http.Request) (int, bool) {
	etag := r.Header.Get("If-Match")
	if etag == "" {
		return 0, false
	}
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		etag = etag[1 : len(etag)-1]
	}
	v, err := strconv.Atoi(etag)
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}

func parseIncludeDeleted(r *http.Request) bool {
	return r.URL.Query().Get("includeDeleted") == "true"
}

// ListRecords handles GET /api/{kind}
func (s *Server) ListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, ok := parseKindParam(r)
	if !ok {
		writeError(w, 404, "unknown collection")
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"), 100, 500)
	records, err := s.records.List(ctx, s.DB, kind, limit, parseIncludeDeleted(r))
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("kind", string(kind)).Msg("failed to list records")
		writeError(w, 500, "failed to list records")
		return
	}
	writeData(w, 200, "", records)
}

// CreateRecord handles POST /api/{kind}. The server generates an id when
// the client does not choose one.
func (s *Server) CreateRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, ok := parseKindParam(r)
	if !ok {
		writeError(w, 404, "unknown collection")
		return
	}

	var p opx.Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, 400, "invalid json")
		return
	}
	if p.Title == nil || *p.Title == "" {
		writeError(w, 400, "title is required")
		return
	}
	if len(*p.Title) > opx.MaxTitleLen {
		writeError(w, 400, "title too long")
		return
	}
	if p.Status != nil {
		if !kind.HasStatus() {
			writeError(w, 400, "status is only valid for todos")
			return
		}
		if !store.TodoStatuses[*p.Status] {
			writeError(w, 400, "invalid status")
			return
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	rec := &store.Record{
		ID:        p.ID,
		Title:     *p.Title,
		Content:   p.Content,
		CreatedAt: opx.TimeOrNow(nil),
		UpdatedAt: opx.TimeOrNow(nil),
	}
	if p.Status != nil {
		rec.Status = *p.Status
	}

	var created *store.Record
	err := s.Sync.Coord.Serialized(ctx, kind, p.ID, func(tx pgx.Tx) error {
		var err error
		created, err = s.records.Insert(ctx, tx, kind, rec)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, 409, "record already exists")
			return
		}
		log.Ctx(ctx).Error().Err(err).Str("kind", string(kind)).Msg("failed to create record")
		writeError(w, 500, "failed to create record")
		return
	}
	writeData(w, 201, "", created)
}

// GetRecord handles GET /api/{kind}/{id}. A tombstone is a 410 so
// clients can distinguish "deleted" from "never existed".
func (s *Server) GetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, ok := parseKindParam(r)
	if !ok {
		writeError(w, 404, "unknown collection")
		return
	}
	id := chi.URLParam(r, "id")

	rec, err := s.records.Get(ctx, s.DB, kind, id)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("kind", string(kind)).Str("id", id).Msg("failed to get record")
		writeError(w, 500, "failed to get record")
		return
	}
	if rec == nil {
		writeError(w, 404, "record not found")
		return
	}
	if rec.DeletedAt != nil {
		writeError(w, 410, "record deleted")
		return
	}
	writeData(w, 200, "", rec)
}

// UpdateRecord handles PUT /api/{kind}/{id} with If-Match version.
func (s *Server) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, ok := parseKindParam(r)
	if !ok {
		writeError(w, 404, "unknown collection")
		return
	}
	id := chi.URLParam(r, "id")

	var p opx.Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, 400, "invalid json")
		return
	}
	expected, ok := parseIfMatchVersion(r)
	if !ok {
		if p.Version < 1 {
			writeError(w, 400, "If-Match header or version field is required")
			return
		}
		expected = p.Version
	}
	if p.Title != nil && (*p.Title == "" || len(*p.Title) > opx.MaxTitleLen) {
		writeError(w, 400, "invalid title")
		return
	}
	if p.Status != nil && (!kind.HasStatus() || !store.TodoStatuses[*p.Status]) {
		writeError(w, 400, "invalid status")
		return
	}

	var updated *store.Record
	err := s.Sync.Coord.Serialized(ctx, kind, id, func(tx pgx.Tx) error {
		var err error
		updated, err = s.records.UpdateIfVersion(ctx, tx, kind, id, expected, p.Fields())
		return err
	})
	if err != nil {
		s.writeRecordWriteError(w, r, kind, id, err)
		return
	}
	writeData(w, 200, "", updated)
}

// DeleteRecord handles DELETE /api/{kind}/{id} with If-Match version.
// REST deletion is strict, unlike the sync processor's tolerant path:
// an absent or already-deleted record is a 404.
func (s *Server) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, ok := parseKindParam(r)
	if !ok {
		writeError(w, 404, "unknown collection")
		return
	}
	id := chi.URLParam(r, "id")

	expected, ok := parseIfMatchVersion(r)
	if !ok {
		writeError(w, 400, "If-Match header is required")
		return
	}

	var tombstone *store.Record
	err := s.Sync.Coord.Serialized(ctx, kind, id, func(tx pgx.Tx) error {
		var err error
		tombstone, err = s.records.SoftDeleteIfVersion(ctx, tx, kind, id, expected)
		return err
	})
	if err != nil {
		s.writeRecordWriteError(w, r, kind, id, err)
		return
	}
	writeData(w, 200, "", tombstone)
}

func (s *Server) writeRecordWriteError(w http.ResponseWriter, r *http.Request, kind store.Kind, id string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, 404, "record not found")
	case errors.Is(err, store.ErrVersionMismatch):
		writeError(w, 409, "version mismatch")
	default:
		log.Ctx(r.Context()).Error().Err(err).Str("kind", string(kind)).Str("id", id).Msg("record write failed")
		writeError(w, 500, "internal error")
	}
}
