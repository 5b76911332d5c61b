package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/offlinekit/sync-api/internal/service/syncservice"
	"github.com/offlinekit/sync-api/internal/store"
	"github.com/rs/zerolog/log"
)

// resolveReq is the body of PUT /api/conflicts/{id}/resolve.
type resolveReq struct {
	Resolution   syncservice.Resolution `json:"resolution"`
	ResolvedData json.RawMessage        `json:"resolvedData,omitempty"`
}

// ListConflicts handles GET /api/conflicts?status=&kind=
func (s *Server) ListConflicts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var f store.ConflictFilter
	if q := r.URL.Query().Get("status"); q != "" {
		f.Status = store.ConflictStatus(q)
		if !f.Status.Valid() {
			writeError(w, 400, "status must be PENDING, RESOLVED or DISMISSED")
			return
		}
	}
	if q := r.URL.Query().Get("kind"); q != "" {
		f.Kind = store.Kind(q)
		if !f.Kind.Valid() {
			writeError(w, 400, "kind must be todos or notes")
			return
		}
	}

	conflicts, err := s.Sync.Conflicts(ctx, f)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list conflicts")
		writeError(w, 500, "failed to list conflicts")
		return
	}
	writeData(w, 200, "", conflicts)
}

// GetConflict handles GET /api/conflicts/{id}
func (s *Server) GetConflict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	c, err := s.Sync.Conflict(ctx, id)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("conflictId", id).Msg("failed to get conflict")
		writeError(w, 500, "failed to get conflict")
		return
	}
	if c == nil {
		writeError(w, 404, "conflict not found")
		return
	}
	writeData(w, 200, "", c)
}

// ConflictStats handles GET /api/conflicts/stats
func (s *Server) ConflictStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := s.Sync.ConflictStats(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to compute conflict stats")
		writeError(w, 500, "failed to compute conflict stats")
		return
	}
	writeData(w, 200, "", stats)
}

// ResolveConflict handles PUT /api/conflicts/{id}/resolve
func (s *Server) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req resolveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json")
		return
	}
	if !req.Resolution.Valid() {
		writeError(w, 400, "resolution must be CLIENT, SERVER or CUSTOM")
		return
	}

	out, err := s.Sync.Resolve(ctx, id, req.Resolution, req.ResolvedData)
	if err != nil {
		s.writeResolutionError(w, r, id, err)
		return
	}
	writeData(w, 200, "Conflict resolved", out)
}

// DismissConflict handles PUT /api/conflicts/{id}/dismiss
func (s *Server) DismissConflict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	out, err := s.Sync.Dismiss(ctx, id)
	if err != nil {
		s.writeResolutionError(w, r, id, err)
		return
	}
	writeData(w, 200, "Conflict dismissed", out)
}

func (s *Server) writeResolutionError(w http.ResponseWriter, r *http.Request, id string, err error) {
	switch {
	case errors.Is(err, store.ErrConflictNotFound):
		writeError(w, 404, "conflict not found")
	case errors.Is(err, store.ErrIllegalTransition):
		writeError(w, 409, "conflict is not pending")
	case errors.Is(err, syncservice.ErrCustomDataRequired),
		errors.Is(err, syncservice.ErrInvalidResolvedData):
		writeError(w, 400, err.Error())
	default:
		log.Ctx(r.Context()).Error().Err(err).Str("conflictId", id).Msg("conflict transition failed")
		writeError(w, 500, "internal error")
	}
}
