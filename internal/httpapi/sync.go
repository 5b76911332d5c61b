package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/offlinekit/sync-api/internal/opx"
	"github.com/rs/zerolog/log"
)

// Health handles GET /api/sync/health
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// SyncBatch handles POST /api/sync: decode, validate the whole batch
// pre-dispatch, then hand it to the processor. A batch whose results are
// all CONFLICT or ERROR is still a 200; the transport succeeded.
func (s *Server) SyncBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	var req opx.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn().Err(err).Msg("invalid sync request body")
		writeError(w, 400, "invalid json")
		return
	}

	if err := opx.ValidateBatch(&req); err != nil {
		logger.Warn().Err(err).Int("operations", len(req.Operations)).Msg("sync batch rejected")
		writeError(w, 400, err.Error())
		return
	}

	outcome := s.Sync.ProcessBatch(ctx, req.Operations)

	logger.Info().
		Int("total", outcome.Summary.Total).
		Int("applied", outcome.Summary.Applied).
		Int("conflicts", outcome.Summary.Conflicts).
		Int("errors", outcome.Summary.Errors).
		Msg("sync batch processed")

	writeData(w, 200, "Sync completed", outcome)
}
