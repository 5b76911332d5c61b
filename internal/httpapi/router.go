package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/offlinekit/sync-api/internal/service/syncservice"
	"github.com/offlinekit/sync-api/internal/store"
	"github.com/rs/zerolog/log"
)

// Server holds dependencies for HTTP handlers
type Server struct {
	DB              *pgxpool.Pool
	Sync            *syncservice.Service
	RateLimitConfig RateLimitConfig

	records store.RecordStore
}

// New wires the server over a pool.
func New(pool *pgxpool.Pool) *Server {
	return &Server{
		DB:              pool,
		Sync:            syncservice.New(pool),
		RateLimitConfig: DefaultRateLimitConfig,
	}
}

// envelope is the uniform response wrapper.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeData wraps data in a success envelope.
func writeData(w http.ResponseWriter, code int, message string, data any) {
	writeJSON(w, code, envelope{Success: true, Message: message, Data: data})
}

// writeError wraps a failure message in the envelope.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, envelope{Success: false, Error: msg})
}

// parseLimit parses a limit query param with default and max
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// parseKindParam validates the {kind} URL segment.
func parseKindParam(r *http.Request) (store.Kind, bool) {
	k := store.Kind(chi.URLParam(r, "kind"))
	return k, k.Valid()
}

// Routes creates the HTTP router with all endpoints
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorrelationMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.RateLimitMiddleware())

		// Sync
		r.Get("/sync/health", s.Health)
		r.Post("/sync", s.SyncBatch)

		// Conflicts
		r.Route("/conflicts", func(r chi.Router) {
			r.Get("/", s.ListConflicts)
			r.Get("/stats", s.ConflictStats)
			r.Get("/{id}", s.GetConflict)
			r.Put("/{id}/resolve", s.ResolveConflict)
			r.Put("/{id}/dismiss", s.DismissConflict)
		})

		// Per-kind CRUD (todos, notes)
		r.Route("/{kind}", func(r chi.Router) {
			r.Get("/", s.ListRecords)
			r.Post("/", s.CreateRecord)
			r.Get("/{id}", s.GetRecord)
			r.Put("/{id}", s.UpdateRecord)
			r.Delete("/{id}", s.DeleteRecord)
		})
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
