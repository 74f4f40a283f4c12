package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dealguard/internal/domain"
	"dealguard/internal/ratelimit"
	"dealguard/internal/services/gateway"
	"dealguard/internal/services/intake"
	"dealguard/internal/services/ledger"
	"dealguard/internal/services/override"
)

// Server wires the HTTP surface over the service layer. All routes are JSON.
type Server struct {
	Intake    *intake.Service
	Gateway   *gateway.Service
	Overrides *override.Service
	Ledger    *ledger.Service
	Limiter   ratelimit.Limiter // optional
	RateLimit int               // requests per limiter window, per client
}

func (s *Server) Router(extra ...func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	for _, mount := range extra {
		mount(r)
	}

	r.Group(func(r chi.Router) {
		if s.Limiter != nil {
			r.Use(ratelimit.Middleware(s.Limiter, s.RateLimit))
		}
		r.Post("/entities", s.createEntity)
		r.Get("/entities/{id}", s.getEntity)
		r.Put("/entities/{id}/evidence", s.attachEvidence)
		r.Get("/entities/{id}/evidence", s.listEvidence)
		r.Post("/entities/{id}/health", s.recordHealth)
		r.Get("/entities/{id}/decisions", s.listDecisions)
		r.Put("/actors/{id}", s.upsertActor)
		r.Post("/authorize", s.authorize)
		r.Post("/overrides", s.requestOverride)
		r.Post("/overrides/{id}/approve", s.approveOverride)
		r.Post("/overrides/{id}/deny", s.denyOverride)
		r.Get("/overrides/{id}", s.getOverride)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain errors onto status codes. Internal failures
// stay generic on the wire.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent modification, retry")
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrTokenExpired),
		errors.Is(err, domain.ErrTokenAlreadyConsumed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrOverrideInvalid),
		errors.Is(err, override.ErrJustificationRequired),
		errors.Is(err, intake.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
