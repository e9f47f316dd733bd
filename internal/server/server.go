// Package server exposes the tiered memory system over HTTP: threat
// ingestion and analyst interactions against working memory, promotion
// and triage endpoints for short-term memory, consolidation and export
// bookkeeping for long-term memory, plus health and status surfaces
// backed by the resilience monitor.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opsignal/threatmem/internal/memory"
	"github.com/opsignal/threatmem/internal/otel"
)

const defaultTimeout = 30 * time.Second

// Server holds all dependencies for the HTTP API.
type Server struct {
	router    *chi.Mux
	svc       *memory.Service
	decay     *memory.DecayWorker
	startTime time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithDecayWorker enables POST /v1/decay/run for on-demand decay sweeps.
func WithDecayWorker(w *memory.DecayWorker) Option {
	return func(s *Server) { s.decay = w }
}

// NewServer builds a Server over the memory service and optional Option(s).
func NewServer(svc *memory.Service, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		svc:       svc,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the configured http.Handler (chi router with all
// middleware and routes).
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.Middleware())
	r.Use(middleware.Timeout(defaultTimeout))

	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)
	r.Get("/v1/status", s.handleStatus)

	// Working memory (L1): active investigations.
	r.Route("/v1/threats", func(r chi.Router) {
		r.Post("/", s.handleAddThreat)
		r.Get("/", s.handleListActive)
		r.Get("/hot", s.handleHotThreats)
		r.Get("/stale", s.handleStaleThreats)
		r.Get("/{threat_id}", s.handleGetThreat)
		r.Delete("/{threat_id}", s.handleDismissThreat)
		r.Post("/{threat_id}/interactions", s.handleRecordInteraction)
		r.Post("/{threat_id}/promote", s.handlePromoteToShortTerm)
	})

	// Short-term memory (L2): validated threats awaiting triage.
	r.Route("/v1/short-term", func(r chi.Router) {
		r.Get("/", s.handleTopShortTerm)
		r.Get("/{id}", s.handleGetShortTerm)
		r.Post("/{id}/reinforce", s.handleReinforce)
		r.Post("/{id}/promote", s.handlePromoteToLongTerm)
	})

	// Long-term memory (L3): durable intelligence.
	r.Route("/v1/long-term", func(r chi.Router) {
		r.Get("/export-pending", s.handleExportPending)
		r.Get("/industry/{industry}", s.handleGetByIndustry)
		r.Get("/{id}", s.handleGetLongTerm)
		r.Post("/{id}/consolidate", s.handleConsolidate)
		r.Post("/{id}/fact", s.handleSetFact)
		r.Post("/{id}/exported", s.handleMarkExported)
	})

	// Resilience surfaces.
	r.Get("/v1/dead-letters", s.handleDeadLetters)
	r.Post("/v1/dead-letters/replay", s.handleReplayDeadLetters)
	if s.decay != nil {
		r.Post("/v1/decay/run", s.handleDecayRun)
	}

	return r
}
