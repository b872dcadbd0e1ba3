package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/inn-enricher/internal/config"
	"github.com/JakeFAU/inn-enricher/internal/enrich"
	"github.com/JakeFAU/inn-enricher/internal/learning"
	"github.com/JakeFAU/inn-enricher/internal/metrics"
)

// JobService enqueues jobs and reports their live state.
// scheduler.Coordinator satisfies it.
type JobService interface {
	Enqueue(ctx context.Context, jobID string, domains []string) (enrich.Job, error)
	Status(ctx context.Context, jobID string) (enrich.Job, error)
	List(ctx context.Context, status enrich.JobStatus, limit int) ([]enrich.Job, error)
}

// LearningService exposes the learning store to operators.
type LearningService interface {
	Summary(limit int) learning.Summary
	LearnFromManualURL(domain string, dataType enrich.DataType, confirmedURL string) error
}

// IDGenerator mints job ids for requests that do not bring one.
type IDGenerator interface {
	NewID() (string, error)
}

// Deps are the collaborators behind the handlers. Ready may be nil.
type Deps struct {
	Jobs     JobService
	Learning LearningService
	IDs      IDGenerator
	Ready    func(ctx context.Context) error
}

// Server wires HTTP handlers to the scheduler and learning store.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

const (
	requestTimeout = 60 * time.Second
	readyTimeout   = 3 * time.Second
)

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.accessLog)
	r.Use(s.recoverPanics)
	r.Use(metrics.Middleware)

	// Probes and scrapes stay reachable without an API key.
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		if cfg.Auth.Enabled {
			r.Use(requireAPIKey(cfg.Auth.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.enqueueJob)
			r.Get("/", s.listJobs)
			r.Get("/{job_id}", s.getJob)
		})
		r.Route("/learning", func(r chi.Router) {
			r.Get("/", s.learningSummary)
			r.Post("/manual", s.learnManual)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "job store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
