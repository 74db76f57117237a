package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/config"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
	"github.com/JakeFAU/listing-harvester/internal/orchestrator"
	"github.com/JakeFAU/listing-harvester/internal/scrape"
	"github.com/JakeFAU/listing-harvester/internal/session"
)

// Scraper runs the synchronous workflows. *orchestrator.Orchestrator
// satisfies it.
type Scraper interface {
	Login(ctx context.Context, creds scrape.Credentials) (session.Session, error)
	Channels(ctx context.Context, req scrape.JobRequest) (scrape.ChannelResult, error)
	Videos(ctx context.Context, sessionID string) (scrape.PageSummary, error)
	Page(ctx context.Context, req orchestrator.PageRequest) (orchestrator.PageResult, error)
	LoginAndExtract(ctx context.Context, req orchestrator.ExtractRequest) (orchestrator.ExtractResult, error)
}

// Sessions is the registry surface the API needs.
type Sessions interface {
	Lookup(id string) (session.Session, error)
	Close(id string) bool
}

// Enqueuer hands jobs to the worker pool. *dispatcher.Dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, item scrape.QueueItem) error
}

// Deps are the collaborators of a Server.
type Deps struct {
	Jobs     scrape.JobStore
	Sessions Sessions
	Scraper  Scraper
	Queue    Enqueuer
	Clock    scrape.Clock
	// Ready reports whether background workers are accepting jobs. Nil
	// means always ready.
	Ready func() error
}

// Server wires HTTP handlers to the job store, registry and orchestrator.
type Server struct {
	router   chi.Router
	deps     Deps
	cfg      config.Config
	validate *validator.Validate
	logger   *zap.Logger
}

const enqueueTimeout = 5 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, cfg: cfg, validate: newValidator(), logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Server.RequestTimeout > 0 {
			r.Use(timeoutMiddleware(cfg.Server.RequestTimeout))
		}
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}

		r.Get("/", s.root)
		r.Post("/login", s.login)
		r.Get("/sessions/{session_id}", s.getSession)
		r.Delete("/sessions/{session_id}", s.deleteSession)

		r.Post("/scrape-channels", s.scrapeChannels)
		r.Post("/scrape-channels/start", s.startChannels)
		r.Get("/scrape-channels/result/{job_id}", s.jobResult(scrape.JobKindChannels))

		r.Post("/scrape-nichos/start", s.startNiches)
		r.Get("/scrape-nichos/result/{job_id}", s.jobResult(scrape.JobKindNiches))

		r.Post("/login-and-scrape", s.loginAndScrape)
		r.Post("/navigate-to-videos", s.navigateToVideos)
		r.Post("/scrape", s.scrapePage)
		r.Get("/jobs/{job_id}", s.jobResult(""))
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "listing-harvester",
		"status":  "running",
		"endpoints": []string{
			"POST /login",
			"GET /sessions/{session_id}",
			"DELETE /sessions/{session_id}",
			"POST /scrape-channels",
			"POST /scrape-channels/start",
			"GET /scrape-channels/result/{job_id}",
			"POST /scrape-nichos/start",
			"GET /scrape-nichos/result/{job_id}",
			"POST /login-and-scrape",
			"POST /navigate-to-videos",
			"POST /scrape",
			"GET /jobs/{job_id}",
		},
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) now() time.Time {
	if s.deps.Clock == nil {
		return time.Now().UTC()
	}
	return s.deps.Clock.Now()
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
