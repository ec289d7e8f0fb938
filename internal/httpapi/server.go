// Package httpapi exposes job triggers, progress long-polling, outlier
// ranking and the archive over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/go-retitler/internal/archive"
	"github.com/jmylchreest/go-retitler/internal/jobs"
	"github.com/jmylchreest/go-retitler/internal/outliers"
	"github.com/jmylchreest/go-retitler/internal/version"
)

// Jobs starts and tracks background jobs
type Jobs interface {
	StartScan(newerThan string) (jobs.Job, error)
	StartBulkIndex(olderThan string) (jobs.Job, error)
	StartBatch(documentIDs []int) (jobs.Job, error)
	StartWebhook(documentID int) (jobs.Job, error)
	Registry() *jobs.Registry
}

// Ranker ranks indexed documents by isolation
type Ranker interface {
	Rank(ctx context.Context, k, limit int) ([]outliers.Score, error)
}

// Archive is the queryable audit log
type Archive interface {
	Query(ctx context.Context, kind archive.Kind, q archive.Query) (*archive.Page, error)
	Clear(ctx context.Context, kind archive.Kind) (int64, error)
}

// Pinger is a dependency whose reachability /api/health reports
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config controls long-poll waits and health checks
type Config struct {
	DefaultWait time.Duration
	MaxWait     time.Duration
	// Checks are pinged by /api/health, keyed by name
	Checks map[string]Pinger
}

const healthCheckTimeout = 5 * time.Second

// Server serves the /api routes
type Server struct {
	jobs    Jobs
	ranker  Ranker
	archive Archive
	cfg     Config
	logger  *slog.Logger
}

// New creates a server
func New(j Jobs, ranker Ranker, arch Archive, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultWait <= 0 {
		cfg.DefaultWait = 60 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Minute
	}
	return &Server{
		jobs:    j,
		ranker:  ranker,
		archive: arch,
		cfg:     cfg,
		logger:  logger.With("component", "http"),
	}
}

// Router builds the HTTP handler
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/scan", s.handleScan)
		r.Post("/index", s.handleIndex)
		r.Post("/process-documents", s.handleProcessDocuments)
		r.Post("/webhook", s.handleWebhook)
		r.Get("/progress", s.handleProgress)
		r.Get("/find-outliers", s.handleFindOutliers)
		r.Get("/archive", s.handleGetArchive)
		r.Delete("/archive", s.handleClearArchive)
	})

	return r
}

// requestLogger logs each request at debug level
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Millisecond),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	code, status := http.StatusOK, "ok"
	checks := make(map[string]string, len(s.cfg.Checks))
	for name, c := range s.cfg.Checks {
		if err := c.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", "check", name, "error", err)
			checks[name] = err.Error()
			code, status = http.StatusServiceUnavailable, "degraded"
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, code, map[string]any{"status": status, "version": version.Version, "checks": checks})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
