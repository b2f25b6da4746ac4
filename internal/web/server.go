// Package web provides the HTTP server and handlers for the migration API.
package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcstore/migrator/internal/config"
	"github.com/arcstore/migrator/internal/migration"
	"github.com/arcstore/migrator/internal/web/middleware"
)

// Server is the HTTP front end of the migration pipeline.
type Server struct {
	cfg    *config.Config
	orch   *migration.Orchestrator
	pool   *pgxpool.Pool
	router *chi.Mux
	server *http.Server
}

// NewServer wires the router, middleware, and routes.
func NewServer(cfg *config.Config, orch *migration.Orchestrator, pool *pgxpool.Pool) *Server {
	s := &Server{
		cfg:    cfg,
		orch:   orch,
		pool:   pool,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Server.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Compress(5))
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		general := middleware.NewRateLimiter(s.cfg.Rate.RequestsPerMinute)
		s.router.Use(general.Middleware)
	}
}

// setupRoutes configures all HTTP routes. Upload routes live in their
// own group: they skip the request timeout (a synchronous migration can
// outlive any fixed budget) and sit behind a stricter rate limit plus a
// circuit breaker.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	// Upload / start endpoints.
	s.router.Group(func(r chi.Router) {
		if s.cfg.Rate.Enabled {
			uploads := middleware.NewRateLimiter(s.cfg.Rate.UploadLimit)
			r.Use(uploads.Middleware)
		}
		breaker := middleware.NewCircuitBreaker(s.cfg.Rate.BreakerThreshold, s.cfg.Rate.BreakerCooldown)
		r.Use(breaker.Middleware)

		r.Post("/migration/excel/upload", s.handleUpload)
		r.Post("/migration/excel/upload-async", s.handleUploadAsync)
		r.Post("/api/migration/multisheet/start", s.handleMultiSheetStart)
	})

	// Status and introspection endpoints.
	s.router.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))

		r.Route("/migration/job/{jobID}", func(r chi.Router) {
			r.Get("/status", s.handleJobStatus)
			r.Post("/validate", s.handleValidate)
			r.Post("/apply", s.handleApply)
			r.Post("/reconcile", s.handleReconcile)
			r.Get("/errors/stats", s.handleErrorStats)
			r.Get("/errors/download", s.handleErrorDownload)
			r.Delete("/cleanup", s.handleCleanup)
		})

		r.Route("/migration/validation/{jobID}", func(r chi.Router) {
			r.Get("/steps", s.handleValidationSteps)
			r.Get("/current", s.handleValidationCurrent)
			r.Get("/summary", s.handleValidationSummary)
			r.Get("/report", s.handleValidationReport)
			r.Get("/performance", s.handleValidationPerformance)
			r.Get("/step/{ordinal}", s.handleValidationStep)
			r.Post("/check-timeout", s.handleValidationTimeout)
		})

		r.Route("/api/migration/multisheet/{jobID}", func(r chi.Router) {
			r.Get("/sheets", s.handleSheets)
			r.Get("/sheet/{sheetName}", s.handleSheet)
			r.Get("/progress", s.handleProgress)
			r.Get("/in-progress", s.handleInProgress)
			r.Get("/performance", s.handlePerformance)
			r.Get("/is-complete", s.handleIsComplete)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
