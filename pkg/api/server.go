// Package api exposes the HTTP management surface: rule CRUD, manual
// and dry-run passes, previews, and the pending-action audit trail.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"custodian-hq/custodian/pkg/actions"
	"custodian-hq/custodian/pkg/catalog"
	"custodian-hq/custodian/pkg/config"
	"custodian-hq/custodian/pkg/rules"
	rulestore "custodian-hq/custodian/pkg/rules/store"
	"custodian-hq/custodian/pkg/scheduler"
	"custodian-hq/custodian/pkg/telemetry/health"
)

// Runner is the scheduler surface the API drives.
type Runner interface {
	RunNow(ctx context.Context, ruleID string) (*scheduler.PassSummary, error)
	Refresh(ctx context.Context) error
}

// PassPreviewer evaluates a pass without writing anything.
type PassPreviewer interface {
	DryRun(ctx context.Context, rule *rules.Rule, now time.Time) (*scheduler.PassSummary, error)
}

// Server is the management HTTP server.
type Server struct {
	config      *config.ServerConfig
	rules       rulestore.Store
	manager     *actions.Manager
	store       actions.Store
	runner      Runner
	dryRun      PassPreviewer
	gateway     catalog.Gateway
	metrics     http.Handler
	metricsPath string
	health      *health.Checker
	logger      *slog.Logger

	httpServer   *http.Server
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.Mutex
	isRunning    bool
}

// Deps collects the server's collaborators.
type Deps struct {
	Rules   rulestore.Store
	Manager *actions.Manager
	Actions actions.Store
	Runner  Runner
	DryRun  PassPreviewer
	Gateway catalog.Gateway

	// Metrics, when non-nil, is mounted at MetricsPath ("/metrics"
	// when empty).
	Metrics     http.Handler
	MetricsPath string
}

// NewServer creates the management server.
func NewServer(cfg *config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	metricsPath := deps.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	checker := health.New(0)
	checker.Register("rule_store", func(ctx context.Context) error {
		_, err := deps.Rules.List(ctx)
		return err
	})
	checker.Register("action_store", func(ctx context.Context) error {
		_, err := deps.Actions.List(ctx, actions.Query{Limit: 1})
		return err
	})

	return &Server{
		config:       cfg,
		rules:        deps.Rules,
		manager:      deps.Manager,
		store:        deps.Actions,
		runner:       deps.Runner,
		dryRun:       deps.DryRun,
		gateway:      deps.Gateway,
		metrics:      deps.Metrics,
		metricsPath:  metricsPath,
		health:       checker,
		logger:       logger.With("component", "api"),
		shutdownChan: make(chan struct{}),
	}
}

// Start runs the HTTP server and blocks until the context is cancelled
// or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      s.Routes(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("management server listening", "address", s.config.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case <-s.shutdownChan:
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)

		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("management server stopped")
	})

	return shutdownErr
}

// Routes builds the chi router. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, s.metricsPath, s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Post("/preview", s.handlePreview)
			r.Route("/{ruleID}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.Put("/", s.handleUpdateRule)
				r.Delete("/", s.handleDeleteRule)
				r.Post("/enable", s.handleEnableRule)
				r.Post("/disable", s.handleDisableRule)
				r.Post("/run", s.handleRunRule)
			})
		})

		r.Route("/actions", func(r chi.Router) {
			r.Get("/", s.handleListActions)
			r.Route("/{actionID}", func(r chi.Router) {
				r.Get("/", s.handleGetAction)
				r.Post("/cancel", s.handleCancelAction)
				r.Get("/results", s.handleActionResults)
			})
		})

		r.Get("/results", s.handleListResults)
	})

	return r
}

// handleHealth reports overall status plus per-store reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
