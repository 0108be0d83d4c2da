// Package server exposes the provisioning orchestrator over HTTP: the
// provisioning stream, run inspection, cancellation, deployment settings,
// health, and the query dispatch endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/twinforge/twinforge/pkg/configstore"
	"github.com/twinforge/twinforge/pkg/dispatch"
	"github.com/twinforge/twinforge/pkg/health"
	"github.com/twinforge/twinforge/pkg/pipeline"
	"github.com/twinforge/twinforge/pkg/scenario"
	"github.com/twinforge/twinforge/pkg/telemetry"
)

// Config holds HTTP server settings.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// AllowedOrigins configures CORS. Empty allows any origin.
	AllowedOrigins []string

	// ReadHeaderTimeout bounds header parsing. Response writes are not
	// bounded because the provisioning stream is long-lived.
	ReadHeaderTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		AllowedOrigins:    []string{"*"},
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   15 * time.Second,
	}
}

// RunReader reads persisted run state and progress. Implemented by the
// SQLite store.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*pipeline.RunState, error)
	GetProgress(ctx context.Context, runID string) ([]pipeline.ProgressEvent, error)
	ListRuns(ctx context.Context, scenarioID string, limit int) ([]*pipeline.RunState, error)
}

// Server is the HTTP front of the orchestrator.
type Server struct {
	cfg        Config
	orch       *pipeline.Orchestrator
	scenarios  *scenario.Loader
	runs       RunReader
	settings   *configstore.Store
	checker    *health.Checker
	dispatcher *dispatch.Dispatcher
	tel        *telemetry.Telemetry

	httpServer *http.Server
}

// New wires a server from its collaborators.
func New(cfg Config, orch *pipeline.Orchestrator, scenarios *scenario.Loader, runs RunReader,
	settings *configstore.Store, checker *health.Checker, dispatcher *dispatch.Dispatcher,
	tel *telemetry.Telemetry) *Server {

	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = DefaultConfig().ReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	if tel == nil {
		tel = telemetry.NewTestTelemetry()
	}

	s := &Server{
		cfg:        cfg,
		orch:       orch,
		scenarios:  scenarios,
		runs:       runs,
		settings:   settings,
		checker:    checker,
		dispatcher: dispatcher,
		tel:        tel,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/provision", s.handleProvision).Methods("POST")
	r.HandleFunc("/api/scenarios", s.handleListScenarios).Methods("GET")
	r.HandleFunc("/api/runs", s.handleListRuns).Methods("GET")
	r.HandleFunc("/api/runs/{id}", s.handleGetRun).Methods("GET")
	r.HandleFunc("/api/runs/{id}/progress", s.handleRunProgress).Methods("GET")
	r.HandleFunc("/api/runs/{id}/cancel", s.handleCancelRun).Methods("POST")
	r.HandleFunc("/api/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/config", s.handleGetConfig).Methods("GET")
	r.HandleFunc("/api/config", s.handlePutConfig).Methods("PUT")
	r.HandleFunc("/api/query/graph", s.handleQueryGraph).Methods("POST")
	r.HandleFunc("/api/query/telemetry", s.handleQueryTelemetry).Methods("POST")
	r.Handle("/metrics", s.tel.Metrics.Handler()).Methods("GET")

	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

// ListenAndServe runs the server until it is shut down.
func (s *Server) ListenAndServe() error {
	s.tel.Logger.Info("HTTP server listening", "addr", s.cfg.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests. Background provisioning runs are not
// interrupted; they keep persisting state through the run store.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
