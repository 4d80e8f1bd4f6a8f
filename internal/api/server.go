// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the relay's operator HTTP surface: stream start/stop,
// runtime inspection, scheduled terminations and manual reconciliation.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/streamrelay/internal/api/middleware"
	"github.com/ManuGH/streamrelay/internal/auth"
	"github.com/ManuGH/streamrelay/internal/domain/stream/reconciler"
	"github.com/ManuGH/streamrelay/internal/domain/stream/scheduler"
	"github.com/ManuGH/streamrelay/internal/domain/stream/supervisor"
	"github.com/ManuGH/streamrelay/internal/log"
)

// Supervisor is the part of the stream supervisor the API drives.
type Supervisor interface {
	Start(ctx context.Context, id string) (supervisor.Result, error)
	Stop(ctx context.Context, id string) (supervisor.Result, error)
	ListActive() []string
	GetRuntimeInfo(id string) (supervisor.RuntimeInfo, bool)
	GetLogs(id string) []supervisor.LogEntry
	LastError(id string) string
	ResetRuntime(id string) error
}

// Terminations lists pending duration-limit stops.
type Terminations interface {
	GetScheduledTerminations() map[string]scheduler.TerminationInfo
}

// Syncer runs one reconciliation pass on demand.
type Syncer interface {
	SyncStatuses(ctx context.Context) reconciler.Report
}

// Probes serves liveness and readiness.
type Probes interface {
	ServeHealth(w http.ResponseWriter, r *http.Request)
	ServeReady(w http.ResponseWriter, r *http.Request)
}

// Config configures the control API.
type Config struct {
	// Token protects /api; empty leaves the API open (loopback deployments).
	Token             string
	RequestsPerMinute int
	TracingService    string
}

// Deps are the components behind the API.
type Deps struct {
	Supervisor   Supervisor
	Terminations Terminations
	Syncer       Syncer
	Probes       Probes
}

// Server is the control API.
type Server struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger
}

// New returns a Server.
func New(cfg Config, deps Deps) *Server {
	return &Server{cfg: cfg, deps: deps, logger: log.WithComponent("api")}
}

// Handler builds the routed handler with the full middleware stack.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:     true,
		TracingService:    s.cfg.TracingService,
		EnableLogging:     true,
		RequestsPerMinute: s.cfg.RequestsPerMinute,
	})

	if s.deps.Probes != nil {
		r.Get("/healthz", s.deps.Probes.ServeHealth)
		r.Get("/readyz", s.deps.Probes.ServeReady)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/streams/active", s.handleListActive)
		r.Route("/streams/{id}", func(r chi.Router) {
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/reset-runtime", s.handleResetRuntime)
			r.Get("/runtime", s.handleRuntime)
			r.Get("/logs", s.handleLogs)
		})
		r.Get("/terminations", s.handleTerminations)
		r.Post("/sync", s.handleSync)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeNotFound(w, r, "no such endpoint")
	})
	return r
}

// authMiddleware enforces the API token when one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.cfg.Token == "" {
		s.logger.Warn().Str(log.FieldEvent, "auth.disabled").Msg("API token not set; control API is unauthenticated")
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractToken(r)
		if !auth.AuthorizeToken(token, s.cfg.Token) {
			logger := log.WithComponentFromContext(r.Context(), "auth")
			logger.Warn().
				Str(log.FieldEvent, "auth.invalid_token").
				Bool("token_present", token != "").
				Msg("rejected control API request")
			writeUnauthorized(w, r)
			return
		}
		ctx := auth.WithPrincipal(r.Context(), auth.NewPrincipal(token))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
