// Package server exposes the engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/registry"
	"github.com/rendis/waypoint/internal/scheduler"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/internal/streaming"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 10 * time.Second

// Engine is the slice of *engine.Processor the server calls.
type Engine interface {
	Run(ctx context.Context, req engine.RunRequest) (*engine.RunResult, error)
	Inspect(ctx context.Context, key string) (*engine.InstanceView, error)
	Events(ctx context.Context, key string, since int64) ([]*store.Event, error)
	Instances(ctx context.Context, filter store.InstanceFilter) ([]*store.Entity, error)
	RequestTransition(ctx context.Context, key, id string) error
	Visited(ctx context.Context, key string) ([]string, error)
}

// Workflows lists and resolves workflow blocks. Satisfied by *registry.Registry.
type Workflows interface {
	Workflow(name string) (*registry.Block, error)
	Names() []string
}

// Schedules reports cron jobs. Satisfied by *scheduler.Scheduler.
type Schedules interface {
	Jobs() []scheduler.JobStatus
}

// Deps holds the server's collaborators. Hub, Metrics and Schedules are
// optional; their routes answer 404 when unset.
type Deps struct {
	Engine    Engine
	Workflows Workflows
	Hub       streaming.EventHub
	Metrics   http.Handler
	Schedules Schedules
	Logger    *slog.Logger
}

// Server serves the waypoint HTTP API.
type Server struct {
	deps Deps
}

// New creates a Server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/workflows", s.handleWorkflows)
		r.Get("/workflows/{name}", s.handleWorkflow)
		r.Get("/workflows/{name}/diagram", s.handleDiagram)
		r.Post("/workflows/{name}/instances/{key}/run", s.handleRun)

		r.Get("/instances", s.handleInstances)
		r.Get("/instances/{key}", s.handleInstance)
		r.Get("/instances/{key}/events", s.handleEvents)
		r.Get("/instances/{key}/stream", s.handleInstanceStream)
		r.Post("/instances/{key}/transitions/{id}", s.handleRequestTransition)

		r.Get("/stream", s.handleStream)
		r.Get("/schedules", s.handleSchedules)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.deps.Logger.Info("http server stopped")
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.deps.Logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
