// Package server exposes the generation job API, the site-build service
// endpoints, health and metrics over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"git.home.luguber.info/inful/sitebuilder/internal/config"
	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/jobs"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
	"git.home.luguber.info/inful/sitebuilder/internal/pipeline"
	"git.home.luguber.info/inful/sitebuilder/internal/server/middleware"
	"git.home.luguber.info/inful/sitebuilder/internal/services"
	"git.home.luguber.info/inful/sitebuilder/internal/storage"
)

// Deps are the collaborators behind the routes. A nil Jobs disables the
// generation API; a nil Builder disables the site-build service role.
type Deps struct {
	Jobs      *jobs.Orchestrator
	Builder   *pipeline.Builder
	Artifacts storage.ArtifactStore
	Services  *services.Client
	Metrics   http.Handler

	// Probes are checked by /health next to the job store.
	Probes []services.Probe
}

// Server is the HTTP front of a sitebuilder instance.
type Server struct {
	cfg      *config.Config
	deps     Deps
	router   *chi.Mux
	server   *http.Server
	adapter  *derrors.HTTPErrorAdapter
	validate *validator.Validate
	streams  *streamHub
	listener net.Listener
}

// New builds the router and the underlying http.Server.
func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		router:   chi.NewRouter(),
		adapter:  derrors.NewHTTPErrorAdapter(slog.Default()),
		validate: validator.New(),
		streams:  newStreamHub(),
	}
	if deps.Jobs != nil {
		deps.Jobs.Bus().Subscribe("", s.streams.publish)
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(middleware.Chain(slog.Default(), s.adapter))
	s.router.Use(middleware.Correlation)

	s.router.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil && s.cfg.Metrics.Enabled {
		s.router.Method(http.MethodGet, s.cfg.Metrics.Path, s.deps.Metrics)
	}

	if s.deps.Jobs != nil {
		s.router.Route("/api/generations", func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Post("/", s.handleSubmit)
			r.Get("/", s.handleHistory)
			r.Get("/{id}", s.handleStatus)
			r.Post("/{id}/cancel", s.handleCancel)
			r.Get("/{id}/artifacts/{kind}", s.handleArtifact)
			r.Get("/{id}/events", s.handleTimeline)
			r.Get("/{id}/stream", s.handleStream)
		})
	}

	if s.deps.Builder != nil && s.deps.Artifacts != nil {
		s.router.Post(services.BuildGeneratePath, s.handleBuild)
		s.router.Get(services.BuildHealthPath, s.handleBuildHealth)
		s.router.Get(services.BuildArtifactsPath+"{ref}", s.handleBuildArtifact)
		s.router.Delete(services.BuildArtifactsPath+"{ref}", s.handleReleaseBuildArtifact)
	}
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Listen binds the configured address so bind errors surface before serving.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return derrors.WrapError(err, derrors.CategoryConfig, "failed to bind http listener").
			WithContext("addr", s.cfg.Server.Addr).Build()
	}
	s.listener = ln
	return nil
}

// Addr is the bound address once Listen has run.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Server.Addr
	}
	return s.listener.Addr().String()
}

// Serve blocks until the server is shut down. It binds first when Listen
// has not been called.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	slog.Info("HTTP server listening", logfields.URL(s.Addr()))
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes open event streams and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.streams.closeAll()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var probes []services.Probe
	if s.deps.Jobs != nil {
		probes = s.deps.Jobs.Probes()
	}
	probes = append(probes, s.deps.Probes...)
	var report services.HealthReport
	if s.deps.Services != nil {
		report = s.deps.Services.HealthCheck(r.Context(), probes...)
	} else {
		report = services.HealthReport{Overall: services.Healthy, Dependencies: []services.DependencyHealth{}, CheckedAt: time.Now().UTC()}
	}
	status := http.StatusOK
	if report.Overall == services.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	_ = writeJSON(w, status, report)
}

// writeJSON serializes v into a buffer first so a failed encode never sends
// a partial body.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(v); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("failed writing JSON response body", logfields.Error(err))
		return err
	}
	return nil
}

// decodeJSON reads a bounded request body into v and validates it.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return derrors.WrapError(err, derrors.CategoryValidation, "invalid JSON body").Build()
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		b := derrors.WrapError(err, derrors.CategoryValidation, "invalid request")
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				b = b.WithContext(fe.Field(), fe.Tag())
			}
		}
		return b.Build()
	}
	return nil
}

const maxBodyBytes = 8 << 20
