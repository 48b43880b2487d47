package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
	"git.home.luguber.info/inful/sitebuilder/internal/pipeline"
	"git.home.luguber.info/inful/sitebuilder/internal/services"
	"git.home.luguber.info/inful/sitebuilder/internal/storage"
)

// handleBuild runs the local pipeline for a remote caller. Once a build has
// started the reply is always 200; failure travels in success=false.
func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req services.SiteBuildRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.adapter.WriteErrorResponse(w, r, err)
		return
	}

	timeout := s.cfg.SiteBuild.Timeout
	if timeout > 0 {
		// The build may outlive the server-wide write deadline.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Now().Add(timeout + 30*time.Second))
	}
	ctx := r.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := s.deps.Builder.Build(ctx, pipeline.InputFromRequest(req))
	if err != nil {
		slog.Warn("Site build request failed",
			logfields.JobID(req.JobID), logfields.ProjectID(req.ProjectID), logfields.Error(err))
	}
	_ = writeJSON(w, http.StatusOK, res.Response())
}

func (s *Server) handleBuildHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Artifacts.List(r.Context(), storage.KindSite); err != nil {
		_ = writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": string(services.Unhealthy), "error": err.Error()})
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]string{"status": string(services.Healthy)})
}

func (s *Server) handleBuildArtifact(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	rc, a, err := s.deps.Artifacts.Open(r.Context(), ref)
	if err != nil {
		s.adapter.WriteErrorResponse(w, r, storeError(err, ref))
		return
	}
	defer rc.Close()
	streamZip(w, rc, a, string(a.Kind)+"-"+shortID(ref)+".zip")
}

func (s *Server) handleReleaseBuildArtifact(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if err := s.deps.Artifacts.Release(r.Context(), ref); err != nil {
		s.adapter.WriteErrorResponse(w, r, storeError(err, ref))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func storeError(err error, ref string) error {
	if storage.IsNotFound(err) {
		return derrors.NotFoundError("artifact not found").WithContext("ref", ref).Build()
	}
	return err
}
