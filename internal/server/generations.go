package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/jobs"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
	"git.home.luguber.info/inful/sitebuilder/internal/server/middleware"
	"git.home.luguber.info/inful/sitebuilder/internal/storage"
)

// submitRequest is the body of POST /api/generations.
type submitRequest struct {
	ProjectID      string         `json:"projectId" validate:"required,max=128"`
	ThemeID        string         `json:"themeId" validate:"omitempty,max=64"`
	AutoDetect     *bool          `json:"autoDetect"`
	Customizations map[string]any `json:"customizations"`
	ContentOptions map[string]any `json:"contentOptions"`
}

type submitResponse struct {
	JobID  string      `json:"jobId"`
	Status jobs.Status `json:"status"`
}

type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	if err := s.decodeJSON(w, r, &body); err != nil {
		s.adapter.WriteErrorResponse(w, r, err)
		return
	}
	autoDetect := body.ThemeID == ""
	if body.AutoDetect != nil {
		autoDetect = *body.AutoDetect || body.ThemeID == ""
	}

	job, err := s.deps.Jobs.Submit(r.Context(), jobs.SubmitRequest{
		ProjectID: body.ProjectID,
		UserID:    middleware.UserID(r.Context()),
		Options: jobs.Options{
			ThemeID:        body.ThemeID,
			AutoDetect:     autoDetect,
			Customizations: body.Customizations,
			ContentOptions: body.ContentOptions,
		},
	})
	if err != nil {
		s.adapter.WriteErrorResponse(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/generations/"+job.ID)
	_ = writeJSON(w, http.StatusAccepted, submitResponse{JobID: job.ID, Status: job.Status})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Status(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r.Context()))
	if err != nil {
		s.adapter.WriteErrorResponse(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		s.adapter.WriteErrorResponse(w, r, err)
		return
	}
	pageSize, err := queryInt(r, "pageSize", 0)
	if err != nil {
		s.adapter.WriteErrorResponse(w, r, err)
		return
	}
	res, err := s.deps.Jobs.History(r.Context(), middleware.UserID(r.Context()), page, pageSize)
	if err != nil {
		s.adapter.WriteErrorResponse(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ok, err := s.deps.Jobs.Cancel(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r.Context()))
	if err != nil {
		s.adapter.WriteErrorResponse(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, cancelResponse{Cancelled: ok})
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	kind := storage.Kind(chi.URLParam(r, "kind"))
	if kind != storage.KindSite && kind != storage.KindSource {
		s.adapter.WriteErrorResponse(w, r, derrors.NotFoundError("unknown artifact kind").
			WithContext("kind", string(kind)).Build())
		return
	}
	id := chi.URLParam(r, "id")
	rc, a, err := s.deps.Jobs.Artifact(r.Context(), id, middleware.UserID(r.Context()), kind)
	if err != nil {
		s.adapter.WriteErrorResponse(w, r, err)
		return
	}
	defer rc.Close()
	streamZip(w, rc, a, fmt.Sprintf("%s-%s.zip", kind, shortID(id)))
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	tl, err := s.deps.Jobs.Timeline(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r.Context()))
	if err != nil {
		s.adapter.WriteErrorResponse(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, tl)
}

// streamZip copies an archive to the client with download headers.
func streamZip(w http.ResponseWriter, rc io.Reader, a storage.Artifact, filename string) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if a.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("Artifact download interrupted", slog.String("ref", a.Ref), logfields.Error(err))
	}
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, derrors.ValidationError("invalid query parameter").
			WithContext("param", name).
			WithContext("value", raw).Build()
	}
	return n, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
