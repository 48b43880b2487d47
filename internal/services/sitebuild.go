package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
	"git.home.luguber.info/inful/sitebuilder/internal/pagestructure"
	"git.home.luguber.info/inful/sitebuilder/internal/wizard"
)

// Site-build service endpoints, relative to the base URL.
const (
	BuildGeneratePath  = "/api/build/generate"
	BuildHealthPath    = "/api/build/health"
	BuildArtifactsPath = "/api/build/artifacts/"
)

// ThemeConfig carries the selected theme and user overrides to the builder.
type ThemeConfig struct {
	ThemeID        string         `json:"themeId"`
	Customizations map[string]any `json:"customizations,omitempty"`
}

// SiteBuildRequest is the body of a build call.
type SiteBuildRequest struct {
	JobID            string              `json:"jobId,omitempty"`
	ProjectID        string              `json:"projectId" validate:"required"`
	ProjectData      wizard.Data         `json:"projectData" validate:"required"`
	GeneratedContent *GeneratedContent   `json:"generatedContent,omitempty"`
	ThemeConfig      ThemeConfig         `json:"themeConfig"`
	SEOData          map[string]any      `json:"seoData,omitempty"`
	Structure        *pagestructure.Plan `json:"structure" validate:"required"`
}

// ArtifactKind names one of the two outputs of a build.
type ArtifactKind string

const (
	ArtifactSite   ArtifactKind = "site"
	ArtifactSource ArtifactKind = "source"
)

// ArtifactRef points to a packaged archive held by whoever built it.
type ArtifactRef struct {
	Kind ArtifactKind `json:"kind"`
	Ref  string       `json:"ref"`
	Size int64        `json:"size"`
}

// SiteBuildResponse is the builder's answer.
type SiteBuildResponse struct {
	Success   bool           `json:"success"`
	SiteURL   string         `json:"siteUrl,omitempty"`
	Artifacts []ArtifactRef  `json:"artifacts,omitempty"`
	BuildLog  []string       `json:"buildLog"`
	BuildTime int64          `json:"buildTime"`
	Errors    []string       `json:"errors"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Artifact returns the reference of the given kind.
func (r *SiteBuildResponse) Artifact(kind ArtifactKind) (ArtifactRef, bool) {
	for _, a := range r.Artifacts {
		if a.Kind == kind {
			return a, true
		}
	}
	return ArtifactRef{}, false
}

// RemoteBuildEnabled reports whether builds are delegated to a remote service.
func (c *Client) RemoteBuildEnabled() bool { return c.buildBaseURL != "" }

// RequestSiteBuild makes one bounded call to the site-build service. It is
// not polled: exceeding the build timeout is a Timeout error, and a response
// with success=false is a Build error carrying the reported errors.
func (c *Client) RequestSiteBuild(ctx context.Context, req SiteBuildRequest) (*SiteBuildResponse, error) {
	if !c.RemoteBuildEnabled() {
		return nil, derrors.ConfigError("site build service base_url is not configured").Build()
	}
	endpoint := c.buildBaseURL + BuildGeneratePath

	callCtx, cancel := context.WithTimeout(ctx, c.buildTimeout)
	defer cancel()

	var resp SiteBuildResponse
	if err := c.call(callCtx, ServiceSiteBuild, http.MethodPost, endpoint, req, &resp); err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, derrors.WrapError(err, derrors.CategoryTimeout,
				fmt.Sprintf("site build timed out after %s", c.buildTimeout)).
				Retryable().
				WithContext("endpoint", endpoint).Build()
		}
		return nil, classify(err, "site build request failed")
	}
	if !resp.Success {
		msg := strings.Join(resp.Errors, "; ")
		if msg == "" {
			msg = "unknown error"
		}
		return &resp, derrors.BuildError("site build failed: "+msg).
			WithContext("project_id", req.ProjectID).Build()
	}
	slog.Info("Remote site build finished",
		logfields.ProjectID(req.ProjectID),
		logfields.DurationMS(float64(resp.BuildTime)))
	return &resp, nil
}

// FetchArtifact streams an archive produced by the remote builder. The caller
// closes the reader.
func (c *Client) FetchArtifact(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	if !c.RemoteBuildEnabled() {
		return nil, 0, derrors.ConfigError("site build service base_url is not configured").Build()
	}
	endpoint := c.buildBaseURL + BuildArtifactsPath + url.PathEscape(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	c.decorate(ctx, req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, classify(&ServiceError{Service: ServiceSiteBuild, Endpoint: "GET " + endpoint,
			Message: err.Error(), Err: err}, "artifact download failed")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, 0, classify(&ServiceError{Service: ServiceSiteBuild, Endpoint: "GET " + endpoint,
			StatusCode: resp.StatusCode, Message: errorMessage(msg)}, "artifact download failed")
	}
	return resp.Body, resp.ContentLength, nil
}

// ReleaseArtifact tells the remote builder the archive has been copied. A
// missing archive is not an error.
func (c *Client) ReleaseArtifact(ctx context.Context, ref string) error {
	if !c.RemoteBuildEnabled() {
		return derrors.ConfigError("site build service base_url is not configured").Build()
	}
	endpoint := c.buildBaseURL + BuildArtifactsPath + url.PathEscape(ref)
	err := c.call(ctx, ServiceSiteBuild, http.MethodDelete, endpoint, nil, nil)
	var se *ServiceError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return classify(err, "artifact release failed")
	}
	return nil
}
