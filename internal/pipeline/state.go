package pipeline

import (
	"fmt"
	"sync"
	"time"

	"git.home.luguber.info/inful/sitebuilder/internal/pagestructure"
	"git.home.luguber.info/inful/sitebuilder/internal/services"
	"git.home.luguber.info/inful/sitebuilder/internal/storage"
	"git.home.luguber.info/inful/sitebuilder/internal/themes"
	"git.home.luguber.info/inful/sitebuilder/internal/wizard"
	"git.home.luguber.info/inful/sitebuilder/internal/workspace"
)

// Input is everything one build needs.
type Input struct {
	JobID          string
	ProjectID      string
	Data           wizard.Data
	ThemeID        string
	Customizations map[string]any
	Content        *services.GeneratedContent
	SEO            map[string]any
	Plan           *pagestructure.Plan
}

// InputFromRequest adapts a site-build service request.
func InputFromRequest(req services.SiteBuildRequest) Input {
	return Input{
		JobID:          req.JobID,
		ProjectID:      req.ProjectID,
		Data:           req.ProjectData,
		ThemeID:        req.ThemeConfig.ThemeID,
		Customizations: req.ThemeConfig.Customizations,
		Content:        req.GeneratedContent,
		SEO:            req.SEOData,
		Plan:           req.Structure,
	}
}

// ContentArtifactRecord describes one written content file.
type ContentArtifactRecord struct {
	Path        string         `json:"path"`
	ContentType string         `json:"contentType"`
	Size        int64          `json:"size"`
	FrontMatter map[string]any `json:"frontMatter,omitempty"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
}

// BuildState is shared by the stages of one build. Stages run sequentially;
// the log is guarded because packaging writes from several goroutines.
type BuildState struct {
	Input     Input
	Theme     *themes.Definition
	Workspace *workspace.Workspace
	SiteDir   string
	SiteTitle string

	Content []ContentArtifactRecord
	Site    storage.Artifact
	Source  storage.Artifact

	mu     sync.Mutex
	log    []string
	errors []string
	now    func() time.Time
}

func newBuildState(in Input, now func() time.Time) *BuildState {
	return &BuildState{Input: in, now: now}
}

// Logf appends a timestamped build log line.
func (bs *BuildState) Logf(format string, args ...any) {
	line := fmt.Sprintf("[%s] %s", bs.now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	bs.mu.Lock()
	bs.log = append(bs.log, line)
	bs.mu.Unlock()
}

// Errorf records an error without aborting and mirrors it into the log.
func (bs *BuildState) Errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	bs.mu.Lock()
	bs.errors = append(bs.errors, msg)
	bs.mu.Unlock()
	bs.Logf("ERROR %s", msg)
}

// BuildLog returns a copy of the log so far.
func (bs *BuildState) BuildLog() []string {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return append([]string(nil), bs.log...)
}

// Errors returns a copy of the recorded errors.
func (bs *BuildState) Errors() []string {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return append([]string(nil), bs.errors...)
}

// Result is the outcome of Builder.Build.
type Result struct {
	Success         bool                    `json:"success"`
	ThemeID         string                  `json:"themeId"`
	SiteTitle       string                  `json:"siteTitle,omitempty"`
	Site            storage.Artifact        `json:"site"`
	Source          storage.Artifact        `json:"source"`
	BuildLog        []string                `json:"buildLog"`
	TotalElapsed    time.Duration           `json:"totalElapsed"`
	Errors          []string                `json:"errors"`
	ContentTracking []ContentArtifactRecord `json:"contentTracking"`
}

// Response converts the result to the site-build service wire shape.
func (r *Result) Response() services.SiteBuildResponse {
	resp := services.SiteBuildResponse{
		Success:   r.Success,
		BuildLog:  r.BuildLog,
		BuildTime: r.TotalElapsed.Milliseconds(),
		Errors:    r.Errors,
		Metadata: map[string]any{
			"themeId":      r.ThemeID,
			"contentFiles": len(r.ContentTracking),
		},
	}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}
	if r.SiteTitle != "" {
		resp.Metadata["siteTitle"] = r.SiteTitle
	}
	if r.Site.Ref != "" {
		resp.Artifacts = append(resp.Artifacts, services.ArtifactRef{Kind: services.ArtifactSite, Ref: r.Site.Ref, Size: r.Site.Size})
	}
	if r.Source.Ref != "" {
		resp.Artifacts = append(resp.Artifacts, services.ArtifactRef{Kind: services.ArtifactSource, Ref: r.Source.Ref, Size: r.Source.Size})
	}
	return resp
}
