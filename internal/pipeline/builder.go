package pipeline

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/sitebuilder/internal/config"
	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
	"git.home.luguber.info/inful/sitebuilder/internal/metrics"
	"git.home.luguber.info/inful/sitebuilder/internal/storage"
	"git.home.luguber.info/inful/sitebuilder/internal/themes"
	"git.home.luguber.info/inful/sitebuilder/internal/workspace"
)

// Builder runs the seven build stages for one Input at a time. A Builder is
// safe for concurrent use; each Build gets its own workspace and state.
type Builder struct {
	engine     *themes.Engine
	workspaces *workspace.Manager
	installer  *ThemeInstaller
	renderer   Renderer
	store      storage.ArtifactStore
	observer   BuildObserver
	baseURL    string
	now        func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithRenderer replaces the build-tool invocation.
func WithRenderer(r Renderer) Option { return func(b *Builder) { b.renderer = r } }

// WithInstaller replaces the theme installer.
func WithInstaller(i *ThemeInstaller) Option { return func(b *Builder) { b.installer = i } }

// WithObserver adds a stage observer.
func WithObserver(o BuildObserver) Option { return func(b *Builder) { b.observer = o } }

// WithRecorder records stage metrics.
func WithRecorder(r metrics.Recorder) Option {
	return func(b *Builder) { b.observer = MultiObserver{b.observer, RecorderObserver{Recorder: r}} }
}

// WithClock overrides the clock used for logs and front matter dates.
func WithClock(now func() time.Time) Option { return func(b *Builder) { b.now = now } }

// WithBaseURL sets the generated site's baseURL. Defaults to "/".
func WithBaseURL(u string) Option { return func(b *Builder) { b.baseURL = u } }

// NewBuilder wires a builder from configuration.
func NewBuilder(cfg *config.Config, engine *themes.Engine, store storage.ArtifactStore, opts ...Option) *Builder {
	b := &Builder{
		engine:     engine,
		workspaces: workspace.NewManager(cfg.Build.WorkspaceDir, cfg.Build.KeepWorkspace),
		installer:  NewThemeInstaller(cfg.Build.ThemesDir, &http.Client{Timeout: 2 * time.Minute}),
		renderer:   &BinaryRenderer{Binary: cfg.Build.HugoBinary},
		store:      store,
		observer:   NoopObserver{},
		baseURL:    "/",
		now:        time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Builder) stages() []StageDef {
	return NewStages().
		Add(StageScaffold, b.stageScaffold).
		Add(StageThemeInstall, b.stageThemeInstall).
		Add(StageConfigRender, b.stageConfigRender).
		Add(StageContentRender, b.stageContentRender).
		Add(StageAssetScaffold, b.stageAssetScaffold).
		Add(StageBuild, b.stageBuild).
		Add(StagePackage, b.stagePackage).
		Build()
}

// Build runs every stage. On failure the workspace is removed and the
// returned Result carries the log and errors gathered so far; the error is a
// *StageError wrapping a classified error. extra observers see this build only.
func (b *Builder) Build(ctx context.Context, in Input, extra ...BuildObserver) (*Result, error) {
	start := time.Now()
	bs := newBuildState(in, b.now)

	obs := append(MultiObserver{b.observer, LogObserver{JobID: in.JobID}}, extra...)
	err := b.validateInput(in)
	if err == nil {
		err = RunStages(ctx, bs, b.stages(), obs)
	}

	if bs.Workspace != nil {
		if cerr := bs.Workspace.Cleanup(); cerr != nil {
			slog.Warn("Workspace cleanup failed", logfields.JobID(in.JobID), logfields.Error(cerr))
		}
	}
	if err != nil && (bs.Site.Ref != "" || bs.Source.Ref != "") {
		b.releaseArtifacts(bs)
	}

	res := &Result{
		Success:         err == nil,
		SiteTitle:       bs.SiteTitle,
		Site:            bs.Site,
		Source:          bs.Source,
		BuildLog:        bs.BuildLog(),
		TotalElapsed:    time.Since(start),
		Errors:          bs.Errors(),
		ContentTracking: bs.Content,
	}
	if bs.Theme != nil {
		res.ThemeID = bs.Theme.ID
	}
	if err != nil {
		res.Site, res.Source = storage.Artifact{}, storage.Artifact{}
		if len(res.Errors) == 0 {
			res.Errors = []string{err.Error()}
		}
	}
	obs.OnBuildComplete(res)
	return res, err
}

func (b *Builder) validateInput(in Input) error {
	if in.Plan == nil {
		return NewFatalStageError(StageScaffold, derrors.ValidationError("build input has no page plan").Build())
	}
	if in.Data == nil {
		return NewFatalStageError(StageScaffold, derrors.ValidationError("build input has no project data").Build())
	}
	if _, ok := b.engine.Registry().Get(in.ThemeID); !ok {
		return NewFatalStageError(StageScaffold, derrors.NotFoundError("unknown theme").
			WithContext("theme_id", in.ThemeID).Build())
	}
	return nil
}

// releaseArtifacts drops archives stored by a build that failed afterwards.
func (b *Builder) releaseArtifacts(bs *BuildState) {
	for _, a := range []storage.Artifact{bs.Site, bs.Source} {
		if a.Ref == "" {
			continue
		}
		if err := b.store.Release(context.Background(), a.Ref); err != nil && !storage.IsNotFound(err) {
			slog.Warn("Failed to release artifact", "ref", a.Ref, logfields.Error(err))
		}
	}
}
