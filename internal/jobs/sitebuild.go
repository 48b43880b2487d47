package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
	"git.home.luguber.info/inful/sitebuilder/internal/pipeline"
	"git.home.luguber.info/inful/sitebuilder/internal/services"
	"git.home.luguber.info/inful/sitebuilder/internal/storage"
)

// SiteBuild is the outcome of a successful build: both archives are in the
// local artifact store.
type SiteBuild struct {
	ThemeID   string
	SiteTitle string
	SiteURL   string
	Site      storage.Artifact
	Source    storage.Artifact
	BuildLog  []string
	BuildTime time.Duration
}

// SiteBuilder turns a build request into stored archives. onPackaging is
// called once when the build has output and packaging begins.
type SiteBuilder interface {
	BuildSite(ctx context.Context, req services.SiteBuildRequest, onPackaging func()) (*SiteBuild, error)
}

// LocalSiteBuilder runs the build pipeline in process. A positive Timeout
// bounds each build the same way site_build.timeout bounds a remote call.
type LocalSiteBuilder struct {
	Builder *pipeline.Builder
	Timeout time.Duration
}

func (l LocalSiteBuilder) BuildSite(ctx context.Context, req services.SiteBuildRequest, onPackaging func()) (*SiteBuild, error) {
	buildCtx := ctx
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}
	res, err := l.Builder.Build(buildCtx, pipeline.InputFromRequest(req), packagingObserver{onPackaging: onPackaging})
	if err != nil {
		if ctx.Err() == nil && errors.Is(buildCtx.Err(), context.DeadlineExceeded) {
			err = derrors.TimeoutError("site build exceeded its time limit").
				WithCause(err).
				WithContext("timeout", l.Timeout.String()).
				WithContext("job_id", req.JobID).Build()
		}
		return &SiteBuild{BuildLog: res.BuildLog}, err
	}
	return &SiteBuild{
		ThemeID:   res.ThemeID,
		SiteTitle: res.SiteTitle,
		Site:      res.Site,
		Source:    res.Source,
		BuildLog:  res.BuildLog,
		BuildTime: res.TotalElapsed,
	}, nil
}

// packagingObserver reports the start of the package stage.
type packagingObserver struct {
	pipeline.NoopObserver
	onPackaging func()
}

func (p packagingObserver) OnStageStart(stage pipeline.StageName) {
	if stage == pipeline.StagePackage && p.onPackaging != nil {
		p.onPackaging()
	}
}

// RemoteSiteBuilder delegates to the site-build service and copies the
// returned archives into the local store.
type RemoteSiteBuilder struct {
	Client *services.Client
	Store  storage.ArtifactStore
}

func (r RemoteSiteBuilder) BuildSite(ctx context.Context, req services.SiteBuildRequest, onPackaging func()) (*SiteBuild, error) {
	resp, err := r.Client.RequestSiteBuild(ctx, req)
	if err != nil {
		out := &SiteBuild{}
		if resp != nil {
			out.BuildLog = resp.BuildLog
		}
		return out, err
	}
	if onPackaging != nil {
		onPackaging()
	}

	out := &SiteBuild{
		SiteURL:   resp.SiteURL,
		BuildLog:  resp.BuildLog,
		BuildTime: time.Duration(resp.BuildTime) * time.Millisecond,
		ThemeID:   req.ThemeConfig.ThemeID,
	}
	if v, ok := resp.Metadata["themeId"].(string); ok && v != "" {
		out.ThemeID = v
	}
	if v, ok := resp.Metadata["siteTitle"].(string); ok {
		out.SiteTitle = v
	}

	meta := map[string]string{"job_id": req.JobID, "project_id": req.ProjectID}
	for _, kind := range []services.ArtifactKind{services.ArtifactSite, services.ArtifactSource} {
		ref, ok := resp.Artifact(kind)
		if !ok {
			r.release(out)
			return out, derrors.PackagingError("site build returned no " + string(kind) + " archive").Build()
		}
		a, err := r.fetch(ctx, storage.Kind(kind), ref.Ref, meta)
		if err != nil {
			r.release(out)
			return out, err
		}
		if kind == services.ArtifactSite {
			out.Site = a
		} else {
			out.Source = a
		}
	}
	return out, nil
}

func (r RemoteSiteBuilder) fetch(ctx context.Context, kind storage.Kind, ref string, meta map[string]string) (storage.Artifact, error) {
	body, _, err := r.Client.FetchArtifact(ctx, ref)
	if err != nil {
		return storage.Artifact{}, err
	}
	a, err := r.Store.Put(ctx, kind, body, meta)
	_ = body.Close()
	if err != nil {
		return storage.Artifact{}, derrors.WrapError(err, derrors.CategoryStorage, "failed to store artifact").
			WithContext("ref", ref).Build()
	}
	if a.Size == 0 {
		_ = r.Store.Release(ctx, a.Ref)
		return storage.Artifact{}, derrors.PackagingError("downloaded archive is empty").WithContext("ref", ref).Build()
	}
	if err := r.Client.ReleaseArtifact(ctx, ref); err != nil {
		slog.Warn("Remote artifact release failed", slog.String("ref", ref), logfields.Error(err))
	}
	return a, nil
}

func (r RemoteSiteBuilder) release(b *SiteBuild) {
	for _, a := range []storage.Artifact{b.Site, b.Source} {
		if a.Ref == "" {
			continue
		}
		if err := r.Store.Release(context.Background(), a.Ref); err != nil && !storage.IsNotFound(err) {
			slog.Warn("Failed to release artifact", slog.String("ref", a.Ref), logfields.Error(err))
		}
	}
	b.Site, b.Source = storage.Artifact{}, storage.Artifact{}
}

var (
	_ SiteBuilder = LocalSiteBuilder{}
	_ SiteBuilder = RemoteSiteBuilder{}
)
