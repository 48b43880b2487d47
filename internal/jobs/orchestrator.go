package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/sitebuilder/internal/config"
	"git.home.luguber.info/inful/sitebuilder/internal/eventstore"
	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
	"git.home.luguber.info/inful/sitebuilder/internal/metrics"
	"git.home.luguber.info/inful/sitebuilder/internal/pagestructure"
	"git.home.luguber.info/inful/sitebuilder/internal/pipeline"
	"git.home.luguber.info/inful/sitebuilder/internal/projects"
	"git.home.luguber.info/inful/sitebuilder/internal/retry"
	"git.home.luguber.info/inful/sitebuilder/internal/services"
	"git.home.luguber.info/inful/sitebuilder/internal/storage"
	"git.home.luguber.info/inful/sitebuilder/internal/themes"
	"git.home.luguber.info/inful/sitebuilder/internal/wizard"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Store     Store
	Projects  projects.Provider
	Engine    *themes.Engine
	Resolver  *pagestructure.Resolver
	Content   services.ContentGenerator
	Sites     SiteBuilder
	Artifacts storage.ArtifactStore
	Bus       *EventBus
	Recorder  metrics.Recorder
}

// SubmitRequest starts a generation.
type SubmitRequest struct {
	ProjectID string
	UserID    string
	Options   Options
}

// Orchestrator accepts generation jobs and runs them on its queue.
type Orchestrator struct {
	store     Store
	projects  projects.Provider
	engine    *themes.Engine
	resolver  *pagestructure.Resolver
	content   services.ContentGenerator
	sites     SiteBuilder
	artifacts storage.ArtifactStore
	bus       *EventBus
	recorder  metrics.Recorder
	queue     *Queue
	retention time.Duration
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithRetryPolicy replaces the policy derived from the queue config.
func WithRetryPolicy(p retry.Policy) Option { return func(o *Orchestrator) { o.queue.policy = p } }

// New wires an orchestrator and its queue from configuration.
func New(cfg *config.Config, d Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     d.Store,
		projects:  d.Projects,
		engine:    d.Engine,
		resolver:  d.Resolver,
		content:   d.Content,
		sites:     d.Sites,
		artifacts: d.Artifacts,
		bus:       d.Bus,
		recorder:  d.Recorder,
		retention: cfg.Storage.Retention,
		now:       time.Now,
	}
	if o.recorder == nil {
		o.recorder = metrics.NoopRecorder{}
	}
	if o.bus == nil {
		o.bus = NewEventBus(nil)
	}
	if o.content == nil {
		o.content = services.LocalContentGenerator{}
	}
	o.queue = NewQueue(d.Store, o, cfg.Queue.Size, cfg.Queue.Workers, retry.FromConfig(cfg.Queue))
	o.queue.recorder = o.recorder
	o.queue.bus = o.bus
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Queue exposes the worker queue.
func (o *Orchestrator) Queue() *Queue { return o.queue }

// Bus exposes the event bus.
func (o *Orchestrator) Bus() *EventBus { return o.bus }

// Start re-enqueues unfinished jobs and starts the workers.
func (o *Orchestrator) Start(ctx context.Context) error {
	n, err := o.Recover(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("Recovered unfinished generation jobs", slog.Int("count", n))
	}
	o.queue.Start(ctx)
	return nil
}

// Stop stops the workers.
func (o *Orchestrator) Stop(ctx context.Context) { o.queue.Stop(ctx) }

// Submit validates the project and enqueues a new job. Unknown or unowned
// projects are NotFound; incomplete projects are a Validation error and no
// job is created.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	project, err := o.projects.GetProject(ctx, req.ProjectID, req.UserID)
	if err != nil {
		return nil, err
	}
	if !project.IsCompleted {
		return nil, derrors.ValidationError("project is not completed").
			WithContext("project_id", req.ProjectID).Build()
	}
	if !req.Options.wantsAutoDetect() {
		if _, ok := o.engine.Registry().Get(req.Options.ThemeID); !ok {
			return nil, derrors.NotFoundError("theme not found").
				WithContext("theme_id", req.Options.ThemeID).Build()
		}
	}
	req.Options.Selection = nil

	now := o.now().UTC()
	job := &Job{
		ID:          uuid.NewString(),
		ProjectID:   req.ProjectID,
		UserID:      req.UserID,
		Status:      StatusPending,
		CurrentStep: "Queued for generation",
		StartedAt:   now,
		UpdatedAt:   now,
		Options:     req.Options,
		BuildLog:    []string{},
	}
	if err := o.store.Create(ctx, job); err != nil {
		return nil, err
	}
	o.bus.Emit(ctx, Event{JobID: job.ID, Type: eventstore.TypeJobSubmitted, Status: StatusPending,
		Payload: eventstore.JobSubmittedMeta{
			ProjectID:  job.ProjectID,
			UserID:     job.UserID,
			ThemeID:    job.Options.ThemeID,
			AutoDetect: job.Options.wantsAutoDetect(),
		}})

	if err := o.queue.Enqueue(job.ID); err != nil {
		o.Fail(ctx, job, err)
		return nil, err
	}
	slog.Info("Generation job submitted", logfields.JobID(job.ID), logfields.ProjectID(job.ProjectID),
		logfields.UserID(job.UserID))
	return job, nil
}

// Process runs every step of the pipeline for a claimed job. Status and
// progress only move forward: a retried attempt replays earlier steps
// without rewinding what readers already saw.
func (o *Orchestrator) Process(ctx context.Context, job *Job, attempt int) error {
	o.logf(ctx, job, "attempt %d started", attempt)

	job.phase = StatusAnalyzing
	if err := o.advance(ctx, job, StatusAnalyzing, 10, "Analyzing project requirements"); err != nil {
		return err
	}
	project, err := o.projects.GetProject(ctx, job.ProjectID, job.UserID)
	if err != nil {
		return err
	}
	if !project.IsCompleted {
		return derrors.ValidationError("project is not completed").WithContext("project_id", job.ProjectID).Build()
	}
	data := project.WizardData
	selection, err := o.selectTheme(ctx, job, data)
	if err != nil {
		return err
	}

	job.phase = StatusContentGenerating
	if err := o.advance(ctx, job, StatusContentGenerating, 10, "Generating website content"); err != nil {
		return err
	}
	content, err := o.generateContent(ctx, job, data)
	if err != nil {
		return err
	}

	tpl, exact := o.resolver.ResolveOrDefault(data.BusinessCategory(), selection.ThemeID, data.StructureType())
	if tpl == nil {
		return derrors.InternalError("no page structure template available").Build()
	}
	plan := o.resolver.Plan(tpl, data)
	if err := o.advance(ctx, job, StatusContentGenerating, 60, "Planning site structure"); err != nil {
		return err
	}
	if exact {
		o.logf(ctx, job, "planned %d pages from template %s", plan.Totals.All, plan.TemplateKey)
	} else {
		o.logf(ctx, job, "planned %d pages from fallback template %s", plan.Totals.All, plan.TemplateKey)
	}

	job.phase = StatusBuildingSite
	if err := o.advance(ctx, job, StatusBuildingSite, 70, "Building website"); err != nil {
		return err
	}
	req := services.SiteBuildRequest{
		JobID:            job.ID,
		ProjectID:        job.ProjectID,
		ProjectData:      data,
		GeneratedContent: content,
		ThemeConfig:      services.ThemeConfig{ThemeID: selection.ThemeID, Customizations: job.Options.Customizations},
		SEOData:          seoData(data, content),
		Structure:        &plan,
	}
	build, err := o.sites.BuildSite(ctx, req, func() {
		job.phase = StatusPackaging
		if err := o.advance(ctx, job, StatusPackaging, 90, "Packaging website"); err != nil {
			slog.Warn("Failed to record packaging status", logfields.JobID(job.ID), logfields.Error(err))
		}
	})
	if build != nil && len(build.BuildLog) > 0 {
		if lerr := o.store.AppendLog(ctx, job.ID, build.BuildLog...); lerr != nil {
			slog.Warn("Failed to append build log", logfields.JobID(job.ID), logfields.Error(lerr))
		}
	}
	if err != nil {
		return err
	}

	job.phase = StatusPackaging
	if err := o.advance(ctx, job, StatusPackaging, 90, "Packaging website"); err != nil {
		o.releaseBuild(build)
		return err
	}
	return o.complete(ctx, job, build, plan)
}

// selectTheme honours an explicit theme or runs automatic selection, then
// checks the theme's required parameters.
func (o *Orchestrator) selectTheme(ctx context.Context, job *Job, data wizard.Data) (themes.SelectionResult, error) {
	var sel themes.SelectionResult
	if job.Options.wantsAutoDetect() {
		sel = o.engine.Select(data)
		o.logf(ctx, job, "selected theme %s automatically (confidence %d)", sel.ThemeID, sel.Confidence)
	} else {
		sel = themes.SelectionResult{
			ThemeID:    job.Options.ThemeID,
			Confidence: 100,
			Reasons:    []string{"Theme chosen by the user"},
			Fallback:   o.engine.Registry().DefaultTheme(),
		}
		o.logf(ctx, job, "using requested theme %s", sel.ThemeID)
	}
	o.recorder.ObserveThemeConfidence(sel.ThemeID, sel.Confidence)

	res, err := o.engine.RequireValid(sel.ThemeID, data)
	if err != nil {
		return sel, err
	}
	for _, w := range res.Warnings {
		o.logf(ctx, job, "WARN %s", w)
	}

	job.Options.Selection = &sel
	if err := o.store.SetOptions(ctx, job.ID, job.Options); err != nil {
		return sel, err
	}
	return sel, nil
}

// generateContent maps the generator's 0-100 progress onto 10-60.
func (o *Orchestrator) generateContent(ctx context.Context, job *Job, data wizard.Data) (*services.GeneratedContent, error) {
	req := services.ContentRequest{
		ProjectID:  job.ProjectID,
		UserID:     job.UserID,
		WizardData: data,
		Options:    job.Options.ContentOptions,
	}
	res, err := o.content.RequestContentGeneration(ctx, req, func(p services.ContentProgress) {
		step := "Generating website content"
		if p.CurrentStep != "" {
			step = "Generating website content: " + p.CurrentStep
		}
		if err := o.advance(ctx, job, StatusContentGenerating, 10+p.Progress/2, step); err != nil {
			slog.Warn("Failed to record content progress", logfields.JobID(job.ID), logfields.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	if res == nil || res.Content == nil {
		o.logf(ctx, job, "content service returned no content, using drafted copy")
		return services.DraftContent(data), nil
	}
	o.logf(ctx, job, "content generation finished")
	return res.Content, nil
}

func (o *Orchestrator) complete(ctx context.Context, job *Job, build *SiteBuild, plan pagestructure.Plan) error {
	result := Result{
		ThemeID:     build.ThemeID,
		SiteTitle:   build.SiteTitle,
		SiteURL:     build.SiteURL,
		Site:        ArtifactRef{Ref: build.Site.Ref, Size: build.Site.Size},
		Source:      ArtifactRef{Ref: build.Source.Ref, Size: build.Source.Size},
		BuildTimeMS: build.BuildTime.Milliseconds(),
		Pages:       plan.Totals.All,
	}
	completedAt := o.now().UTC()
	expiresAt := completedAt.Add(o.retention)
	o.logf(ctx, job, "website ready: site %s (%d bytes), source %s (%d bytes)",
		short(result.Site.Ref), result.Site.Size, short(result.Source.Ref), result.Source.Size)
	if err := o.store.Complete(ctx, job.ID, result, completedAt, expiresAt); err != nil {
		o.releaseBuild(build)
		return err
	}
	job.Status, job.Progress, job.CurrentStep = StatusCompleted, 100, "Website ready"
	job.CompletedAt, job.ExpiresAt, job.Result = &completedAt, &expiresAt, &result

	duration := completedAt.Sub(job.StartedAt)
	o.recorder.IncJobOutcome(metrics.OutcomeCompleted)
	o.recorder.ObserveJobDuration(duration)
	o.bus.Emit(ctx, Event{JobID: job.ID, Type: eventstore.TypeJobCompleted, Status: StatusCompleted, Progress: 100,
		Payload: eventstore.JobCompletedMeta{
			ThemeID:    result.ThemeID,
			DurationMS: duration.Milliseconds(),
			Artifacts:  map[string]string{"site": result.Site.Ref, "source": result.Source.Ref},
		}})
	slog.Info("Generation job completed", logfields.JobID(job.ID), logfields.ThemeID(result.ThemeID),
		logfields.DurationMS(float64(duration.Milliseconds())))
	return nil
}

// Fail marks the job failed with the step name and the last error.
func (o *Orchestrator) Fail(ctx context.Context, job *Job, err error) {
	step := job.phase
	if step == "" {
		step = job.Status
	}
	msg := failureMessage(step, err)
	at := o.now().UTC()
	o.logf(ctx, job, "ERROR %s", msg)
	if ferr := o.store.Fail(ctx, job.ID, msg, at); ferr != nil {
		slog.Error("Failed to record job failure", logfields.JobID(job.ID), logfields.Error(ferr))
		return
	}
	job.Status, job.ErrorLog, job.CompletedAt = StatusFailed, msg, &at

	meta := eventstore.JobFailedMeta{Stage: string(step), Error: msg, Attempts: job.Attempts}
	if se, ok := pipeline.AsStageError(err); ok {
		meta.Stage = string(se.Stage)
	}
	if ce, ok := derrors.AsClassified(err); ok {
		meta.Category = string(ce.Category())
	}
	o.recorder.IncJobOutcome(metrics.OutcomeFailed)
	o.recorder.ObserveJobDuration(at.Sub(job.StartedAt))
	o.bus.Emit(ctx, Event{JobID: job.ID, Type: eventstore.TypeJobFailed, Status: StatusFailed,
		Progress: job.Progress, Payload: meta})
}

// failureMessage prefixes err with the step unless a stage error already
// names one.
func failureMessage(step Status, err error) string {
	if _, ok := pipeline.AsStageError(err); ok {
		return err.Error()
	}
	return fmt.Sprintf("%s: %v", step, err)
}

// advance writes status, progress and step together. Backward transitions
// are ignored and progress never decreases.
func (o *Orchestrator) advance(ctx context.Context, job *Job, to Status, progress int, step string) error {
	from := job.Status
	if from != to && !CanTransition(from, to) {
		return nil
	}
	progress = min(max(progress, job.Progress), 100)
	if from == to && progress == job.Progress && step == job.CurrentStep {
		return nil
	}
	if err := o.store.Advance(ctx, job.ID, from, to, progress, step); err != nil {
		return err
	}
	job.Status, job.Progress, job.CurrentStep = to, progress, step
	if from != to {
		slog.Info("Job status changed", logfields.JobID(job.ID), slog.String("from", string(from)),
			logfields.JobStatus(string(to)), logfields.Progress(progress))
		o.bus.Emit(ctx, Event{JobID: job.ID, Type: eventstore.TypeJobStatusChanged, Status: to, Progress: progress,
			Payload: eventstore.StatusChange{From: string(from), To: string(to), Progress: progress, Step: step,
				Attempt: job.Attempts}})
	}
	return nil
}

// Status returns the job if userID owns it.
func (o *Orchestrator) Status(ctx context.Context, id, userID string) (*Job, error) {
	job, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Cancel cancels a job that is still queued. It returns false once a worker
// has claimed the job or the job is terminal.
func (o *Orchestrator) Cancel(ctx context.Context, id, userID string) (bool, error) {
	job, err := o.Status(ctx, id, userID)
	if err != nil {
		return false, err
	}
	ok, err := o.store.Cancel(ctx, id, userID, o.now().UTC())
	if err != nil || !ok {
		return false, err
	}
	o.recorder.IncJobOutcome(metrics.OutcomeCancelled)
	o.bus.Emit(ctx, Event{JobID: id, Type: eventstore.TypeJobCancelled, Status: StatusCancelled, Progress: job.Progress,
		Payload: eventstore.StatusChange{From: string(job.Status), To: string(StatusCancelled), Progress: job.Progress}})
	slog.Info("Generation job cancelled", logfields.JobID(id), logfields.UserID(userID))
	return true, nil
}

// History lists a user's jobs, newest first. page is 1-based.
func (o *Orchestrator) History(ctx context.Context, userID string, page, pageSize int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)
	items, total, err := o.store.ListByUser(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Job{}
	}
	return &Page{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// Artifact opens one archive of a completed job. Expired jobs are Gone.
func (o *Orchestrator) Artifact(ctx context.Context, id, userID string, kind storage.Kind) (io.ReadCloser, storage.Artifact, error) {
	job, err := o.Status(ctx, id, userID)
	if err != nil {
		return nil, storage.Artifact{}, err
	}
	if job.Status == StatusExpired {
		return nil, storage.Artifact{}, derrors.GoneError("generated website has expired").
			WithContext("job_id", id).Build()
	}
	if job.Status != StatusCompleted || job.Result == nil {
		return nil, storage.Artifact{}, derrors.NotFoundError("job has no artifacts").
			WithContext("job_id", id).
			WithContext("status", string(job.Status)).Build()
	}
	ref := job.Result.Site.Ref
	if kind == storage.KindSource {
		ref = job.Result.Source.Ref
	}
	if ref == "" {
		return nil, storage.Artifact{}, derrors.NotFoundError("artifact not found").WithContext("kind", string(kind)).Build()
	}
	rc, a, err := o.artifacts.Open(ctx, ref)
	if storage.IsNotFound(err) {
		return nil, storage.Artifact{}, derrors.NotFoundError("artifact not found").WithContext("ref", ref).Build()
	}
	if err != nil {
		return nil, storage.Artifact{}, derrors.WrapError(err, derrors.CategoryStorage, "failed to open artifact").Build()
	}
	return rc, a, nil
}

// Timeline returns the recorded events of a job the user owns.
func (o *Orchestrator) Timeline(ctx context.Context, id, userID string) (*eventstore.JobTimeline, error) {
	if _, err := o.Status(ctx, id, userID); err != nil {
		return nil, err
	}
	return o.bus.Timeline(ctx, id)
}

// CleanupExpired releases the artifacts of completed jobs past their expiry
// and marks them expired. It returns how many jobs were expired.
func (o *Orchestrator) CleanupExpired(ctx context.Context) (int, error) {
	now := o.now().UTC()
	expired, err := o.store.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, job := range expired {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if !o.releaseResult(ctx, job) {
			continue
		}
		ok, err := o.store.Expire(ctx, job.ID, now)
		if err != nil {
			return count, err
		}
		if !ok {
			continue
		}
		count++
		o.recorder.IncJobOutcome(metrics.OutcomeExpired)
		o.bus.Emit(ctx, Event{JobID: job.ID, Type: eventstore.TypeJobExpired, Status: StatusExpired, Progress: 100,
			Payload: eventstore.StatusChange{From: string(StatusCompleted), To: string(StatusExpired), Progress: 100}})
	}
	if count > 0 {
		slog.Info("Expired generation jobs", slog.Int("count", count))
	}
	return count, nil
}

// releaseResult drops a job's archives. A job whose archives could not all be
// released stays COMPLETED so the next sweep tries again.
func (o *Orchestrator) releaseResult(ctx context.Context, job *Job) bool {
	if job.Result == nil {
		return true
	}
	released := true
	for _, ref := range []string{job.Result.Site.Ref, job.Result.Source.Ref} {
		if ref == "" {
			continue
		}
		if err := o.artifacts.Release(ctx, ref); err != nil && !storage.IsNotFound(err) {
			slog.Warn("Failed to release expired artifact", logfields.JobID(job.ID), slog.String("ref", ref), logfields.Error(err))
			released = false
		}
	}
	return released
}

// Recover releases claims left by a previous process and enqueues every
// unfinished job again. Recovered jobs restart from the first step.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	jobs, err := o.store.ListUnfinished(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, job := range jobs {
		if job.ClaimedBy != "" {
			if err := o.store.Release(ctx, job.ID); err != nil {
				return count, err
			}
		}
		if err := o.queue.Enqueue(job.ID); err != nil {
			slog.Warn("Could not re-enqueue job", logfields.JobID(job.ID), logfields.Error(err))
			continue
		}
		count++
		o.bus.Emit(ctx, Event{JobID: job.ID, Type: eventstore.TypeJobRecovered, Status: job.Status, Progress: job.Progress,
			Payload: eventstore.StatusChange{From: string(job.Status), To: string(job.Status), Progress: job.Progress}})
	}
	return count, nil
}

// Probes reports the job database for health checks.
func (o *Orchestrator) Probes() []services.Probe {
	return []services.Probe{{Name: "job-store", Check: o.store.Ping}}
}

func (o *Orchestrator) releaseBuild(b *SiteBuild) {
	if b == nil {
		return
	}
	for _, a := range []storage.Artifact{b.Site, b.Source} {
		if a.Ref == "" {
			continue
		}
		if err := o.artifacts.Release(context.Background(), a.Ref); err != nil && !storage.IsNotFound(err) {
			slog.Warn("Failed to release artifact", slog.String("ref", a.Ref), logfields.Error(err))
		}
	}
}

func (o *Orchestrator) logf(ctx context.Context, job *Job, format string, args ...any) {
	line := fmt.Sprintf("[%s] %s", o.now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	if err := o.store.AppendLog(context.WithoutCancel(ctx), job.ID, line); err != nil {
		slog.Warn("Failed to append build log", logfields.JobID(job.ID), logfields.Error(err))
		return
	}
	job.BuildLog = append(job.BuildLog, line)
}

// seoData collects the search metadata handed to the builder.
func seoData(data wizard.Data, content *services.GeneratedContent) map[string]any {
	seo := map[string]any{}
	if name := data.BusinessName(); name != "" {
		seo["title"] = name
	}
	if home, ok := content.ForPage("home"); ok {
		if home.MetaDescription != "" {
			seo["description"] = home.MetaDescription
		}
		if len(home.Keywords) > 0 {
			seo["keywords"] = home.Keywords
		}
	}
	if d := data.String(wizard.PathBusinessDescription); d != "" && seo["description"] == nil {
		seo["description"] = d
	}
	return seo
}

func short(ref string) string {
	if len(ref) > 12 {
		return ref[:12]
	}
	return ref
}

var _ Runner = (*Orchestrator)(nil)
