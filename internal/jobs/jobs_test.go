package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitebuilder/internal/config"
	"git.home.luguber.info/inful/sitebuilder/internal/eventstore"
	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/notify"
	"git.home.luguber.info/inful/sitebuilder/internal/pagestructure"
	"git.home.luguber.info/inful/sitebuilder/internal/projects"
	"git.home.luguber.info/inful/sitebuilder/internal/retry"
	"git.home.luguber.info/inful/sitebuilder/internal/services"
	"git.home.luguber.info/inful/sitebuilder/internal/storage"
	"git.home.luguber.info/inful/sitebuilder/internal/themes"
	"git.home.luguber.info/inful/sitebuilder/internal/wizard"
)

// fakeSites stores two small archives per build. errs are returned by the
// matching call, one per call.
type fakeSites struct {
	store storage.ArtifactStore
	mu    sync.Mutex
	calls int
	errs  []error
}

func (f *fakeSites) BuildSite(ctx context.Context, req services.SiteBuildRequest, onPackaging func()) (*SiteBuild, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n <= len(f.errs) && f.errs[n-1] != nil {
		return &SiteBuild{BuildLog: []string{"build failed"}}, f.errs[n-1]
	}
	onPackaging()
	site, err := f.store.Put(ctx, storage.KindSite, strings.NewReader("site archive "+req.JobID), nil)
	if err != nil {
		return nil, err
	}
	source, err := f.store.Put(ctx, storage.KindSource, strings.NewReader("source archive "+req.JobID), nil)
	if err != nil {
		return nil, err
	}
	return &SiteBuild{
		ThemeID:   req.ThemeConfig.ThemeID,
		SiteTitle: req.ProjectData.BusinessName(),
		Site:      site,
		Source:    source,
		BuildLog:  []string{"rendered " + req.Structure.TemplateKey},
		BuildTime: 20 * time.Millisecond,
	}, nil
}

func (f *fakeSites) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	cfg       *config.Config
	store     *SQLiteStore
	events    *eventstore.SQLiteStore
	projects  *projects.Memory
	artifacts *storage.MemStore
	sites     *fakeSites
	clock     *clock
	orch      *Orchestrator
}

func newFixture(t *testing.T, content services.ContentGenerator) *fixture {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	events, err := eventstore.NewSQLiteStoreDB(store.DB())
	require.NoError(t, err)

	reg, err := themes.LoadDefaultRegistry()
	require.NoError(t, err)
	table, err := pagestructure.LoadDefaultTable()
	require.NoError(t, err)

	f := &fixture{
		cfg:       config.Default(),
		store:     store,
		events:    events,
		projects:  projects.NewMemory(),
		artifacts: storage.NewMemStore(),
		clock:     &clock{now: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)},
	}
	f.sites = &fakeSites{store: f.artifacts}
	f.projects.Put(&projects.Project{ID: "proj-1", UserID: "user-1", IsCompleted: true, WizardData: clinicData()})

	f.orch = New(f.cfg, Deps{
		Store:     store,
		Projects:  f.projects,
		Engine:    themes.NewEngine(reg),
		Resolver:  pagestructure.NewResolver(table),
		Content:   content,
		Sites:     f.sites,
		Artifacts: f.artifacts,
		Bus:       NewEventBus(events),
	}, WithClock(f.clock.Now), WithRetryPolicy(retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 2)))
	return f
}

// runNext processes the next queued id on the calling goroutine.
func (f *fixture) runNext(t *testing.T) *Job {
	t.Helper()
	select {
	case id := <-f.orch.queue.ids:
		f.orch.queue.handle(context.Background(), "worker-test", id)
		job, err := f.store.Get(context.Background(), id)
		require.NoError(t, err)
		return job
	default:
		t.Fatal("queue is empty")
		return nil
	}
}

func (f *fixture) submit(t *testing.T, opts Options) *Job {
	t.Helper()
	job, err := f.orch.Submit(context.Background(), SubmitRequest{ProjectID: "proj-1", UserID: "user-1", Options: opts})
	require.NoError(t, err)
	return job
}

func clinicData() wizard.Data {
	return wizard.Data{
		"businessInfo":     map[string]any{"name": "Harbor Family Clinic", "category": "healthcare", "description": "Family medicine on the waterfront."},
		"websiteType":      map[string]any{"type": "business"},
		"websiteStructure": map[string]any{"type": "multi-page"},
		"contactInfo":      map[string]any{"phone": "555-0142", "email": "hello@harbor.test", "address": "1 Pier Rd"},
		"selectedServices": []any{"Annual Checkups", "Vaccinations"},
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusAnalyzing, true},
		{StatusPending, StatusCancelled, true},
		{StatusAnalyzing, StatusContentGenerating, true},
		{StatusContentGenerating, StatusBuildingSite, true},
		{StatusBuildingSite, StatusPackaging, true},
		{StatusPackaging, StatusCompleted, true},
		{StatusCompleted, StatusExpired, true},
		{StatusBuildingSite, StatusFailed, true},
		{StatusPending, StatusFailed, true},
		{StatusAnalyzing, StatusCancelled, false},
		{StatusBuildingSite, StatusContentGenerating, false},
		{StatusPending, StatusCompleted, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusPending, false},
		{StatusCancelled, StatusAnalyzing, false},
		{StatusExpired, StatusCompleted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.True(t, StatusExpired.Terminal())
	assert.False(t, StatusPackaging.Terminal())
	assert.True(t, StatusCancelled.Valid())
	assert.False(t, Status("paused").Valid())
}

func TestSubmitRejectsIncompleteProject(t *testing.T) {
	f := newFixture(t, nil)
	f.projects.Put(&projects.Project{ID: "draft", UserID: "user-1", IsCompleted: false, WizardData: clinicData()})

	_, err := f.orch.Submit(context.Background(), SubmitRequest{ProjectID: "draft", UserID: "user-1"})
	require.Error(t, err)
	assert.True(t, derrors.HasCategory(err, derrors.CategoryValidation))

	page, err := f.orch.History(context.Background(), "user-1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.Equal(t, 0, f.orch.Queue().Length())
}

func TestSubmitUnknownProjectOrTheme(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.orch.Submit(ctx, SubmitRequest{ProjectID: "missing", UserID: "user-1"})
	assert.True(t, derrors.HasCategory(err, derrors.CategoryNotFound))

	_, err = f.orch.Submit(ctx, SubmitRequest{ProjectID: "proj-1", UserID: "someone-else"})
	assert.True(t, derrors.HasCategory(err, derrors.CategoryNotFound))

	_, err = f.orch.Submit(ctx, SubmitRequest{ProjectID: "proj-1", UserID: "user-1", Options: Options{ThemeID: "nope"}})
	assert.True(t, derrors.HasCategory(err, derrors.CategoryNotFound))
}

func TestProcessCompletesJob(t *testing.T) {
	f := newFixture(t, nil)
	var mu sync.Mutex
	var progress []int
	f.orch.Bus().Subscribe(eventstore.TypeJobStatusChanged, func(e Event) {
		mu.Lock()
		progress = append(progress, e.Progress)
		mu.Unlock()
	})

	submitted := f.submit(t, Options{AutoDetect: true})
	assert.Equal(t, StatusPending, submitted.Status)
	assert.Equal(t, 0, submitted.Progress)

	job := f.runNext(t)
	require.Equal(t, StatusCompleted, job.Status, job.ErrorLog)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 1, job.Attempts)
	assert.Empty(t, job.ClaimedBy)
	require.NotNil(t, job.Options.Selection)
	assert.Equal(t, "clinic", job.Options.Selection.ThemeID)

	require.NotNil(t, job.Result)
	assert.Equal(t, "clinic", job.Result.ThemeID)
	assert.NotEqual(t, job.Result.Site.Ref, job.Result.Source.Ref)
	assert.Positive(t, job.Result.Site.Size)
	assert.Positive(t, job.Result.Source.Size)
	require.NotNil(t, job.CompletedAt)
	require.NotNil(t, job.ExpiresAt)
	assert.Equal(t, f.cfg.Storage.Retention, job.ExpiresAt.Sub(*job.CompletedAt))
	assert.NotEmpty(t, job.BuildLog)

	assert.Equal(t, []int{10, 10, 70, 90}, progress)

	tl, err := f.orch.Timeline(context.Background(), job.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", tl.Status)
	types := make([]string, 0, len(tl.Events))
	for _, e := range tl.Events {
		types = append(types, e.Type)
	}
	assert.Equal(t, eventstore.TypeJobSubmitted, types[0])
	assert.Equal(t, eventstore.TypeJobCompleted, types[len(types)-1])
}

func TestExplicitThemeIsValidated(t *testing.T) {
	f := newFixture(t, nil)
	data := clinicData()
	delete(data["contactInfo"].(map[string]any), "phone")
	f.projects.Put(&projects.Project{ID: "proj-1", UserID: "user-1", IsCompleted: true, WizardData: data})

	f.submit(t, Options{ThemeID: "clinic"})
	job := f.runNext(t)

	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.ErrorLog, "missing required theme parameters")
	assert.Contains(t, job.ErrorLog, string(StatusAnalyzing))
	assert.Equal(t, 1, job.Attempts, "validation errors are not retried")
	assert.Zero(t, f.sites.Calls())
}

func TestContentPollTimeoutFailsJob(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			_ = json.NewEncoder(w).Encode(map[string]any{"generationId": "gen-1"})
			return
		}
		polls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "generating", "progress": 40, "currentStep": "Writing copy"})
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.ContentService.BaseURL = srv.URL
	cfg.ContentService.PollInterval = time.Millisecond
	cfg.ContentService.MaxPollAttempts = 3
	f := newFixture(t, services.NewClient(cfg))

	f.submit(t, Options{AutoDetect: true})
	job := f.runNext(t)

	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.ErrorLog, "timed out")
	assert.Contains(t, job.ErrorLog, string(StatusContentGenerating))
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, int32(9), polls.Load())
	assert.Equal(t, 30, job.Progress, "poll progress is mapped into the content range")
	assert.Zero(t, f.sites.Calls())
}

func TestTransientFailureIsRetriedFromTheStart(t *testing.T) {
	f := newFixture(t, nil)
	f.sites.errs = []error{derrors.ExternalServiceError("site build service unavailable").Build()}
	var statuses []Status
	var progress []int
	f.orch.Bus().Subscribe("", func(e Event) {
		statuses = append(statuses, e.Status)
		progress = append(progress, e.Progress)
	})

	f.submit(t, Options{AutoDetect: true})
	job := f.runNext(t)

	require.Equal(t, StatusCompleted, job.Status, job.ErrorLog)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, 2, f.sites.Calls())
	assert.IsNonDecreasing(t, progress)
	assert.Contains(t, statuses, StatusBuildingSite)

	tl, err := f.orch.Timeline(context.Background(), job.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, tl.Retries)
	assert.Contains(t, tl.LastError, "unavailable")
}

func TestRetriesExhaustedKeepsLastError(t *testing.T) {
	f := newFixture(t, nil)
	boom := derrors.ExternalServiceError("site build service unavailable").Build()
	f.sites.errs = []error{boom, boom, derrors.TimeoutError("site build timed out after 10m0s").Build()}

	f.submit(t, Options{AutoDetect: true})
	job := f.runNext(t)

	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Contains(t, job.ErrorLog, "timed out")
	assert.Contains(t, job.ErrorLog, string(StatusBuildingSite))
	assert.Zero(t, f.artifacts.Len())
}

func TestCancelOnlyWhileQueued(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	queued := f.submit(t, Options{AutoDetect: true})
	_, err := f.orch.Cancel(ctx, queued.ID, "intruder")
	assert.True(t, derrors.HasCategory(err, derrors.CategoryNotFound))

	ok, err := f.orch.Cancel(ctx, queued.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.orch.Cancel(ctx, queued.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, ok, "terminal jobs cannot be cancelled again")

	job := f.runNext(t)
	assert.Equal(t, StatusCancelled, job.Status, "a cancelled delivery is dropped")
	assert.Zero(t, f.sites.Calls())

	claimed := f.submit(t, Options{AutoDetect: true})
	_, err = f.store.Claim(ctx, claimed.ID, "worker-9")
	require.NoError(t, err)
	ok, err = f.orch.Cancel(ctx, claimed.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatusIsScopedToOwner(t *testing.T) {
	f := newFixture(t, nil)
	job := f.submit(t, Options{AutoDetect: true})

	got, err := f.orch.Status(context.Background(), job.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = f.orch.Status(context.Background(), job.ID, "user-2")
	assert.True(t, derrors.HasCategory(err, derrors.CategoryNotFound))
	_, err = f.orch.Status(context.Background(), "missing", "user-1")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestHistoryIsNewestFirst(t *testing.T) {
	f := newFixture(t, nil)
	var ids []string
	for range 3 {
		ids = append(ids, f.submit(t, Options{AutoDetect: true}).ID)
	}

	page, err := f.orch.History(context.Background(), "user-1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, ids[2], page.Items[0].ID)
	assert.Equal(t, ids[1], page.Items[1].ID)

	page, err = f.orch.History(context.Background(), "user-1", 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, ids[0], page.Items[0].ID)

	page, err = f.orch.History(context.Background(), "user-1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, defaultPageSize, page.PageSize)
}

// releaseFailsOnce rejects the first Release and delegates everything else.
type releaseFailsOnce struct {
	*storage.MemStore
	failed atomic.Bool
}

func (r *releaseFailsOnce) Release(ctx context.Context, ref string) error {
	if r.failed.CompareAndSwap(false, true) {
		return errors.New("object store unavailable")
	}
	return r.MemStore.Release(ctx, ref)
}

func TestCleanupExpiredKeepsJobWhenReleaseFails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	flaky := &releaseFailsOnce{MemStore: f.artifacts}
	reg, err := themes.LoadDefaultRegistry()
	require.NoError(t, err)
	table, err := pagestructure.LoadDefaultTable()
	require.NoError(t, err)
	f.orch = New(f.cfg, Deps{
		Store:     f.store,
		Projects:  f.projects,
		Engine:    themes.NewEngine(reg),
		Resolver:  pagestructure.NewResolver(table),
		Sites:     f.sites,
		Artifacts: flaky,
		Bus:       NewEventBus(f.events),
	}, WithClock(f.clock.Now))

	f.submit(t, Options{AutoDetect: true})
	job := f.runNext(t)
	require.Equal(t, StatusCompleted, job.Status)
	f.clock.Advance(f.cfg.Storage.Retention + time.Minute)

	n, err := f.orch.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	got, err := f.orch.Status(ctx, job.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status, "job stays eligible for the next sweep")

	n, err = f.orch.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, f.artifacts.Len())
	got, err = f.orch.Status(ctx, job.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestCleanupExpiredReleasesArtifacts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.submit(t, Options{AutoDetect: true})
	job := f.runNext(t)
	require.Equal(t, StatusCompleted, job.Status)

	rc, a, err := f.orch.Artifact(ctx, job.ID, "user-1", storage.KindSite)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	_ = rc.Close()
	assert.Equal(t, a.Size, int64(len(data)))

	n, err := f.orch.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is past its expiry yet")

	f.clock.Advance(f.cfg.Storage.Retention + time.Minute)
	n, err = f.orch.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, f.artifacts.Len())

	got, err := f.orch.Status(ctx, job.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	_, _, err = f.orch.Artifact(ctx, job.ID, "user-1", storage.KindSource)
	assert.True(t, derrors.HasCategory(err, derrors.CategoryGone))
}

func TestArtifactOfUnfinishedJobIsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	job := f.submit(t, Options{AutoDetect: true})
	_, _, err := f.orch.Artifact(context.Background(), job.ID, "user-1", storage.KindSite)
	assert.True(t, derrors.HasCategory(err, derrors.CategoryNotFound))
}

func TestRecoverRequeuesUnfinishedJobs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	job := f.submit(t, Options{AutoDetect: true})
	<-f.orch.queue.ids // lost with the previous process

	_, err := f.store.Claim(ctx, job.ID, "dead-worker")
	require.NoError(t, err)
	require.NoError(t, f.store.Advance(ctx, job.ID, StatusPending, StatusAnalyzing, 10, "Analyzing project requirements"))

	n, err := f.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.runNext(t)
	assert.Equal(t, StatusCompleted, got.Status, got.ErrorLog)

	tl, err := f.orch.Timeline(ctx, job.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, tl.Recoveries)
}

func TestQueueFullFailsSubmission(t *testing.T) {
	f := newFixture(t, nil)
	f.orch.queue.ids = make(chan string, 1)
	f.submit(t, Options{AutoDetect: true})

	_, err := f.orch.Submit(context.Background(), SubmitRequest{ProjectID: "proj-1", UserID: "user-1"})
	require.ErrorIs(t, err, ErrQueueFull)

	page, err := f.orch.History(context.Background(), "user-1", 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, StatusFailed, page.Items[0].Status)
	assert.Contains(t, page.Items[0].ErrorLog, "queue is full")
}

func TestQueueWorkersProcessJobs(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.orch.Start(ctx))

	job := f.submit(t, Options{AutoDetect: true})
	require.Eventually(t, func() bool {
		got, err := f.store.Get(ctx, job.ID)
		return err == nil && got.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	f.orch.Stop(stopCtx)

	got, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestClaimIsExclusive(t *testing.T) {
	f := newFixture(t, nil)
	job := f.submit(t, Options{AutoDetect: true})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.store.Claim(context.Background(), job.ID, "worker-"+string(rune('a'+i))); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrNotClaimable)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestStoreRejectsIllegalTransitions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	job := f.submit(t, Options{AutoDetect: true})

	err := f.store.Advance(ctx, job.ID, StatusPending, StatusBuildingSite, 70, "skip")
	assert.True(t, derrors.HasCategory(err, derrors.CategoryConflict))

	err = f.store.Advance(ctx, job.ID, StatusAnalyzing, StatusContentGenerating, 10, "stale")
	assert.ErrorIs(t, err, ErrStaleStatus)

	require.NoError(t, f.store.Fail(ctx, job.ID, "pending: boom", time.Now()))
	assert.ErrorIs(t, f.store.Fail(ctx, job.ID, "again", time.Now()), ErrStaleStatus)
	ok, err := f.store.Cancel(ctx, job.ID, "user-1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "pending: boom", got.ErrorLog)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg notify.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func TestEventBusFansOut(t *testing.T) {
	es, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer es.Close()
	good := &recordingPublisher{}
	bad := &recordingPublisher{err: errors.New("broker down")}
	bus := NewEventBus(es, bad, good)

	var seen []string
	bus.Subscribe(eventstore.TypeJobCompleted, func(e Event) { seen = append(seen, "completed:"+e.JobID) })
	bus.Subscribe("", func(e Event) { seen = append(seen, "any:"+e.Type) })

	bus.Emit(context.Background(), Event{JobID: "j1", Type: eventstore.TypeJobCompleted, Status: StatusCompleted, Progress: 100,
		Payload: eventstore.JobCompletedMeta{ThemeID: "clinic"}})

	assert.Equal(t, []string{"completed:j1", "any:" + eventstore.TypeJobCompleted}, seen)
	require.Len(t, good.msgs, 1)
	assert.Equal(t, "completed", good.msgs[0].Status)
	assert.JSONEq(t, `{"theme_id":"clinic","duration_ms":0}`, string(good.msgs[0].Payload))

	events, err := es.GetByJobID(context.Background(), "j1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRemoteSiteBuilderCopiesArtifacts(t *testing.T) {
	var mu sync.Mutex
	var released []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete:
			mu.Lock()
			released = append(released, strings.TrimPrefix(r.URL.Path, services.BuildArtifactsPath))
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		case r.URL.Path == services.BuildGeneratePath:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(services.SiteBuildResponse{
				Success:   true,
				BuildLog:  []string{"remote build ok"},
				BuildTime: 1500,
				Errors:    []string{},
				Artifacts: []services.ArtifactRef{
					{Kind: services.ArtifactSite, Ref: "site-ref", Size: 9},
					{Kind: services.ArtifactSource, Ref: "source-ref", Size: 11},
				},
				Metadata: map[string]any{"themeId": "clinic", "siteTitle": "Harbor"},
			})
		case strings.HasPrefix(r.URL.Path, services.BuildArtifactsPath):
			_, _ = io.WriteString(w, "zip bytes for "+strings.TrimPrefix(r.URL.Path, services.BuildArtifactsPath))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.SiteBuild.Mode = config.SiteBuildRemote
	cfg.SiteBuild.BaseURL = srv.URL
	store := storage.NewMemStore()
	b := RemoteSiteBuilder{Client: services.NewClient(cfg), Store: store}

	packaging := false
	plan := &pagestructure.Plan{TemplateKey: "healthcare:clinic:multi-page"}
	out, err := b.BuildSite(context.Background(), services.SiteBuildRequest{
		JobID: "j1", ProjectID: "p1", ProjectData: clinicData(), Structure: plan,
		ThemeConfig: services.ThemeConfig{ThemeID: "clinic"},
	}, func() { packaging = true })
	require.NoError(t, err)
	assert.True(t, packaging)
	assert.Equal(t, "Harbor", out.SiteTitle)
	assert.Equal(t, 1500*time.Millisecond, out.BuildTime)
	assert.NotEqual(t, out.Site.Ref, out.Source.Ref)
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, "p1", out.Site.Custom["project_id"])
	mu.Lock()
	assert.ElementsMatch(t, []string{"site-ref", "source-ref"}, released)
	mu.Unlock()
}

type countingCleaner struct{ runs atomic.Int32 }

func (c *countingCleaner) CleanupExpired(context.Context) (int, error) {
	c.runs.Add(1)
	return 0, nil
}

func TestSchedulerRunsCleanup(t *testing.T) {
	c := &countingCleaner{}
	s, err := NewScheduler(c)
	require.NoError(t, err)

	_, err = s.ScheduleCleanup(0)
	require.Error(t, err)
	id, err := s.ScheduleCleanup(20 * time.Millisecond)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	s.Start(context.Background())
	defer func() { _ = s.Stop() }()
	require.Eventually(t, func() bool { return c.runs.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
}
