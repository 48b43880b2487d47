package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitebuilder/internal/config"
	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/pagestructure"
	"git.home.luguber.info/inful/sitebuilder/internal/wizard"
)

func testConfig(contentURL, buildURL string) *config.Config {
	cfg := config.Default()
	cfg.ContentService.BaseURL = contentURL
	cfg.ContentService.PollInterval = 5 * time.Millisecond
	cfg.ContentService.MaxPollAttempts = 4
	cfg.ContentService.RequestTimeout = time.Second
	cfg.Health.Timeout = 200 * time.Millisecond
	cfg.SiteBuild.Timeout = time.Second
	if buildURL != "" {
		cfg.SiteBuild.Mode = config.SiteBuildRemote
		cfg.SiteBuild.BaseURL = buildURL
	}
	return cfg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestContentGenerationCompletes(t *testing.T) {
	var polls atomic.Int32
	var seenHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == contentStartPath:
			seenHeaders = r.Header.Clone()
			var req ContentRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "p1", req.ProjectID)
			writeJSON(w, http.StatusAccepted, map[string]string{"generationId": "g1"})
		case r.URL.Path == contentStatusPath+"g1":
			if polls.Add(1) < 2 {
				writeJSON(w, http.StatusOK, map[string]any{"status": "generating", "progress": 0.4, "current_step": "writing"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"status": "completed", "progress": 100,
				"content": map[string]any{"homepage": map[string]any{"title": "Home", "content": "Hi"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, ""))
	var seen []ContentProgress
	ctx := WithCorrelationID(context.Background(), "corr-1")
	res, err := c.RequestContentGeneration(ctx, ContentRequest{ProjectID: "p1", UserID: "u1"}, func(p ContentProgress) {
		seen = append(seen, p)
	})
	require.NoError(t, err)
	assert.Equal(t, ContentCompleted, res.Status)
	home, ok := res.Content.ForPage("home")
	require.True(t, ok)
	assert.Equal(t, "Home", home.Title)

	require.Len(t, seen, 2)
	assert.Equal(t, 40, seen[0].Progress)
	assert.Equal(t, "writing", seen[0].CurrentStep)

	assert.Equal(t, "corr-1", seenHeaders.Get(HeaderRequestID))
	assert.Equal(t, "sitebuilder", seenHeaders.Get(HeaderService))
	assert.NotEmpty(t, seenHeaders.Get(HeaderTimestamp))
	assert.True(t, strings.HasPrefix(seenHeaders.Get("User-Agent"), "sitebuilder/"))
}

func TestContentGenerationFetchesResultWhenStatusOmitsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case contentStartPath:
			writeJSON(w, http.StatusOK, map[string]string{"generation_id": "g2"})
		case contentStatusPath + "g2":
			writeJSON(w, http.StatusOK, map[string]any{"status": "completed"})
		case contentResultPath + "g2":
			writeJSON(w, http.StatusOK, map[string]any{"status": "completed",
				"content": map[string]any{"about": map[string]any{"title": "About"}}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	res, err := NewClient(testConfig(srv.URL, "")).RequestContentGeneration(context.Background(), ContentRequest{}, nil)
	require.NoError(t, err)
	about, ok := res.Content.ForPage("about")
	require.True(t, ok)
	assert.Equal(t, "About", about.Title)
}

func TestContentGenerationPollCeilingIsTimeout(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == contentStartPath {
			writeJSON(w, http.StatusOK, map[string]string{"generationId": "slow"})
			return
		}
		polls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"status": "generating", "progress": 10})
	}))
	defer srv.Close()

	res, err := NewClient(testConfig(srv.URL, "")).RequestContentGeneration(context.Background(), ContentRequest{}, nil)
	require.Error(t, err)
	assert.True(t, derrors.HasCategory(err, derrors.CategoryTimeout))
	assert.True(t, derrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "timed out")
	assert.Equal(t, ContentTimedOut, res.Status)
	assert.LessOrEqual(t, polls.Load(), int32(4))
	assert.Positive(t, polls.Load())
}

func TestContentGenerationSlowPollsStayWithinCeiling(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == contentStartPath {
			writeJSON(w, http.StatusOK, map[string]string{"generationId": "sluggish"})
			return
		}
		select {
		case <-time.After(150 * time.Millisecond):
		case <-r.Context().Done():
		case <-release:
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "generating"})
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL, "")
	cfg.ContentService.PollInterval = 10 * time.Millisecond
	cfg.ContentService.MaxPollAttempts = 5

	began := time.Now()
	res, err := NewClient(cfg).RequestContentGeneration(context.Background(), ContentRequest{}, nil)
	elapsed := time.Since(began)

	require.Error(t, err)
	assert.True(t, derrors.HasCategory(err, derrors.CategoryTimeout))
	assert.Equal(t, ContentTimedOut, res.Status)
	assert.Less(t, elapsed, 140*time.Millisecond, "poll phase must end at the 50ms ceiling")
	assert.NotContains(t, err.Error(), "after 5 polls")
}

func TestContentGenerationTransientPollFailureIsRetried(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == contentStartPath {
			writeJSON(w, http.StatusOK, map[string]string{"generationId": "g3"})
			return
		}
		if polls.Add(1) == 1 {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "completed", "content": map[string]any{}})
	}))
	defer srv.Close()

	res, err := NewClient(testConfig(srv.URL, "")).RequestContentGeneration(context.Background(), ContentRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, ContentCompleted, res.Status)
	assert.EqualValues(t, 2, polls.Load())
}

func TestContentGenerationFailedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == contentStartPath {
			writeJSON(w, http.StatusOK, map[string]string{"generationId": "g4"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "failed", "errors": []string{"model overloaded"}})
	}))
	defer srv.Close()

	res, err := NewClient(testConfig(srv.URL, "")).RequestContentGeneration(context.Background(), ContentRequest{}, nil)
	require.Error(t, err)
	assert.True(t, derrors.HasCategory(err, derrors.CategoryExternalService))
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Equal(t, ContentFailed, res.Status)
}

func TestContentGenerationStartFailurePreservesStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "maintenance"})
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL, "")).RequestContentGeneration(context.Background(), ContentRequest{}, nil)
	require.Error(t, err)
	ce, ok := derrors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, derrors.CategoryExternalService, ce.Category())
	assert.Equal(t, http.StatusServiceUnavailable, ce.Context()["status_code"])
	assert.Contains(t, err.Error(), "maintenance")
}

func TestContentGenerationHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == contentStartPath {
			writeJSON(w, http.StatusOK, map[string]string{"generationId": "g5"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "generating"})
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, "")
	cfg.ContentService.PollInterval = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := NewClient(cfg).RequestContentGeneration(ctx, ContentRequest{}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestContentGenerationRequiresBaseURL(t *testing.T) {
	_, err := NewClient(testConfig("", "")).RequestContentGeneration(context.Background(), ContentRequest{}, nil)
	assert.True(t, derrors.HasCategory(err, derrors.CategoryConfig))
}

func buildRequest() SiteBuildRequest {
	return SiteBuildRequest{
		ProjectID:   "p1",
		ProjectData: wizard.Data{"businessInfo": map[string]any{"name": "Cafe"}},
		ThemeConfig: ThemeConfig{ThemeID: "savory"},
		Structure:   &pagestructure.Plan{TemplateKey: "restaurant/savory/multi-page"},
	}
}

func TestSiteBuildSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, BuildGeneratePath, r.URL.Path)
		var req SiteBuildRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "savory", req.ThemeConfig.ThemeID)
		writeJSON(w, http.StatusOK, SiteBuildResponse{
			Success:   true,
			BuildTime: 1200,
			BuildLog:  []string{"scaffold ok"},
			Artifacts: []ArtifactRef{{Kind: ArtifactSite, Ref: "a", Size: 10}, {Kind: ArtifactSource, Ref: "b", Size: 20}},
		})
	}))
	defer srv.Close()

	resp, err := NewClient(testConfig("", srv.URL)).RequestSiteBuild(context.Background(), buildRequest())
	require.NoError(t, err)
	site, ok := resp.Artifact(ArtifactSite)
	require.True(t, ok)
	assert.Equal(t, "a", site.Ref)
	assert.EqualValues(t, 1200, resp.BuildTime)
}

func TestSiteBuildReportedFailureIsBuildError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, SiteBuildResponse{Success: false, Errors: []string{"hugo exited 255"}})
	}))
	defer srv.Close()

	resp, err := NewClient(testConfig("", srv.URL)).RequestSiteBuild(context.Background(), buildRequest())
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.True(t, derrors.HasCategory(err, derrors.CategoryBuild))
	assert.False(t, derrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "hugo exited 255")
}

func TestSiteBuildTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig("", srv.URL)
	cfg.SiteBuild.Timeout = 30 * time.Millisecond
	_, err := NewClient(cfg).RequestSiteBuild(context.Background(), buildRequest())
	require.Error(t, err)
	assert.True(t, derrors.HasCategory(err, derrors.CategoryTimeout))
	assert.Contains(t, err.Error(), "timed out")
}

func TestSiteBuildRequiresRemoteMode(t *testing.T) {
	c := NewClient(testConfig("", ""))
	assert.False(t, c.RemoteBuildEnabled())
	_, err := c.RequestSiteBuild(context.Background(), buildRequest())
	assert.True(t, derrors.HasCategory(err, derrors.CategoryConfig))
}

func TestFetchArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == BuildArtifactsPath+"ref-1" {
			_, _ = w.Write([]byte("zipbytes"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(testConfig("", srv.URL))
	rc, size, err := c.FetchArtifact(context.Background(), "ref-1")
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "zipbytes", string(body))
	assert.EqualValues(t, 8, size)

	_, _, err = c.FetchArtifact(context.Background(), "missing")
	require.Error(t, err)
}

func TestReleaseArtifact(t *testing.T) {
	var deleted []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch r.URL.Path {
		case BuildArtifactsPath + "ref-1":
			deleted = append(deleted, "ref-1")
			w.WriteHeader(http.StatusNoContent)
		case BuildArtifactsPath + "broken":
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "disk full"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(testConfig("", srv.URL))
	require.NoError(t, c.ReleaseArtifact(context.Background(), "ref-1"))
	require.NoError(t, c.ReleaseArtifact(context.Background(), "gone"))
	assert.Equal(t, []string{"ref-1"}, deleted)

	err := c.ReleaseArtifact(context.Background(), "broken")
	require.Error(t, err)
	assert.True(t, derrors.IsRetryable(err))
}

func TestHealthCheckAggregation(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unhealthy"})
	}))
	defer down.Close()

	report := NewClient(testConfig(up.URL, up.URL)).HealthCheck(context.Background())
	assert.Equal(t, Healthy, report.Overall)
	assert.Len(t, report.Dependencies, 2)

	report = NewClient(testConfig(up.URL, down.URL)).HealthCheck(context.Background())
	assert.Equal(t, Degraded, report.Overall)

	failing := Probe{Name: "database", Check: func(context.Context) error { return io.ErrUnexpectedEOF }}
	report = NewClient(testConfig(down.URL, down.URL)).HealthCheck(context.Background(), failing)
	assert.Equal(t, Unhealthy, report.Overall)
	require.Len(t, report.Dependencies, 3)
	assert.Equal(t, "database", report.Dependencies[1].Name)
	assert.NotEmpty(t, report.Dependencies[1].Error)
}

func TestHealthProbeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, "")
	cfg.Health.Timeout = 20 * time.Millisecond
	report := NewClient(cfg).HealthCheck(context.Background())
	assert.Equal(t, Unhealthy, report.Overall)
}

func TestLocalContentGenerator(t *testing.T) {
	data := wizard.Data{
		"businessInfo":     map[string]any{"name": "Bella Cucina", "category": "restaurant", "description": "Family trattoria."},
		"selectedServices": []any{"Catering", map[string]any{"name": "Private Dining", "price": "$50"}},
		"contactInfo":      map[string]any{"phone": "555-0100"},
	}
	var last ContentProgress
	res, err := LocalContentGenerator{}.RequestContentGeneration(context.Background(),
		ContentRequest{WizardData: data}, func(p ContentProgress) { last = p })
	require.NoError(t, err)
	assert.Equal(t, ContentCompleted, last.Status)

	home, ok := res.Content.ForPage("home")
	require.True(t, ok)
	assert.Equal(t, "Bella Cucina", home.Title)
	assert.Contains(t, home.Content, "Catering")

	svc, ok := res.Content.ForService("private-dining", "Private Dining")
	require.True(t, ok)
	assert.Contains(t, svc.Content, "$50")

	contact, ok := res.Content.ForPage("contact")
	require.True(t, ok)
	assert.Contains(t, contact.Content, "555-0100")
}

func TestSummaryTruncatesOnWordBoundary(t *testing.T) {
	long := strings.Repeat("word ", 60)
	s := summary(long)
	assert.LessOrEqual(t, len(s), 158)
	assert.True(t, strings.HasSuffix(s, "..."))
	assert.Equal(t, "short text", summary("  short \n text "))
}
