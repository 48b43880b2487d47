package jobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitebuilder/internal/config"
	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/pagestructure"
	"git.home.luguber.info/inful/sitebuilder/internal/pipeline"
	"git.home.luguber.info/inful/sitebuilder/internal/services"
	"git.home.luguber.info/inful/sitebuilder/internal/storage"
	"git.home.luguber.info/inful/sitebuilder/internal/themes"
)

// hangingRenderer blocks until its context ends, like a stuck hugo process.
type hangingRenderer struct{}

func (hangingRenderer) Execute(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func localSites(t *testing.T, timeout time.Duration) (LocalSiteBuilder, services.SiteBuildRequest) {
	t.Helper()
	root := t.TempDir()
	layouts := filepath.Join(root, "themes", "clinic", "layouts")
	require.NoError(t, os.MkdirAll(layouts, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(layouts, "index.html"), []byte("{{ .Title }}"), 0o600))

	cfg := config.Default()
	cfg.Build.WorkspaceDir = filepath.Join(root, "work")
	cfg.Build.ThemesDir = filepath.Join(root, "themes")

	reg, err := themes.LoadDefaultRegistry()
	require.NoError(t, err)
	table, err := pagestructure.LoadDefaultTable()
	require.NoError(t, err)
	resolver := pagestructure.NewResolver(table)
	tpl, _ := resolver.ResolveOrDefault("healthcare", "clinic", "multi-page")
	plan := resolver.Plan(tpl, clinicData())

	installer := pipeline.NewThemeInstaller(cfg.Build.ThemesDir, nil).WithFetchers(nil, nil)
	builder := pipeline.NewBuilder(cfg, themes.NewEngine(reg), storage.NewMemStore(),
		pipeline.WithRenderer(hangingRenderer{}), pipeline.WithInstaller(installer))
	req := services.SiteBuildRequest{
		JobID:       "job-hang",
		ProjectID:   "proj-1",
		ProjectData: clinicData(),
		ThemeConfig: services.ThemeConfig{ThemeID: "clinic"},
		Structure:   &plan,
	}
	return LocalSiteBuilder{Builder: builder, Timeout: timeout}, req
}

func TestLocalSiteBuilderAppliesTimeout(t *testing.T) {
	sites, req := localSites(t, 50*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := sites.BuildSite(context.Background(), req, nil)
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, derrors.HasCategory(err, derrors.CategoryTimeout), "got %v", err)
		assert.True(t, derrors.IsRetryable(err))
	case <-time.After(5 * time.Second):
		t.Fatal("local build kept running past its time limit")
	}
}

func TestLocalSiteBuilderCallerCancelIsNotTimeout(t *testing.T) {
	sites, req := localSites(t, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := sites.BuildSite(ctx, req, nil)
	require.Error(t, err)
	assert.False(t, derrors.HasCategory(err, derrors.CategoryTimeout))
}
