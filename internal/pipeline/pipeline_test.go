package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/sitebuilder/internal/config"
	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/pagestructure"
	"git.home.luguber.info/inful/sitebuilder/internal/services"
	"git.home.luguber.info/inful/sitebuilder/internal/storage"
	"git.home.luguber.info/inful/sitebuilder/internal/themes"
	"git.home.luguber.info/inful/sitebuilder/internal/wizard"
)

// fakeRenderer writes a minimal public/ tree the way hugo would.
type fakeRenderer struct{ calls atomic.Int32 }

func (f *fakeRenderer) Execute(_ context.Context, siteDir string) error {
	f.calls.Add(1)
	pub := filepath.Join(siteDir, "public")
	if err := os.MkdirAll(filepath.Join(pub, "css"), 0o750); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(pub, "css", "site.css"), []byte("body{}"), 0o600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(pub, "index.html"),
		[]byte("<html><head><title>Harbor Family Clinic</title></head><body>hi</body></html>"), 0o600)
}

// failingFetcher records attempts and always fails.
type failingFetcher struct {
	name  string
	calls atomic.Int32
}

func (f *failingFetcher) Name() string { return f.name }

func (f *failingFetcher) Fetch(context.Context, themes.InstallSource, string) error {
	f.calls.Add(1)
	return errors.New(f.name + " unreachable")
}

type fixture struct {
	cfg       *config.Config
	engine    *themes.Engine
	store     *storage.MemStore
	renderer  *fakeRenderer
	primary   *failingFetcher
	secondary *failingFetcher
}

func newFixture(t *testing.T, defaultTheme string) *fixture {
	t.Helper()
	root := t.TempDir()
	themesDir := filepath.Join(root, "themes")
	for _, id := range []string{"clinic", "savory"} {
		layouts := filepath.Join(themesDir, id, "layouts")
		require.NoError(t, os.MkdirAll(layouts, 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(layouts, "index.html"), []byte("{{ .Title }}"), 0o600))
	}

	reg, err := themes.LoadDefaultRegistry()
	require.NoError(t, err)
	reg, err = reg.WithDefault(defaultTheme)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Build.WorkspaceDir = filepath.Join(root, "work")
	cfg.Build.ThemesDir = themesDir
	return &fixture{
		cfg:       cfg,
		engine:    themes.NewEngine(reg),
		store:     storage.NewMemStore(),
		renderer:  &fakeRenderer{},
		primary:   &failingFetcher{name: "git"},
		secondary: &failingFetcher{name: "archive"},
	}
}

func (f *fixture) builder(opts ...Option) *Builder {
	installer := NewThemeInstaller(f.cfg.Build.ThemesDir, nil).WithFetchers(f.primary, f.secondary)
	all := append([]Option{WithRenderer(f.renderer), WithInstaller(installer)}, opts...)
	return NewBuilder(f.cfg, f.engine, f.store, all...)
}

func (f *fixture) workspaceEntries(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(f.cfg.Build.WorkspaceDir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return entries
}

func clinicData() wizard.Data {
	return wizard.Data{
		"businessInfo":     map[string]any{"name": "Harbor Family Clinic", "category": "healthcare", "description": "Family medicine on the waterfront."},
		"websiteType":      map[string]any{"type": "business"},
		"websiteStructure": map[string]any{"type": "multi-page"},
		"contactInfo":      map[string]any{"phone": "555-0142", "email": "hello@harbor.test", "address": "1 Pier Rd"},
		"selectedServices": []any{
			map[string]any{"name": "Annual Checkups", "description": "Head to toe."},
			"Vaccinations",
		},
	}
}

func clinicInput(t *testing.T, themeID string) Input {
	t.Helper()
	table, err := pagestructure.LoadDefaultTable()
	require.NoError(t, err)
	r := pagestructure.NewResolver(table, pagestructure.WithClock(func() time.Time {
		return time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	}))
	data := clinicData()
	tpl, _ := r.ResolveOrDefault("healthcare", "clinic", "multi-page")
	plan := r.Plan(tpl, data)
	return Input{
		JobID:     "job-1",
		ProjectID: "proj-1",
		Data:      data,
		ThemeID:   themeID,
		Content: &services.GeneratedContent{
			Homepage: &services.PageContent{Title: "Welcome", Content: "Care for the [whole family](/about/).", MetaDescription: "Harbor clinic"},
		},
		SEO:            map[string]any{"description": "Clinic by the harbor"},
		Customizations: map[string]any{"heroStyle": "split"},
		Plan:           &plan,
	}
}

func TestBuildProducesSiteAndSourceArchives(t *testing.T) {
	f := newFixture(t, "clinic")
	res, err := f.builder().Build(context.Background(), clinicInput(t, "clinic"))
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, "clinic", res.ThemeID)
	assert.Equal(t, "Harbor Family Clinic", res.SiteTitle)
	assert.NotEmpty(t, res.Site.Ref)
	assert.NotEmpty(t, res.Source.Ref)
	assert.NotEqual(t, res.Site.Ref, res.Source.Ref)
	assert.Positive(t, res.Site.Size)
	assert.Positive(t, res.Source.Size)
	assert.Equal(t, storage.KindSite, res.Site.Kind)
	assert.Equal(t, storage.KindSource, res.Source.Kind)
	assert.Equal(t, 2, f.store.Len())
	assert.Zero(t, f.primary.calls.Load(), "local theme must not hit remote fetchers")
	assert.Empty(t, f.workspaceEntries(t), "workspace removed after build")

	resp := res.Response()
	assert.True(t, resp.Success)
	assert.Len(t, resp.Artifacts, 2)
	ref, ok := resp.Artifact(services.ArtifactSite)
	require.True(t, ok)
	assert.Equal(t, res.Site.Ref, ref.Ref)

	siteFiles := zipNames(t, f.store, res.Site.Ref)
	assert.Contains(t, siteFiles, "index.html")
	assert.Contains(t, siteFiles, "css/site.css")

	srcFiles := zipNames(t, f.store, res.Source.Ref)
	assert.Contains(t, srcFiles, "hugo.yaml")
	assert.Contains(t, srcFiles, "content/_index.md")
	assert.Contains(t, srcFiles, "themes/clinic/layouts/index.html")
	assert.Contains(t, srcFiles, "static/robots.txt")
	for _, name := range srcFiles {
		assert.False(t, strings.HasPrefix(name, "public/"), "source archive must exclude %s", name)
		assert.False(t, strings.HasPrefix(name, packageDir), "source archive must exclude %s", name)
	}
}

func TestBuildWritesSectionIndexesAndContentRecords(t *testing.T) {
	f := newFixture(t, "clinic")
	f.cfg.Build.KeepWorkspace = true
	in := clinicInput(t, "clinic")
	res, err := f.builder().Build(context.Background(), in)
	require.NoError(t, err)

	paths := map[string]ContentArtifactRecord{}
	for _, rec := range res.ContentTracking {
		paths[rec.Path] = rec
		assert.True(t, rec.Success, rec.Path)
		assert.Positive(t, rec.Size, rec.Path)
		assert.Equal(t, markdownContentType, rec.ContentType)
	}
	assert.Contains(t, paths, "_index.md")
	assert.Contains(t, paths, "treatments/_index.md", "static page that parents services becomes a section")
	assert.Contains(t, paths, "treatments/annual-checkups.md")
	assert.Contains(t, paths, "treatments/vaccinations.md")
	assert.Contains(t, paths, "health-tips/_index.md", "blog directory gets a synthesized section")
	assert.Equal(t, "Harbor Family Clinic", paths["_index.md"].FrontMatter["title"])
	assert.Equal(t, "Harbor clinic", paths["_index.md"].FrontMatter["description"])
	assert.NotEmpty(t, paths["about.md"].FrontMatter["fingerprint"])

	entries := f.workspaceEntries(t)
	require.Len(t, entries, 1)
	site := filepath.Join(f.cfg.Build.WorkspaceDir, entries[0].Name())

	raw, err := os.ReadFile(filepath.Join(site, "hugo.yaml"))
	require.NoError(t, err)
	var cfg map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &cfg))
	assert.Equal(t, "clinic", cfg["theme"])
	assert.Equal(t, "Harbor Family Clinic", cfg["title"])
	params := cfg["params"].(map[string]any)
	assert.Equal(t, "split", params["heroStyle"])
	assert.Equal(t, "Harbor clinic", params["description"])
	colors := params["colors"].(map[string]any)
	assert.Equal(t, "industry", colors["source"])

	doc, err := os.ReadFile(filepath.Join(site, "content", "treatments", "annual-checkups.md"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(doc), "---\n"))
	assert.Contains(t, string(doc), "page_type: service")
}

func TestBuildThemeInstallFailureIsClassified(t *testing.T) {
	f := newFixture(t, "ananke")
	res, err := f.builder().Build(context.Background(), clinicInput(t, "ananke"))
	require.Error(t, err)
	assert.False(t, res.Success)

	se, ok := AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, StageThemeInstall, se.Stage)
	assert.True(t, derrors.HasCategory(err, derrors.CategoryThemeInstall))
	assert.EqualValues(t, 1, f.primary.calls.Load())
	assert.EqualValues(t, 1, f.secondary.calls.Load())
	assert.Zero(t, f.renderer.calls.Load())
	assert.Zero(t, f.store.Len())
	assert.Empty(t, f.workspaceEntries(t))
	assert.NotEmpty(t, res.Errors)
	assert.Empty(t, res.Site.Ref)
}

func TestBuildFallsBackToDefaultTheme(t *testing.T) {
	f := newFixture(t, "clinic")
	res, err := f.builder().Build(context.Background(), clinicInput(t, "blogroll"))
	require.NoError(t, err)
	assert.Equal(t, "clinic", res.ThemeID)
	assert.EqualValues(t, 1, f.primary.calls.Load())
	assert.EqualValues(t, 1, f.secondary.calls.Load())
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "blogroll")
}

func TestBuildWithoutIndexFails(t *testing.T) {
	f := newFixture(t, "clinic")
	res, err := f.builder(WithRenderer(NoopRenderer{})).Build(context.Background(), clinicInput(t, "clinic"))
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.True(t, derrors.HasCategory(err, derrors.CategoryBuild))
	assert.Zero(t, f.store.Len())
	assert.Empty(t, f.workspaceEntries(t))
}

func TestBuildRejectsUnknownTheme(t *testing.T) {
	f := newFixture(t, "clinic")
	_, err := f.builder().Build(context.Background(), clinicInput(t, "nope"))
	require.Error(t, err)
	assert.True(t, derrors.HasCategory(err, derrors.CategoryNotFound))
}

func TestBuildCanceled(t *testing.T) {
	f := newFixture(t, "clinic")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.builder().Build(ctx, clinicInput(t, "clinic"))
	require.Error(t, err)
	se, ok := AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, StageErrorCanceled, se.Kind)
	assert.False(t, se.Transient())
}

func TestPageTitle(t *testing.T) {
	assert.Equal(t, "A & B", pageTitle([]byte("<html><head><title> A &amp; B </title></head></html>")))
	assert.Empty(t, pageTitle([]byte("<html><body>none</body></html>")))
}

func TestContentPath(t *testing.T) {
	parents := map[string]bool{"treatments": true}
	assert.Equal(t, "_index.md", contentPath("/", parents))
	assert.Equal(t, "treatments/_index.md", contentPath("/treatments/", parents))
	assert.Equal(t, "about.md", contentPath("/about/", parents))
	assert.Equal(t, "/treatments/x/", urlFor("treatments/x.md"))
	assert.Equal(t, "/", urlFor("_index.md"))
}

func zipNames(t *testing.T, store storage.ArtifactStore, ref string) []string {
	t.Helper()
	rc, a, err := store.Open(context.Background(), ref)
	require.NoError(t, err)
	defer rc.Close()

	tmp := filepath.Join(t.TempDir(), "a.zip")
	out, err := os.Create(tmp)
	require.NoError(t, err)
	_, err = out.ReadFrom(rc)
	require.NoError(t, err)
	require.NoError(t, out.Close())

	zr, err := zip.OpenReader(tmp)
	require.NoError(t, err)
	defer zr.Close()
	assert.Equal(t, a.Size, fileSize(t, tmp))
	names := make([]string, 0, len(zr.File))
	for _, zf := range zr.File {
		names = append(names, zf.Name)
	}
	return names
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}

func TestAssetScaffoldEscapesFaviconAndSkipsRelativeSitemap(t *testing.T) {
	f := newFixture(t, "clinic")
	in := clinicInput(t, "clinic")
	in.Data["businessInfo"] = map[string]any{"name": "<script>", "category": "healthcare"}
	bs := newBuildState(in, time.Now)
	theme, ok := f.engine.Registry().Get("clinic")
	require.True(t, ok)
	bs.Theme = theme
	bs.SiteDir = t.TempDir()

	require.NoError(t, f.builder().stageAssetScaffold(context.Background(), bs))

	favicon, err := os.ReadFile(filepath.Join(bs.SiteDir, "static", "favicon.svg"))
	require.NoError(t, err)
	assert.Contains(t, string(favicon), ">&lt;</text>")
	assert.NotContains(t, string(favicon), "<script")

	robotsBody, err := os.ReadFile(filepath.Join(bs.SiteDir, "static", "robots.txt"))
	require.NoError(t, err)
	assert.NotContains(t, string(robotsBody), "Sitemap:")
}

func TestRobotsSitemapUsesAbsoluteBaseURL(t *testing.T) {
	assert.NotContains(t, robots("/"), "Sitemap")
	assert.NotContains(t, robots(""), "Sitemap")
	assert.Contains(t, robots("https://harbor.example/"), "Sitemap: https://harbor.example/sitemap.xml\n")
	assert.Contains(t, robots("https://harbor.example/clinic"), "Sitemap: https://harbor.example/clinic/sitemap.xml\n")
}
