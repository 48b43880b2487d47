package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/sitebuilder/internal/config"
	"git.home.luguber.info/inful/sitebuilder/internal/eventstore"
	"git.home.luguber.info/inful/sitebuilder/internal/jobs"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
	"git.home.luguber.info/inful/sitebuilder/internal/metrics"
	"git.home.luguber.info/inful/sitebuilder/internal/notify"
	"git.home.luguber.info/inful/sitebuilder/internal/pagestructure"
	"git.home.luguber.info/inful/sitebuilder/internal/pipeline"
	"git.home.luguber.info/inful/sitebuilder/internal/projects"
	"git.home.luguber.info/inful/sitebuilder/internal/services"
	"git.home.luguber.info/inful/sitebuilder/internal/storage"
	"git.home.luguber.info/inful/sitebuilder/internal/themes"
)

// app is the wired service graph shared by serve and generate.
type app struct {
	cfg       *config.Config
	registry  *themes.Registry
	engine    *themes.Engine
	resolver  *pagestructure.Resolver
	artifacts storage.ArtifactStore
	store     *jobs.SQLiteStore
	events    *eventstore.SQLiteStore
	projects  projects.Provider
	client    *services.Client
	builder   *pipeline.Builder
	orch      *jobs.Orchestrator
	promReg   *prometheus.Registry
	recorder  metrics.Recorder
	probes    []services.Probe

	closers []func() error
}

// appOptions tweaks wiring for the offline commands.
type appOptions struct {
	database  string
	artifacts storage.ArtifactStore
	projects  projects.Provider
	noNATS    bool
}

// loadCatalogs loads the theme registry and page-template table, applying
// the configured default theme.
func loadCatalogs(cfg *config.Config) (*themes.Registry, *pagestructure.Table, error) {
	reg, err := themes.LoadRegistry(cfg.Registry.ThemesFile)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Build.DefaultTheme != "" && cfg.Build.DefaultTheme != reg.DefaultTheme() {
		if reg, err = reg.WithDefault(cfg.Build.DefaultTheme); err != nil {
			return nil, nil, err
		}
	}
	table, err := pagestructure.LoadTable(cfg.Registry.TemplatesFile)
	if err != nil {
		return nil, nil, err
	}
	return reg, table, nil
}

func newApp(ctx context.Context, cfg *config.Config, o appOptions) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	reg, table, err := loadCatalogs(cfg)
	if err != nil {
		return nil, err
	}
	a.registry = reg
	a.engine = themes.NewEngine(reg)
	a.resolver = pagestructure.NewResolver(table)
	slog.Info("Catalogs loaded",
		slog.String("themes_version", reg.Version()),
		slog.Int("themes", len(reg.Themes())),
		slog.String("templates_version", table.Version()))

	a.recorder = metrics.NoopRecorder{}
	if cfg.Metrics.Enabled {
		a.promReg = prometheus.NewRegistry()
		a.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.recorder = metrics.NewPrometheusRecorder(a.promReg)
	}

	a.artifacts = o.artifacts
	if a.artifacts == nil {
		fs, err := storage.NewFSStore(cfg.Storage.ArtifactsDir)
		if err != nil {
			return nil, err
		}
		a.artifacts = fs
	}
	a.closers = append(a.closers, a.artifacts.Close)

	database := o.database
	if database == "" {
		database = cfg.Storage.Database
		if err := os.MkdirAll(filepath.Dir(database), 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := jobs.OpenDB(database)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	if a.store, err = jobs.NewSQLiteStoreDB(db); err != nil {
		return nil, err
	}
	if a.events, err = eventstore.NewSQLiteStoreDB(db); err != nil {
		return nil, err
	}

	a.projects = o.projects
	if a.projects == nil {
		if a.projects, err = a.openProjects(ctx); err != nil {
			return nil, err
		}
	}

	var publishers []jobs.Publisher
	if cfg.NATS.URL != "" && !o.noNATS {
		pub, err := notify.NewNATSPublisher(ctx, cfg.NATS)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		a.probes = append(a.probes, services.Probe{Name: "nats", Check: pub.Ping})
		publishers = append(publishers, pub)
		slog.Info("Publishing job events to NATS", logfields.URL(cfg.NATS.URL))
	}

	a.client = services.NewClient(cfg, services.WithRecorder(a.recorder))
	a.builder = pipeline.NewBuilder(cfg, a.engine, a.artifacts, pipeline.WithRecorder(a.recorder))

	var sites jobs.SiteBuilder = jobs.LocalSiteBuilder{Builder: a.builder, Timeout: cfg.SiteBuild.Timeout}
	if a.client.RemoteBuildEnabled() {
		sites = jobs.RemoteSiteBuilder{Client: a.client, Store: a.artifacts}
		slog.Info("Using remote site-build service", logfields.URL(cfg.SiteBuild.BaseURL))
	}
	var content services.ContentGenerator = services.LocalContentGenerator{}
	if cfg.ContentService.BaseURL != "" {
		content = a.client
	}

	a.orch = jobs.New(cfg, jobs.Deps{
		Store:     a.store,
		Projects:  a.projects,
		Engine:    a.engine,
		Resolver:  a.resolver,
		Content:   content,
		Sites:     sites,
		Artifacts: a.artifacts,
		Bus:       jobs.NewEventBus(a.events, publishers...),
		Recorder:  a.recorder,
	})
	return a, nil
}

func (a *app) openProjects(ctx context.Context) (projects.Provider, error) {
	switch {
	case a.cfg.Projects.DatabaseURL != "":
		pg, err := projects.ConnectPostgres(ctx, a.cfg.Projects.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		a.probes = append(a.probes, services.Probe{Name: "projects-db", Check: pg.Ping})
		return pg, nil
	case a.cfg.Projects.Directory != "":
		return projects.NewFileProvider(a.cfg.Projects.Directory)
	default:
		return nil, errors.New("no project source configured: set projects.database_url or projects.directory")
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("Shutdown step failed", logfields.Error(err))
		}
	}
	a.closers = nil
}
