package config

import (
	"path/filepath"
	"time"
)

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// CompositeDefaultApplier runs domain appliers in order.
type CompositeDefaultApplier struct {
	appliers []DefaultApplier
}

// NewDefaultApplier returns the standard applier chain. Storage runs first so
// build paths can be derived from the data directory.
func NewDefaultApplier() *CompositeDefaultApplier {
	return &CompositeDefaultApplier{appliers: []DefaultApplier{
		&StorageDefaultApplier{},
		&ServerDefaultApplier{},
		&QueueDefaultApplier{},
		&ServicesDefaultApplier{},
		&BuildDefaultApplier{},
		&MetricsDefaultApplier{},
	}}
}

// ApplyDefaults implements DefaultApplier.
func (c *CompositeDefaultApplier) ApplyDefaults(cfg *Config) error {
	for _, a := range c.appliers {
		if err := a.ApplyDefaults(cfg); err != nil {
			return err
		}
	}
	return nil
}

// StorageDefaultApplier handles storage defaults.
type StorageDefaultApplier struct{}

func (s *StorageDefaultApplier) Domain() string { return "storage" }

func (s *StorageDefaultApplier) ApplyDefaults(cfg *Config) error {
	st := &cfg.Storage
	if st.DataDir == "" {
		st.DataDir = "./data"
	}
	if st.Database == "" {
		st.Database = filepath.Join(st.DataDir, "sitebuilder.db")
	}
	if st.ArtifactsDir == "" {
		st.ArtifactsDir = filepath.Join(st.DataDir, "artifacts")
	}
	if st.Retention <= 0 {
		st.Retention = 7 * 24 * time.Hour
	}
	if st.CleanupInterval <= 0 {
		st.CleanupInterval = time.Hour
	}
	return nil
}

// ServerDefaultApplier handles HTTP listener defaults.
type ServerDefaultApplier struct{}

func (s *ServerDefaultApplier) Domain() string { return "server" }

func (s *ServerDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	return nil
}

// QueueDefaultApplier handles worker pool and retry defaults.
type QueueDefaultApplier struct{}

func (q *QueueDefaultApplier) Domain() string { return "queue" }

func (q *QueueDefaultApplier) ApplyDefaults(cfg *Config) error {
	qc := &cfg.Queue
	if qc.Workers <= 0 {
		qc.Workers = 2
	}
	if qc.Size <= 0 {
		qc.Size = 100
	}
	if qc.MaxRetries < 0 {
		qc.MaxRetries = 0
	}
	if qc.MaxRetries == 0 && !qc.maxRetriesSpecified { // 2 retries, 3 attempts in total
		qc.MaxRetries = 2
	}
	if qc.RetryBackoff == "" {
		qc.RetryBackoff = RetryBackoffExponential
	} else if m := NormalizeRetryBackoff(string(qc.RetryBackoff)); m != "" {
		qc.RetryBackoff = m
	}
	if qc.RetryInitialDelay <= 0 {
		qc.RetryInitialDelay = 2 * time.Second
	}
	if qc.RetryMaxDelay <= 0 {
		qc.RetryMaxDelay = 30 * time.Second
	}
	return nil
}

// ServicesDefaultApplier handles external collaborator defaults.
type ServicesDefaultApplier struct{}

func (s *ServicesDefaultApplier) Domain() string { return "services" }

func (s *ServicesDefaultApplier) ApplyDefaults(cfg *Config) error {
	cs := &cfg.ContentService
	if cs.PollInterval <= 0 {
		cs.PollInterval = 5 * time.Second
	}
	if cs.MaxPollAttempts <= 0 {
		cs.MaxPollAttempts = 120
	}
	if cs.RequestTimeout <= 0 {
		cs.RequestTimeout = 30 * time.Second
	}
	sb := &cfg.SiteBuild
	if sb.Mode == "" {
		sb.Mode = SiteBuildLocal
	} else if m, err := siteBuildModes.Parse(string(sb.Mode)); err == nil {
		sb.Mode = m
	}
	if sb.Timeout <= 0 {
		sb.Timeout = 10 * time.Minute
	}
	if cfg.Health.Timeout <= 0 {
		cfg.Health.Timeout = 5 * time.Second
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "sitebuilder.jobs"
	}
	if cfg.NATS.Stream == "" {
		cfg.NATS.Stream = "SITEBUILDER_JOBS"
	}
	if cfg.NATS.StatusBucket == "" {
		cfg.NATS.StatusBucket = "sitebuilder_job_status"
	}
	return nil
}

// BuildDefaultApplier handles local pipeline defaults.
type BuildDefaultApplier struct{}

func (b *BuildDefaultApplier) Domain() string { return "build" }

func (b *BuildDefaultApplier) ApplyDefaults(cfg *Config) error {
	bc := &cfg.Build
	if bc.WorkspaceDir == "" {
		bc.WorkspaceDir = filepath.Join(cfg.Storage.DataDir, "workspaces")
	}
	if bc.ThemesDir == "" {
		bc.ThemesDir = filepath.Join(cfg.Storage.DataDir, "themes")
	}
	if bc.HugoBinary == "" {
		bc.HugoBinary = "hugo"
	}
	if bc.DefaultTheme == "" {
		bc.DefaultTheme = "ananke"
	}
	return nil
}

// MetricsDefaultApplier handles metrics endpoint defaults.
type MetricsDefaultApplier struct{}

func (m *MetricsDefaultApplier) Domain() string { return "metrics" }

func (m *MetricsDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	return nil
}
