// Package config loads the sitebuilder service configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Queue          QueueConfig          `yaml:"queue"`
	ContentService ContentServiceConfig `yaml:"content_service"`
	SiteBuild      SiteBuildConfig      `yaml:"site_build"`
	Health         HealthConfig         `yaml:"health"`
	Storage        StorageConfig        `yaml:"storage"`
	Build          BuildConfig          `yaml:"build"`
	Registry       RegistryConfig       `yaml:"registry"`
	Projects       ProjectsConfig       `yaml:"projects"`
	NATS           NATSConfig           `yaml:"nats"`
	Metrics        MetricsConfig        `yaml:"metrics"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// QueueConfig controls the generation worker pool and job-level retries.
type QueueConfig struct {
	Workers           int              `yaml:"workers"`
	Size              int              `yaml:"size"`
	MaxRetries        int              `yaml:"max_retries"`
	RetryBackoff      RetryBackoffMode `yaml:"retry_backoff"`
	RetryInitialDelay time.Duration    `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration    `yaml:"retry_max_delay"`

	maxRetriesSpecified bool
}

// UnmarshalYAML records whether max_retries was given so an explicit 0 survives defaulting.
func (q *QueueConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw QueueConfig
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	*q = QueueConfig(r)
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value == "max_retries" {
			q.maxRetriesSpecified = true
		}
	}
	return nil
}

// ContentServiceConfig points at the external content-generation service.
type ContentServiceConfig struct {
	BaseURL         string        `yaml:"base_url"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollAttempts int           `yaml:"max_poll_attempts"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// SiteBuildMode selects whether the build pipeline runs in-process or on a remote builder.
type SiteBuildMode string

const (
	SiteBuildLocal  SiteBuildMode = "local"
	SiteBuildRemote SiteBuildMode = "remote"
)

// SiteBuildConfig configures the site build collaborator.
type SiteBuildConfig struct {
	Mode    SiteBuildMode `yaml:"mode"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig bounds dependency probes.
type HealthConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig locates persistent state and controls artifact retention.
type StorageConfig struct {
	DataDir         string        `yaml:"data_dir"`
	Database        string        `yaml:"database"`
	ArtifactsDir    string        `yaml:"artifacts_dir"`
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// BuildConfig configures the local build pipeline.
type BuildConfig struct {
	WorkspaceDir  string `yaml:"workspace_dir"`
	ThemesDir     string `yaml:"themes_dir"`
	HugoBinary    string `yaml:"hugo_binary"`
	DefaultTheme  string `yaml:"default_theme"`
	KeepWorkspace bool   `yaml:"keep_workspace"`
}

// RegistryConfig optionally overrides the embedded theme and page template tables.
// A configured file that cannot be read is a load failure, never a silent fallback.
type RegistryConfig struct {
	ThemesFile    string `yaml:"themes_file"`
	TemplatesFile string `yaml:"templates_file"`
}

// ProjectsConfig selects the project data provider.
type ProjectsConfig struct {
	DatabaseURL string `yaml:"database_url"`
	Directory   string `yaml:"directory"`
}

// NATSConfig enables job event publishing when URL is set. Events go to a
// JetStream stream; the latest snapshot per job is kept in a KV bucket.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Stream        string `yaml:"stream"`
	StatusBucket  string `yaml:"status_bucket"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads, expands, defaults and validates a configuration file.
func Load(configPath string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration bytes after environment expansion.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := NewDefaultApplier().ApplyDefaults(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns a fully defaulted configuration without reading any file.
func Default() *Config {
	var cfg Config
	_ = NewDefaultApplier().ApplyDefaults(&cfg)
	return &cfg
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Default()
	example.ContentService.BaseURL = "${CONTENT_SERVICE_URL}"
	example.Projects.DatabaseURL = "${PROJECTS_DATABASE_URL}"
	example.Metrics.Enabled = true

	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
