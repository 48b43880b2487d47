package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks cross-field constraints after defaults have been applied.
func Validate(cfg *Config) error {
	var errs []error

	if NormalizeRetryBackoff(string(cfg.Queue.RetryBackoff)) == "" {
		errs = append(errs, fmt.Errorf("queue.retry_backoff: %w", retryBackoffErr(cfg.Queue.RetryBackoff)))
	}
	if cfg.Queue.RetryInitialDelay > cfg.Queue.RetryMaxDelay {
		errs = append(errs, fmt.Errorf("queue.retry_initial_delay (%s) exceeds retry_max_delay (%s)",
			cfg.Queue.RetryInitialDelay, cfg.Queue.RetryMaxDelay))
	}
	if _, err := siteBuildModes.Parse(string(cfg.SiteBuild.Mode)); err != nil {
		errs = append(errs, fmt.Errorf("site_build.mode: %w", err))
	}
	if cfg.SiteBuild.Mode == SiteBuildRemote {
		if err := validateURL(cfg.SiteBuild.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("site_build.base_url: %w", err))
		}
	}
	if cfg.ContentService.BaseURL != "" {
		if err := validateURL(cfg.ContentService.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("content_service.base_url: %w", err))
		}
	}
	if cfg.Projects.DatabaseURL != "" && cfg.Projects.Directory != "" {
		errs = append(errs, errors.New("projects: database_url and directory are mutually exclusive"))
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path must start with '/': %q", cfg.Metrics.Path))
	}
	return errors.Join(errs...)
}

func retryBackoffErr(mode RetryBackoffMode) error {
	_, err := retryBackoffs.Parse(string(mode))
	return err
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
