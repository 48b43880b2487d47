// Package commands implements the sitebuilder command line.
package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/sitebuilder/internal/config"
	"git.home.luguber.info/inful/sitebuilder/internal/wizard"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "config.yaml"

// Global carries state shared by every command.
type Global struct {
	Stdout io.Writer
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve    ServeCmd    `cmd:"" help:"Run the generation API, job workers and cleanup scheduler"`
	Generate GenerateCmd `cmd:"" help:"Generate one website from a wizard data file without the API"`
	Themes   ThemesCmd   `cmd:"" help:"Inspect the theme registry"`
	Plan     PlanCmd     `cmd:"" help:"Print the page-structure plan for wizard data"`
	Init     InitCmd     `cmd:"" help:"Initialize a new configuration file"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// loadConfig reads the configuration file. A missing file at the default
// path falls back to built-in defaults; an explicitly named file must exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == DefaultConfigPath {
		slog.Info("No configuration file found, using defaults", "path", path)
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// readWizardData parses a wizard JSON document. A project document with a
// wizardData field is accepted as well.
func readWizardData(path string) (wizard.Data, error) {
	// #nosec G304 - path comes from the operator's command line
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wizard data: %w", err)
	}
	data, err := wizard.Parse(raw)
	if err != nil {
		return nil, err
	}
	if nested := data.Map("wizardData"); nested != nil {
		return wizard.Data(nested), nil
	}
	return data, nil
}

func (g *Global) out() io.Writer {
	if g == nil || g.Stdout == nil {
		return os.Stdout
	}
	return g.Stdout
}
