package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"git.home.luguber.info/inful/sitebuilder/internal/config"
	"git.home.luguber.info/inful/sitebuilder/internal/jobs"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
	"git.home.luguber.info/inful/sitebuilder/internal/projects"
	"git.home.luguber.info/inful/sitebuilder/internal/storage"
	"git.home.luguber.info/inful/sitebuilder/internal/wizard"
)

const (
	localProjectID = "local"
	localUserID    = "cli"
)

// GenerateCmd implements the 'generate' command.
type GenerateCmd struct {
	Data    string        `arg:"" help:"Wizard data JSON file" type:"existingfile"`
	Theme   string        `short:"t" help:"Theme id; omitted means automatic selection"`
	Output  string        `short:"o" help:"Directory for site.zip and source.zip" default:"./site-output"`
	Timeout time.Duration `help:"Give up after this long" default:"15m"`
}

func (g *GenerateCmd) Run(global *Global, root *CLI) error {
	cfg, err := loadConfig(root.Config)
	if err != nil {
		return err
	}
	data, err := readWizardData(g.Data)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, g.Timeout)
	defer cancelTimeout()

	job, err := RunGenerate(ctx, cfg, data, g.Theme, g.Output)
	if err != nil {
		return err
	}
	w := global.out()
	fmt.Fprintf(w, "Generated %q with theme %s\n", job.Result.SiteTitle, job.Result.ThemeID)
	if sel := job.Options.Selection; sel != nil {
		fmt.Fprintf(w, "  confidence: %d%%\n", sel.Confidence)
	}
	fmt.Fprintf(w, "  pages:      %d\n", job.Result.Pages)
	fmt.Fprintf(w, "  site:       %s\n", filepath.Join(g.Output, "site.zip"))
	fmt.Fprintf(w, "  source:     %s\n", filepath.Join(g.Output, "source.zip"))
	return nil
}

// RunGenerate runs one generation job in-process against an in-memory job
// store and writes both archives to outDir.
func RunGenerate(ctx context.Context, cfg *config.Config, data wizard.Data, themeID, outDir string) (*jobs.Job, error) {
	cfg.Queue.Workers = 1
	a, err := newApp(ctx, cfg, appOptions{
		database:  ":memory:",
		artifacts: storage.NewMemStore(),
		projects: projects.NewMemory(&projects.Project{
			ID: localProjectID, UserID: localUserID, Name: data.BusinessName(),
			IsCompleted: true, WizardData: data,
		}),
		noNATS: true,
	})
	if err != nil {
		return nil, err
	}
	defer a.Close()

	done := make(chan string, 1)
	a.orch.Bus().Subscribe("", func(e jobs.Event) {
		if e.Status.Terminal() {
			select {
			case done <- e.JobID:
			default:
			}
		}
	})
	if err := a.orch.Start(ctx); err != nil {
		return nil, err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.orch.Stop(stopCtx)
	}()

	job, err := a.orch.Submit(ctx, jobs.SubmitRequest{
		ProjectID: localProjectID,
		UserID:    localUserID,
		Options:   jobs.Options{ThemeID: themeID, AutoDetect: themeID == ""},
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Generation submitted", logfields.JobID(job.ID))

	select {
	case <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("generation did not finish: %w", ctx.Err())
	}

	job, err = a.orch.Status(ctx, job.ID, localUserID)
	if err != nil {
		return nil, err
	}
	if job.Status != jobs.StatusCompleted {
		return job, fmt.Errorf("generation %s: %s", job.Status, job.ErrorLog)
	}

	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return job, err
	}
	for _, kind := range []storage.Kind{storage.KindSite, storage.KindSource} {
		if err := writeArtifact(ctx, a, job.ID, kind, filepath.Join(outDir, string(kind)+".zip")); err != nil {
			return job, err
		}
	}
	return job, nil
}

func writeArtifact(ctx context.Context, a *app, jobID string, kind storage.Kind, path string) error {
	rc, _, err := a.orch.Artifact(ctx, jobID, localUserID, kind)
	if err != nil {
		return err
	}
	defer rc.Close()
	// #nosec G304 - output path is chosen by the operator
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return errors.Join(fmt.Errorf("write %s: %w", path, err), os.Remove(path))
	}
	return f.Close()
}
