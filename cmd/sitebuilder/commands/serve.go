package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/sitebuilder/internal/config"
	"git.home.luguber.info/inful/sitebuilder/internal/jobs"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
	"git.home.luguber.info/inful/sitebuilder/internal/metrics"
	"git.home.luguber.info/inful/sitebuilder/internal/server"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	Addr    string `help:"Listen address (overrides server.addr)"`
	Workers int    `help:"Worker count (overrides queue.workers)"`
}

func (s *ServeCmd) Run(_ *Global, root *CLI) error {
	cfg, err := loadConfig(root.Config)
	if err != nil {
		return err
	}
	if s.Addr != "" {
		cfg.Server.Addr = s.Addr
	}
	if s.Workers > 0 {
		cfg.Queue.Workers = s.Workers
	}
	return RunServe(cfg)
}

// RunServe wires every component and blocks until SIGINT or SIGTERM.
func RunServe(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.Close()

	var metricsHandler http.Handler
	if a.promReg != nil {
		metricsHandler = metrics.HTTPHandler(a.promReg)
	}
	srv := server.New(cfg, server.Deps{
		Jobs:      a.orch,
		Builder:   a.builder,
		Artifacts: a.artifacts,
		Services:  a.client,
		Metrics:   metricsHandler,
		Probes:    a.probes,
	})
	if err := srv.Listen(); err != nil {
		return err
	}

	if err := a.orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	sched, err := jobs.NewScheduler(a.orch)
	if err != nil {
		return err
	}
	if _, err := sched.ScheduleCleanup(cfg.Storage.CleanupInterval); err != nil {
		return err
	}
	sched.Start(ctx)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve()
	}()
	slog.Info("Sitebuilder started",
		logfields.URL(srv.Addr()),
		logfields.Worker(cfg.Queue.Workers),
		slog.Duration("retention", cfg.Storage.Retention))

	var serveErr error
	select {
	case serveErr = <-errChan:
	case <-ctx.Done():
		slog.Info("Shutdown signal received, stopping...")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := srv.Shutdown(stopCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", logfields.Error(err))
	}
	if err := sched.Stop(); err != nil {
		slog.Warn("Scheduler shutdown failed", logfields.Error(err))
	}
	a.orch.Stop(stopCtx)

	if serveErr != nil {
		return fmt.Errorf("http server error: %w", serveErr)
	}
	slog.Info("Sitebuilder stopped")
	return nil
}
