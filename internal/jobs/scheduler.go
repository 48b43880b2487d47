package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
)

// Cleaner expires finished jobs.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// Scheduler runs the periodic expiry sweep.
type Scheduler struct {
	scheduler gocron.Scheduler
	cleaner   Cleaner
	ctx       context.Context
}

// NewScheduler creates a scheduler bound to cleaner.
func NewScheduler(cleaner Cleaner) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, cleaner: cleaner, ctx: context.Background()}, nil
}

// ScheduleCleanup runs the sweep every interval and returns the job id.
func (s *Scheduler) ScheduleCleanup(interval time.Duration) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("cleanup interval must be positive, got %s", interval)
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.runCleanup),
		gocron.WithName("expire-generations"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create cleanup job: %w", err)
	}
	return job.ID().String(), nil
}

// Start begins the scheduler. Sweeps run with ctx.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("Starting scheduler")
	s.ctx = ctx
	s.scheduler.Start()
}

// Stop shuts the scheduler down.
func (s *Scheduler) Stop() error {
	slog.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

func (s *Scheduler) runCleanup() {
	n, err := s.cleaner.CleanupExpired(s.ctx)
	if err != nil {
		slog.Error("Expiry sweep failed", logfields.Error(err))
		return
	}
	slog.Debug("Expiry sweep finished", slog.Int("expired", n))
}
