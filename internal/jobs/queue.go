package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/sitebuilder/internal/eventstore"
	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
	"git.home.luguber.info/inful/sitebuilder/internal/metrics"
	"git.home.luguber.info/inful/sitebuilder/internal/pipeline"
	"git.home.luguber.info/inful/sitebuilder/internal/retry"
)

// ErrQueueFull is returned by Enqueue when the buffer is at capacity.
var ErrQueueFull = derrors.InternalError("generation queue is full").Retryable().Build()

// Runner executes claimed jobs for the queue.
type Runner interface {
	// Process runs the whole pipeline once, from the first step.
	Process(ctx context.Context, job *Job, attempt int) error
	// Fail records the final error once no retry is left.
	Fail(ctx context.Context, job *Job, err error)
}

// Queue hands job ids to a fixed pool of workers. The job store is the
// durable side of the queue: a worker must claim a job before running it, so
// a duplicate or stale delivery of the same id is dropped.
type Queue struct {
	ids      chan string
	workers  int
	maxSize  int
	store    Store
	runner   Runner
	policy   retry.Policy
	recorder metrics.Recorder
	bus      *EventBus

	mu       sync.Mutex
	active   map[string]context.CancelFunc
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewQueue creates a queue holding at most size pending ids.
func NewQueue(store Store, runner Runner, size, workers int, policy retry.Policy) *Queue {
	if size <= 0 {
		size = 100
	}
	if workers <= 0 {
		workers = 2
	}
	return &Queue{
		ids:      make(chan string, size),
		workers:  workers,
		maxSize:  size,
		store:    store,
		runner:   runner,
		policy:   policy,
		recorder: metrics.NoopRecorder{},
		active:   map[string]context.CancelFunc{},
		stopChan: make(chan struct{}),
	}
}

// Start launches the workers. They stop when ctx is done or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	slog.Info("Starting generation queue", slog.Int("workers", q.workers), slog.Int("max_size", q.maxSize))
	for i := range q.workers {
		q.wg.Add(1)
		go q.worker(ctx, fmt.Sprintf("worker-%d", i))
	}
}

// Stop interrupts running jobs and waits for the workers, or for ctx.
// Interrupted jobs keep their non-terminal status and are picked up again by
// recovery on the next start.
func (q *Queue) Stop(ctx context.Context) {
	q.stopOnce.Do(func() {
		slog.Info("Stopping generation queue")
		close(q.stopChan)
		q.mu.Lock()
		for _, cancel := range q.active {
			cancel()
		}
		q.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Generation queue stopped")
	case <-ctx.Done():
		slog.Warn("Generation queue stop timed out", logfields.Error(ctx.Err()))
	}
}

// Enqueue schedules a job id without blocking.
func (q *Queue) Enqueue(id string) error {
	if id == "" {
		return derrors.ValidationError("job id is required").Build()
	}
	select {
	case q.ids <- id:
		q.recorder.SetQueueDepth(len(q.ids))
		slog.Info("Generation job enqueued", logfields.JobID(id))
		return nil
	default:
		return ErrQueueFull
	}
}

// Length returns the number of ids waiting for a worker.
func (q *Queue) Length() int { return len(q.ids) }

// Active returns the ids of jobs currently being processed.
func (q *Queue) Active() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.active))
	for id := range q.active {
		out = append(out, id)
	}
	return out
}

func (q *Queue) worker(ctx context.Context, workerID string) {
	defer q.wg.Done()
	slog.Debug("Generation worker started", slog.String("worker_id", workerID))
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopChan:
			return
		case id := <-q.ids:
			q.recorder.SetQueueDepth(len(q.ids))
			q.handle(ctx, workerID, id)
		}
	}
}

func (q *Queue) handle(ctx context.Context, workerID, id string) {
	job, err := q.store.Claim(ctx, id, workerID)
	if err != nil {
		if errors.Is(err, ErrNotClaimable) {
			slog.Debug("Skipping unclaimable job", logfields.JobID(id), slog.String("worker_id", workerID))
			return
		}
		slog.Error("Failed to claim job", logfields.JobID(id), logfields.Error(err))
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.active[id] = cancel
	q.mu.Unlock()
	defer func() {
		cancel()
		q.mu.Lock()
		delete(q.active, id)
		q.mu.Unlock()
	}()

	start := time.Now()
	slog.Info("Generation job started", logfields.JobID(id), slog.String("worker_id", workerID))
	err = q.execute(jobCtx, job)
	if err == nil {
		return
	}
	if jobCtx.Err() != nil {
		// Shutdown; leave the job for recovery.
		if rerr := q.store.Release(context.WithoutCancel(ctx), id); rerr != nil {
			slog.Warn("Failed to release interrupted job", logfields.JobID(id), logfields.Error(rerr))
		}
		slog.Warn("Generation job interrupted", logfields.JobID(id), logfields.JobStatus(string(job.Status)))
		return
	}
	slog.Error("Generation job failed", logfields.JobID(id), logfields.Attempt(job.Attempts),
		logfields.DurationMS(float64(time.Since(start).Milliseconds())), logfields.Error(err))
	q.runner.Fail(context.WithoutCancel(ctx), job, err)
}

// execute runs the job, restarting it from the first step on retryable
// failures until the policy is exhausted.
func (q *Queue) execute(ctx context.Context, job *Job) error {
	for retries := 0; ; retries++ {
		attempt, err := q.store.RecordAttempt(ctx, job.ID)
		if err != nil {
			return err
		}
		job.Attempts = attempt

		err = q.runner.Process(ctx, job, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if !shouldRetry(err) || retries >= q.policy.MaxRetries {
			if shouldRetry(err) {
				slog.Warn("Transient error but retries exhausted", logfields.JobID(job.ID), logfields.Attempt(attempt))
			}
			return err
		}

		delay := q.policy.Delay(retries + 1)
		slog.Warn("Transient generation error, retrying", logfields.JobID(job.ID), logfields.Attempt(attempt),
			slog.Duration("delay", delay), logfields.Error(err))
		q.recorder.IncJobRetry()
		q.bus.Emit(ctx, Event{
			JobID:    job.ID,
			Type:     eventstore.TypeJobRetryScheduled,
			Status:   job.Status,
			Progress: job.Progress,
			Payload:  eventstore.RetryScheduled{Attempt: attempt, DelayMS: delay.Milliseconds(), Error: err.Error()},
		})
		line := fmt.Sprintf("[%s] attempt %d failed, retrying in %s: %v", time.Now().UTC().Format(time.RFC3339), attempt, delay, err)
		if lerr := q.store.AppendLog(ctx, job.ID, line); lerr != nil {
			slog.Warn("Failed to append build log", logfields.JobID(job.ID), logfields.Error(lerr))
		}
		if err := q.policy.Wait(ctx, retries+1); err != nil {
			return err
		}
	}
}

// shouldRetry is true for failures a fresh run could get past.
func shouldRetry(err error) bool {
	if se, ok := pipeline.AsStageError(err); ok {
		return se.Transient()
	}
	return derrors.IsRetryable(err)
}
