package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFailed  ResultLabel = "failed"
)

// JobOutcome labels the terminal status of a generation job.
type JobOutcome string

const (
	OutcomeCompleted JobOutcome = "completed"
	OutcomeFailed    JobOutcome = "failed"
	OutcomeCancelled JobOutcome = "cancelled"
	OutcomeExpired   JobOutcome = "expired"
)

// Recorder defines observability hooks. Implementations must be safe for
// concurrent use by several workers.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	ObserveJobDuration(d time.Duration)
	IncJobOutcome(outcome JobOutcome)
	IncJobRetry()
	SetQueueDepth(n int)
	ObserveServiceCall(service string, d time.Duration, success bool)
	ObserveThemeConfidence(themeID string, confidence int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration)     {}
func (NoopRecorder) IncStageResult(string, ResultLabel)             {}
func (NoopRecorder) ObserveJobDuration(time.Duration)               {}
func (NoopRecorder) IncJobOutcome(JobOutcome)                       {}
func (NoopRecorder) IncJobRetry()                                   {}
func (NoopRecorder) SetQueueDepth(int)                              {}
func (NoopRecorder) ObserveServiceCall(string, time.Duration, bool) {}
func (NoopRecorder) ObserveThemeConfidence(string, int)             {}
