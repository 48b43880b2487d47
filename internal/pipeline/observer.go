package pipeline

import (
	"log/slog"
	"time"

	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
	"git.home.luguber.info/inful/sitebuilder/internal/metrics"
)

// BuildObserver receives callbacks around stage execution and build
// lifecycle.
type BuildObserver interface {
	OnStageStart(stage StageName)
	OnStageComplete(stage StageName, duration time.Duration, result StageResult)
	OnBuildComplete(result *Result)
}

// NoopObserver is a no-op implementation.
type NoopObserver struct{}

func (NoopObserver) OnStageStart(StageName)                                {}
func (NoopObserver) OnStageComplete(StageName, time.Duration, StageResult) {}
func (NoopObserver) OnBuildComplete(*Result)                               {}

// RecorderObserver adapts metrics.Recorder into a BuildObserver.
type RecorderObserver struct{ Recorder metrics.Recorder }

func (r RecorderObserver) OnStageStart(StageName) {}

func (r RecorderObserver) OnStageComplete(stage StageName, d time.Duration, result StageResult) {
	if r.Recorder == nil {
		return
	}
	r.Recorder.ObserveStageDuration(string(stage), d)
	label := metrics.ResultSuccess
	if result != StageResultSuccess {
		label = metrics.ResultFailed
	}
	r.Recorder.IncStageResult(string(stage), label)
}

func (r RecorderObserver) OnBuildComplete(*Result) {}

// LogObserver logs stage progress.
type LogObserver struct{ JobID string }

func (l LogObserver) OnStageStart(stage StageName) {
	slog.Info("Stage started", logfields.JobID(l.JobID), logfields.Stage(string(stage)))
}

func (l LogObserver) OnStageComplete(stage StageName, d time.Duration, result StageResult) {
	slog.Info("Stage finished", logfields.JobID(l.JobID), logfields.Stage(string(stage)),
		slog.String("result", string(result)), logfields.DurationMS(float64(d.Milliseconds())))
}

func (l LogObserver) OnBuildComplete(res *Result) {
	slog.Info("Site build finished", logfields.JobID(l.JobID), slog.Bool("success", res.Success),
		logfields.DurationMS(float64(res.TotalElapsed.Milliseconds())))
}

// MultiObserver fans callbacks out to several observers.
type MultiObserver []BuildObserver

func (m MultiObserver) OnStageStart(stage StageName) {
	for _, o := range m {
		o.OnStageStart(stage)
	}
}

func (m MultiObserver) OnStageComplete(stage StageName, d time.Duration, result StageResult) {
	for _, o := range m {
		o.OnStageComplete(stage, d, result)
	}
}

func (m MultiObserver) OnBuildComplete(res *Result) {
	for _, o := range m {
		o.OnBuildComplete(res)
	}
}
