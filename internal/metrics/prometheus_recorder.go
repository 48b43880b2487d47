package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sitebuilder"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration   *prom.HistogramVec
	stageResults    *prom.CounterVec
	jobDuration     prom.Histogram
	jobOutcomes     *prom.CounterVec
	jobRetries      prom.Counter
	queueDepth      prom.Gauge
	serviceDuration *prom.HistogramVec
	themeConfidence *prom.HistogramVec
}

// NewPrometheusRecorder constructs and registers the metrics on reg.
// A nil registry gets a private one.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual site build stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"}),
		jobDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of generation jobs from claim to terminal state",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		jobOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "job_outcomes_total",
			Help:      "Generation jobs by terminal status",
		}, []string{"outcome"}),
		jobRetries: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "job_retries_total",
			Help:      "Whole-job retries after retryable failures",
		}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker",
		}),
		serviceDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "service_call_duration_seconds",
			Help:      "Outbound calls to collaborator services",
			Buckets:   prom.DefBuckets,
		}, []string{"service", "result"}),
		themeConfidence: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "theme_selection_confidence",
			Help:      "Confidence of automatic theme selections",
			Buckets:   []float64{60, 65, 70, 75, 80, 85, 90, 95},
		}, []string{"theme"}),
	}
	reg.MustRegister(pr.stageDuration, pr.stageResults, pr.jobDuration, pr.jobOutcomes,
		pr.jobRetries, pr.queueDepth, pr.serviceDuration, pr.themeConfidence)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveJobDuration(d time.Duration) {
	p.jobDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncJobOutcome(outcome JobOutcome) {
	p.jobOutcomes.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncJobRetry() { p.jobRetries.Inc() }

func (p *PrometheusRecorder) SetQueueDepth(n int) { p.queueDepth.Set(float64(n)) }

func (p *PrometheusRecorder) ObserveServiceCall(service string, d time.Duration, success bool) {
	res := string(ResultFailed)
	if success {
		res = string(ResultSuccess)
	}
	p.serviceDuration.WithLabelValues(service, res).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveThemeConfidence(themeID string, confidence int) {
	p.themeConfidence.WithLabelValues(themeID).Observe(float64(confidence))
}

// HTTPHandler serves the metrics registered on reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
