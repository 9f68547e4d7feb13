package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "factorpulse"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	pipelineRuns     *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	stepDuration     *prometheus.HistogramVec
	assets           *prometheus.GaugeVec
	outliers         *prometheus.GaugeVec
	compositeScore   *prometheus.GaugeVec
	messagesSent     *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	latency          *prometheus.HistogramVec
}

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// New returns the process wide recorder registered with the default registry.
func New() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = NewWithRegistry(prometheus.DefaultRegisterer)
	})
	return defaultRecorder
}

// NewWithRegistry registers a fresh set of collectors with reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		pipelineRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Hourly pipeline runs by outcome",
			},
			[]string{"status"},
		),
		pipelineDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_duration_seconds",
				Help:      "Duration of a full pipeline run",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"status"},
		),
		stepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_step_duration_seconds",
				Help:      "Duration of individual pipeline steps",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		assets: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "assets",
				Help:      "Assets processed or skipped in the last run",
			},
			[]string{"state"},
		),
		outliers: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "outliers",
				Help:      "Outliers flagged in the last run",
			},
			[]string{"type"},
		),
		compositeScore: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "composite_score",
				Help:      "Last composite score per symbol",
			},
			[]string{"symbol"},
		),
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total number of messages sent to a backend",
			},
			[]string{"backend", "channel"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordPipelineRun(status string, seconds float64) {
	r.pipelineRuns.WithLabelValues(status).Inc()
	r.pipelineDuration.WithLabelValues(status).Observe(seconds)
}

func (r *Recorder) RecordStep(step string, seconds float64) {
	r.stepDuration.WithLabelValues(step).Observe(seconds)
}

func (r *Recorder) RecordAssets(processed, skipped int) {
	r.assets.WithLabelValues("processed").Set(float64(processed))
	r.assets.WithLabelValues("skipped").Set(float64(skipped))
}

func (r *Recorder) RecordOutliers(top, bottom int) {
	r.outliers.WithLabelValues("top").Set(float64(top))
	r.outliers.WithLabelValues("bottom").Set(float64(bottom))
}

// RecordCompositeScore records the last composite score for a symbol.
func (r *Recorder) RecordCompositeScore(symbol string, score float64) {
	r.compositeScore.WithLabelValues(symbol).Set(score)
}

// RecordMessageSent records a message sent to a backend.
func (r *Recorder) RecordMessageSent(backend, channel string) {
	r.messagesSent.WithLabelValues(backend, channel).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
