// Package metrics: коллекторы Prometheus бота.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voice_mimic"

// Metrics регистрируется в собственном реестре, тесты могут создавать сколько угодно.
type Metrics struct {
	Registry *prometheus.Registry

	Events          *prometheus.CounterVec   // kind, outcome
	RunDuration     *prometheus.HistogramVec // kind
	RunsInFlight    prometheus.Gauge
	ExternalCalls   *prometheus.CounterVec // op, outcome
	SemitoneDelta   prometheus.Histogram
	ArtifactsLive   prometheus.Gauge
	CleanupFailures prometheus.Counter
	QueueDepth      prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Session events by kind and outcome",
		}, []string{"kind", "outcome"}),

		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "Pipeline run duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"kind"}),

		RunsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_in_flight",
			Help:      "Pipeline runs currently executing",
		}),

		ExternalCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_calls_total",
			Help:      "Calls to external collaborators by operation and outcome",
		}, []string{"op", "outcome"}),

		SemitoneDelta: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "semitone_delta",
			Help:      "Applied pitch shift in semitones",
			Buckets:   prometheus.LinearBuckets(-24, 4, 13),
		}),

		ArtifactsLive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifacts_live",
			Help:      "Temporary artifacts currently stored",
		}),

		CleanupFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_cleanup_failures_total",
			Help:      "Artifacts that could not be removed",
		}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_queue_depth",
			Help:      "Jobs waiting for a worker",
		}),
	}
}

// Handler отдаёт реестр в текстовом формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
