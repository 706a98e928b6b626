// Package metrics exports the reminder engine's Prometheus metrics.
//
// A nil *Exporter is valid and records nothing, so components can be built
// without metrics in tests and one-shot CLI runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pursue"

type Exporter struct {
	registry *prometheus.Registry

	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	pairOutcomes  *prometheus.CounterVec
	remindersSent *prometheus.CounterVec
	dispatchFails *prometheus.CounterVec
	recalcs       *prometheus.CounterVec
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for job duration histograms (in seconds)
	DurationBuckets []float64
}

// DefaultConfig returns default exporter configuration.
func DefaultConfig() Config {
	return Config{
		DurationBuckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
	}
}

func New(cfg Config) *Exporter {
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = DefaultConfig().DurationBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Batch job runs by result",
		},
		[]string{"job", "result"},
	)

	e.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Batch job duration in seconds",
			Buckets:   cfg.DurationBuckets,
		},
		[]string{"job"},
	)

	e.pairOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "pairs_total",
			Help:      "User/goal pairs handled by batch jobs, by outcome",
		},
		[]string{"job", "outcome"},
	)

	e.remindersSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "sent_total",
			Help:      "Reminders dispatched by tier",
		},
		[]string{"tier"},
	)

	e.dispatchFails = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "dispatch_failures_total",
			Help:      "Failed reminder dispatches by tier",
		},
		[]string{"tier"},
	)

	e.recalcs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "patterns",
			Name:      "recalculations_total",
			Help:      "Pattern recalculations by outcome",
		},
		[]string{"trigger", "outcome"},
	)

	registry.MustRegister(
		e.jobRuns,
		e.jobDuration,
		e.pairOutcomes,
		e.remindersSent,
		e.dispatchFails,
		e.recalcs,
	)

	return e
}

func (e *Exporter) RecordJobRun(job, result string, d time.Duration) {
	if e == nil {
		return
	}
	e.jobRuns.WithLabelValues(job, result).Inc()
	e.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (e *Exporter) RecordPairs(job string, processed, skipped, errored int) {
	if e == nil {
		return
	}
	e.pairOutcomes.WithLabelValues(job, "processed").Add(float64(processed))
	e.pairOutcomes.WithLabelValues(job, "skipped").Add(float64(skipped))
	e.pairOutcomes.WithLabelValues(job, "errored").Add(float64(errored))
}

func (e *Exporter) RecordReminderSent(tier string) {
	if e == nil {
		return
	}
	e.remindersSent.WithLabelValues(tier).Inc()
}

func (e *Exporter) RecordDispatchFailure(tier string) {
	if e == nil {
		return
	}
	e.dispatchFails.WithLabelValues(tier).Inc()
}

// RecordRecalculation counts one pattern recalculation. trigger is "batch"
// or "on_demand"; outcome is "ok", "insufficient_data", "timeout" or "error".
func (e *Exporter) RecordRecalculation(trigger, outcome string) {
	if e == nil {
		return
	}
	e.recalcs.WithLabelValues(trigger, outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	if e == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *Exporter) Registry() *prometheus.Registry {
	if e == nil {
		return nil
	}
	return e.registry
}
