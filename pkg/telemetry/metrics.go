package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the netfence pipeline.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Guardrail metrics
	decisions *prometheus.CounterVec

	// Render metrics
	renders        *prometheus.CounterVec
	renderDuration *prometheus.HistogramVec

	// Error metrics
	errorsByScope *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Registry metrics
	registryObjects *prometheus.GaugeVec

	// System metrics
	activeRuns    prometheus.Gauge
	queuedTargets prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// A disabled configuration returns a no-op instance.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of pipeline runs started",
			},
			[]string{"trigger"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of pipeline runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of pipeline runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guardrail_decisions_total",
				Help:      "Total number of guardrail decisions by outcome",
			},
			[]string{"decision", "rule"},
		),

		renders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "renders_total",
				Help:      "Total number of target renders by platform and status",
			},
			[]string{"platform", "status"},
		),
		renderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "render_duration_seconds",
				Help:      "Duration of per-target rendering in seconds",
				Buckets:   buckets,
			},
			[]string{"platform"},
		),

		errorsByScope: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_scope_total",
				Help:      "Total number of classified errors by scope",
			},
			[]string{"scope"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of classified errors by code",
			},
			[]string{"code"},
		),

		registryObjects: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_objects",
				Help:      "Current number of registry objects by kind",
			},
			[]string{"kind"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of in-flight pipeline runs",
			},
		),
		queuedTargets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_targets",
				Help:      "Current number of render targets waiting for a worker",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.decisions,
		m.renders,
		m.renderDuration,
		m.errorsByScope,
		m.errorsByCode,
		m.registryObjects,
		m.activeRuns,
		m.queuedTargets,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(trigger string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(trigger).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordDecision records one guardrail decision.
func (m *Metrics) RecordDecision(decision, rule string) {
	if m.decisions == nil {
		return
	}
	m.decisions.WithLabelValues(decision, rule).Inc()
}

// RecordRender records one per-target render.
func (m *Metrics) RecordRender(platform, status string, duration time.Duration) {
	if m.renders == nil {
		return
	}
	m.renders.WithLabelValues(platform, status).Inc()
	m.renderDuration.WithLabelValues(platform).Observe(duration.Seconds())
}

// RecordError records a classified error by scope and code.
func (m *Metrics) RecordError(scope, code string) {
	if m.errorsByScope == nil {
		return
	}
	m.errorsByScope.WithLabelValues(scope).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// SetRegistryObjects sets the current count of registry objects of a kind.
func (m *Metrics) SetRegistryObjects(kind string, count float64) {
	if m.registryObjects == nil {
		return
	}
	m.registryObjects.WithLabelValues(kind).Set(count)
}

// SetQueuedTargets sets the current number of queued render targets.
func (m *Metrics) SetQueuedTargets(count float64) {
	if m.queuedTargets == nil {
		return
	}
	m.queuedTargets.Set(count)
}

// Timer times operations for histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing the metrics endpoint.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
