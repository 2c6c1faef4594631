package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for builds, steps and the rate limiter.
// It satisfies engine.BuildObserver and ratelimit.Observer.
type Metrics struct {
	config MetricsConfig

	// Build metrics
	buildsStarted   prometheus.Counter
	buildsCompleted *prometheus.CounterVec
	buildDuration   *prometheus.HistogramVec
	activeBuilds    prometheus.Gauge

	// Step metrics
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	// Platform metrics
	provisioningCalls *prometheus.CounterVec

	// Rate limiter metrics
	rateLimitWait   prometheus.Histogram
	rateLimitTokens prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a metrics collector. A disabled configuration yields a
// collector whose Record methods do nothing.
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

		buildsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_started_total",
				Help:      "Total number of builds started",
			},
		),
		buildsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_completed_total",
				Help:      "Total number of builds that reached a terminal state",
			},
			[]string{"status"},
		),
		buildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Duration of build execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeBuilds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_builds",
				Help:      "Number of builds currently executing",
			},
		),

		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of build steps by resource kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of build steps in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		provisioningCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provisioning_calls_total",
				Help:      "Total number of platform calls by resource kind and status code",
			},
			[]string{"kind", "code"},
		),

		rateLimitWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ratelimit_wait_seconds",
				Help:      "Time spent waiting for a provisioning permit",
				Buckets:   buckets,
			},
		),
		rateLimitTokens: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ratelimit_tokens",
				Help:      "Tokens left in the bucket after the last permit",
			},
		),
	}

	registry.MustRegister(
		m.buildsStarted,
		m.buildsCompleted,
		m.buildDuration,
		m.activeBuilds,
		m.steps,
		m.stepDuration,
		m.provisioningCalls,
		m.rateLimitWait,
		m.rateLimitTokens,
	)

	return m, nil
}

// RecordBuildStarted counts a build that passed its preconditions.
func (m *Metrics) RecordBuildStarted(steps int) {
	if m.buildsStarted == nil {
		return
	}
	m.buildsStarted.Inc()
	m.activeBuilds.Inc()
}

// RecordBuildFinished records a build's terminal state and duration.
func (m *Metrics) RecordBuildFinished(state string, seconds float64) {
	if m.buildsCompleted == nil {
		return
	}
	m.buildsCompleted.WithLabelValues(state).Inc()
	m.buildDuration.WithLabelValues(state).Observe(seconds)
	m.activeBuilds.Dec()
}

// RecordStep records one step outcome (created, skipped or failed).
func (m *Metrics) RecordStep(kind, outcome string, seconds float64) {
	if m.steps == nil {
		return
	}
	m.steps.WithLabelValues(kind, outcome).Inc()
	if outcome != "skipped" {
		m.stepDuration.WithLabelValues(kind).Observe(seconds)
	}
}

// RecordProvisioningCall counts a platform response. A zero code means no
// response was received.
func (m *Metrics) RecordProvisioningCall(kind string, statusCode int) {
	if m.provisioningCalls == nil {
		return
	}
	code := "none"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	m.provisioningCalls.WithLabelValues(kind, code).Inc()
}

// ObserveRateLimit records how long a permit took and what was left.
func (m *Metrics) ObserveRateLimit(waited time.Duration, remaining float64) {
	if m.rateLimitWait == nil {
		return
	}
	m.rateLimitWait.Observe(waited.Seconds())
	m.rateLimitTokens.Set(remaining)
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
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

// StartMetricsServer starts an HTTP server exposing metrics in the background.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("Metrics server stopped")
		}
	}()

	return nil
}

// Close stops the metrics server if it was started.
func (m *Metrics) Close() error {
	if m.server == nil {
		return nil
	}
	return m.server.Close()
}
