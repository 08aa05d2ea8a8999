// Package telemetry holds devpack's Prometheus metrics and OpenTelemetry
// tracing helpers.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "devpack").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for build durations.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: a fresh registry owned by the Metrics value.
	Registry *prometheus.Registry
}

// MetricsOption configures the Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "devpack",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}
}

// Metrics holds every devpack metric. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	workersRunning     prometheus.Gauge
	workerSpawns       *prometheus.CounterVec
	builds             *prometheus.CounterVec
	buildDuration      *prometheus.HistogramVec
	pendingResolutions *prometheus.GaugeVec
	wsConnections      *prometheus.GaugeVec
	httpRequests       *prometheus.CounterVec
	symbolications     *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics.
//
// Metrics collected:
//   - devpack_workers_running: Gauge of running platform workers
//   - devpack_worker_spawns_total: Counter of spawn attempts by platform and result
//   - devpack_builds_total: Counter of finished builds by platform and result
//   - devpack_build_duration_seconds: Histogram of build durations by platform
//   - devpack_pending_resolutions: Gauge of requests waiting on a build, by platform
//   - devpack_ws_connections: Gauge of open WebSocket connections by server
//   - devpack_http_requests_total: Counter of HTTP requests by route and status
//   - devpack_symbolications_total: Counter of symbolication requests by result
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		registry: config.Registry,

		workersRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "workers_running",
			Help:        "Number of running platform build workers",
			ConstLabels: config.ConstLabels,
		}),

		workerSpawns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "worker_spawns_total",
			Help:        "Total number of worker spawn attempts",
			ConstLabels: config.ConstLabels,
		}, []string{"platform", "result"}),

		builds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "builds_total",
			Help:        "Total number of finished builds",
			ConstLabels: config.ConstLabels,
		}, []string{"platform", "result"}),

		buildDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "build_duration_seconds",
			Help:        "Build duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"platform"}),

		pendingResolutions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pending_resolutions",
			Help:        "Requests waiting for an in-flight build",
			ConstLabels: config.ConstLabels,
		}, []string{"platform"}),

		wsConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "ws_connections",
			Help:        "Open WebSocket connections",
			ConstLabels: config.ConstLabels,
		}, []string{"server"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "http_requests_total",
			Help:        "Total HTTP requests",
			ConstLabels: config.ConstLabels,
		}, []string{"route", "status"}),

		symbolications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "symbolications_total",
			Help:        "Total symbolication requests",
			ConstLabels: config.ConstLabels,
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// =============================================================================
// Recording Functions
// =============================================================================

// WorkerSpawned records a spawn attempt.
func (m *Metrics) WorkerSpawned(platform string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	} else {
		m.workersRunning.Inc()
	}
	m.workerSpawns.WithLabelValues(platform, result).Inc()
}

// WorkerExited records a worker leaving the running state.
func (m *Metrics) WorkerExited() {
	if m == nil {
		return
	}
	m.workersRunning.Dec()
}

// BuildFinished records a finished build.
func (m *Metrics) BuildFinished(platform string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.builds.WithLabelValues(platform, result).Inc()
	if d > 0 {
		m.buildDuration.WithLabelValues(platform).Observe(d.Seconds())
	}
}

// PendingAdded records a request starting to wait on a build.
func (m *Metrics) PendingAdded(platform string) {
	if m == nil {
		return
	}
	m.pendingResolutions.WithLabelValues(platform).Inc()
}

// PendingDrained records n waiting requests being resolved.
func (m *Metrics) PendingDrained(platform string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.pendingResolutions.WithLabelValues(platform).Sub(float64(n))
}

// ConnectionOpened records a WebSocket connection on server.
func (m *Metrics) ConnectionOpened(server string) {
	if m == nil {
		return
	}
	m.wsConnections.WithLabelValues(server).Inc()
}

// ConnectionClosed records a WebSocket disconnect on server.
func (m *Metrics) ConnectionClosed(server string) {
	if m == nil {
		return
	}
	m.wsConnections.WithLabelValues(server).Dec()
}

// RequestServed records an HTTP response.
func (m *Metrics) RequestServed(route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// Symbolicated records a symbolication request.
func (m *Metrics) Symbolicated(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.symbolications.WithLabelValues(result).Inc()
}
