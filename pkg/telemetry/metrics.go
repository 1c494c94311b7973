package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the engine and the protocol
// layer. A disabled Metrics instance is a safe no-op.
type Metrics struct {
	config MetricsConfig

	// Protocol metrics
	providerCalls    *prometheus.CounterVec
	providerErrors   *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec

	// Reconcile metrics
	reconcileActions *prometheus.CounterVec
	checkFailures    *prometheus.CounterVec
	retries          *prometheus.CounterVec
	driftDetections  *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "terrane"
	}
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider protocol calls",
			},
			[]string{"provider", "method"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of failed provider calls by error class",
			},
			[]string{"provider", "method", "class"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of provider protocol calls in seconds",
				Buckets:   buckets,
			},
			[]string{"provider", "method"},
		),
		reconcileActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_actions_total",
				Help:      "Total number of reconcile actions by kind and outcome",
			},
			[]string{"action", "status"},
		),
		checkFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "check_failures_total",
				Help:      "Total number of property validation failures reported by Check",
			},
			[]string{"provider"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_retries_total",
				Help:      "Total number of retried provider calls by error class",
			},
			[]string{"method", "class"},
		),
		driftDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_detections_total",
				Help:      "Total number of drift detections by outcome",
			},
			[]string{"outcome"},
		),
	}

	collectors := []prometheus.Collector{
		m.providerCalls,
		m.providerErrors,
		m.providerDuration,
		m.reconcileActions,
		m.checkFailures,
		m.retries,
		m.driftDetections,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// Enabled reports whether metrics collection is active.
func (m *Metrics) Enabled() bool {
	return m != nil && m.registry != nil
}

// RecordProviderCall records one completed protocol call.
func (m *Metrics) RecordProviderCall(provider, method string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.providerCalls.WithLabelValues(provider, method).Inc()
	m.providerDuration.WithLabelValues(provider, method).Observe(duration.Seconds())
}

// RecordProviderError records one failed protocol call.
func (m *Metrics) RecordProviderError(provider, method, class string) {
	if !m.Enabled() {
		return
	}
	m.providerErrors.WithLabelValues(provider, method, class).Inc()
}

// RecordReconcileAction records one reconcile step outcome.
func (m *Metrics) RecordReconcileAction(action, status string) {
	if !m.Enabled() {
		return
	}
	m.reconcileActions.WithLabelValues(action, status).Inc()
}

// RecordCheckFailures records property validation failures from Check.
func (m *Metrics) RecordCheckFailures(provider string, count int) {
	if !m.Enabled() || count == 0 {
		return
	}
	m.checkFailures.WithLabelValues(provider).Add(float64(count))
}

// RecordRetry records one retried call.
func (m *Metrics) RecordRetry(method, class string) {
	if !m.Enabled() {
		return
	}
	m.retries.WithLabelValues(method, class).Inc()
}

// RecordDriftDetection records one drift check outcome
// (in_sync, drifted, gone).
func (m *Metrics) RecordDriftDetection(outcome string) {
	if !m.Enabled() {
		return
	}
	m.driftDetections.WithLabelValues(outcome).Inc()
}

// Handler returns the HTTP handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server in the background.
func (m *Metrics) StartServer() error {
	if !m.Enabled() {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Surface immediate bind failures; later failures only cost
	// observability, not correctness.
	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Shutdown stops the metrics HTTP server.
func (m *Metrics) Shutdown() error {
	if m.server == nil {
		return nil
	}
	return m.server.Close()
}
