package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/archstrap/archstrap/pkg/engine"
)

// Metrics provides Prometheus metrics for archstrap. It implements
// engine.Observer so the scheduler can feed it directly. A disabled
// instance is a no-op on every method.
type Metrics struct {
	config MetricsConfig

	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	stepsCompleted *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	stepRetries    *prometheus.CounterVec

	errorsByClass  *prometheus.CounterVec
	lockRecoveries prometheus.Counter

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
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

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		stepsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_completed_total",
				Help:      "Total number of steps reaching a terminal status",
			},
			[]string{"step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of step execution in seconds, backoff included",
				Buckets:   buckets,
			},
			[]string{"step", "status"},
		),
		stepRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_retries_total",
				Help:      "Total number of retry attempts beyond the first",
			},
			[]string{"step"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of step errors by class",
			},
			[]string{"class"},
		),
		lockRecoveries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_recoveries_total",
				Help:      "Total number of stale package database locks removed",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.runsCompleted, m.runDuration,
		m.stepsCompleted, m.stepDuration, m.stepRetries,
		m.errorsByClass, m.lockRecoveries,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}

	return m, nil
}

// StepCompleted records a terminal step result.
func (m *Metrics) StepCompleted(res engine.Result) {
	if m.registry == nil {
		return
	}
	status := string(res.Status)
	m.stepsCompleted.WithLabelValues(res.Key, status).Inc()
	m.stepDuration.WithLabelValues(res.Key, status).Observe(res.Duration.Seconds())
	if res.Attempts > 1 {
		m.stepRetries.WithLabelValues(res.Key).Add(float64(res.Attempts - 1))
	}
	if res.Err != nil {
		m.errorsByClass.WithLabelValues(string(res.Err.Class)).Inc()
	}
}

// RunCompleted records a finished run.
func (m *Metrics) RunCompleted(summary *engine.RunSummary) {
	if m.registry == nil {
		return
	}
	status := string(summary.Status)
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(summary.Duration.Seconds())
}

// LockRecovered records a stale lock removal.
func (m *Metrics) LockRecovered() {
	if m.registry == nil {
		return
	}
	m.lockRecoveries.Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP endpoint and blocks until the context is
// cancelled or the server fails.
func (m *Metrics) Serve(ctx context.Context) error {
	if m.registry == nil {
		return nil
	}

	mux := http.NewServeMux()
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
