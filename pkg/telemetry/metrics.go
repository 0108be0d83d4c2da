package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the orchestrator. All
// collectors live on a private registry so tests can create isolated
// instances without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	// Provisioning runs.
	RunsTotal      *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	ActiveRuns     prometheus.Gauge
	RunsResumed    prometheus.Counter
	RunsCancelled  prometheus.Counter

	// Pipeline steps.
	StepsTotal   *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	StepRetries  *prometheus.CounterVec

	// Adapter calls against the provisioning backends.
	AdapterCalls    *prometheus.CounterVec
	AdapterDuration *prometheus.HistogramVec

	// Query dispatch.
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	// Config cache.
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// NewMetrics creates a Metrics instance on a fresh registry.
func NewMetrics(cfg MetricsConfig) *Metrics {
	ns := cfg.Namespace
	if ns == "" {
		ns = "twinforge"
	}
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,

		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "runs_total",
			Help:      "Provisioning runs by final status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of provisioning runs.",
			Buckets:   buckets,
		}, []string{"status"}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "active_runs",
			Help:      "Provisioning runs currently executing.",
		}),
		RunsResumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "runs_resumed_total",
			Help:      "Runs started from a prior failed run's state.",
		}),
		RunsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "runs_cancelled_total",
			Help:      "Runs stopped by caller cancellation.",
		}),

		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "steps_total",
			Help:      "Step executions by step and outcome.",
		}, []string{"step", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "step_duration_seconds",
			Help:      "Duration of individual pipeline steps.",
			Buckets:   buckets,
		}, []string{"step"}),
		StepRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "step_retries_total",
			Help:      "In-place transient retries per step.",
		}, []string{"step"}),

		AdapterCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "adapter_calls_total",
			Help:      "Backend adapter calls by kind, operation and result.",
		}, []string{"kind", "operation", "result"}),
		AdapterDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "adapter_call_duration_seconds",
			Help:      "Duration of backend adapter calls.",
			Buckets:   buckets,
		}, []string{"kind", "operation"}),

		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "dispatch_total",
			Help:      "Query dispatches by category, connector and result.",
		}, []string{"category", "connector", "result"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of dispatched queries.",
			Buckets:   buckets,
		}, []string{"category", "connector"}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "config_cache_hits_total",
			Help:      "Config cache lookups served from cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "config_cache_misses_total",
			Help:      "Config cache lookups that hit the store.",
		}),
	}

	registry.MustRegister(
		m.RunsTotal, m.RunDuration, m.ActiveRuns, m.RunsResumed, m.RunsCancelled,
		m.StepsTotal, m.StepDuration, m.StepRetries,
		m.AdapterCalls, m.AdapterDuration,
		m.DispatchTotal, m.DispatchDuration,
		m.CacheHits, m.CacheMisses,
	)
	return m
}

// Handler returns the HTTP handler exposing this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test assertions.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(status string, d time.Duration) {
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveStep records a finished step execution.
func (m *Metrics) ObserveStep(step, outcome string, d time.Duration) {
	m.StepsTotal.WithLabelValues(step, outcome).Inc()
	m.StepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// ObserveDispatch records a dispatched query.
func (m *Metrics) ObserveDispatch(category, connector, result string, d time.Duration) {
	m.DispatchTotal.WithLabelValues(category, connector, result).Inc()
	m.DispatchDuration.WithLabelValues(category, connector).Observe(d.Seconds())
}

// Timer measures a duration from its creation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}
