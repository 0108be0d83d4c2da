package telemetry

import (
	"context"
	"fmt"
)

// Telemetry bundles the logger, tracer and metrics so components take one
// dependency instead of three.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
}

// New initializes the full telemetry stack from a configuration.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	logger, err := NewLogger(cfg.Logging, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	tracer, err := NewTracer(ctx, cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, fmt.Errorf("create tracer: %w", err)
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: NewMetrics(cfg.Metrics),
	}, nil
}

// NewTestTelemetry returns a telemetry stack suitable for tests: discard
// logger, no-op tracer, isolated metrics registry.
func NewTestTelemetry() *Telemetry {
	tracer, _ := NewTracer(context.Background(), TracingConfig{Enabled: false}, "test", "test")
	return &Telemetry{
		Logger:  NewTestLogger(),
		Tracer:  tracer,
		Metrics: NewMetrics(MetricsConfig{Namespace: "test"}),
	}
}

// Shutdown flushes telemetry state.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.Tracer != nil {
		return t.Tracer.Shutdown(ctx)
	}
	return nil
}

type telemetryContextKey struct{}

// WithContext attaches the telemetry bundle to a context.
func WithContext(ctx context.Context, t *Telemetry) context.Context {
	return context.WithValue(ctx, telemetryContextKey{}, t)
}

// FromContext retrieves the telemetry bundle, falling back to a test stack
// so call sites never need a nil check.
func FromContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return NewTestTelemetry()
}
