package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys used across the orchestrator.
const (
	AttrRunID      = "provision.run_id"
	AttrScenarioID = "provision.scenario_id"
	AttrStepID     = "provision.step"
	AttrOutcome    = "provision.outcome"
	AttrAdapter    = "provision.adapter"
	AttrConnector  = "dispatch.connector"
	AttrCategory   = "dispatch.category"
)

// Tracer wraps the OpenTelemetry tracer with orchestrator span helpers.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewTracer creates a tracer from the tracing configuration. When tracing is
// disabled or the exporter is "none" the returned tracer produces no-op
// spans.
func NewTracer(ctx context.Context, cfg TracingConfig, serviceName, serviceVersion string) (*Tracer, error) {
	if !cfg.Enabled || cfg.Exporter == "none" {
		return &Tracer{tracer: otel.Tracer(serviceName)}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithTimeout(cfg.ExportTimeout),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}

	res, err := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{
		tracer:   provider.Tracer(serviceName),
		provider: provider,
	}, nil
}

// Shutdown flushes and stops the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// StartRunSpan starts a span covering an entire provisioning run.
func (t *Tracer) StartRunSpan(ctx context.Context, runID, scenarioID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "provision.run",
		trace.WithAttributes(
			attribute.String(AttrRunID, runID),
			attribute.String(AttrScenarioID, scenarioID),
		))
}

// StartStepSpan starts a span covering one pipeline step.
func (t *Tracer) StartStepSpan(ctx context.Context, runID, stepID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "provision.step."+stepID,
		trace.WithAttributes(
			attribute.String(AttrRunID, runID),
			attribute.String(AttrStepID, stepID),
		))
}

// StartDispatchSpan starts a span covering a dispatched query.
func (t *Tracer) StartDispatchSpan(ctx context.Context, category, connector string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "dispatch."+category,
		trace.WithAttributes(
			attribute.String(AttrCategory, category),
			attribute.String(AttrConnector, connector),
		))
}

// RecordError marks a span as failed and records the error.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordOutcome annotates a span with a step outcome and marks it OK.
func RecordOutcome(span trace.Span, outcome string) {
	span.SetAttributes(attribute.String(AttrOutcome, outcome))
	span.SetStatus(codes.Ok, "")
}
