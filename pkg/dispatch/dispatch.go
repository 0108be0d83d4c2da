// Package dispatch routes data queries to the connector backend a scenario
// declares for each source category. Lookups are keyed by connector name;
// an unknown name is a validation error at dispatch time, never a silent
// fallback to a default backend.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/twinforge/twinforge/pkg/pipeline"
	"github.com/twinforge/twinforge/pkg/scenario"
	"github.com/twinforge/twinforge/pkg/telemetry"
)

// Result is the uniform tabular result every backend returns.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// RowCount returns the number of result rows.
func (r *Result) RowCount() int {
	return len(r.Rows)
}

// QueryBackend executes one category of queries against a concrete store.
type QueryBackend interface {
	// Name is the connector name scenarios reference.
	Name() string

	// Query executes a query with named parameters.
	Query(ctx context.Context, query string, params map[string]any) (*Result, error)
}

// Registry maps connector names to backends for one source category.
type Registry struct {
	category string
	mu       sync.RWMutex
	backends map[string]QueryBackend
}

// NewRegistry creates a registry for a source category.
func NewRegistry(category string) *Registry {
	return &Registry{
		category: category,
		backends: make(map[string]QueryBackend),
	}
}

// Register adds a backend under its connector name.
func (r *Registry) Register(backend QueryBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[backend.Name()] = backend
}

// Resolve returns the backend for a connector name. An unknown name is a
// validation error.
func (r *Registry) Resolve(name string) (QueryBackend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	backend, ok := r.backends[name]
	if !ok {
		return nil, pipeline.NewValidationError(
			fmt.Sprintf("unknown %s connector %q", r.category, name), nil)
	}
	return backend, nil
}

// Names returns the registered connector names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}

// Dispatcher resolves a scenario's connector declaration and routes the
// query, recording dispatch metrics and spans.
type Dispatcher struct {
	graph     *Registry
	telemetry *Registry
	tel       *telemetry.Telemetry
}

// NewDispatcher creates a dispatcher over the two category registries.
func NewDispatcher(graph, telemetryReg *Registry, tel *telemetry.Telemetry) *Dispatcher {
	if tel == nil {
		tel = telemetry.NewTestTelemetry()
	}
	return &Dispatcher{graph: graph, telemetry: telemetryReg, tel: tel}
}

// Graph routes a graph query through the scenario's graph connector.
func (d *Dispatcher) Graph(ctx context.Context, cfg *scenario.Config, query string, params map[string]any) (*Result, error) {
	return d.dispatch(ctx, d.graph, cfg, scenario.SourceGraph, query, params)
}

// Telemetry routes a telemetry query through the scenario's telemetry
// connector.
func (d *Dispatcher) Telemetry(ctx context.Context, cfg *scenario.Config, query string, params map[string]any) (*Result, error) {
	return d.dispatch(ctx, d.telemetry, cfg, scenario.SourceTelemetry, query, params)
}

func (d *Dispatcher) dispatch(ctx context.Context, registry *Registry, cfg *scenario.Config, category, query string, params map[string]any) (*Result, error) {
	connector := cfg.Connector(category)
	if connector == "" {
		return nil, pipeline.NewValidationError(
			fmt.Sprintf("scenario %s declares no %s source", cfg.ScenarioID, category), nil).
			WithScenario(cfg.ScenarioID)
	}

	backend, err := registry.Resolve(connector)
	if err != nil {
		return nil, err
	}

	spanCtx, span := d.tel.Tracer.StartDispatchSpan(ctx, category, connector)
	defer span.End()

	timer := telemetry.NewTimer()
	result, err := backend.Query(spanCtx, query, params)
	if err != nil {
		telemetry.RecordError(span, err)
		d.tel.Metrics.ObserveDispatch(category, connector, "error", timer.Elapsed())
		return nil, err
	}

	d.tel.Metrics.ObserveDispatch(category, connector, "ok", timer.Elapsed())
	return result, nil
}
