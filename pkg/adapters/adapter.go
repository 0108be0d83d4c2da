// Package adapters defines the uniform capability surface the orchestrator
// uses to talk to one kind of external resource (workspace, storage
// container, managed table set, time-series database, ontology model).
// Concrete adapters live in subpackages; the orchestrator only ever sees
// this interface.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Resource kinds managed by the built-in adapters.
const (
	KindWorkspace  = "workspace"
	KindLakehouse  = "lakehouse"
	KindUpload     = "upload"
	KindTable      = "table"
	KindEventhouse = "eventhouse"
	KindIngest     = "ingest"
	KindOntology   = "ontology"
	KindModel      = "model"
	KindSettings   = "settings"
)

// Target identifies the concrete resource an adapter call is scoped to.
// Name is derived deterministically from the scenario and step identifiers
// so that an existence check and the create it guards always address the
// same resource.
type Target struct {
	// ScenarioID is the owning deployment scenario.
	ScenarioID string

	// StepID is the provisioning step driving this call.
	StepID string

	// Name is the deterministic resource name.
	Name string

	// Params carries the scenario's connector parameters plus any
	// per-request overrides.
	Params map[string]string

	// Discovered maps earlier step identifiers to the platform-assigned
	// identifiers they discovered. Later steps consume these (e.g., the
	// table step needs the lakehouse id).
	Discovered map[string]string
}

// DiscoveredID returns the identifier discovered by an earlier step, or ""
// when that step did not run or discovered nothing.
func (t Target) DiscoveredID(stepID string) string {
	return t.Discovered[stepID]
}

// Param returns a target parameter with a fallback default.
func (t Target) Param(key, def string) string {
	if v, ok := t.Params[key]; ok && v != "" {
		return v
	}
	return def
}

// Adapter is the uniform capability set for one external resource kind.
// Exists and Create must be scoped to the same target so that wrapping the
// pair in an existence check makes re-execution a no-op.
type Adapter interface {
	// Kind names the resource kind this adapter manages.
	Kind() string

	// Exists reports whether the target already exists, returning its
	// platform-assigned identifier when it does.
	Exists(ctx context.Context, target Target) (id string, ok bool, err error)

	// Create creates the target and returns its platform-assigned
	// identifier.
	Create(ctx context.Context, target Target) (id string, err error)

	// Populate loads data into an already-created target. Adapters whose
	// kind has nothing to populate return ErrNotSupported.
	Populate(ctx context.Context, target Target) error
}

// ReadinessChecker is implemented by adapters whose resources have an
// asynchronous build phase (ontology indexing). The orchestrator polls
// Ready with a bounded timeout instead of a fixed wait.
type ReadinessChecker interface {
	Ready(ctx context.Context, target Target) (bool, error)
}

// ErrNotSupported is returned by Populate on adapters without a data load
// phase.
var ErrNotSupported = errors.New("operation not supported by adapter")

// transientError marks an error as retryable across the adapter boundary.
// Classification into the pipeline taxonomy happens at the guard; adapters
// only distinguish transient from everything else.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps an error so IsTransient reports true for it.
// Adapters mark timeouts, throttling responses, and "still provisioning"
// conditions this way.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf formats a transient error.
func Transientf(format string, args ...any) error {
	return &transientError{err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether the error (or anything it wraps) was marked
// transient by an adapter.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// Registry holds one adapter per resource kind. Read-mostly after startup.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter, replacing any previous adapter of the same kind.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Kind()] = a
}

// Get returns the adapter for a kind.
func (r *Registry) Get(kind string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for kind %q", kind)
	}
	return a, nil
}

// Kinds returns the registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	return kinds
}
