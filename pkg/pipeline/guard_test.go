package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/twinforge/twinforge/pkg/adapters"
	"github.com/twinforge/twinforge/pkg/scenario"
)

// Mock adapter for testing. Stateful by default: Create records the target
// name so a later Exists finds it, which is how the real backends behave.
type mockAdapter struct {
	mu       sync.Mutex
	kind     string
	existing map[string]string
	calls    []string

	existsFn    func(target adapters.Target) (string, bool, error)
	createFn    func(target adapters.Target) (string, error)
	createCtxFn func(ctx context.Context, target adapters.Target) (string, error)
	populateFn  func(target adapters.Target) error
	readyFn     func(target adapters.Target) (bool, error)
}

func newMockAdapter(kind string) *mockAdapter {
	return &mockAdapter{
		kind:     kind,
		existing: make(map[string]string),
	}
}

func (m *mockAdapter) Kind() string { return m.kind }

func (m *mockAdapter) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op)
}

func (m *mockAdapter) callCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (m *mockAdapter) Exists(ctx context.Context, target adapters.Target) (string, bool, error) {
	m.record("exists")
	if m.existsFn != nil {
		return m.existsFn(target)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.existing[target.Name]
	return id, ok, nil
}

func (m *mockAdapter) Create(ctx context.Context, target adapters.Target) (string, error) {
	m.record("create")
	if m.createCtxFn != nil {
		return m.createCtxFn(ctx, target)
	}
	if m.createFn != nil {
		return m.createFn(target)
	}
	id := m.kind + "-1"
	m.mu.Lock()
	m.existing[target.Name] = id
	m.mu.Unlock()
	return id, nil
}

func (m *mockAdapter) Populate(ctx context.Context, target adapters.Target) error {
	m.record("populate")
	if m.populateFn != nil {
		return m.populateFn(target)
	}
	m.mu.Lock()
	m.existing[target.Name] = m.kind + "-populated"
	m.mu.Unlock()
	return nil
}

func (m *mockAdapter) Ready(ctx context.Context, target adapters.Target) (bool, error) {
	m.record("ready")
	if m.readyFn != nil {
		return m.readyFn(target)
	}
	return true, nil
}

// newMockRegistry registers a mock adapter for every built-in kind.
func newMockRegistry() (*adapters.Registry, map[string]*mockAdapter) {
	registry := adapters.NewRegistry()
	mocks := make(map[string]*mockAdapter)
	for _, kind := range []string{
		adapters.KindWorkspace, adapters.KindLakehouse, adapters.KindUpload,
		adapters.KindTable, adapters.KindEventhouse, adapters.KindIngest,
		adapters.KindOntology, adapters.KindModel, adapters.KindSettings,
	} {
		m := newMockAdapter(kind)
		mocks[kind] = m
		registry.Register(m)
	}
	return registry, mocks
}

func fabricScenario(id string) *scenario.Config {
	return &scenario.Config{
		ScenarioID: id,
		Sources: map[string]scenario.DataSource{
			scenario.SourceGraph:     {Connector: ConnectorFabricGQL},
			scenario.SourceTelemetry: {Connector: ConnectorFabricKQL},
		},
	}
}

func fastGuard(registry *adapters.Registry) *Guard {
	return NewGuard(registry,
		WithRetry(3, time.Millisecond),
		WithReadinessPoll(5, time.Millisecond, 10*time.Millisecond))
}

func workspaceStep(t *testing.T) StepDefinition {
	t.Helper()
	g, err := NewGraph(Catalog())
	if err != nil {
		t.Fatalf("NewGraph failed: %v", err)
	}
	step, ok := g.Lookup(StepWorkspace)
	if !ok {
		t.Fatal("workspace step missing from catalog")
	}
	return step
}

func testTarget(name string) adapters.Target {
	return adapters.Target{ScenarioID: "s1", Name: name}
}

func TestGuardCreatesWhenMissing(t *testing.T) {
	registry, mocks := newMockRegistry()
	guard := fastGuard(registry)

	result := guard.Execute(context.Background(), workspaceStep(t), testTarget("s1-workspace"))

	if result.Outcome != OutcomeCreated {
		t.Fatalf("Expected Created, got %s", result.Outcome)
	}
	if result.DiscoveredID != "workspace-1" {
		t.Errorf("Expected discovered ID workspace-1, got %q", result.DiscoveredID)
	}
	if mocks[adapters.KindWorkspace].callCount("create") != 1 {
		t.Errorf("Expected 1 create call, got %d", mocks[adapters.KindWorkspace].callCount("create"))
	}
}

func TestGuardSkipsWhenExists(t *testing.T) {
	registry, mocks := newMockRegistry()
	mocks[adapters.KindWorkspace].existing["s1-workspace"] = "ws-existing"
	guard := fastGuard(registry)

	result := guard.Execute(context.Background(), workspaceStep(t), testTarget("s1-workspace"))

	if result.Outcome != OutcomeAlreadyExists {
		t.Fatalf("Expected AlreadyExists, got %s", result.Outcome)
	}
	if result.DiscoveredID != "ws-existing" {
		t.Errorf("Expected discovered ID ws-existing, got %q", result.DiscoveredID)
	}
	if mocks[adapters.KindWorkspace].callCount("create") != 0 {
		t.Error("Create should not be called when target exists")
	}
}

func TestGuardRetriesTransientFailures(t *testing.T) {
	registry, mocks := newMockRegistry()
	ws := mocks[adapters.KindWorkspace]
	attempts := 0
	ws.createFn = func(target adapters.Target) (string, error) {
		attempts++
		if attempts < 3 {
			return "", adapters.Transientf("throttled")
		}
		return "ws-1", nil
	}
	guard := fastGuard(registry)

	result := guard.Execute(context.Background(), workspaceStep(t), testTarget("s1-workspace"))

	if result.Outcome != OutcomeCreated {
		t.Fatalf("Expected Created after retries, got %s", result.Outcome)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 create attempts, got %d", attempts)
	}
}

func TestGuardClassifiesExhaustedTransient(t *testing.T) {
	registry, mocks := newMockRegistry()
	mocks[adapters.KindWorkspace].createFn = func(target adapters.Target) (string, error) {
		return "", adapters.Transientf("still throttled")
	}
	guard := fastGuard(registry)

	result := guard.Execute(context.Background(), workspaceStep(t), testTarget("s1-workspace"))

	if result.Outcome != OutcomeFailed {
		t.Fatalf("Expected Failed, got %s", result.Outcome)
	}
	if result.Err.Class != ErrorClassTransient {
		t.Errorf("Expected transient class, got %s", result.Err.Class)
	}
	if result.Err.Step != StepWorkspace {
		t.Errorf("Expected step context %s, got %s", StepWorkspace, result.Err.Step)
	}
}

func TestGuardDoesNotRetryPermanentFailures(t *testing.T) {
	registry, mocks := newMockRegistry()
	ws := mocks[adapters.KindWorkspace]
	attempts := 0
	ws.createFn = func(target adapters.Target) (string, error) {
		attempts++
		return "", errors.New("capacity not assigned")
	}
	guard := fastGuard(registry)

	result := guard.Execute(context.Background(), workspaceStep(t), testTarget("s1-workspace"))

	if result.Outcome != OutcomeFailed {
		t.Fatalf("Expected Failed, got %s", result.Outcome)
	}
	if result.Err.Class != ErrorClassPermanent {
		t.Errorf("Expected permanent class, got %s", result.Err.Class)
	}
	if attempts != 1 {
		t.Errorf("Permanent failure should not be retried, got %d attempts", attempts)
	}
}

func TestGuardAwaitReadyPollsUntilReady(t *testing.T) {
	registry, mocks := newMockRegistry()
	ont := mocks[adapters.KindOntology]
	polls := 0
	ont.readyFn = func(target adapters.Target) (bool, error) {
		polls++
		return polls >= 3, nil
	}
	guard := fastGuard(registry)

	g, err := NewGraph(Catalog())
	if err != nil {
		t.Fatalf("NewGraph failed: %v", err)
	}
	step, _ := g.Lookup(StepIndexReady)

	target := testTarget("s1-index-ready")
	target.Discovered = map[string]string{string(StepOntologyBuild): "ont-9"}
	result := guard.Execute(context.Background(), step, target)

	if result.Outcome != OutcomeAlreadyExists {
		t.Fatalf("Expected AlreadyExists, got %s", result.Outcome)
	}
	if polls != 3 {
		t.Errorf("Expected 3 readiness polls, got %d", polls)
	}
	if result.DiscoveredID != "" {
		t.Errorf("Readiness wait should not discover an ID, got %q", result.DiscoveredID)
	}
}

func TestGuardAwaitReadyExhaustsBudget(t *testing.T) {
	registry, mocks := newMockRegistry()
	mocks[adapters.KindOntology].readyFn = func(target adapters.Target) (bool, error) {
		return false, nil
	}
	guard := fastGuard(registry)

	g, _ := NewGraph(Catalog())
	step, _ := g.Lookup(StepIndexReady)
	result := guard.Execute(context.Background(), step, testTarget("s1-index-ready"))

	if result.Outcome != OutcomeFailed {
		t.Fatalf("Expected Failed when readiness never arrives, got %s", result.Outcome)
	}
	if result.Err.Class != ErrorClassTransient {
		t.Errorf("Expected transient class for exhausted poll, got %s", result.Err.Class)
	}
}

func TestGuardCancelledContext(t *testing.T) {
	registry, mocks := newMockRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	mocks[adapters.KindWorkspace].createFn = func(target adapters.Target) (string, error) {
		cancel()
		return "", adapters.Transientf("interrupted")
	}
	guard := fastGuard(registry)

	result := guard.Execute(ctx, workspaceStep(t), testTarget("s1-workspace"))

	if result.Outcome != OutcomeFailed {
		t.Fatalf("Expected Failed, got %s", result.Outcome)
	}
	if result.Err.Class != ErrorClassCancelled {
		t.Errorf("Expected cancelled class, got %s", result.Err.Class)
	}
}

func TestTargetName(t *testing.T) {
	if got := TargetName("demo", StepWorkspace, nil); got != "demo-workspace" {
		t.Errorf("Expected demo-workspace, got %q", got)
	}

	overrides := map[string]string{"target_name:workspace": "custom-ws"}
	if got := TargetName("demo", StepWorkspace, overrides); got != "custom-ws" {
		t.Errorf("Expected override custom-ws, got %q", got)
	}
	if got := TargetName("demo", StepStoragePrep, overrides); got != "demo-storage-prep" {
		t.Errorf("Override for another step must not apply, got %q", got)
	}
}

func TestTargetNameDeterministic(t *testing.T) {
	for _, step := range Catalog() {
		a := TargetName("demo", step.ID, nil)
		b := TargetName("demo", step.ID, nil)
		if a != b {
			t.Errorf("Target name for %s not deterministic: %q vs %q", step.ID, a, b)
		}
		if a != fmt.Sprintf("demo-%s", step.ID) {
			t.Errorf("Unexpected target name for %s: %q", step.ID, a)
		}
	}
}
