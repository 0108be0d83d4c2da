package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/twinforge/twinforge/pkg/adapters"
	"github.com/twinforge/twinforge/pkg/telemetry"
)

// Mock run store for testing.
type memoryRunStore struct {
	mu       sync.Mutex
	runs     map[string]*RunState
	order    []string
	progress map[string][]ProgressEvent
}

func newMemoryRunStore() *memoryRunStore {
	return &memoryRunStore{
		runs:     make(map[string]*RunState),
		progress: make(map[string][]ProgressEvent),
	}
}

func (s *memoryRunStore) SaveRun(ctx context.Context, run *RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.runs[run.RunID]; !seen {
		s.order = append(s.order, run.RunID)
	}
	s.runs[run.RunID] = run.Snapshot()
	return nil
}

func (s *memoryRunStore) GetRun(ctx context.Context, runID string) (*RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	return run.Snapshot(), nil
}

func (s *memoryRunStore) LatestRun(ctx context.Context, scenarioID string) (*RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		if run := s.runs[s.order[i]]; run.ScenarioID == scenarioID {
			return run.Snapshot(), nil
		}
	}
	return nil, nil
}

func (s *memoryRunStore) AppendProgress(ctx context.Context, runID string, event ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[runID] = append(s.progress[runID], event)
	return nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *memoryRunStore, map[string]*mockAdapter) {
	t.Helper()
	graph, err := NewGraph(Catalog())
	if err != nil {
		t.Fatalf("NewGraph failed: %v", err)
	}
	registry, mocks := newMockRegistry()
	store := newMemoryRunStore()
	orch := NewOrchestrator(graph, fastGuard(registry), store, NewProgressBroker(64), telemetry.NewTestTelemetry())
	return orch, store, mocks
}

func collectEvents(t *testing.T, events <-chan ProgressEvent) []ProgressEvent {
	t.Helper()
	var out []ProgressEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("Timed out waiting for progress stream to close")
		}
	}
}

func TestProvisionFullScenario(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)

	state, events, err := orch.Start(context.Background(), Request{Config: fabricScenario("demo")})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	got := collectEvents(t, events)
	if len(got) == 0 {
		t.Fatal("Expected progress events")
	}

	last := got[len(got)-1]
	if last.Percent != 100 {
		t.Errorf("Expected terminal event at 100, got %d", last.Percent)
	}
	if last.Error != "" {
		t.Errorf("Expected no error on success, got %q", last.Error)
	}
	if len(last.Completed) != 10 {
		t.Errorf("Expected 10 completed steps in terminal event, got %d", len(last.Completed))
	}

	final, err := store.GetRun(context.Background(), state.RunID)
	if err != nil || final == nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if final.Status != RunStatusSucceeded {
		t.Errorf("Expected succeeded, got %s", final.Status)
	}
	if final.Discovered[StepWorkspace] == "" {
		t.Error("Expected workspace ID to be discovered")
	}
	if final.CompletedAt == nil {
		t.Error("Expected CompletedAt to be set")
	}
}

func TestProvisionPercentMonotonic(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)

	_, events, err := orch.Start(context.Background(), Request{Config: fabricScenario("demo")})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	prev := -1
	for _, ev := range collectEvents(t, events) {
		if ev.Percent < prev {
			t.Fatalf("Percent moved backwards: %d after %d", ev.Percent, prev)
		}
		prev = ev.Percent
	}
	if prev != 100 {
		t.Errorf("Expected final percent 100, got %d", prev)
	}
}

// Re-running a complete deployment must be a sequence of no-ops: every
// existence check finds the target, nothing is created twice.
func TestProvisionIdempotentRerun(t *testing.T) {
	orch, _, mocks := newTestOrchestrator(t)
	cfg := fabricScenario("demo")

	_, events, err := orch.Start(context.Background(), Request{Config: cfg})
	if err != nil {
		t.Fatalf("First run failed to start: %v", err)
	}
	collectEvents(t, events)

	createsAfterFirst := mocks[adapters.KindWorkspace].callCount("create")

	_, events, err = orch.Start(context.Background(), Request{Config: cfg})
	if err != nil {
		t.Fatalf("Second run failed to start: %v", err)
	}
	got := collectEvents(t, events)

	if mocks[adapters.KindWorkspace].callCount("create") != createsAfterFirst {
		t.Error("Second run must not create the workspace again")
	}
	last := got[len(got)-1]
	if last.Percent != 100 || last.Error != "" {
		t.Errorf("Second run should succeed cleanly, got percent=%d error=%q", last.Percent, last.Error)
	}
}

func TestProvisionRejectsConcurrentRun(t *testing.T) {
	orch, _, mocks := newTestOrchestrator(t)
	cfg := fabricScenario("demo")

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	mocks[adapters.KindWorkspace].createFn = func(target adapters.Target) (string, error) {
		once.Do(func() { close(started) })
		<-release
		return "ws-1", nil
	}

	_, events, err := orch.Start(context.Background(), Request{Config: cfg})
	if err != nil {
		t.Fatalf("First run failed to start: %v", err)
	}
	<-started

	_, _, err = orch.Start(context.Background(), Request{Config: cfg})
	if err == nil {
		t.Fatal("Expected second concurrent run to be rejected")
	}
	if !IsRunInProgress(err) {
		t.Errorf("Expected run_in_progress class, got %s", ClassOf(err))
	}

	// A different scenario is not blocked.
	_, other, err := orch.Start(context.Background(), Request{Config: fabricScenario("other")})
	if err != nil {
		t.Fatalf("Run for a different scenario should start: %v", err)
	}

	close(release)
	collectEvents(t, events)
	collectEvents(t, other)

	// The slot frees up once the run finishes.
	_, events, err = orch.Start(context.Background(), Request{Config: cfg})
	if err != nil {
		t.Fatalf("Run after completion should start: %v", err)
	}
	collectEvents(t, events)
}

func TestProvisionFailureRecordsResumePoint(t *testing.T) {
	orch, store, mocks := newTestOrchestrator(t)
	mocks[adapters.KindOntology].createFn = func(target adapters.Target) (string, error) {
		return "", errors.New("schema rejected")
	}

	state, events, err := orch.Start(context.Background(), Request{Config: fabricScenario("demo")})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	got := collectEvents(t, events)

	last := got[len(got)-1]
	if last.Error == "" {
		t.Fatal("Expected terminal failure event to carry an error")
	}
	if last.Percent >= 100 {
		t.Errorf("Failure event must stay below 100, got %d", last.Percent)
	}
	if last.RetryFrom != StepOntologyBuild {
		t.Errorf("Expected retry_from ontology-build, got %s", last.RetryFrom)
	}

	wantCompleted := []StepID{
		StepWorkspace, StepStoragePrep, StepBulkUpload, StepTableMaterialize,
		StepEventhouseSetup, StepTelemetryIngest,
	}
	if len(last.Completed) != len(wantCompleted) {
		t.Fatalf("Expected %d completed steps, got %v", len(wantCompleted), last.Completed)
	}
	for i, id := range wantCompleted {
		if last.Completed[i] != id {
			t.Errorf("Completed[%d]: expected %s, got %s", i, id, last.Completed[i])
		}
	}

	final, _ := store.GetRun(context.Background(), state.RunID)
	if final.Status != RunStatusFailed {
		t.Errorf("Expected failed status, got %s", final.Status)
	}
	if final.RetryFrom != StepOntologyBuild {
		t.Errorf("Expected persisted retry_from ontology-build, got %s", final.RetryFrom)
	}
	if final.FailureClass != ErrorClassPermanent {
		t.Errorf("Expected permanent failure class, got %s", final.FailureClass)
	}
}

func TestResumeSkipsCompletedSteps(t *testing.T) {
	orch, store, mocks := newTestOrchestrator(t)
	cfg := fabricScenario("demo")

	failing := true
	mocks[adapters.KindOntology].createFn = func(target adapters.Target) (string, error) {
		if failing {
			return "", errors.New("transient backend outage, operator fixed it")
		}
		return "ont-1", nil
	}

	_, events, err := orch.Start(context.Background(), Request{Config: cfg})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	collectEvents(t, events)

	uploadsBeforeResume := mocks[adapters.KindUpload].callCount("populate")
	failing = false

	state, events, err := orch.Resume(context.Background(), Request{Config: cfg})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	got := collectEvents(t, events)

	last := got[len(got)-1]
	if last.Percent != 100 || last.Error != "" {
		t.Fatalf("Resume should complete, got percent=%d error=%q", last.Percent, last.Error)
	}

	if mocks[adapters.KindUpload].callCount("populate") != uploadsBeforeResume {
		t.Error("Resume must not re-run the completed bulk upload")
	}
	if mocks[adapters.KindOntology].callCount("create") != 2 {
		t.Errorf("Expected ontology create on resume, got %d total calls",
			mocks[adapters.KindOntology].callCount("create"))
	}

	final, _ := store.GetRun(context.Background(), state.RunID)
	if final.Status != RunStatusSucceeded {
		t.Errorf("Expected resumed run to succeed, got %s", final.Status)
	}
	if !final.HasCompleted(StepWorkspace) || !final.HasCompleted(StepOntologyBuild) {
		t.Error("Resumed run should carry prior completions and add new ones")
	}
	if final.Discovered[StepWorkspace] == "" {
		t.Error("Discovered identifiers should carry over from the failed run")
	}
}

func TestResumeRequiresFailedPriorRun(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	cfg := fabricScenario("demo")

	// No prior run at all.
	if _, _, err := orch.Resume(context.Background(), Request{Config: cfg}); !IsValidation(err) {
		t.Errorf("Expected validation error for missing prior run, got %v", err)
	}

	_, events, err := orch.Start(context.Background(), Request{Config: cfg})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	collectEvents(t, events)

	// Prior run succeeded.
	if _, _, err := orch.Resume(context.Background(), Request{Config: cfg}); !IsValidation(err) {
		t.Errorf("Expected validation error for succeeded prior run, got %v", err)
	}
}

func TestCancelStopsAtStepBoundary(t *testing.T) {
	orch, store, mocks := newTestOrchestrator(t)

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	mocks[adapters.KindWorkspace].createFn = func(target adapters.Target) (string, error) {
		once.Do(func() { close(started) })
		<-release
		return "ws-1", nil
	}

	state, events, err := orch.Start(context.Background(), Request{Config: fabricScenario("demo")})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-started

	if err := orch.Cancel(state.RunID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	close(release)

	got := collectEvents(t, events)
	last := got[len(got)-1]
	if last.Error == "" {
		t.Fatal("Expected cancellation to surface as a failure event")
	}

	final, _ := store.GetRun(context.Background(), state.RunID)
	if final.Status != RunStatusFailed {
		t.Errorf("Expected failed status after cancel, got %s", final.Status)
	}
	if final.FailureClass != ErrorClassCancelled {
		t.Errorf("Expected cancelled class, got %s", final.FailureClass)
	}
	// The in-flight step finished; cancellation landed at the boundary.
	if !final.HasCompleted(StepWorkspace) {
		t.Error("In-flight workspace step should have completed before the cancel took effect")
	}
	if final.RetryFrom == "" {
		t.Error("Cancelled run should record a resume point")
	}
}

// A cancel issued while a step is executing must not reach into the adapter
// call: the step's context stays live and the step is allowed to finish.
func TestCancelDoesNotAbortInFlightAdapterCall(t *testing.T) {
	orch, store, mocks := newTestOrchestrator(t)

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	var inFlightErr error
	mocks[adapters.KindWorkspace].createCtxFn = func(ctx context.Context, target adapters.Target) (string, error) {
		once.Do(func() { close(started) })
		<-release
		inFlightErr = ctx.Err()
		return "ws-1", nil
	}

	state, events, err := orch.Start(context.Background(), Request{Config: fabricScenario("demo")})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-started

	if err := orch.Cancel(state.RunID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	close(release)
	collectEvents(t, events)

	if inFlightErr != nil {
		t.Errorf("In-flight adapter call observed a dead context: %v", inFlightErr)
	}

	final, _ := store.GetRun(context.Background(), state.RunID)
	if !final.HasCompleted(StepWorkspace) {
		t.Error("In-flight workspace step should have run to completion")
	}
	if final.Status != RunStatusFailed || final.FailureClass != ErrorClassCancelled {
		t.Errorf("Expected cancelled failure at the boundary, got status=%s class=%s",
			final.Status, final.FailureClass)
	}
}

func TestCancelUnknownRun(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	if err := orch.Cancel("nope"); !IsValidation(err) {
		t.Errorf("Expected validation error for unknown run, got %v", err)
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)

	if _, _, err := orch.Start(context.Background(), Request{}); !IsValidation(err) {
		t.Errorf("Expected validation error for nil config, got %v", err)
	}
}
