package pipeline

import (
	"reflect"
	"testing"

	"github.com/twinforge/twinforge/pkg/scenario"
)

func TestNewGraphValidCatalog(t *testing.T) {
	g, err := NewGraph(Catalog())
	if err != nil {
		t.Fatalf("Catalog should build a valid graph: %v", err)
	}
	if len(g.Steps()) != 10 {
		t.Errorf("Expected 10 catalog steps, got %d", len(g.Steps()))
	}
}

func TestNewGraphRejectsDuplicateIDs(t *testing.T) {
	catalog := []StepDefinition{
		{ID: "a"},
		{ID: "a"},
	}
	if _, err := NewGraph(catalog); err == nil {
		t.Fatal("Expected error for duplicate step IDs")
	}
}

func TestNewGraphRejectsUnknownDependency(t *testing.T) {
	catalog := []StepDefinition{
		{ID: "a", DependsOn: []StepID{"missing"}},
	}
	_, err := NewGraph(catalog)
	if err == nil {
		t.Fatal("Expected error for unknown dependency")
	}
	if !IsValidation(err) {
		t.Errorf("Expected validation class, got %s", ClassOf(err))
	}
}

func TestNewGraphRejectsCycle(t *testing.T) {
	catalog := []StepDefinition{
		{ID: "a", DependsOn: []StepID{"c"}},
		{ID: "b", DependsOn: []StepID{"a"}},
		{ID: "c", DependsOn: []StepID{"b"}},
	}
	if _, err := NewGraph(catalog); err == nil {
		t.Fatal("Expected error for dependency cycle")
	}
}

func TestSelectFullFabricScenario(t *testing.T) {
	g, err := NewGraph(Catalog())
	if err != nil {
		t.Fatalf("NewGraph failed: %v", err)
	}

	ids := g.SelectIDs(fabricScenario("demo"))

	want := []StepID{
		StepWorkspace, StepStoragePrep, StepBulkUpload, StepTableMaterialize,
		StepEventhouseSetup, StepTelemetryIngest, StepOntologyBuild,
		StepIndexReady, StepModelDiscovery, StepFinalize,
	}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Expected %v, got %v", want, ids)
	}
}

// A scenario with graph on Fabric but telemetry routed to Cosmos selects the
// workspace, graph chain and finalize; the eventhouse chain is skipped.
func TestSelectGraphOnlyScenario(t *testing.T) {
	g, _ := NewGraph(Catalog())
	cfg := &scenario.Config{
		ScenarioID: "demo",
		Sources: map[string]scenario.DataSource{
			scenario.SourceGraph:     {Connector: ConnectorFabricGQL},
			scenario.SourceTelemetry: {Connector: ConnectorCosmosNoSQL},
		},
	}

	ids := g.SelectIDs(cfg)

	want := []StepID{
		StepWorkspace, StepStoragePrep, StepBulkUpload, StepTableMaterialize,
		StepOntologyBuild, StepIndexReady, StepModelDiscovery, StepFinalize,
	}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Expected %v, got %v", want, ids)
	}
	for _, id := range ids {
		if id == StepEventhouseSetup || id == StepTelemetryIngest {
			t.Errorf("Telemetry step %s should not be selected", id)
		}
	}
}

func TestSelectTelemetryOnlyScenario(t *testing.T) {
	g, _ := NewGraph(Catalog())
	cfg := &scenario.Config{
		ScenarioID: "demo",
		Sources: map[string]scenario.DataSource{
			scenario.SourceTelemetry: {Connector: ConnectorFabricKQL},
		},
	}

	ids := g.SelectIDs(cfg)

	want := []StepID{StepWorkspace, StepEventhouseSetup, StepTelemetryIngest, StepFinalize}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Expected %v, got %v", want, ids)
	}
}

func TestSelectDeterministic(t *testing.T) {
	g, _ := NewGraph(Catalog())
	cfg := fabricScenario("demo")

	first := g.SelectIDs(cfg)
	for i := 0; i < 50; i++ {
		if got := g.SelectIDs(cfg); !reflect.DeepEqual(got, first) {
			t.Fatalf("Selection not deterministic: run %d got %v, want %v", i, got, first)
		}
	}
}

func TestSelectTopologicalOrder(t *testing.T) {
	g, _ := NewGraph(Catalog())
	steps := g.Select(fabricScenario("demo"))

	pos := make(map[StepID]int, len(steps))
	for i, s := range steps {
		pos[s.ID] = i
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if pos[dep] >= pos[s.ID] {
				t.Errorf("Dependency %s of %s appears at or after it", dep, s.ID)
			}
		}
	}
}

// Excluding a mid-chain step must exclude its transitive dependents as well.
func TestSelectCascadingExclusion(t *testing.T) {
	catalog := []StepDefinition{
		{ID: "root"},
		{ID: "mid", DependsOn: []StepID{"root"}, When: func(*scenario.Config) bool { return false }},
		{ID: "leaf", DependsOn: []StepID{"mid"}},
		{ID: "deeper", DependsOn: []StepID{"leaf"}},
	}
	g, err := NewGraph(catalog)
	if err != nil {
		t.Fatalf("NewGraph failed: %v", err)
	}

	ids := g.SelectIDs(&scenario.Config{ScenarioID: "x"})

	want := []StepID{"root"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Expected cascade to exclude leaf and deeper, got %v", ids)
	}
}

func TestSelectUnknownConnectorContributesNoSteps(t *testing.T) {
	g, _ := NewGraph(Catalog())
	cfg := &scenario.Config{
		ScenarioID: "demo",
		Sources: map[string]scenario.DataSource{
			scenario.SourceGraph:     {Connector: "somewhere-else"},
			scenario.SourceTelemetry: {Connector: "somewhere-else"},
		},
	}

	ids := g.SelectIDs(cfg)

	// Workspace and finalize have no connector predicate and always run.
	want := []StepID{StepWorkspace, StepFinalize}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Expected %v, got %v", want, ids)
	}
}

func TestBandsCoverFullScale(t *testing.T) {
	g, _ := NewGraph(Catalog())
	steps := g.Steps()

	if steps[0].Band.Start != 0 {
		t.Errorf("First band must start at 0, got %d", steps[0].Band.Start)
	}
	if steps[len(steps)-1].Band.End != 100 {
		t.Errorf("Last band must end at 100, got %d", steps[len(steps)-1].Band.End)
	}
	for _, s := range steps {
		band := BandFor(s.ID)
		if band.Start >= band.End {
			t.Errorf("Step %s has degenerate band %d-%d", s.ID, band.Start, band.End)
		}
	}
}
