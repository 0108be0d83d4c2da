package pipeline

import (
	"github.com/twinforge/twinforge/pkg/adapters"
	"github.com/twinforge/twinforge/pkg/scenario"
)

// Connector names the step predicates and dispatch registries react to.
const (
	ConnectorFabricGQL   = "fabric-gql"
	ConnectorFabricKQL   = "fabric-kql"
	ConnectorCosmosNoSQL = "cosmosdb-nosql"
)

// Percentage bands, reproduced verbatim for UI compatibility:
// 0-10 workspace; 10-20 storage prep; 20-40 bulk data upload; 40-45 table
// materialization; 45-55 time-series DB setup; 55-65 time-series ingest;
// 65-80 ontology build; 80-90 indexing wait; 90-95 model discovery;
// 95-100 finalize.
var bands = map[StepID]PercentBand{
	StepWorkspace:        {Start: 0, End: 10},
	StepStoragePrep:      {Start: 10, End: 20},
	StepBulkUpload:       {Start: 20, End: 40},
	StepTableMaterialize: {Start: 40, End: 45},
	StepEventhouseSetup:  {Start: 45, End: 55},
	StepTelemetryIngest:  {Start: 55, End: 65},
	StepOntologyBuild:    {Start: 65, End: 80},
	StepIndexReady:       {Start: 80, End: 90},
	StepModelDiscovery:   {Start: 90, End: 95},
	StepFinalize:         {Start: 95, End: 100},
}

// BandFor returns the fixed percentage band of a catalog step.
func BandFor(id StepID) PercentBand {
	return bands[id]
}

func graphOnFabric(cfg *scenario.Config) bool {
	return cfg.Connector(scenario.SourceGraph) == ConnectorFabricGQL
}

func telemetryOnFabric(cfg *scenario.Config) bool {
	return cfg.Connector(scenario.SourceTelemetry) == ConnectorFabricKQL
}

// Catalog returns the static provisioning step catalog. Steps are data:
// identifier, dependencies, activation predicate, adapter operation. Which
// steps run for a scenario is decided by Select, not by branching inside
// the executor.
//
// A connector name with no matching predicate contributes no steps: the
// resource lives elsewhere (e.g., telemetry routed to an already-provisioned
// Cosmos account) and the silent skip is intentional.
func Catalog() []StepDefinition {
	return []StepDefinition{
		{
			ID:          StepWorkspace,
			AdapterKind: adapters.KindWorkspace,
			Action:      ActionEnsure,
			Band:        bands[StepWorkspace],
			Label:       "Creating workspace",
		},
		{
			ID:          StepStoragePrep,
			DependsOn:   []StepID{StepWorkspace},
			When:        graphOnFabric,
			AdapterKind: adapters.KindLakehouse,
			Action:      ActionEnsure,
			Band:        bands[StepStoragePrep],
			Label:       "Preparing lakehouse storage",
		},
		{
			ID:          StepBulkUpload,
			DependsOn:   []StepID{StepStoragePrep},
			When:        graphOnFabric,
			AdapterKind: adapters.KindUpload,
			Action:      ActionPopulate,
			Band:        bands[StepBulkUpload],
			Label:       "Uploading entity data",
		},
		{
			ID:          StepTableMaterialize,
			DependsOn:   []StepID{StepBulkUpload},
			When:        graphOnFabric,
			AdapterKind: adapters.KindTable,
			Action:      ActionPopulate,
			Band:        bands[StepTableMaterialize],
			Label:       "Materializing tables",
		},
		{
			ID:          StepEventhouseSetup,
			DependsOn:   []StepID{StepWorkspace},
			When:        telemetryOnFabric,
			AdapterKind: adapters.KindEventhouse,
			Action:      ActionEnsure,
			Band:        bands[StepEventhouseSetup],
			Label:       "Setting up eventhouse",
		},
		{
			ID:          StepTelemetryIngest,
			DependsOn:   []StepID{StepEventhouseSetup},
			When:        telemetryOnFabric,
			AdapterKind: adapters.KindIngest,
			Action:      ActionPopulate,
			Band:        bands[StepTelemetryIngest],
			Label:       "Ingesting telemetry",
		},
		{
			ID:          StepOntologyBuild,
			DependsOn:   []StepID{StepTableMaterialize},
			When:        graphOnFabric,
			AdapterKind: adapters.KindOntology,
			Action:      ActionEnsure,
			Band:        bands[StepOntologyBuild],
			Label:       "Building ontology",
		},
		{
			ID:          StepIndexReady,
			DependsOn:   []StepID{StepOntologyBuild},
			When:        graphOnFabric,
			AdapterKind: adapters.KindOntology,
			Action:      ActionAwaitReady,
			Band:        bands[StepIndexReady],
			Label:       "Waiting for ontology indexing",
		},
		{
			ID:          StepModelDiscovery,
			DependsOn:   []StepID{StepIndexReady},
			When:        graphOnFabric,
			AdapterKind: adapters.KindModel,
			Action:      ActionEnsure,
			Band:        bands[StepModelDiscovery],
			Label:       "Discovering graph model",
		},
		{
			ID:          StepFinalize,
			DependsOn:   []StepID{StepWorkspace},
			AdapterKind: adapters.KindSettings,
			Action:      ActionPopulate,
			Band:        bands[StepFinalize],
			Label:       "Finalizing configuration",
		},
	}
}
