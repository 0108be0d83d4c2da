package fabric

import (
	"context"
	"fmt"

	"github.com/twinforge/twinforge/pkg/adapters"
	"github.com/twinforge/twinforge/pkg/pipeline"
)

const itemTypeKQLDatabase = "KQLDatabase"

// IngestAdapter seeds the eventhouse's KQL database: telemetry table,
// ingestion mapping, and the initial bulk ingest from the uploaded files.
type IngestAdapter struct {
	client *Client

	// table is the telemetry table name in the KQL database.
	table string
}

// NewIngestAdapter creates the telemetry ingest adapter.
func NewIngestAdapter(client *Client, table string) *IngestAdapter {
	if table == "" {
		table = "telemetry"
	}
	return &IngestAdapter{client: client, table: table}
}

// Kind implements adapters.Adapter.
func (a *IngestAdapter) Kind() string { return adapters.KindIngest }

func (a *IngestAdapter) database(ctx context.Context, target adapters.Target) (workspaceID, databaseID string, err error) {
	workspaceID, err = workspaceIDFor(target)
	if err != nil {
		return "", "", err
	}

	if id := target.Param("kql_database_id", ""); id != "" {
		return workspaceID, id, nil
	}

	// The eventhouse's default database carries the eventhouse's name.
	eventhouseName := pipeline.TargetName(target.ScenarioID, pipeline.StepEventhouseSetup, target.Params)
	found, err := a.client.findItem(ctx, workspaceID, itemTypeKQLDatabase, eventhouseName)
	if err != nil {
		return "", "", err
	}
	if found == nil {
		return "", "", adapters.Transientf("kql database for eventhouse %q not yet visible", eventhouseName)
	}
	return workspaceID, found.ID, nil
}

type schemaResponse struct {
	Tables []struct {
		Name string `json:"name"`
	} `json:"tables"`
}

// Exists reports whether the telemetry table is already present in the KQL
// database.
func (a *IngestAdapter) Exists(ctx context.Context, target adapters.Target) (string, bool, error) {
	workspaceID, databaseID, err := a.database(ctx, target)
	if err != nil {
		return "", false, err
	}

	var schema schemaResponse
	path := fmt.Sprintf("/workspaces/%s/kqlDatabases/%s/schema", workspaceID, databaseID)
	if err := a.client.Get(ctx, path, &schema); err != nil {
		return "", false, err
	}
	for _, t := range schema.Tables {
		if t.Name == a.table {
			return databaseID, true, nil
		}
	}
	return "", false, nil
}

// Create implements adapters.Adapter; ingest is a populate-only step.
func (a *IngestAdapter) Create(ctx context.Context, target adapters.Target) (string, error) {
	return "", adapters.ErrNotSupported
}

// Populate creates the telemetry table and queues the bulk ingest from the
// uploaded telemetry files. Both commands are idempotent on the database
// side (.create-merge, ingest-if-not-exists tags).
func (a *IngestAdapter) Populate(ctx context.Context, target adapters.Target) error {
	workspaceID, databaseID, err := a.database(ctx, target)
	if err != nil {
		return err
	}

	commands := []string{
		fmt.Sprintf(".create-merge table %s (timestamp: datetime, entity_id: string, metric: string, value: real)", a.table),
		fmt.Sprintf(".ingest async into table %s %q with (format='csv', ignoreFirstRecord=true, tags='[\"ingest-by:%s\"]', ingestIfNotExists='[\"ingest-by:%s\"]')",
			a.table, target.Param("telemetry_uri", ""), target.ScenarioID, target.ScenarioID),
	}

	path := fmt.Sprintf("/workspaces/%s/kqlDatabases/%s/query", workspaceID, databaseID)
	for _, csl := range commands {
		body := map[string]any{"csl": csl}
		if err := a.client.Post(ctx, path, body, nil); err != nil {
			return fmt.Errorf("kql command failed: %w", err)
		}
	}
	return nil
}
