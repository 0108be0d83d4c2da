package dispatch

import (
	"context"
	"fmt"

	"github.com/twinforge/twinforge/pkg/adapters/fabric"
	"github.com/twinforge/twinforge/pkg/configstore"
	"github.com/twinforge/twinforge/pkg/pipeline"
)

// KQLBackend serves telemetry queries against the eventhouse's KQL
// database.
type KQLBackend struct {
	client   *fabric.Client
	settings *configstore.Store
}

// NewKQLBackend creates the fabric-kql backend.
func NewKQLBackend(client *fabric.Client, settings *configstore.Store) *KQLBackend {
	return &KQLBackend{client: client, settings: settings}
}

// Name implements QueryBackend.
func (b *KQLBackend) Name() string { return pipeline.ConnectorFabricKQL }

type kqlResponse struct {
	Tables []struct {
		Columns []struct {
			ColumnName string `json:"columnName"`
		} `json:"columns"`
		Rows [][]any `json:"rows"`
	} `json:"tables"`
}

// Query executes a KQL query against the deployment's KQL database. The
// first result table is the query's primary result.
func (b *KQLBackend) Query(ctx context.Context, query string, params map[string]any) (*Result, error) {
	settings, err := b.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load deployment settings: %w", err)
	}
	if settings.WorkspaceID == "" || settings.KQLDatabaseID == "" {
		return nil, pipeline.NewValidationError("telemetry query surface is not provisioned", nil)
	}

	body := map[string]any{"csl": query}
	if len(params) > 0 {
		body["parameters"] = params
	}

	var resp kqlResponse
	path := fmt.Sprintf("/workspaces/%s/kqlDatabases/%s/query", settings.WorkspaceID, settings.KQLDatabaseID)
	if err := b.client.Post(ctx, path, body, &resp); err != nil {
		return nil, fmt.Errorf("kql query: %w", err)
	}
	if len(resp.Tables) == 0 {
		return &Result{Columns: []string{}, Rows: [][]any{}}, nil
	}

	table := resp.Tables[0]
	result := &Result{
		Columns: make([]string, len(table.Columns)),
		Rows:    make([][]any, len(table.Rows)),
	}
	for i, col := range table.Columns {
		result.Columns[i] = col.ColumnName
	}
	for i, row := range table.Rows {
		normalized := make([]any, len(row))
		for j, v := range row {
			normalized[j] = normalizeValue(v)
		}
		result.Rows[i] = normalized
	}
	return result, nil
}
