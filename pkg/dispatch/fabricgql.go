package dispatch

import (
	"context"
	"fmt"

	"github.com/twinforge/twinforge/pkg/adapters/fabric"
	"github.com/twinforge/twinforge/pkg/configstore"
	"github.com/twinforge/twinforge/pkg/pipeline"
)

// GraphQLBackend serves graph queries against the provisioned Fabric graph
// model.
type GraphQLBackend struct {
	client   *fabric.Client
	settings *configstore.Store
}

// NewGraphQLBackend creates the fabric-gql backend.
func NewGraphQLBackend(client *fabric.Client, settings *configstore.Store) *GraphQLBackend {
	return &GraphQLBackend{client: client, settings: settings}
}

// Name implements QueryBackend.
func (b *GraphQLBackend) Name() string { return pipeline.ConnectorFabricGQL }

type graphQueryResponse struct {
	Columns []struct {
		Name string `json:"name"`
	} `json:"columns"`
	Rows [][]any `json:"rows"`
}

// Query executes a graph query against the deployment's graph model.
func (b *GraphQLBackend) Query(ctx context.Context, query string, params map[string]any) (*Result, error) {
	settings, err := b.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load deployment settings: %w", err)
	}
	if !settings.QueryReady() {
		return nil, pipeline.NewValidationError("graph query surface is not provisioned", nil)
	}

	body := map[string]any{"query": query}
	if len(params) > 0 {
		body["variables"] = params
	}

	var resp graphQueryResponse
	path := fmt.Sprintf("/workspaces/%s/graphModels/%s/query", settings.WorkspaceID, settings.GraphModelID)
	if err := b.client.Post(ctx, path, body, &resp); err != nil {
		return nil, fmt.Errorf("graph query: %w", err)
	}

	result := &Result{
		Columns: make([]string, len(resp.Columns)),
		Rows:    make([][]any, len(resp.Rows)),
	}
	for i, col := range resp.Columns {
		result.Columns[i] = col.Name
	}
	for i, row := range resp.Rows {
		normalized := make([]any, len(row))
		for j, v := range row {
			normalized[j] = normalizeValue(v)
		}
		result.Rows[i] = normalized
	}
	return result, nil
}
