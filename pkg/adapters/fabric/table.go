package fabric

import (
	"context"
	"fmt"
	"strings"

	"github.com/twinforge/twinforge/pkg/adapters"
	"github.com/twinforge/twinforge/pkg/pipeline"
)

// TableAdapter materializes managed tables from the uploaded entity files.
type TableAdapter struct {
	client *Client

	// tables are the managed tables loaded from the Files area, one per
	// entity file of the same name.
	tables []string
}

// NewTableAdapter creates the table adapter. Tables defaults to the entity
// and relationship tables the ontology build expects.
func NewTableAdapter(client *Client, tables []string) *TableAdapter {
	if len(tables) == 0 {
		tables = []string{"entities", "relationships"}
	}
	return &TableAdapter{client: client, tables: tables}
}

// Kind implements adapters.Adapter.
func (a *TableAdapter) Kind() string { return adapters.KindTable }

func (a *TableAdapter) ids(target adapters.Target) (workspaceID, lakehouseID string, err error) {
	workspaceID, err = workspaceIDFor(target)
	if err != nil {
		return "", "", err
	}
	lakehouseID = target.DiscoveredID(string(pipeline.StepStoragePrep))
	if lakehouseID == "" {
		lakehouseID = target.Param("lakehouse_id", "")
	}
	if lakehouseID == "" {
		return "", "", fmt.Errorf("no lakehouse identifier available for table load")
	}
	return workspaceID, lakehouseID, nil
}

type tableList struct {
	Data []struct {
		Name string `json:"name"`
	} `json:"data"`
}

// Exists reports whether every expected table is already materialized.
func (a *TableAdapter) Exists(ctx context.Context, target adapters.Target) (string, bool, error) {
	workspaceID, lakehouseID, err := a.ids(target)
	if err != nil {
		return "", false, err
	}

	var list tableList
	path := fmt.Sprintf("/workspaces/%s/lakehouses/%s/tables", workspaceID, lakehouseID)
	if err := a.client.Get(ctx, path, &list); err != nil {
		return "", false, err
	}

	present := make(map[string]bool, len(list.Data))
	for _, t := range list.Data {
		present[strings.ToLower(t.Name)] = true
	}
	for _, want := range a.tables {
		if !present[strings.ToLower(want)] {
			return "", false, nil
		}
	}
	return lakehouseID, true, nil
}

// Create implements adapters.Adapter; tables are loaded, not created bare.
func (a *TableAdapter) Create(ctx context.Context, target adapters.Target) (string, error) {
	return "", adapters.ErrNotSupported
}

// Populate issues a load-table request per expected table, reading from the
// uploaded entity files. Loads with Overwrite mode are safe to re-issue.
func (a *TableAdapter) Populate(ctx context.Context, target adapters.Target) error {
	workspaceID, lakehouseID, err := a.ids(target)
	if err != nil {
		return err
	}

	format := target.Param("file_format", "Csv")
	for _, table := range a.tables {
		body := map[string]any{
			"relativePath": fmt.Sprintf("Files/entities/%s.%s", table, strings.ToLower(format)),
			"pathType":     "File",
			"mode":         "Overwrite",
			"formatOptions": map[string]any{
				"format": format,
				"header": true,
			},
		}
		path := fmt.Sprintf("/workspaces/%s/lakehouses/%s/tables/%s/load", workspaceID, lakehouseID, table)
		if err := a.client.Post(ctx, path, body, nil); err != nil {
			return fmt.Errorf("load table %s: %w", table, err)
		}
	}
	return nil
}
