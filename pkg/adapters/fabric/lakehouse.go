package fabric

import (
	"context"
	"fmt"

	"github.com/twinforge/twinforge/pkg/adapters"
	"github.com/twinforge/twinforge/pkg/pipeline"
)

const itemTypeLakehouse = "Lakehouse"

// LakehouseAdapter manages the lakehouse used as graph entity storage.
type LakehouseAdapter struct {
	client *Client
}

// NewLakehouseAdapter creates the lakehouse adapter.
func NewLakehouseAdapter(client *Client) *LakehouseAdapter {
	return &LakehouseAdapter{client: client}
}

// Kind implements adapters.Adapter.
func (a *LakehouseAdapter) Kind() string { return adapters.KindLakehouse }

func workspaceIDFor(target adapters.Target) (string, error) {
	id := target.DiscoveredID(string(pipeline.StepWorkspace))
	if id == "" {
		id = target.Param("workspace_id", "")
	}
	if id == "" {
		return "", fmt.Errorf("no workspace identifier available for step %s", target.StepID)
	}
	return id, nil
}

// Exists looks the lakehouse up by display name within the workspace.
func (a *LakehouseAdapter) Exists(ctx context.Context, target adapters.Target) (string, bool, error) {
	workspaceID, err := workspaceIDFor(target)
	if err != nil {
		return "", false, err
	}
	found, err := a.client.findItem(ctx, workspaceID, itemTypeLakehouse, target.Name)
	if err != nil {
		return "", false, err
	}
	if found == nil {
		return "", false, nil
	}
	return found.ID, true, nil
}

// Create provisions the lakehouse item.
func (a *LakehouseAdapter) Create(ctx context.Context, target adapters.Target) (string, error) {
	workspaceID, err := workspaceIDFor(target)
	if err != nil {
		return "", err
	}
	return a.client.createItem(ctx, workspaceID, itemTypeLakehouse, target.Name, nil)
}

// Populate implements adapters.Adapter; data loading is the upload step's
// concern.
func (a *LakehouseAdapter) Populate(ctx context.Context, target adapters.Target) error {
	return adapters.ErrNotSupported
}
