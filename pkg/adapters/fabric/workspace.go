package fabric

import (
	"context"
	"fmt"

	"github.com/twinforge/twinforge/pkg/adapters"
)

// WorkspaceAdapter manages Fabric workspaces.
type WorkspaceAdapter struct {
	client *Client
}

// NewWorkspaceAdapter creates the workspace adapter.
func NewWorkspaceAdapter(client *Client) *WorkspaceAdapter {
	return &WorkspaceAdapter{client: client}
}

// Kind implements adapters.Adapter.
func (a *WorkspaceAdapter) Kind() string { return adapters.KindWorkspace }

type workspace struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type workspaceList struct {
	Value []workspace `json:"value"`
}

// Exists looks the workspace up by display name.
func (a *WorkspaceAdapter) Exists(ctx context.Context, target adapters.Target) (string, bool, error) {
	var list workspaceList
	if err := a.client.Get(ctx, "/workspaces", &list); err != nil {
		return "", false, err
	}
	for _, ws := range list.Value {
		if ws.DisplayName == target.Name {
			return ws.ID, true, nil
		}
	}
	return "", false, nil
}

// Create provisions a workspace, assigning it to a capacity when the
// scenario declares one.
func (a *WorkspaceAdapter) Create(ctx context.Context, target adapters.Target) (string, error) {
	body := map[string]any{"displayName": target.Name}
	if capacityID := target.Param("capacity_id", ""); capacityID != "" {
		body["capacityId"] = capacityID
	}

	var created workspace
	if err := a.client.Post(ctx, "/workspaces", body, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("workspace create returned no identifier")
	}
	return created.ID, nil
}

// Populate implements adapters.Adapter; workspaces have no data load phase.
func (a *WorkspaceAdapter) Populate(ctx context.Context, target adapters.Target) error {
	return adapters.ErrNotSupported
}
