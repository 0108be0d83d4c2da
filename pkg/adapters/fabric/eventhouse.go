package fabric

import (
	"context"

	"github.com/twinforge/twinforge/pkg/adapters"
)

const itemTypeEventhouse = "Eventhouse"

// EventhouseAdapter manages the eventhouse serving as time-series telemetry
// storage. Creating an eventhouse also creates its default KQL database.
type EventhouseAdapter struct {
	client *Client
}

// NewEventhouseAdapter creates the eventhouse adapter.
func NewEventhouseAdapter(client *Client) *EventhouseAdapter {
	return &EventhouseAdapter{client: client}
}

// Kind implements adapters.Adapter.
func (a *EventhouseAdapter) Kind() string { return adapters.KindEventhouse }

// Exists looks the eventhouse up by display name within the workspace.
func (a *EventhouseAdapter) Exists(ctx context.Context, target adapters.Target) (string, bool, error) {
	workspaceID, err := workspaceIDFor(target)
	if err != nil {
		return "", false, err
	}
	found, err := a.client.findItem(ctx, workspaceID, itemTypeEventhouse, target.Name)
	if err != nil {
		return "", false, err
	}
	if found == nil {
		return "", false, nil
	}
	return found.ID, true, nil
}

// Create provisions the eventhouse item.
func (a *EventhouseAdapter) Create(ctx context.Context, target adapters.Target) (string, error) {
	workspaceID, err := workspaceIDFor(target)
	if err != nil {
		return "", err
	}
	return a.client.createItem(ctx, workspaceID, itemTypeEventhouse, target.Name, nil)
}

// Populate implements adapters.Adapter; ingestion is the telemetry-ingest
// step's concern.
func (a *EventhouseAdapter) Populate(ctx context.Context, target adapters.Target) error {
	return adapters.ErrNotSupported
}
