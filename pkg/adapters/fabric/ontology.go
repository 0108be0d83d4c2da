package fabric

import (
	"context"
	"fmt"

	"github.com/twinforge/twinforge/pkg/adapters"
	"github.com/twinforge/twinforge/pkg/pipeline"
)

const itemTypeGraphModel = "GraphModel"

// OntologyAdapter builds the graph ontology over the materialized tables
// and reports its indexing readiness. Readiness is polled, never assumed:
// the graph backend indexes asynchronously after the build request is
// accepted.
type OntologyAdapter struct {
	client *Client
}

// NewOntologyAdapter creates the ontology adapter.
func NewOntologyAdapter(client *Client) *OntologyAdapter {
	return &OntologyAdapter{client: client}
}

// Kind implements adapters.Adapter.
func (a *OntologyAdapter) Kind() string { return adapters.KindOntology }

// Exists looks the graph model item up by display name.
func (a *OntologyAdapter) Exists(ctx context.Context, target adapters.Target) (string, bool, error) {
	workspaceID, err := workspaceIDFor(target)
	if err != nil {
		return "", false, err
	}
	found, err := a.client.findItem(ctx, workspaceID, itemTypeGraphModel, target.Name)
	if err != nil {
		return "", false, err
	}
	if found == nil {
		return "", false, nil
	}
	return found.ID, true, nil
}

// Create provisions the graph model item over the lakehouse tables.
func (a *OntologyAdapter) Create(ctx context.Context, target adapters.Target) (string, error) {
	workspaceID, err := workspaceIDFor(target)
	if err != nil {
		return "", err
	}

	lakehouseID := target.DiscoveredID(string(pipeline.StepStoragePrep))
	payload := map[string]any{
		"definition": map[string]any{
			"sourceLakehouseId": lakehouseID,
			"entityTable":       "entities",
			"relationshipTable": "relationships",
		},
	}
	return a.client.createItem(ctx, workspaceID, itemTypeGraphModel, target.Name, payload)
}

// Populate implements adapters.Adapter; the graph model has no separate
// data load phase.
func (a *OntologyAdapter) Populate(ctx context.Context, target adapters.Target) error {
	return adapters.ErrNotSupported
}

type graphModelStatus struct {
	ProvisioningState string `json:"provisioningState"`
	IndexingState     string `json:"indexingState"`
}

// Ready reports whether the graph model has finished indexing. Errors from
// the status endpoint are transient; a model that reports a failed state is
// a permanent error.
func (a *OntologyAdapter) Ready(ctx context.Context, target adapters.Target) (bool, error) {
	workspaceID, err := workspaceIDFor(target)
	if err != nil {
		return false, err
	}
	modelID := target.DiscoveredID(string(pipeline.StepOntologyBuild))
	if modelID == "" {
		return false, fmt.Errorf("no graph model identifier available for readiness check")
	}

	var status graphModelStatus
	path := fmt.Sprintf("/workspaces/%s/graphModels/%s/status", workspaceID, modelID)
	if err := a.client.Get(ctx, path, &status); err != nil {
		return false, err
	}

	switch status.IndexingState {
	case "Succeeded", "Active", "Completed":
		return true, nil
	case "Failed":
		return false, fmt.Errorf("graph model indexing failed")
	default:
		return false, nil
	}
}
