package fabric

import (
	"context"

	"github.com/twinforge/twinforge/pkg/adapters"
	"github.com/twinforge/twinforge/pkg/pipeline"
)

// ModelAdapter discovers the queryable graph model the ontology build
// produced. Discovery is an ensure step: the model is created by the
// platform as a side effect of indexing, so Create only re-resolves it.
type ModelAdapter struct {
	client *Client
}

// NewModelAdapter creates the model discovery adapter.
func NewModelAdapter(client *Client) *ModelAdapter {
	return &ModelAdapter{client: client}
}

// Kind implements adapters.Adapter.
func (a *ModelAdapter) Kind() string { return adapters.KindModel }

// Exists resolves the graph model identifier for the query surface. It
// prefers the identifier discovered by the ontology build and falls back to
// a lookup by the build step's target name.
func (a *ModelAdapter) Exists(ctx context.Context, target adapters.Target) (string, bool, error) {
	if id := target.DiscoveredID(string(pipeline.StepOntologyBuild)); id != "" {
		return id, true, nil
	}

	workspaceID, err := workspaceIDFor(target)
	if err != nil {
		return "", false, err
	}
	name := pipeline.TargetName(target.ScenarioID, pipeline.StepOntologyBuild, target.Params)
	found, err := a.client.findItem(ctx, workspaceID, itemTypeGraphModel, name)
	if err != nil {
		return "", false, err
	}
	if found == nil {
		return "", false, nil
	}
	return found.ID, true, nil
}

// Create reports the model missing: discovery cannot conjure a model that
// indexing did not produce.
func (a *ModelAdapter) Create(ctx context.Context, target adapters.Target) (string, error) {
	return "", adapters.Transientf("graph model not yet discoverable")
}

// Populate implements adapters.Adapter.
func (a *ModelAdapter) Populate(ctx context.Context, target adapters.Target) error {
	return adapters.ErrNotSupported
}
