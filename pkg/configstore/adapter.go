package configstore

import (
	"context"
	"fmt"

	"github.com/twinforge/twinforge/pkg/adapters"
	"github.com/twinforge/twinforge/pkg/pipeline"
)

// settingKeyByStep maps a provisioning step to the setting its discovered
// identifier lands in.
var settingKeyByStep = map[string]string{
	string(pipeline.StepWorkspace):       KeyWorkspaceID,
	string(pipeline.StepStoragePrep):     KeyLakehouseID,
	string(pipeline.StepEventhouseSetup): KeyEventhouseID,
	string(pipeline.StepTelemetryIngest): KeyKQLDatabaseID,
	string(pipeline.StepOntologyBuild):   KeyOntologyID,
	string(pipeline.StepModelDiscovery):  KeyGraphModelID,
}

// Adapter is the finalize-step adapter: it writes the identifiers the run
// discovered into the settings store so the query surfaces can find them.
// Writes are plain upserts, so re-running finalize is harmless.
type Adapter struct {
	store *Store
}

// NewAdapter creates the settings adapter over a settings store.
func NewAdapter(store *Store) *Adapter {
	return &Adapter{store: store}
}

// Kind implements adapters.Adapter.
func (a *Adapter) Kind() string { return adapters.KindSettings }

// Exists always reports false: finalize re-applies the discovered
// identifiers on every run.
func (a *Adapter) Exists(ctx context.Context, target adapters.Target) (string, bool, error) {
	return "", false, nil
}

// Create implements adapters.Adapter; finalize is a populate-only step.
func (a *Adapter) Create(ctx context.Context, target adapters.Target) (string, error) {
	return "", adapters.ErrNotSupported
}

// Populate writes every discovered identifier to its setting key.
func (a *Adapter) Populate(ctx context.Context, target adapters.Target) error {
	for stepID, key := range settingKeyByStep {
		id := target.DiscoveredID(stepID)
		if id == "" {
			continue
		}
		if err := a.store.Set(ctx, key, id); err != nil {
			return fmt.Errorf("finalize setting %s: %w", key, err)
		}
	}
	return nil
}
