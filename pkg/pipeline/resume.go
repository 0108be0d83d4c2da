package pipeline

import (
	"context"
	"fmt"
)

// Resume starts a new run for a scenario whose previous run failed, reusing
// the prior run's completed steps and discovered identifiers. The new run
// re-selects its step sequence from the current scenario snapshot; selection
// is deterministic, so an unchanged snapshot yields the same sequence and
// execution skips straight to the failed step. Completed steps that remain
// selected are skipped; their guards would report AlreadyExists anyway, the
// skip just avoids the round-trips.
func (o *Orchestrator) Resume(ctx context.Context, req Request) (*RunState, <-chan ProgressEvent, error) {
	if req.Config == nil {
		return nil, nil, NewValidationError("scenario config is required", nil)
	}
	scenarioID := req.Config.ScenarioID

	prior, err := o.store.LatestRun(ctx, scenarioID)
	if err != nil {
		return nil, nil, NewPermanentError("load prior run", err).WithScenario(scenarioID)
	}
	if prior == nil {
		return nil, nil, NewValidationError(
			fmt.Sprintf("scenario %s has no prior run to resume", scenarioID), nil).
			WithScenario(scenarioID)
	}
	if prior.Status != RunStatusFailed {
		return nil, nil, NewValidationError(
			fmt.Sprintf("prior run %s is %s, only failed runs can be resumed", prior.RunID, prior.Status), nil).
			WithScenario(scenarioID)
	}

	state, events, err := o.launch(ctx, req, prior)
	if err != nil {
		return nil, nil, err
	}
	o.tel.Metrics.RunsResumed.Inc()
	return state, events, nil
}
