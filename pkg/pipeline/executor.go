package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/twinforge/twinforge/pkg/adapters"
	"github.com/twinforge/twinforge/pkg/scenario"
	"github.com/twinforge/twinforge/pkg/telemetry"
)

// Request is one provisioning request: the scenario snapshot to provision
// and optional per-request overrides (target names, adapter parameters).
type Request struct {
	Config    *scenario.Config
	Overrides map[string]string
}

// Orchestrator executes provisioning runs: selects the step sequence for a
// scenario, drives each step through the guard, persists run state after
// every transition and publishes progress events. At most one run per
// scenario is active at a time; a second request is rejected, never queued.
type Orchestrator struct {
	graph  *Graph
	guard  *Guard
	store  RunStore
	broker *ProgressBroker
	tel    *telemetry.Telemetry

	mu     sync.Mutex
	active map[string]*runHandle
}

type runHandle struct {
	runID  string
	cancel context.CancelFunc
}

// NewOrchestrator wires an orchestrator from its collaborators.
func NewOrchestrator(graph *Graph, guard *Guard, store RunStore, broker *ProgressBroker, tel *telemetry.Telemetry) *Orchestrator {
	if tel == nil {
		tel = telemetry.NewTestTelemetry()
	}
	return &Orchestrator{
		graph:  graph,
		guard:  guard,
		store:  store,
		broker: broker,
		tel:    tel,
		active: make(map[string]*runHandle),
	}
}

// Broker exposes the progress broker for additional subscribers.
func (o *Orchestrator) Broker() *ProgressBroker {
	return o.broker
}

// Start begins a fresh provisioning run for the scenario. It returns an
// initial run snapshot and a subscribed progress channel; the run itself
// executes on a background goroutine and survives the caller going away.
// The channel closes after the terminal event.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*RunState, <-chan ProgressEvent, error) {
	return o.launch(ctx, req, nil)
}

// Cancel requests cancellation of an active run. The run stops at the next
// step boundary; the step in flight finishes or fails on its own. Returns a
// validation error when no active run matches.
func (o *Orchestrator) Cancel(runID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, h := range o.active {
		if h.runID == runID {
			h.cancel()
			return nil
		}
	}
	return NewValidationError(fmt.Sprintf("no active run with ID %s", runID), nil)
}

// ActiveRunID returns the run currently executing for a scenario, if any.
func (o *Orchestrator) ActiveRunID(scenarioID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.active[scenarioID]
	if !ok {
		return "", false
	}
	return h.runID, true
}

// launch validates the request, claims the scenario slot and starts the run
// goroutine. prior carries resumed state (completed steps, discovered IDs)
// and is nil for fresh runs.
func (o *Orchestrator) launch(ctx context.Context, req Request, prior *RunState) (*RunState, <-chan ProgressEvent, error) {
	if req.Config == nil {
		return nil, nil, NewValidationError("scenario config is required", nil)
	}
	if err := req.Config.Validate(); err != nil {
		return nil, nil, NewValidationError("invalid scenario config", err)
	}
	scenarioID := req.Config.ScenarioID

	selected := o.graph.Select(req.Config)
	if len(selected) == 0 {
		return nil, nil, NewValidationError("no provisioning steps selected for scenario", nil).
			WithScenario(scenarioID)
	}

	state := &RunState{
		RunID:      uuid.NewString(),
		ScenarioID: scenarioID,
		Selected:   stepIDs(selected),
		Discovered: make(map[StepID]string),
		Status:     RunStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	if prior != nil {
		// Completed work and discovered identifiers carry over verbatim;
		// the new run re-selects its own sequence.
		state.Completed = append([]StepID(nil), prior.Completed...)
		for k, v := range prior.Discovered {
			state.Discovered[k] = v
		}
	}

	o.mu.Lock()
	if _, busy := o.active[scenarioID]; busy {
		o.mu.Unlock()
		return nil, nil, NewRunInProgressError(scenarioID)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	o.active[scenarioID] = &runHandle{runID: state.RunID, cancel: cancel}
	o.mu.Unlock()

	if err := o.store.SaveRun(ctx, state); err != nil {
		o.release(scenarioID, cancel)
		return nil, nil, NewPermanentError("persist run state", err).WithScenario(scenarioID)
	}

	events, _ := o.broker.Subscribe(state.RunID)
	go o.run(runCtx, state, selected, req)

	return state.Snapshot(), events, nil
}

func (o *Orchestrator) release(scenarioID string, cancel context.CancelFunc) {
	cancel()
	o.mu.Lock()
	delete(o.active, scenarioID)
	o.mu.Unlock()
}

// run is the sequential executor loop. It owns the RunState exclusively
// until the terminal event is published.
func (o *Orchestrator) run(ctx context.Context, state *RunState, steps []StepDefinition, req Request) {
	logger := o.tel.Logger.WithComponent("pipeline").
		WithRunID(state.RunID).
		WithScenarioID(state.ScenarioID)
	spanCtx, span := o.tel.Tracer.StartRunSpan(ctx, state.RunID, state.ScenarioID)
	o.tel.Metrics.ActiveRuns.Inc()

	defer func() {
		o.tel.Metrics.ActiveRuns.Dec()
		span.End()
		o.broker.CloseRun(state.RunID)
		o.mu.Lock()
		if h, ok := o.active[state.ScenarioID]; ok && h.runID == state.RunID {
			h.cancel()
			delete(o.active, state.ScenarioID)
		}
		o.mu.Unlock()
	}()

	logger.Info("provisioning run started", "steps", len(steps))

	for _, step := range steps {
		if state.HasCompleted(step.ID) {
			// Resumed work: the completed step is skipped and progress jumps
			// past its band.
			o.emit(spanCtx, state, step.Band.End, step.Label)
			continue
		}

		if err := ctx.Err(); err != nil {
			perr := NewCancelledError(err).WithStep(step.ID)
			telemetry.RecordError(span, perr)
			o.fail(spanCtx, state, step.ID, perr, logger)
			return
		}

		// Dependencies of a selected step are selected and already ordered
		// before it; a gap here means the selection itself is broken.
		for _, dep := range step.DependsOn {
			if !state.HasCompleted(dep) {
				err := NewPermanentError(
					fmt.Sprintf("dependency %s not completed before %s", dep, step.ID), nil).
					WithStep(step.ID)
				telemetry.RecordError(span, err)
				o.fail(spanCtx, state, step.ID, err, logger)
				return
			}
		}

		state.Current = step.ID
		o.emit(spanCtx, state, step.Band.Start, step.Label)
		o.persist(spanCtx, state, logger)

		// The step context carries the trace but not the cancel signal: an
		// in-flight adapter call finishes or fails on its own terms, and
		// cancellation lands at the next step boundary.
		stepCtx, stepSpan := o.tel.Tracer.StartStepSpan(context.WithoutCancel(spanCtx), state.RunID, string(step.ID))
		timer := telemetry.NewTimer()
		result := o.guard.Execute(stepCtx, step, o.target(state, step, req))
		o.tel.Metrics.ObserveStep(string(step.ID), result.Outcome.String(), timer.Elapsed())

		if result.Outcome == OutcomeFailed {
			telemetry.RecordError(stepSpan, result.Err)
			stepSpan.End()
			telemetry.RecordError(span, result.Err)
			o.fail(spanCtx, state, step.ID, result.Err.WithScenario(state.ScenarioID), logger)
			return
		}
		telemetry.RecordOutcome(stepSpan, result.Outcome.String())
		stepSpan.End()

		if result.DiscoveredID != "" {
			state.Discovered[step.ID] = result.DiscoveredID
		}
		state.Completed = append(state.Completed, step.ID)
		state.Current = ""
		o.emit(spanCtx, state, step.Band.End, step.Label)
		o.persist(spanCtx, state, logger)

		logger.Info("step completed",
			"step", string(step.ID),
			"outcome", result.Outcome.String(),
			"percent", state.Percent)
	}

	now := time.Now().UTC()
	state.Status = RunStatusSucceeded
	state.CompletedAt = &now
	o.emitEvent(spanCtx, state, ProgressEvent{
		RunID:     state.RunID,
		Percent:   100,
		Label:     "Provisioning complete",
		Completed: append([]StepID(nil), state.Completed...),
	})
	o.persist(spanCtx, state, logger)

	telemetry.RecordOutcome(span, string(RunStatusSucceeded))
	o.tel.Metrics.ObserveRun(string(RunStatusSucceeded), now.Sub(state.StartedAt))
	logger.Info("provisioning run succeeded", "duration", now.Sub(state.StartedAt).String())
}

// fail records a terminal failure with resume metadata and publishes the
// failure event below 100 percent.
func (o *Orchestrator) fail(ctx context.Context, state *RunState, stepID StepID, perr *Error, logger *telemetry.Logger) {
	now := time.Now().UTC()
	state.Status = RunStatusFailed
	state.Current = ""
	state.RetryFrom = stepID
	state.FailureClass = perr.Class
	state.Error = perr.Error()
	state.CompletedAt = &now

	o.emitEvent(ctx, state, ProgressEvent{
		RunID:     state.RunID,
		Percent:   state.Percent,
		Label:     "Provisioning failed",
		Error:     perr.Error(),
		RetryFrom: stepID,
		Completed: append([]StepID(nil), state.Completed...),
	})
	o.persist(ctx, state, logger)

	if perr.Class == ErrorClassCancelled {
		o.tel.Metrics.RunsCancelled.Inc()
	}
	o.tel.Metrics.ObserveRun(string(RunStatusFailed), now.Sub(state.StartedAt))
	logger.Error(perr, "provisioning run failed",
		"step", string(stepID),
		"class", string(perr.Class),
		"retry_from", string(stepID))
}

// emit publishes a plain progress event at the given percent, clamped to the
// run's high-water mark so the stream never moves backwards.
func (o *Orchestrator) emit(ctx context.Context, state *RunState, percent int, label string) {
	if percent < state.Percent {
		percent = state.Percent
	}
	state.Percent = percent
	o.emitEvent(ctx, state, ProgressEvent{
		RunID:   state.RunID,
		Percent: percent,
		Label:   label,
	})
}

// emitEvent checkpoints and publishes an event. Checkpoint write failures
// are logged, not fatal: the stream is best-effort and RunState remains the
// durable truth.
func (o *Orchestrator) emitEvent(ctx context.Context, state *RunState, event ProgressEvent) {
	if event.Percent > state.Percent {
		state.Percent = event.Percent
	}
	if err := o.store.AppendProgress(ctx, state.RunID, event); err != nil {
		o.tel.Logger.WithComponent("pipeline").WithRunID(state.RunID).
			Warn("progress checkpoint write failed", "error", err.Error())
	}
	o.broker.Publish(event)
}

func (o *Orchestrator) persist(ctx context.Context, state *RunState, logger *telemetry.Logger) {
	if err := o.store.SaveRun(ctx, state); err != nil {
		logger.Error(err, "run state persist failed")
	}
}

// target assembles the adapter target for a step: deterministic name, merged
// parameters, discovered identifiers from earlier steps.
func (o *Orchestrator) target(state *RunState, step StepDefinition, req Request) adapters.Target {
	params := make(map[string]string)
	for _, name := range req.Config.SourceNames() {
		src := req.Config.Sources[name]
		for k, v := range src.Params {
			params[k] = v
		}
	}
	for k, v := range req.Overrides {
		params[k] = v
	}

	discovered := make(map[string]string, len(state.Discovered))
	for id, v := range state.Discovered {
		discovered[string(id)] = v
	}

	return adapters.Target{
		ScenarioID: state.ScenarioID,
		StepID:     string(step.ID),
		Name:       TargetName(state.ScenarioID, step.ID, req.Overrides),
		Params:     params,
		Discovered: discovered,
	}
}

func stepIDs(steps []StepDefinition) []StepID {
	ids := make([]StepID, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	return ids
}
