package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/twinforge/twinforge/pkg/adapters"
)

// TargetName derives the deterministic resource name for a step. The
// existence check and the create it guards both address this name, which is
// what makes the guard idempotent. A per-request override wins when present.
func TargetName(scenarioID string, stepID StepID, overrides map[string]string) string {
	if overrides != nil {
		if name, ok := overrides["target_name:"+string(stepID)]; ok && name != "" {
			return name
		}
	}
	return fmt.Sprintf("%s-%s", scenarioID, stepID)
}

// Guard wraps each step execution with an existence check so that
// re-execution is a no-op when the target already exists, and classifies
// adapter errors before they reach the executor. The executor only ever
// sees the three-way Created/AlreadyExists/Failed result.
type Guard struct {
	registry *adapters.Registry
	clock    clock.Clock

	// Transient adapter failures are retried in place a few times before
	// the step is reported failed; anything beyond that is the caller's
	// retry-from-step path.
	attempts int
	delay    time.Duration

	// Readiness polling bounds for ActionAwaitReady steps.
	pollAttempts int
	pollDelay    time.Duration
	pollMax      time.Duration
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithClock substitutes the wall clock, for tests.
func WithClock(c clock.Clock) GuardOption {
	return func(g *Guard) { g.clock = c }
}

// WithRetry sets the in-place transient retry budget.
func WithRetry(attempts int, delay time.Duration) GuardOption {
	return func(g *Guard) {
		g.attempts = attempts
		g.delay = delay
	}
}

// WithReadinessPoll bounds the await-ready polling loop.
func WithReadinessPoll(attempts int, delay, max time.Duration) GuardOption {
	return func(g *Guard) {
		g.pollAttempts = attempts
		g.pollDelay = delay
		g.pollMax = max
	}
}

// NewGuard creates a Guard over an adapter registry.
func NewGuard(registry *adapters.Registry, opts ...GuardOption) *Guard {
	g := &Guard{
		registry:     registry,
		clock:        clock.WallClock,
		attempts:     3,
		delay:        2 * time.Second,
		pollAttempts: 30,
		pollDelay:    10 * time.Second,
		pollMax:      time.Minute,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute runs one step through its adapter. AlreadyExists and Created are
// both success; Failed carries a classified reason.
func (g *Guard) Execute(ctx context.Context, step StepDefinition, target adapters.Target) StepResult {
	adapter, err := g.registry.Get(step.AdapterKind)
	if err != nil {
		return failed(NewPermanentError("adapter not registered", err).WithStep(step.ID))
	}

	switch step.Action {
	case ActionEnsure, ActionPopulate:
		return g.ensure(ctx, step, adapter, target)
	case ActionAwaitReady:
		return g.awaitReady(ctx, step, adapter, target)
	default:
		return failed(NewPermanentError(
			fmt.Sprintf("unknown step action %q", step.Action), nil).WithStep(step.ID))
	}
}

// ensure performs the exists-then-create (or exists-then-populate) pair.
func (g *Guard) ensure(ctx context.Context, step StepDefinition, adapter adapters.Adapter, target adapters.Target) StepResult {
	var result StepResult

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			id, ok, err := adapter.Exists(ctx, target)
			if err != nil {
				return err
			}
			if ok {
				result = StepResult{Outcome: OutcomeAlreadyExists, DiscoveredID: id}
				return nil
			}
			if step.Action == ActionPopulate {
				if err := adapter.Populate(ctx, target); err != nil {
					return err
				}
				result = StepResult{Outcome: OutcomeCreated}
				return nil
			}
			created, err := adapter.Create(ctx, target)
			if err != nil {
				return err
			}
			result = StepResult{Outcome: OutcomeCreated, DiscoveredID: created}
			return nil
		},
		IsFatalError: func(err error) bool {
			return !adapters.IsTransient(err)
		},
		Attempts:    g.attempts,
		Delay:       g.delay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       g.clock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		return failed(g.classify(step, err))
	}
	return result
}

// awaitReady polls the adapter's readiness check with a bounded budget.
// This replaces the fixed-duration indexing wait: a timed sleep is not a
// completion signal.
func (g *Guard) awaitReady(ctx context.Context, step StepDefinition, adapter adapters.Adapter, target adapters.Target) StepResult {
	checker, ok := adapter.(adapters.ReadinessChecker)
	if !ok {
		return failed(NewPermanentError(
			fmt.Sprintf("adapter %q has no readiness check", step.AdapterKind), nil).WithStep(step.ID))
	}

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			ready, err := checker.Ready(ctx, target)
			if err != nil {
				return err
			}
			if !ready {
				return adapters.Transientf("%s not ready", target.Name)
			}
			return nil
		},
		IsFatalError: func(err error) bool {
			return !adapters.IsTransient(err)
		},
		Attempts:    g.pollAttempts,
		Delay:       g.pollDelay,
		MaxDelay:    g.pollMax,
		BackoffFunc: retry.DoubleDelay,
		Clock:       g.clock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		return failed(g.classify(step, err))
	}
	// Readiness discovers nothing of its own; the ontology ID already lives
	// under the step that created it.
	return StepResult{Outcome: OutcomeAlreadyExists}
}

// classify maps an adapter-boundary error into the pipeline taxonomy.
func (g *Guard) classify(step StepDefinition, err error) *Error {
	if retry.IsAttemptsExceeded(err) || retry.IsDurationExceeded(err) {
		if last := retry.LastError(err); last != nil {
			err = last
		}
	}
	if ctxErr := contextCause(err); ctxErr != nil {
		return NewCancelledError(ctxErr).WithStep(step.ID)
	}
	if adapters.IsTransient(err) {
		return NewTransientError("adapter call failed", err).WithStep(step.ID)
	}
	return NewPermanentError("adapter call failed", err).WithStep(step.ID)
}

func contextCause(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// retry.Call reports a stopped wait as retry.IsRetryStopped; the
	// surrounding context is the only stop channel the guard wires up.
	if retry.IsRetryStopped(err) {
		return context.Canceled
	}
	return nil
}

func failed(err *Error) StepResult {
	return StepResult{Outcome: OutcomeFailed, Err: err}
}
