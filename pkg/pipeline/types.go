package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twinforge/twinforge/pkg/scenario"
)

// StepID identifies one provisioning step within the catalog.
type StepID string

// Step identifiers for the built-in catalog. The identifiers are part of the
// resume wire contract (retry_from/completed carry them), so they are stable.
const (
	StepWorkspace        StepID = "workspace"
	StepStoragePrep      StepID = "storage-prep"
	StepBulkUpload       StepID = "bulk-upload"
	StepTableMaterialize StepID = "table-materialize"
	StepEventhouseSetup  StepID = "eventhouse-setup"
	StepTelemetryIngest  StepID = "telemetry-ingest"
	StepOntologyBuild    StepID = "ontology-build"
	StepIndexReady       StepID = "index-ready"
	StepModelDiscovery   StepID = "model-discovery"
	StepFinalize         StepID = "finalize"
)

// Action is the adapter operation a step performs.
type Action string

const (
	// ActionEnsure creates the target resource if it does not exist.
	ActionEnsure Action = "ensure"

	// ActionPopulate loads data into an already-created resource.
	ActionPopulate Action = "populate"

	// ActionAwaitReady polls the target resource until it reports ready.
	ActionAwaitReady Action = "await-ready"
)

// PercentBand is a step's fixed slot in the global progress scale.
// The bands are part of the UI contract and must not be re-derived.
type PercentBand struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// StepDefinition is one static entry in the provisioning catalog:
// an identifier, hard dependencies, an activation predicate over the
// scenario snapshot, and the adapter operation it references.
type StepDefinition struct {
	// ID is unique within the catalog.
	ID StepID

	// DependsOn lists steps that must complete before this one. A
	// dependency is a hard precondition: if a dependency is not selected,
	// this step is excluded as well.
	DependsOn []StepID

	// When is the activation predicate, a pure function of the scenario
	// snapshot. A nil predicate means always active.
	When func(*scenario.Config) bool

	// AdapterKind names the resource adapter the step operates through.
	AdapterKind string

	// Action is the adapter operation to perform.
	Action Action

	// Band is the step's fixed slot in the progress scale.
	Band PercentBand

	// Label is the fixed user-facing progress label.
	Label string
}

// RunStatus is the terminal-status field of a RunState.
type RunStatus string

const (
	// RunStatusRunning indicates the run is executing steps.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates all selected steps completed.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates a step failed or the run was cancelled.
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal reports whether the status is final.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Validate checks the status is one of the known values.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON keeps the enum serialization explicit.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON validates on the way in.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// RunState is the bookkeeping for one provisioning run. It is owned
// exclusively by the executor while running; everything external sees
// read-only snapshots. It is the durable source of truth the progress
// stream is a best-effort notification of.
type RunState struct {
	// RunID uniquely identifies this attempt.
	RunID string `json:"run_id"`

	// ScenarioID is the scenario being provisioned.
	ScenarioID string `json:"scenario_id"`

	// Selected is the ordered step sequence chosen for this run.
	Selected []StepID `json:"selected"`

	// Completed lists step identifiers confirmed successful, in completion
	// order. Invariant: Completed is a subset of Selected.
	Completed []StepID `json:"completed"`

	// Discovered maps a completed step to the platform-assigned identifier
	// it discovered, if any. Invariant: keys are a subset of Completed.
	Discovered map[StepID]string `json:"discovered,omitempty"`

	// Current is the step being executed, or "" when finished or failed.
	Current StepID `json:"current,omitempty"`

	// Status is the run's lifecycle status.
	Status RunStatus `json:"status"`

	// Percent is the last emitted progress percentage (high-water mark).
	Percent int `json:"percent"`

	// RetryFrom is the step a retry should resume at; set on failure.
	RetryFrom StepID `json:"retry_from,omitempty"`

	// FailureClass records the error classification on failure.
	FailureClass ErrorClass `json:"failure_class,omitempty"`

	// Error is the failure message, if any.
	Error string `json:"error,omitempty"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HasCompleted reports whether a step is in the completed set.
func (r *RunState) HasCompleted(id StepID) bool {
	for _, c := range r.Completed {
		if c == id {
			return true
		}
	}
	return false
}

// Snapshot returns a deep copy safe for external readers.
func (r *RunState) Snapshot() *RunState {
	out := *r
	out.Selected = append([]StepID(nil), r.Selected...)
	out.Completed = append([]StepID(nil), r.Completed...)
	out.Discovered = make(map[StepID]string, len(r.Discovered))
	for k, v := range r.Discovered {
		out.Discovered[k] = v
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// ProgressEvent is one immutable message on the progress stream. The JSON
// field names are the wire contract consumed by the wizard surfaces.
type ProgressEvent struct {
	RunID     string   `json:"run_id"`
	Percent   int      `json:"percent"`
	Label     string   `json:"label"`
	Error     string   `json:"error,omitempty"`
	RetryFrom StepID   `json:"retry_from,omitempty"`
	Completed []StepID `json:"completed,omitempty"`
}

// Terminal reports whether the event closes the stream.
func (e ProgressEvent) Terminal() bool {
	return e.Percent >= 100 || e.Error != ""
}

// StepOutcome is the three-way result the guard reports to the executor.
type StepOutcome int

const (
	// OutcomeCreated means the adapter created the target resource.
	OutcomeCreated StepOutcome = iota

	// OutcomeAlreadyExists means the existence check found the target
	// already present; treated as success, which is what makes re-running
	// the whole pipeline safe.
	OutcomeAlreadyExists

	// OutcomeFailed means the step failed with a classified reason.
	OutcomeFailed
)

// String implements fmt.Stringer for log output.
func (o StepOutcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyExists:
		return "already_exists"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StepResult carries the guard's verdict for one step.
type StepResult struct {
	// Outcome is the three-way classification.
	Outcome StepOutcome

	// DiscoveredID is the platform-assigned identifier of the target,
	// set for Created and AlreadyExists outcomes when the adapter
	// discovered one.
	DiscoveredID string

	// Err is the classified failure for OutcomeFailed.
	Err *Error
}

// RunStore persists run state and progress checkpoints. Implemented by the
// SQLite store; the executor is the only writer for a running scenario.
type RunStore interface {
	// SaveRun inserts or replaces a run state.
	SaveRun(ctx context.Context, run *RunState) error

	// GetRun retrieves a run by its identifier.
	GetRun(ctx context.Context, runID string) (*RunState, error)

	// LatestRun retrieves the most recently started run for a scenario,
	// or nil when the scenario has never run.
	LatestRun(ctx context.Context, scenarioID string) (*RunState, error)

	// AppendProgress records a progress checkpoint for a run.
	AppendProgress(ctx context.Context, runID string, event ProgressEvent) error
}
