// Package pipeline implements the resumable provisioning pipeline: a static
// step catalog with a dependency relation, predicate-driven selection of the
// step sequence for a scenario, an idempotence guard around every adapter
// call, and a sequential executor that persists run state after each step
// and streams progress events.
//
// The design invariants:
//
//   - Selection is a pure function of the scenario snapshot. Identical
//     snapshots always yield identical step sequences.
//   - Every step is guarded by an existence check against a deterministic
//     target name, so re-running a whole pipeline over an existing
//     deployment is a sequence of cheap no-ops.
//   - RunState is the durable source of truth; the progress stream is a
//     best-effort, at-most-once notification layer over it.
//   - Progress percentages come from a fixed per-step band table and are
//     monotonically non-decreasing within a run.
//   - At most one run per scenario is active; concurrent requests fail fast
//     with a run-in-progress error.
//   - A failed run records the failed step as the resume point; Resume
//     carries completed steps and discovered identifiers into a fresh run.
package pipeline
