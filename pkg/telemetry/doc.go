// Package telemetry provides the observability stack for the provisioning
// orchestrator: structured logging via zerolog, metrics via Prometheus on a
// private registry, and distributed tracing via OpenTelemetry.
//
// Components receive a *Telemetry bundle at construction. The logger carries
// run, scenario and step identifiers as structured fields; spans cover whole
// runs, individual steps and dispatched queries. Metrics live on a private
// registry so tests can build isolated instances.
package telemetry
