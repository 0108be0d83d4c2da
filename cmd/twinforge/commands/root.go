// Package commands implements the twinforge CLI. The serve command runs
// the orchestrator; every other command talks to a running server over its
// HTTP API.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	serverURL  string
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "twinforge",
		Short: "TwinForge - Digital Twin Provisioning Orchestrator",
		Long: `TwinForge provisions the cloud resources behind a digital twin
deployment scenario and serves its graph and telemetry queries.

Features:
  - Scenario-driven step selection over a provisioning DAG
  - Idempotent re-execution via existence checks
  - Resumable runs after partial failure
  - Streamed progress with fixed percentage bands
  - Connector-based query dispatch`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "orchestrator server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newProvisionCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newCancelCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newQueryCommand())

	return rootCmd
}
