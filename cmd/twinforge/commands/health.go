package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/twinforge/twinforge/pkg/health"
)

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show deployment readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			var status health.Status
			if err := client.getJSON(cmd.Context(), "/api/health", &status); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(status)
			}

			fmt.Printf("Configured:          %v\n", status.Configured)
			fmt.Printf("Workspace connected: %v\n", status.WorkspaceConnected)
			fmt.Printf("Query ready:         %v\n", status.QueryReady)
			if status.WorkspaceID != "" {
				fmt.Printf("Workspace:           %s\n", status.WorkspaceID)
			}
			if status.GraphModelID != "" {
				fmt.Printf("Graph model:         %s\n", status.GraphModelID)
			}
			return nil
		},
	}
}
