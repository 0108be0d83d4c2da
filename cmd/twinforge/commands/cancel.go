package commands

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a running provisioning run",
		Long: `Request cancellation of an active run. The in-flight step is
allowed to finish; the run stops at the next step boundary and can be
resumed later.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			var out map[string]any
			if err := client.sendJSON(cmd.Context(), http.MethodPost, "/api/runs/"+args[0]+"/cancel", nil, &out); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(out)
			}
			fmt.Printf("Cancellation requested for run %s\n", args[0])
			return nil
		},
	}
}
