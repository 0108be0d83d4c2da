package commands

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/twinforge/twinforge/pkg/configstore"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or update deployment settings",
	}
	cmd.AddCommand(newConfigGetCommand())
	cmd.AddCommand(newConfigSetCommand())
	return cmd
}

func newConfigGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the recorded deployment settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			var settings configstore.Settings
			if err := client.getJSON(cmd.Context(), "/api/config", &settings); err != nil {
				return err
			}
			return printJSON(settings)
		},
	}
}

func newConfigSetCommand() *cobra.Command {
	var (
		workspaceID   string
		lakehouseID   string
		eventhouseID  string
		kqlDatabaseID string
		ontologyID    string
		graphModelID  string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update deployment settings",
		Long: `Merge the given identifiers into the recorded settings. Fields
not passed as flags keep their current value.`,
		Example: `  twinforge config set --workspace-id ws-1 --graph-model-id gm-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()

			var settings configstore.Settings
			if err := client.getJSON(cmd.Context(), "/api/config", &settings); err != nil {
				return err
			}

			changed := false
			for _, field := range []struct {
				value string
				dst   *string
			}{
				{workspaceID, &settings.WorkspaceID},
				{lakehouseID, &settings.LakehouseID},
				{eventhouseID, &settings.EventhouseID},
				{kqlDatabaseID, &settings.KQLDatabaseID},
				{ontologyID, &settings.OntologyID},
				{graphModelID, &settings.GraphModelID},
			} {
				if field.value != "" {
					*field.dst = field.value
					changed = true
				}
			}
			if !changed {
				return fmt.Errorf("no settings given, see --help for flags")
			}

			if err := client.sendJSON(cmd.Context(), http.MethodPut, "/api/config", &settings, &settings); err != nil {
				return err
			}
			return printJSON(settings)
		},
	}

	cmd.Flags().StringVar(&workspaceID, "workspace-id", "", "workspace identifier")
	cmd.Flags().StringVar(&lakehouseID, "lakehouse-id", "", "lakehouse identifier")
	cmd.Flags().StringVar(&eventhouseID, "eventhouse-id", "", "eventhouse identifier")
	cmd.Flags().StringVar(&kqlDatabaseID, "kql-database-id", "", "KQL database identifier")
	cmd.Flags().StringVar(&ontologyID, "ontology-id", "", "ontology identifier")
	cmd.Flags().StringVar(&graphModelID, "graph-model-id", "", "graph model identifier")

	return cmd
}
