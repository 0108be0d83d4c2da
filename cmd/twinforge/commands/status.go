package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/twinforge/twinforge/pkg/pipeline"
)

func newStatusCommand() *cobra.Command {
	var scenarioID string

	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show the state of a provisioning run",
		Long: `Inspect a run by its identifier, or list recent runs for a
scenario with --scenario.`,
		Example: `  # Inspect one run
  twinforge status 4f2c61a8-...

  # List recent runs for a scenario
  twinforge status --scenario factory-demo`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()

			if len(args) == 1 {
				var run pipeline.RunState
				if err := client.getJSON(cmd.Context(), "/api/runs/"+args[0], &run); err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(run)
				}
				printRun(&run)
				return nil
			}

			if scenarioID == "" {
				return fmt.Errorf("a run id or --scenario is required")
			}
			var list struct {
				Runs []*pipeline.RunState `json:"runs"`
			}
			if err := client.getJSON(cmd.Context(), "/api/runs?scenario_id="+scenarioID, &list); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(list.Runs)
			}
			if len(list.Runs) == 0 {
				fmt.Println("No runs recorded")
				return nil
			}
			for _, run := range list.Runs {
				fmt.Printf("%s  %-9s  %3d%%  started %s\n",
					run.RunID, run.Status, run.Percent, run.StartedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&scenarioID, "scenario", "", "list runs for this scenario")

	return cmd
}

func printRun(run *pipeline.RunState) {
	fmt.Printf("Run:      %s\n", run.RunID)
	fmt.Printf("Scenario: %s\n", run.ScenarioID)
	fmt.Printf("Status:   %s (%d%%)\n", run.Status, run.Percent)
	if run.Current != "" {
		fmt.Printf("Current:  %s\n", run.Current)
	}
	fmt.Printf("Steps:    %d/%d completed\n", len(run.Completed), len(run.Selected))
	for _, step := range run.Selected {
		marker := " "
		if run.HasCompleted(step) {
			marker = "x"
		}
		fmt.Printf("  [%s] %s\n", marker, step)
	}
	if run.Error != "" {
		fmt.Printf("Error:    %s (%s)\n", run.Error, run.FailureClass)
	}
	if run.RetryFrom != "" {
		fmt.Printf("Resume:   twinforge provision %s --resume (from %s)\n", run.ScenarioID, run.RetryFrom)
	}
}
