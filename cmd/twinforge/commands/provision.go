package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/twinforge/twinforge/pkg/pipeline"
)

func newProvisionCommand() *cobra.Command {
	var (
		resume    bool
		overrides map[string]string
	)

	cmd := &cobra.Command{
		Use:   "provision <scenario-id>",
		Short: "Provision the resources for a deployment scenario",
		Long: `Start a provisioning run for a scenario and stream its progress.

Re-running a succeeded scenario is safe: every step checks for its
resource before creating it. After a failure, --resume picks up at the
failed step and carries completed work forward.`,
		Example: `  # Provision a scenario
  twinforge provision factory-demo

  # Resume after a partial failure
  twinforge provision factory-demo --resume

  # Override adapter parameters
  twinforge provision factory-demo --override capacity_id=cap-west`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarioID := args[0]
			client := newAPIClient()

			body := map[string]any{
				"scenario_id": scenarioID,
				"resume":      resume,
			}
			if len(overrides) > 0 {
				body["overrides"] = overrides
			}

			resp, err := client.stream(cmd.Context(), "/api/provision", body)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if runID := resp.Header.Get("X-Run-ID"); runID != "" && !jsonOutput {
				fmt.Printf("Run %s started\n", runID)
			}

			var failed bool
			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if jsonOutput {
					fmt.Println(line)
					continue
				}

				var event pipeline.ProgressEvent
				if err := json.Unmarshal([]byte(line), &event); err != nil {
					continue
				}
				if event.Error != "" {
					failed = true
					fmt.Printf("[%3d%%] FAILED: %s\n", event.Percent, event.Error)
					if event.RetryFrom != "" {
						fmt.Printf("       retry with --resume to continue from %s\n", event.RetryFrom)
					}
					continue
				}
				fmt.Printf("[%3d%%] %s\n", event.Percent, event.Label)
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read progress stream: %w", err)
			}
			if failed {
				return fmt.Errorf("provisioning failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&resume, "resume", false, "resume the latest failed run for this scenario")
	cmd.Flags().StringToStringVar(&overrides, "override", nil, "adapter parameter overrides (key=value)")

	return cmd
}
