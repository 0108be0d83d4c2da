package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/twinforge/twinforge/pkg/dispatch"
)

func newQueryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a query through a scenario's connectors",
	}
	cmd.AddCommand(newQuerySubCommand("graph", "Run a graph query",
		`  twinforge query graph factory-demo "MATCH (n) RETURN n.id"`))
	cmd.AddCommand(newQuerySubCommand("telemetry", "Run a telemetry query",
		`  twinforge query telemetry factory-demo "telemetry | take 10"`))
	return cmd
}

func newQuerySubCommand(category, short, example string) *cobra.Command {
	var paramsJSON string

	cmd := &cobra.Command{
		Use:     category + " <scenario-id> <query>",
		Short:   short,
		Example: example,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params map[string]any
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return fmt.Errorf("parse --params: %w", err)
				}
			}

			client := newAPIClient()
			body := map[string]any{
				"scenario_id": args[0],
				"query":       args[1],
			}
			if params != nil {
				body["params"] = params
			}

			var result dispatch.Result
			if err := client.sendJSON(cmd.Context(), "POST", "/api/query/"+category, body, &result); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(result)
			}
			printTable(&result)
			return nil
		},
	}

	cmd.Flags().StringVar(&paramsJSON, "params", "", "query parameters as a JSON object")
	return cmd
}

func printTable(result *dispatch.Result) {
	if len(result.Columns) == 0 {
		fmt.Println("(no results)")
		return
	}
	fmt.Println(strings.Join(result.Columns, "\t"))
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprint(v)
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	fmt.Printf("(%d rows)\n", result.RowCount())
}
