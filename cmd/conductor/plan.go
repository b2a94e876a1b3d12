package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/conductor/internal/export"
	"github.com/dusk-indust/conductor/internal/orchestrator"
)

func newPlanCmd(_ *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "plan [intent]",
		Short: "Print the route plan of an intent",
		Long: `Print the stages planned for an intent, including checkpoint branches.
Without an intent, list the intents that have a dedicated route.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			router := orchestrator.NewRouter(nil)
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				for _, intent := range router.Intents() {
					fmt.Fprintln(out, intent)
				}
				return nil
			}

			plan := router.Plan(orchestrator.Intent(args[0]))
			switch format {
			case "json":
				data, err := export.JSON(plan)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			case "mermaid":
				fmt.Fprint(out, export.Mermaid(plan))
				return nil
			case "text":
				printTitle(out, "%s", plan.Intent)
				for i, sd := range plan.Stages {
					line := fmt.Sprintf("  %d. %s", i+1, sd.Name)
					if sd.Optional {
						line += " (optional)"
					}
					if len(sd.Requires) > 0 {
						line += "  <- " + strings.Join(sd.Requires, ", ")
					}
					fmt.Fprintln(out, line)
					if cp := sd.Checkpoint; cp != nil {
						fmt.Fprintln(out, styleWaiting.Render("     ? "+cp.Prompt))
					}
				}
				return nil
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or mermaid")
	return cmd
}
