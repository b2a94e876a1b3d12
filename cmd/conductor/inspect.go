package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dusk-indust/conductor/internal/orchestrator"
	"github.com/dusk-indust/conductor/internal/status"
	"github.com/dusk-indust/conductor/internal/store"
)

func newInspectCmd(a *app) *cobra.Command {
	var (
		format string
		phase  string
	)
	cmd := &cobra.Command{
		Use:   "inspect [session]",
		Short: "Inspect stored sessions and decision logs in the database",
		Long: `Inspect reads the SQLite database directly and needs no running server.
With a session ID it prints that session's decision log; without one it lists
the stored sessions, optionally only those in one phase.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Storage.Driver != "sqlite" {
				return fmt.Errorf("inspect reads sqlite storage; the configured driver is %q", a.cfg.Storage.Driver)
			}
			ctx := cmd.Context()
			db, err := store.OpenSQLite(a.cfg.Storage.DSN)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Migrate(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				entries, err := db.Decisions(ctx, args[0])
				if err != nil {
					return err
				}
				return writeDecisions(out, format, args[0], entries)
			}

			var states []orchestrator.WorkflowState
			if phase != "" {
				states, err = db.ListByPhase(ctx, orchestrator.Phase(phase))
			} else {
				states, err = db.List(ctx)
			}
			if err != nil {
				return err
			}
			if len(states) == 0 && format == "text" {
				fmt.Fprintln(out, "No stored sessions.")
				return nil
			}
			sums := make([]status.SessionStatus, len(states))
			for i, st := range states {
				sums[i] = status.Summarize(st)
			}
			return writeStatus(out, format, sums...)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")
	cmd.Flags().StringVar(&phase, "phase", "", "only list stored sessions in this phase")
	return cmd
}

func writeDecisions(w io.Writer, format, sessionID string, entries []store.DecisionEntry) error {
	if entries == nil {
		entries = []store.DecisionEntry{}
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		printTitle(w, "Decisions for %s", sessionID)
		if len(entries) == 0 {
			fmt.Fprintln(w, styleMuted.Render("  none recorded"))
			return nil
		}
		for _, e := range entries {
			how := ""
			if e.ByDefault {
				how = styleWaiting.Render(" (default)")
			}
			fmt.Fprintf(w, "  %s  %s -> %s%s\n",
				styleMuted.Render(e.ResolvedAt.Format(time.RFC3339)), e.Stage, e.Action, how)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
