package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dusk-indust/conductor/internal/orchestrator"
	"github.com/dusk-indust/conductor/internal/status"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <session>",
		Short: "Follow a session's events on a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := a.client()
			out := cmd.OutOrStdout()

			stream, err := client.Events(ctx, args[0])
			if err != nil {
				return err
			}
			st, err := client.State(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(out, status.Render(status.Summarize(st)))
			if st.Phase.IsTerminal() {
				return nil
			}

			for item := range stream {
				if item.Err != nil {
					return item.Err
				}
				printEvent(out, item.Event)
				if item.Event.Kind == orchestrator.EventDecisionNeeded {
					fmt.Fprintf(out, "    conductor resolve %s %s <action>\n", args[0], item.Event.RequestID)
				}
			}
			return ctx.Err()
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	var (
		format string
		phase  string
	)
	cmd := &cobra.Command{
		Use:   "status [session]",
		Short: "Show one session, or list the sessions on a running server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := a.client()

			if len(args) == 1 {
				st, err := client.State(ctx, args[0])
				if err != nil {
					return err
				}
				return writeStatus(cmd.OutOrStdout(), format, status.Summarize(st))
			}

			var all []status.SessionStatus
			req := orchestrator.ListRequest{Phase: orchestrator.Phase(phase), PageSize: 100}
			for {
				page, err := client.List(ctx, req)
				if err != nil {
					return err
				}
				for _, st := range page.Sessions {
					all = append(all, status.Summarize(st))
				}
				if page.NextPageToken == "" {
					break
				}
				req.PageToken = page.NextPageToken
			}
			if len(all) == 0 && format == "text" {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
				return nil
			}
			return writeStatus(cmd.OutOrStdout(), format, all...)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")
	cmd.Flags().StringVar(&phase, "phase", "", "only list sessions in this phase")
	return cmd
}

// writeStatus prints one or more session summaries. A single summary is
// encoded as an object, several as a list.
func writeStatus(w io.Writer, format string, sessions ...status.SessionStatus) error {
	var v any = sessions
	if len(sessions) == 1 {
		v = sessions[0]
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		for i, s := range sessions {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprint(w, status.Render(s))
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <session> <request> <action> [key=value...]",
		Short: "Answer a pending decision",
		Long: `Answer a pending decision on a running server. Extra key=value arguments
become the response data: JSON values are decoded, comma separated values
become lists.`,
		Example: `  conductor resolve 4f1c... 9a2e... continue
  conductor resolve 4f1c... 9a2e... select 'files=["E-101.pdf"]'`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseFields(args[3:])
			if err != nil {
				return err
			}
			out, err := a.client().ResolveDecision(cmd.Context(), args[0], args[1], orchestrator.Response{
				Action: args[2],
				Data:   data,
			})
			if err != nil {
				return err
			}
			how := "resolved"
			if out.ByDefault {
				how = "already resolved by default"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", out.RequestID, how, out.Response.Action)
			return nil
		},
	}
}

func newCancelCmd(a *app) *cobra.Command {
	var closeAfter bool
	cmd := &cobra.Command{
		Use:   "cancel <session>",
		Short: "Cancel a session on a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := a.client()
			if err := client.CancelSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			if closeAfter {
				if err := client.CloseSession(cmd.Context(), args[0]); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&closeAfter, "close", false, "also close the session and delete its stored state")
	return cmd
}
