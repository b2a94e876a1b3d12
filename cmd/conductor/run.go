package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/conductor/internal/export"
	"github.com/dusk-indust/conductor/internal/fault"
	"github.com/dusk-indust/conductor/internal/orchestrator"
	"github.com/dusk-indust/conductor/internal/status"
	"github.com/dusk-indust/conductor/internal/store"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		files  []string
		urls   []string
		auto   bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "run [text...]",
		Short: "Run one session in this process",
		Long: `Classify the given text, links and files, run the planned pipeline in
this process and print its events. Decisions are prompted for on stdin
unless --auto accepts every default.`,
		Example: `  conductor run "what is the unit cost of 5/8 drywall"
  conductor run --url "https://docs.google.com/spreadsheets/d/abc123/edit" --auto
  conductor run --file A-101.pdf --file E-201.pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs := collectInputs(strings.Join(args, " "), urls, files)
			if len(inputs) == 0 {
				return errors.New("run: give some text, --url or --file")
			}

			engine := a.newEngine(store.NewMemory())
			defer engine.Close()

			r := &runner{
				engine: engine,
				auto:   auto,
				in:     bufio.NewReader(cmd.InOrStdin()),
				out:    cmd.OutOrStdout(),
				seen:   make(map[string]bool),
			}
			st, err := r.run(cmd.Context(), inputs)
			if err != nil {
				return err
			}
			return printResult(r.out, st, output)
		},
	}

	cmd.Flags().StringArrayVar(&files, "file", nil, "attach a file (repeatable)")
	cmd.Flags().StringArrayVar(&urls, "url", nil, "add a data source link (repeatable)")
	cmd.Flags().BoolVar(&auto, "auto", false, "accept the default of every decision")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "result format: text or json")
	return cmd
}

// collectInputs orders links and files ahead of text so the deterministic
// classifier rules see them first.
func collectInputs(text string, urls, files []string) []orchestrator.Input {
	var inputs []orchestrator.Input
	for _, u := range urls {
		inputs = append(inputs, orchestrator.Input{Kind: orchestrator.InputURL, Content: u})
	}
	for _, f := range files {
		inputs = append(inputs, orchestrator.Input{Kind: orchestrator.InputFile, Content: f, Name: filepath.Base(f)})
	}
	if text = strings.TrimSpace(text); text != "" {
		inputs = append(inputs, orchestrator.TextInput(text))
	}
	return inputs
}

// runner drives one in-process session to a terminal phase.
type runner struct {
	engine orchestrator.Orchestrator
	auto   bool
	in     *bufio.Reader
	out    io.Writer
	seen   map[string]bool
}

func (r *runner) run(ctx context.Context, inputs []orchestrator.Input) (orchestrator.WorkflowState, error) {
	id, err := r.engine.StartSession(ctx, inputs...)
	if err != nil {
		return orchestrator.WorkflowState{}, err
	}
	sub, err := r.engine.Subscribe(id)
	if err != nil {
		return orchestrator.WorkflowState{}, err
	}
	defer sub.Close()

	printTitle(r.out, "session %s", id)

	// Events published before the subscription are not replayed; a decision
	// opened in that window is picked up from the snapshot.
	if st, err := r.engine.State(id); err == nil && st.Pending != nil {
		r.decide(ctx, *st.Pending)
	}

	done := ctx.Done()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return r.engine.State(id)
			}
			printEvent(r.out, ev)
			if ev.Kind != orchestrator.EventDecisionNeeded {
				continue
			}
			st, err := r.engine.State(id)
			if err == nil && st.Pending != nil && st.Pending.ID == ev.RequestID {
				r.decide(ctx, *st.Pending)
			}
		case <-done:
			done = nil
			if err := r.engine.CancelSession(context.WithoutCancel(ctx), id); err != nil && !errors.Is(err, orchestrator.ErrSessionTerminal) {
				return orchestrator.WorkflowState{}, err
			}
		}
	}
}

// decide answers req, prompting until the gate accepts a response.
func (r *runner) decide(ctx context.Context, req orchestrator.DecisionRequest) {
	if r.seen[req.ID] {
		return
	}
	r.seen[req.ID] = true

	for {
		resp := req.Default
		if !r.auto {
			var err error
			if resp, err = r.prompt(req); err != nil {
				return
			}
		}
		_, err := r.engine.ResolveDecision(ctx, req.SessionID, req.ID, resp)
		if err == nil || fault.KindOf(err) != fault.KindValidation || r.auto {
			return
		}
		fmt.Fprintln(r.out, styleFailed.Render("  "+err.Error()))
	}
}

func (r *runner) prompt(req orchestrator.DecisionRequest) (orchestrator.Response, error) {
	actions := make([]string, len(req.Accept))
	for i, shape := range req.Accept {
		actions[i] = shape.Action
	}
	fmt.Fprintf(r.out, "%s\n  actions: %s (default %s, deadline %s)\n",
		styleWaiting.Render("  "+req.Prompt),
		strings.Join(actions, ", "), req.Default.Action, req.Deadline.Local().Format(time.Kitchen))

	action, err := r.readLine("action> ")
	if err != nil {
		return orchestrator.Response{}, err
	}
	if action == "" {
		return req.Default, nil
	}

	resp := orchestrator.Response{Action: action}
	for _, shape := range req.Accept {
		if shape.Action != action {
			continue
		}
		for _, field := range shape.Fields {
			answer, err := r.readLine(field + "> ")
			if err != nil {
				return orchestrator.Response{}, err
			}
			if resp.Data == nil {
				resp.Data = make(map[string]any)
			}
			resp.Data[field] = splitList(answer)
		}
	}
	return resp, nil
}

func (r *runner) readLine(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	line, err := r.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// printResult writes the final state of a session.
func printResult(w io.Writer, st orchestrator.WorkflowState, format string) error {
	switch format {
	case "json":
		data, err := export.JSON(export.Session(st, time.Now()))
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "text", "":
		fmt.Fprint(w, status.Render(status.Summarize(st)))
		if out, ok := st.Outputs[orchestrator.StageSummarize]; ok {
			if summary, _ := out.Data["summary"].(string); summary != "" {
				fmt.Fprintln(w, styleTitle.Render(summary))
			}
		}
		for _, name := range []string{orchestrator.StageLookup, orchestrator.StageClarify} {
			if out, ok := st.Outputs[name]; ok {
				data, err := export.JSON(out.Data)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s", data)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
