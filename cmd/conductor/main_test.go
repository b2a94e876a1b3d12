package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/conductor/internal/agent"
	"github.com/dusk-indust/conductor/internal/config"
	"github.com/dusk-indust/conductor/internal/orchestrator"
	"github.com/dusk-indust/conductor/internal/status"
	"github.com/dusk-indust/conductor/internal/store"
)

func newTestRunner(t *testing.T, stdin string, auto bool) (*runner, *bytes.Buffer) {
	t.Helper()
	engine := orchestrator.NewEngine(orchestrator.Config{
		StageTimeout:    2 * time.Second,
		BackoffBase:     time.Millisecond,
		BackoffMax:      5 * time.Millisecond,
		DecisionTimeout: time.Minute,
	}, orchestrator.NewRouter(agent.NewRegistry()))
	t.Cleanup(engine.Close)

	var out bytes.Buffer
	return &runner{
		engine: engine,
		auto:   auto,
		in:     bufio.NewReader(strings.NewReader(stdin)),
		out:    &out,
		seen:   make(map[string]bool),
	}, &out
}

func runWithTimeout(t *testing.T, r *runner, inputs []orchestrator.Input) orchestrator.WorkflowState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := r.run(ctx, inputs)
	require.NoError(t, err)
	return st
}

func TestRunner_Lookup(t *testing.T) {
	r, out := newTestRunner(t, "", true)

	st := runWithTimeout(t, r, collectInputs("how much is a box of drywall screws", nil, nil))
	assert.Equal(t, orchestrator.PhaseComplete, st.Phase)
	assert.Equal(t, orchestrator.IntentSimpleLookup, st.Intent)
	assert.Contains(t, out.String(), "workflow complete")
}

func TestRunner_PromptsForDecision(t *testing.T) {
	r, out := newTestRunner(t, "select\nE-101 lighting.pdf\n", false)

	st := runWithTimeout(t, r, collectInputs("", nil, []string{"sheets/E-101 lighting.pdf", "sheets/A-201 plan.pdf"}))
	require.Equal(t, orchestrator.PhaseComplete, st.Phase)
	assert.Contains(t, out.String(), "action> ")
	assert.Contains(t, out.String(), "files> ")

	require.Len(t, st.Decisions, 1)
	assert.Equal(t, orchestrator.ActionSelect, st.Decisions[0].Outcome.Response.Action)
	assert.False(t, st.Decisions[0].Outcome.ByDefault)

	items := st.Outputs[orchestrator.StageClassifyTrades].Data["items"].([]any)
	require.Len(t, items, 1)
}

func TestRunner_AutoAcceptsDefault(t *testing.T) {
	r, _ := newTestRunner(t, "", true)

	st := runWithTimeout(t, r, collectInputs("", nil, []string{"A-201 plan.pdf"}))
	require.Equal(t, orchestrator.PhaseComplete, st.Phase)
	require.Len(t, st.Decisions, 1)
	assert.Equal(t, orchestrator.ActionContinue, st.Decisions[0].Outcome.Response.Action)
}

func TestCollectInputs(t *testing.T) {
	inputs := collectInputs("  import this  ", []string{"https://airtable.com/appX"}, []string{"dir/takeoff.csv"})
	require.Len(t, inputs, 3)
	assert.Equal(t, orchestrator.InputURL, inputs[0].Kind)
	assert.Equal(t, orchestrator.InputFile, inputs[1].Kind)
	assert.Equal(t, "takeoff.csv", inputs[1].Name)
	assert.Equal(t, orchestrator.TextInput("import this"), inputs[2])

	assert.Empty(t, collectInputs("   ", nil, nil))
}

func TestParseFields(t *testing.T) {
	data, err := parseFields([]string{"files=a.pdf, b.pdf", "note=check rows", "count=3", `only=["x.pdf"]`})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"files": []any{"a.pdf", "b.pdf"},
		"note":  "check rows",
		"count": float64(3),
		"only":  []any{"x.pdf"},
	}, data)

	_, err = parseFields([]string{"novalue"})
	assert.Error(t, err)

	data, err = parseFields(nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestEngineConfig(t *testing.T) {
	cfg := &config.ProjectConfig{}
	cfg.Defaults()

	got := engineConfig(cfg.Engine)
	assert.Equal(t, cfg.Engine.EventBuffer, got.EventBuffer)
	assert.Equal(t, cfg.Engine.StageTimeout, got.StageTimeout)
	assert.Equal(t, cfg.Engine.DecisionTimeout, got.DecisionTimeout)
	assert.Equal(t, cfg.Engine.ResumeConcurrency, got.ResumeConcurrency)
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--dir", t.TempDir()))
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestPlanCommand(t *testing.T) {
	out := execute(t, "plan", "spreadsheet-import", "--format", "mermaid")
	assert.True(t, strings.HasPrefix(out, "flowchart TD\n"))
	assert.Contains(t, out, "fetch-sheet")

	out = execute(t, "plan")
	assert.Contains(t, out, "document-takeoff")
	assert.Contains(t, out, "simple-lookup")

	out = execute(t, "plan", "simple-lookup")
	assert.Contains(t, out, "1. lookup")
}

func TestVersionCommand(t *testing.T) {
	assert.Equal(t, version+"\n", execute(t, "version"))
}

func TestWriteStatus_Formats(t *testing.T) {
	st := orchestrator.NewWorkflowState("s-1", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	for _, format := range []string{"json", "yaml", "text"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeStatus(&buf, format, status.Summarize(*st)))
			assert.Contains(t, buf.String(), "s-1")
		})
	}

	var buf bytes.Buffer
	assert.Error(t, writeStatus(&buf, "xml", status.Summarize(*st)))
}

func TestInspectCommand(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "inspect.db")
	t.Setenv("CONDUCTOR_STORAGE_DRIVER", "sqlite")
	t.Setenv("CONDUCTOR_STORAGE_DSN", dsn)

	ctx := context.Background()
	db, err := store.OpenSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	failed := orchestrator.NewWorkflowState("s-failed", created)
	failed.Phase = orchestrator.PhaseFailed
	failed.Decisions = []orchestrator.DecisionRecord{{
		Stage: orchestrator.StageExtractDocuments,
		Outcome: orchestrator.Outcome{
			RequestID:  "req-1",
			SessionID:  "s-failed",
			Response:   orchestrator.Response{Action: orchestrator.ActionSelect, Data: map[string]any{"files": []any{"A-101.pdf"}}},
			ResolvedAt: created.Add(time.Minute),
		},
	}}
	require.NoError(t, db.Persist(ctx, *failed))
	require.NoError(t, db.Persist(ctx, *orchestrator.NewWorkflowState("s-idle", created.Add(time.Second))))
	require.NoError(t, db.Close())

	out := execute(t, "inspect", "s-failed")
	assert.Contains(t, out, "Decisions for s-failed")
	assert.Contains(t, out, "extract-documents -> select")

	var entries []store.DecisionEntry
	require.NoError(t, json.Unmarshal([]byte(execute(t, "inspect", "s-failed", "-f", "json")), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "req-1", entries[0].RequestID)
	assert.Equal(t, map[string]any{"files": []any{"A-101.pdf"}}, entries[0].Data)

	out = execute(t, "inspect", "--phase", "failed", "-f", "json")
	assert.Contains(t, out, "s-failed")
	assert.NotContains(t, out, "s-idle")

	out = execute(t, "inspect")
	assert.Contains(t, out, "s-failed")
	assert.Contains(t, out, "s-idle")
}
