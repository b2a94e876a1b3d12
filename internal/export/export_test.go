package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/conductor/internal/orchestrator"
)

func TestMermaid_SpreadsheetPlan(t *testing.T) {
	plan := orchestrator.NewRouter(nil).Plan(orchestrator.IntentSpreadsheetImport)
	out := Mermaid(plan)

	assert.True(t, strings.HasPrefix(out, "flowchart TD\n"))
	assert.Contains(t, out, `start(["spreadsheet-import"])`)
	assert.Contains(t, out, `S1["fetch-sheet"]`)
	assert.Contains(t, out, `D3{"decision: normalize-rows"}`)
	assert.Contains(t, out, "D3 -->|skip-classification| S4")
	assert.Contains(t, out, `D3 -->|stop| done(["complete"])`)
	assert.Contains(t, out, `(optional)")`)
	assert.NotContains(t, out, "||")
}

func TestMermaid_LinearPlan(t *testing.T) {
	out := Mermaid(orchestrator.NewRouter(nil).Plan(orchestrator.IntentSimpleLookup))
	assert.Equal(t, "flowchart TD\n"+
		"  start([\"simple-lookup\"])\n"+
		"  S1[\"lookup\"]\n"+
		"  start --> S1\n"+
		"  S1 --> done([\"complete\"])\n", out)
}

func TestSession_Export(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := *orchestrator.NewWorkflowState("s1", now)
	st.Phase = orchestrator.PhaseComplete
	st.Plan = orchestrator.NewRouter(nil).Plan(orchestrator.IntentSimpleLookup)
	st.Completed = []string{orchestrator.StageLookup}
	st.Outputs[orchestrator.StageLookup] = orchestrator.StageOutput{Data: map[string]any{"query": "q"}, Attempts: 1}
	st.Decisions = []orchestrator.DecisionRecord{{
		Stage:   "x",
		Outcome: orchestrator.Outcome{RequestID: "r1", Response: orchestrator.Response{Action: "continue"}, ByDefault: true},
	}}

	exp := Session(st, now)
	assert.Equal(t, "2026-03-01T12:00:00Z", exp.ExportedAt)
	assert.Equal(t, "q", exp.Outputs[orchestrator.StageLookup]["query"])
	require.Len(t, exp.Decisions, 1)
	assert.True(t, exp.Decisions[0].ByDefault)

	data, err := JSON(exp)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "complete", decoded["status"].(map[string]any)["phase"])
}
