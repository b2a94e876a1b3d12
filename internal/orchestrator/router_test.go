package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_Plan(t *testing.T) {
	r := NewRouter(nil)

	tests := []struct {
		intent Intent
		want   []string
	}{
		{IntentSpreadsheetImport, []string{StageFetchSheet, StageNormalizeRows, StageClassifyTrades, StageComputeTakeoff, StageSummarize}},
		{IntentDocumentTakeoff, []string{StageExtractDocuments, StageClassifyTrades, StageComputeTakeoff, StageSummarize}},
		{IntentSimpleLookup, []string{StageLookup}},
		{IntentGeneralInquiry, []string{StageClarify}},
		{Intent("something-new"), []string{StageClarify}},
		{Intent(""), []string{StageClarify}},
	}
	for _, tt := range tests {
		t.Run(string(tt.intent), func(t *testing.T) {
			plan := r.Plan(tt.intent)
			assert.Equal(t, tt.intent, plan.Intent)
			assert.Equal(t, tt.want, plan.StageNames())
		})
	}
}

func TestRouter_PlanIsFreshCopy(t *testing.T) {
	r := NewRouter(nil)
	a := r.Plan(IntentSpreadsheetImport)
	a.Stages[1].Checkpoint.Branches[ActionStop] = append(a.Stages[1].Checkpoint.Branches[ActionStop], StageDescriptor{Name: "x"})
	a.Stages[0].Name = "mutated"

	b := r.Plan(IntentSpreadsheetImport)
	assert.Equal(t, StageFetchSheet, b.Stages[0].Name)
	assert.Empty(t, b.Stages[1].Checkpoint.Branches[ActionStop])
}

func TestRouter_Checkpoints(t *testing.T) {
	r := NewRouter(nil)

	sheet := r.Plan(IntentSpreadsheetImport)
	cp := sheet.Stages[1].Checkpoint
	require.NotNil(t, cp)
	assert.Equal(t, ActionContinue, cp.Default.Action)
	assert.Contains(t, cp.Branches, ActionStop)
	assert.Empty(t, cp.Branches[ActionStop])
	assert.Equal(t, []string{StageNormalizeRows}, cp.Branches[ActionSkipClassification][0].Requires)

	doc := r.Plan(IntentDocumentTakeoff)
	require.NotNil(t, doc.Stages[0].Checkpoint)
	assert.Equal(t, []ResponseShape{{Action: ActionContinue}, {Action: ActionSelect, Fields: []string{"files"}}}, doc.Stages[0].Checkpoint.Accept)
}

type resolverFunc func(stage string) (Agent, error)

func (f resolverFunc) Resolve(stage string) (Agent, error) { return f(stage) }

func TestRouter_Resolve(t *testing.T) {
	fallback := AgentFunc(func(context.Context, map[string]any, WorkflowState) (map[string]any, error) {
		return map[string]any{"from": "parent"}, nil
	})
	local := AgentFunc(func(context.Context, map[string]any, WorkflowState) (map[string]any, error) {
		return map[string]any{"from": "local"}, nil
	})

	r := NewRouter(resolverFunc(func(string) (Agent, error) { return fallback, nil }))
	r.RegisterAgent(StageLookup, local)

	a, err := r.Resolve(StageLookup)
	require.NoError(t, err)
	out, _ := a.Invoke(context.Background(), nil, WorkflowState{})
	assert.Equal(t, "local", out["from"])

	a, err = r.Resolve(StageClarify)
	require.NoError(t, err)
	out, _ = a.Invoke(context.Background(), nil, WorkflowState{})
	assert.Equal(t, "parent", out["from"])

	_, err = NewRouter(nil).Resolve(StageClarify)
	assert.Error(t, err)
}

func TestRouter_RegisterRoute(t *testing.T) {
	r := NewRouter(nil)
	require.NoError(t, r.RegisterRoute(IntentSimpleLookup, StageDescriptor{Name: "a"}, StageDescriptor{Name: "b"}))
	assert.Equal(t, []string{"a", "b"}, r.Plan(IntentSimpleLookup).StageNames())
	assert.Equal(t, []Intent{IntentSpreadsheetImport, IntentDocumentTakeoff, IntentSimpleLookup, IntentGeneralInquiry}, r.Intents())
}

func TestRouter_RegisterRouteRejectsEmptyPlan(t *testing.T) {
	r := NewRouter(nil)
	require.Error(t, r.RegisterRoute(IntentSimpleLookup))
	require.Error(t, r.RegisterRoute("custom", []StageDescriptor{}...))

	assert.Equal(t, []string{StageLookup}, r.Plan(IntentSimpleLookup).StageNames(), "the default route is kept")
	assert.Equal(t, []string{StageClarify}, r.Plan("custom").StageNames())
}
