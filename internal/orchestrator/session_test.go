package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedSession(id string, created time.Time, phase Phase) *Session {
	st := NewWorkflowState(id, created)
	st.Phase = phase
	return newSession(context.Background(), st)
}

func TestSessionStore_PutGetDelete(t *testing.T) {
	st := NewSessionStore()
	s := storedSession("a", time.Now(), PhaseIntake)

	require.True(t, st.Put(s))
	assert.False(t, st.Put(s), "duplicate IDs are rejected")

	got, ok := st.Get("a")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, st.Len())

	_, ok = st.Delete("a")
	assert.True(t, ok)
	_, ok = st.Get("a")
	assert.False(t, ok)
}

func TestSessionStore_ListPagination(t *testing.T) {
	st := NewSessionStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		phase := PhaseRunningStage
		if i%2 == 0 {
			phase = PhaseComplete
		}
		st.Put(storedSession(fmt.Sprintf("s%d", i), base.Add(time.Duration(i)*time.Minute), phase))
	}

	page := st.List(ListRequest{PageSize: 2})
	require.Len(t, page.Sessions, 2)
	assert.Equal(t, "s0", page.Sessions[0].SessionID)
	assert.Equal(t, "s1", page.NextPageToken)
	assert.Equal(t, 5, page.TotalSize)

	page = st.List(ListRequest{PageSize: 2, PageToken: page.NextPageToken})
	assert.Equal(t, []string{"s2", "s3"}, []string{page.Sessions[0].SessionID, page.Sessions[1].SessionID})

	page = st.List(ListRequest{PageSize: 2, PageToken: page.NextPageToken})
	require.Len(t, page.Sessions, 1)
	assert.Empty(t, page.NextPageToken)

	done := st.List(ListRequest{Phase: PhaseComplete})
	assert.Equal(t, 3, done.TotalSize)

	assert.Empty(t, st.List(ListRequest{PageToken: "missing"}).Sessions)
}

func TestSessionStore_ConcurrentAccess(t *testing.T) {
	st := NewSessionStore()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			st.Put(storedSession(id, time.Now(), PhaseIntake))
			_, _ = st.Get(id)
			_ = st.List(ListRequest{PageSize: 3})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 64, st.Len())
}

func TestWorkflowState_CloneIsDeep(t *testing.T) {
	s := NewWorkflowState("s1", time.Now())
	s.Plan = NewRouter(nil).Plan(IntentSpreadsheetImport)
	s.Outputs["fetch-sheet"] = StageOutput{Data: map[string]any{"rows": []any{map[string]any{"a": 1}}}}
	s.Completed = append(s.Completed, "fetch-sheet")

	c := s.Clone()
	c.Outputs["fetch-sheet"].Data["rows"].([]any)[0].(map[string]any)["a"] = 2
	c.Completed[0] = "x"
	c.Plan.Stages[1].Checkpoint.Accept[0].Action = "changed"

	assert.Equal(t, 1, s.Outputs["fetch-sheet"].Data["rows"].([]any)[0].(map[string]any)["a"])
	assert.Equal(t, "fetch-sheet", s.Completed[0])
	assert.Equal(t, ActionContinue, s.Plan.Stages[1].Checkpoint.Accept[0].Action)
}

func TestWorkflowState_Lookup(t *testing.T) {
	s := NewWorkflowState("s1", time.Now())
	_, ok := s.Lookup(KeyInput)
	assert.False(t, ok)

	s.Inputs = []Input{TextInput("hi")}
	v, ok := s.Lookup(KeyInput)
	require.True(t, ok)
	assert.Equal(t, s.Inputs, v)

	s.Outputs["normalize-rows"] = StageOutput{Data: map[string]any{"rows": 3}}
	v, _ = s.Lookup("normalize-rows")
	assert.Equal(t, map[string]any{"rows": 3}, v)

	s.Decisions = append(s.Decisions, DecisionRecord{Stage: "normalize-rows", Outcome: Outcome{Response: Response{Action: "continue"}}})
	v, ok = s.Lookup(DecisionKey("normalize-rows"))
	require.True(t, ok)
	assert.Equal(t, Response{Action: "continue"}, v)
}
