package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Resume restores every non-terminal session found in storage and picks each
// one up where it stopped: running sessions continue from their first
// uncompleted stage, paused sessions re-open their decision gate. A running
// session whose last completed stage still owes its checkpoint decision is
// paused on a fresh request instead of moving past it. A gate whose deadline
// passed while the process was down resolves by default at once. Sessions
// already live in this Engine are skipped.
//
// It returns the number of sessions restored.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	states, err := e.storage.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("resume: list sessions: %w", err)
	}

	var restored atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ResumeConcurrency)

	for _, st := range states {
		if st.Phase.IsTerminal() {
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			ok, err := e.restore(st)
			if err != nil {
				return fmt.Errorf("resume: session %s: %w", st.SessionID, err)
			}
			if ok {
				restored.Add(1)
			}
			return nil
		})
	}

	err = g.Wait()
	return int(restored.Load()), err
}

func (e *Engine) restore(st WorkflowState) (bool, error) {
	if _, live := e.sessions.Get(st.SessionID); live {
		return false, nil
	}
	if !st.isPrefixOfPlan() {
		return false, fmt.Errorf("completed stages %v are not a prefix of plan %v", st.Completed, st.Plan.StageNames())
	}

	state := st.Clone()
	if state.Outputs == nil {
		state.Outputs = make(map[string]StageOutput)
	}
	if state.Metadata == nil {
		state.Metadata = make(map[string]any)
	}

	var first trigger
	post := true
	switch {
	case state.Phase == PhaseAwaitingDecision && state.Pending != nil:
		post = false
	case state.Phase == PhaseIntake:
		post = false
	case len(state.Plan.Stages) == 0:
		// Routed but never planned: classify again from the stored inputs.
		first = trigger{kind: triggerInput, inputs: state.Inputs}
		state.Inputs = nil
		state.Phase = PhaseIntake
		post = len(first.inputs) > 0
	default:
		stage, owed := state.owedCheckpoint()
		if !owed {
			first = trigger{kind: triggerContinue}
			state.Phase = PhaseRunningStage
			state.Pending = nil
			break
		}
		// The checkpoint completed but its decision never reached storage.
		req := e.decisionRequest(state.SessionID, stage)
		state.Phase = PhaseAwaitingDecision
		state.Pending = &req
		state.UpdatedAt = e.now()
		if err := e.storage.Persist(e.base, state.Clone()); err != nil {
			return false, fmt.Errorf("reopen decision for %s: %w", stage.Name, err)
		}
		post = false
	}

	sess := newSession(e.base, &state)
	if !e.sessions.Put(sess) {
		return false, nil
	}
	e.spawn(sess)

	if post {
		sess.mailbox.post(first)
	}
	if state.Phase == PhaseAwaitingDecision && state.Pending != nil {
		e.gate.Open(*state.Pending)
	}
	e.log.WithSession(sess.ID).Info("session resumed", "phase", state.Phase, "completed", state.Completed)
	return true, nil
}
