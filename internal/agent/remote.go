package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dusk-indust/conductor/internal/a2a"
	"github.com/dusk-indust/conductor/internal/fault"
	"github.com/dusk-indust/conductor/internal/orchestrator"
)

// Compile-time interface check.
var _ orchestrator.Agent = (*Remote)(nil)

// request is the data part sent to a remote stage agent.
type request struct {
	Stage     string              `json:"stage"`
	SessionID string              `json:"sessionId"`
	Intent    orchestrator.Intent `json:"intent,omitempty"`
	Input     map[string]any      `json:"input"`

	// Classification and Decisions give the remote agent the parts of the
	// session state that reference stages consult besides their input.
	Classification map[string]any                `json:"classification,omitempty"`
	Decisions      []orchestrator.DecisionRecord `json:"decisions,omitempty"`
}

// taskMetadata travels on failed tasks so the caller can classify the
// failure.
type taskMetadata struct {
	Kind string `json:"kind,omitempty"`
}

// Remote forwards a stage to an A2A agent and returns the first data
// artifact of the finished task.
type Remote struct {
	client       a2a.Client
	stage        string
	endpoint     string
	pollInterval time.Duration
}

// NewRemote creates a Remote agent for stage served at endpoint.
func NewRemote(client a2a.Client, stage, endpoint string) *Remote {
	return &Remote{
		client:       client,
		stage:        stage,
		endpoint:     endpoint,
		pollInterval: 200 * time.Millisecond,
	}
}

// Invoke implements orchestrator.Agent. Temporary HTTP failures and
// transport timeouts surface as transient faults; a rejected or failed task
// keeps the kind reported by the remote side.
func (r *Remote) Invoke(ctx context.Context, input map[string]any, state orchestrator.WorkflowState) (map[string]any, error) {
	part, err := a2a.DataPart(request{
		Stage:     r.stage,
		SessionID: state.SessionID,
		Intent:    state.Intent,
		Input:     input,

		Classification: state.Classification,
		Decisions:      state.Decisions,
	})
	if err != nil {
		return nil, fault.Validation(r.stage, fmt.Errorf("encode input: %w", err))
	}

	task, err := r.client.SendMessage(ctx, r.endpoint, a2a.SendMessageRequest{
		Message: a2a.Message{
			MessageID: uuid.NewString(),
			ContextID: state.SessionID,
			Role:      a2a.RoleUser,
			Parts:     []a2a.Part{part},
		},
		Configuration: &a2a.SendMessageConfig{
			AcceptedOutputModes: []string{"application/json"},
			Blocking:            true,
		},
	})
	if err != nil {
		return nil, r.classify(ctx, err)
	}

	task, err = r.await(ctx, task)
	if err != nil {
		return nil, err
	}
	return r.result(task)
}

// await polls until the task reaches a terminal state. If ctx ends first
// the remote task is cancelled on a best-effort basis.
func (r *Remote) await(ctx context.Context, task *a2a.Task) (*a2a.Task, error) {
	for !task.Status.State.IsTerminal() {
		select {
		case <-ctx.Done():
			cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			_, _ = r.client.CancelTask(cancelCtx, r.endpoint, a2a.CancelTaskRequest{ID: task.ID})
			cancel()
			return nil, ctx.Err()
		case <-time.After(r.pollInterval):
		}

		next, err := r.client.GetTask(ctx, r.endpoint, a2a.GetTaskRequest{ID: task.ID})
		if err != nil {
			return nil, r.classify(ctx, err)
		}
		task = next
	}
	return task, nil
}

func (r *Remote) result(task *a2a.Task) (map[string]any, error) {
	switch task.Status.State {
	case a2a.TaskStateCompleted:
		data, err := task.FirstData()
		if err != nil {
			return nil, fault.Internal(r.stage, err)
		}
		return data, nil
	case a2a.TaskStateCanceled:
		return nil, fault.Canceled(r.stage, fmt.Errorf("remote task %s was canceled", task.ID))
	default:
		reason := task.StatusText()
		if reason == "" {
			reason = fmt.Sprintf("remote task %s ended %s", task.ID, task.Status.State)
		}
		var meta taskMetadata
		if len(task.Metadata) > 0 {
			_ = json.Unmarshal(task.Metadata, &meta)
		}
		return nil, fault.New(fault.ParseKind(meta.Kind), r.stage, errors.New(reason))
	}
}

func (r *Remote) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if a2a.IsTemporary(err) {
		return fault.Transient(r.stage, err)
	}
	var rpcErr *a2a.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == a2a.ErrCodeInvalidParams {
		return fault.Validation(r.stage, err)
	}
	return err
}
