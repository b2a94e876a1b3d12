package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dusk-indust/conductor/internal/a2a"
	"github.com/dusk-indust/conductor/internal/fault"
	"github.com/dusk-indust/conductor/internal/orchestrator"
)

// Compile-time interface check.
var _ a2a.Handler = (*Host)(nil)

// Host serves stage agents over A2A. Each message/send carries one stage
// request; the stage's agent runs synchronously and the finished task is
// returned.
type Host struct {
	resolver orchestrator.AgentResolver
	store    *a2a.TaskStore
	stages   []string

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewHost creates a Host for the given stages, resolved through resolver.
// It keeps at most taskLimit finished tasks for tasks/get.
func NewHost(resolver orchestrator.AgentResolver, stages []string, taskLimit int) *Host {
	return &Host{
		resolver: resolver,
		store:    a2a.NewTaskStore(taskLimit),
		stages:   stages,
		running:  make(map[string]context.CancelFunc),
	}
}

// Card describes the host with one skill per stage.
func (h *Host) Card(url, version string) a2a.AgentCard {
	skills := make([]a2a.AgentSkill, 0, len(h.stages))
	for _, stage := range h.stages {
		skills = append(skills, a2a.AgentSkill{
			ID:          stage,
			Name:        stage,
			Description: fmt.Sprintf("Runs the %s pipeline stage.", stage),
			Tags:        []string{"stage"},
		})
	}
	return a2a.AgentCard{
		Name:        "conductor-stages",
		Description: "Conductor reference stage agents",
		Version:     version,
		Interfaces: []a2a.AgentInterface{{
			URL:             url,
			ProtocolBinding: "JSONRPC",
			ProtocolVersion: "0.3",
		}},
		DefaultInputModes:  []string{"application/json"},
		DefaultOutputModes: []string{"application/json"},
		Skills:             skills,
	}
}

// HandleSendMessage decodes the stage request, runs the agent and records
// the task through submitted, working and its terminal state.
func (h *Host) HandleSendMessage(ctx context.Context, req a2a.SendMessageRequest) (*a2a.Task, error) {
	task := a2a.Task{
		ID:        a2a.NewTaskID(),
		ContextID: req.Message.ContextID,
		Status:    a2a.TaskStatus{State: a2a.TaskStateSubmitted, Timestamp: time.Now()},
		History:   []a2a.Message{req.Message},
	}
	if err := h.store.Create(task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	sr, err := decodeRequest(req.Message)
	if err != nil {
		return h.finish(task.ID, nil, fault.Validation("message/send", err), a2a.TaskStateRejected)
	}
	ag, err := h.resolver.Resolve(sr.Stage)
	if err != nil {
		return h.finish(task.ID, nil, fault.Validation(sr.Stage, err), a2a.TaskStateRejected)
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.running[task.ID] = cancel
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.running, task.ID)
		h.mu.Unlock()
		cancel()
	}()

	if _, err := h.store.Update(task.ID, func(t *a2a.Task) {
		t.Status = a2a.TaskStatus{State: a2a.TaskStateWorking, Timestamp: time.Now()}
	}); err != nil {
		return nil, fmt.Errorf("update task to working: %w", err)
	}

	state := orchestrator.WorkflowState{
		SessionID:      sr.SessionID,
		Intent:         sr.Intent,
		Classification: sr.Classification,
		Decisions:      sr.Decisions,
	}
	out, err := ag.Invoke(runCtx, sr.Input, state)
	if err != nil {
		st := a2a.TaskStateFailed
		if errors.Is(runCtx.Err(), context.Canceled) {
			st = a2a.TaskStateCanceled
		}
		return h.finish(task.ID, nil, err, st)
	}
	return h.finish(task.ID, out, nil, a2a.TaskStateCompleted)
}

// finish moves the task to its terminal state. A task cancelled while
// running stays canceled.
func (h *Host) finish(id string, out map[string]any, runErr error, state a2a.TaskState) (*a2a.Task, error) {
	var artifacts []a2a.Artifact
	if runErr == nil {
		part, err := a2a.DataPart(out)
		if err != nil {
			runErr, state = fault.Internal("encode output", err), a2a.TaskStateFailed
		} else {
			artifacts = []a2a.Artifact{{ArtifactID: id + "-out", Name: "output", Parts: []a2a.Part{part}}}
		}
	}

	return h.store.Update(id, func(t *a2a.Task) {
		if t.Status.State.IsTerminal() {
			return
		}
		t.Status = a2a.TaskStatus{State: state, Timestamp: time.Now()}
		t.Artifacts = artifacts
		if runErr != nil {
			t.Status.Message = &a2a.Message{
				MessageID: id + "-status",
				Role:      a2a.RoleAgent,
				Parts:     []a2a.Part{a2a.TextPart(runErr.Error())},
			}
			t.Metadata, _ = json.Marshal(taskMetadata{Kind: fault.KindOf(runErr).String()})
		}
	})
}

// HandleGetTask retrieves a task by ID from the store.
func (h *Host) HandleGetTask(_ context.Context, req a2a.GetTaskRequest) (*a2a.Task, error) {
	return h.store.Get(req.ID)
}

// HandleCancelTask cancels a running task. Terminal tasks cannot be
// cancelled.
func (h *Host) HandleCancelTask(_ context.Context, req a2a.CancelTaskRequest) (*a2a.Task, error) {
	var terminal bool
	task, err := h.store.Update(req.ID, func(t *a2a.Task) {
		if t.Status.State.IsTerminal() {
			terminal = true
			return
		}
		t.Status = a2a.TaskStatus{State: a2a.TaskStateCanceled, Timestamp: time.Now()}
	})
	if err != nil {
		return nil, err
	}
	if terminal {
		return nil, fmt.Errorf("%w: %s is %s", a2a.ErrTaskNotCancelable, req.ID, task.Status.State)
	}

	h.mu.Lock()
	cancel := h.running[req.ID]
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return task, nil
}

func decodeRequest(msg a2a.Message) (request, error) {
	for _, p := range msg.Parts {
		if len(p.Data) == 0 {
			continue
		}
		var sr request
		if err := json.Unmarshal(p.Data, &sr); err != nil {
			return request{}, fmt.Errorf("decode stage request: %w", err)
		}
		if sr.Stage == "" {
			return request{}, errors.New("stage request has no stage")
		}
		return sr, nil
	}
	return request{}, errors.New("message has no data part")
}
