package mcptools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/conductor/internal/fault"
	"github.com/dusk-indust/conductor/internal/orchestrator"
	"github.com/dusk-indust/conductor/internal/status"
)

// ControlService handles MCP tool calls against an Orchestrator.
type ControlService struct {
	engine orchestrator.Orchestrator
}

// NewControlService creates a ControlService for engine.
func NewControlService(engine orchestrator.Orchestrator) *ControlService {
	return &ControlService{engine: engine}
}

// StartSession creates a session from the given text, links and files.
func (s *ControlService) StartSession(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input StartSessionInput,
) (*mcp.CallToolResult, StartSessionOutput, error) {
	var inputs []orchestrator.Input
	if input.Text != "" {
		inputs = append(inputs, orchestrator.TextInput(input.Text))
	}
	for _, u := range input.URLs {
		inputs = append(inputs, orchestrator.Input{Kind: orchestrator.InputURL, Content: u})
	}
	for _, f := range input.Files {
		inputs = append(inputs, fileInput(f))
	}

	id, err := s.engine.StartSession(ctx, inputs...)
	if err != nil {
		return nil, StartSessionOutput{}, fmt.Errorf("start session: %w", err)
	}
	return nil, StartSessionOutput{SessionID: id}, nil
}

// SubmitInput feeds exactly one piece of input into a session.
func (s *ControlService) SubmitInput(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SubmitInputInput,
) (*mcp.CallToolResult, AckOutput, error) {
	var in orchestrator.Input
	set := 0
	if input.Text != "" {
		in, set = orchestrator.TextInput(input.Text), set+1
	}
	if input.URL != "" {
		in, set = orchestrator.Input{Kind: orchestrator.InputURL, Content: input.URL}, set+1
	}
	if input.File != nil {
		in, set = fileInput(*input.File), set+1
	}
	if set != 1 {
		return nil, AckOutput{}, fault.Validationf("submit_input", "exactly one of text, url or file is required")
	}

	if err := s.engine.SubmitInput(ctx, input.SessionID, in); err != nil {
		return nil, AckOutput{}, fmt.Errorf("submit input: %w", err)
	}
	return nil, AckOutput{OK: true}, nil
}

// ResolveDecision answers an open decision.
func (s *ControlService) ResolveDecision(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ResolveDecisionInput,
) (*mcp.CallToolResult, ResolveDecisionOutput, error) {
	out, err := s.engine.ResolveDecision(ctx, input.SessionID, input.RequestID, orchestrator.Response{
		Action: input.Action,
		Data:   input.Data,
	})
	if err != nil {
		return nil, ResolveDecisionOutput{}, fmt.Errorf("resolve decision: %w", err)
	}
	return nil, ResolveDecisionOutput{
		RequestID:  out.RequestID,
		Action:     out.Response.Action,
		ByDefault:  out.ByDefault,
		ResolvedAt: out.ResolvedAt.UTC().Format(time.RFC3339),
	}, nil
}

// CancelSession cancels a session.
func (s *ControlService) CancelSession(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SessionInput,
) (*mcp.CallToolResult, AckOutput, error) {
	if err := s.engine.CancelSession(ctx, input.SessionID); err != nil {
		return nil, AckOutput{}, fmt.Errorf("cancel session: %w", err)
	}
	return nil, AckOutput{OK: true}, nil
}

// GetSession returns the session's status and the outputs of its completed
// stages.
func (s *ControlService) GetSession(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input SessionInput,
) (*mcp.CallToolResult, GetSessionOutput, error) {
	st, err := s.engine.State(input.SessionID)
	if err != nil {
		return nil, GetSessionOutput{}, fmt.Errorf("get session: %w", err)
	}
	out := GetSessionOutput{
		Status:  status.Summarize(st),
		Outputs: make(map[string]map[string]any, len(st.Completed)),
	}
	for _, name := range st.Completed {
		data := st.Outputs[name].Data
		if data == nil {
			data = map[string]any{}
		}
		out.Outputs[name] = data
	}
	return nil, out, nil
}

// ListSessions pages through live sessions.
func (s *ControlService) ListSessions(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ListSessionsInput,
) (*mcp.CallToolResult, ListSessionsOutput, error) {
	pageSize := input.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	resp := s.engine.List(orchestrator.ListRequest{
		Phase:     orchestrator.Phase(input.Phase),
		PageSize:  pageSize,
		PageToken: input.PageToken,
	})

	out := ListSessionsOutput{
		Sessions:      make([]status.SessionStatus, 0, len(resp.Sessions)),
		TotalSize:     resp.TotalSize,
		NextPageToken: resp.NextPageToken,
	}
	for _, st := range resp.Sessions {
		out.Sessions = append(out.Sessions, status.Summarize(st))
	}
	return nil, out, nil
}

func fileInput(f FileRef) orchestrator.Input {
	return orchestrator.Input{Kind: orchestrator.InputFile, Content: f.Ref, Name: f.Name, MediaType: f.MediaType}
}
