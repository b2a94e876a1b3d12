package orchestrator

import (
	"context"
	"errors"
	"time"
)

// Control rejections returned by the Orchestrator.
var (
	ErrSessionNotFound  = errors.New("orchestrator: session not found")
	ErrSessionTerminal  = errors.New("orchestrator: session is terminal")
	ErrDecisionMismatch = errors.New("orchestrator: no such open decision for session")
)

// Phase is the executor state of a session.
type Phase string

const (
	PhaseIntake           Phase = "intake"
	PhaseRouting          Phase = "routing"
	PhaseRunningStage     Phase = "running_stage"
	PhaseAwaitingDecision Phase = "awaiting_decision"
	PhaseRecovering       Phase = "recovering"
	PhaseComplete         Phase = "complete"
	PhaseFailed           Phase = "failed"
)

// IsTerminal reports whether no further transitions can happen.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// Intent is the workflow kind assigned by the classifier.
type Intent string

const (
	IntentSpreadsheetImport Intent = "spreadsheet-import"
	IntentDocumentTakeoff   Intent = "document-takeoff"
	IntentSimpleLookup      Intent = "simple-lookup"
	IntentGeneralInquiry    Intent = "general-inquiry"
)

// InputKind describes how an Input carries its content.
type InputKind string

const (
	InputText InputKind = "text"
	InputURL  InputKind = "url"
	InputFile InputKind = "file"
)

// Input is one piece of raw user input. File inputs carry a storage
// reference in Content, never the bytes themselves.
type Input struct {
	Kind      InputKind `json:"kind"`
	Content   string    `json:"content"`
	Name      string    `json:"name,omitempty"`
	MediaType string    `json:"mediaType,omitempty"`
}

// TextInput is a convenience constructor for chat text.
func TextInput(text string) Input {
	return Input{Kind: InputText, Content: text, MediaType: "text/plain"}
}

// StageDescriptor declares one step of a RoutePlan.
type StageDescriptor struct {
	// Name selects the agent and keys the stage output in WorkflowState.
	Name string `json:"name"`

	// Requires lists WorkflowState keys that must be present before the
	// stage runs: "input", a completed stage name, a "decision.<stage>" key
	// or a metadata key.
	Requires []string `json:"requires,omitempty"`

	// Optional stages degrade instead of failing the workflow on
	// non-transient errors.
	Optional bool `json:"optional,omitempty"`

	// Timeout bounds a single agent call; zero uses the engine default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxAttempts caps retries of transient failures; zero uses the engine
	// default.
	MaxAttempts int `json:"maxAttempts,omitempty"`

	// Checkpoint pauses the workflow for a decision after the stage completes.
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
}

// Checkpoint describes the decision requested after a stage.
type Checkpoint struct {
	Prompt  string          `json:"prompt"`
	Accept  []ResponseShape `json:"accept"`
	Default Response        `json:"default"`

	// Timeout is how long the gate waits before applying Default; zero uses
	// the engine default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Branches maps a response action to a replacement for the rest of the
	// plan. Actions without a branch continue with the original remainder;
	// an empty branch completes the workflow.
	Branches map[string][]StageDescriptor `json:"branches,omitempty"`
}

// RoutePlan is the ordered stage list for a session.
type RoutePlan struct {
	Intent Intent            `json:"intent"`
	Stages []StageDescriptor `json:"stages"`
}

// StageNames returns the plan's stage names in order.
func (p RoutePlan) StageNames() []string {
	names := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		names[i] = s.Name
	}
	return names
}

// ResponseShape is one acceptable form of a decision response: an action
// name plus the data fields it must carry.
type ResponseShape struct {
	Action string   `json:"action"`
	Fields []string `json:"fields,omitempty"`
}

// Response answers a DecisionRequest.
type Response struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data,omitempty"`
}

// DecisionRequest is an open pause point.
type DecisionRequest struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Stage     string          `json:"stage"`
	Prompt    string          `json:"prompt"`
	Accept    []ResponseShape `json:"accept"`
	Deadline  time.Time       `json:"deadline"`
	Default   Response        `json:"default"`
}

// Outcome is the resolution of a DecisionRequest.
type Outcome struct {
	RequestID  string    `json:"requestId"`
	SessionID  string    `json:"sessionId"`
	Response   Response  `json:"response"`
	ByDefault  bool      `json:"byDefault"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// Agent is the uniform contract every pipeline stage implements. Invoke
// must be safe to call repeatedly with the same input: retries rely on it.
// The state argument is a read-only snapshot.
type Agent interface {
	Invoke(ctx context.Context, input map[string]any, state WorkflowState) (map[string]any, error)
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc func(ctx context.Context, input map[string]any, state WorkflowState) (map[string]any, error)

// Invoke calls f.
func (f AgentFunc) Invoke(ctx context.Context, input map[string]any, state WorkflowState) (map[string]any, error) {
	return f(ctx, input, state)
}

// Storage persists workflow state so a restarted process can resume.
type Storage interface {
	Persist(ctx context.Context, state WorkflowState) error
	// Load returns an error wrapping store.ErrNotFound when the session is absent.
	Load(ctx context.Context, sessionID string) (*WorkflowState, error)
	List(ctx context.Context) ([]WorkflowState, error)
	Delete(ctx context.Context, sessionID string) error
}

// Orchestrator is the control interface exposed to clients.
type Orchestrator interface {
	// StartSession creates a session. With inputs, classification and
	// execution start immediately; without, the session idles in intake.
	StartSession(ctx context.Context, inputs ...Input) (string, error)

	// SubmitInput feeds raw input into an idle or running session.
	SubmitInput(ctx context.Context, sessionID string, in Input) error

	// ResolveDecision answers an open decision. Repeated calls with the same
	// request ID return the first outcome.
	ResolveDecision(ctx context.Context, sessionID, requestID string, resp Response) (Outcome, error)

	// CancelSession aborts a session at its next suspension point.
	CancelSession(ctx context.Context, sessionID string) error

	// Subscribe streams the session's events from now on.
	Subscribe(sessionID string) (*Subscription, error)

	// State returns a snapshot of the session's workflow state.
	State(sessionID string) (WorkflowState, error)

	// List pages through live sessions in creation order.
	List(req ListRequest) ListResponse

	// CloseSession destroys a session and releases its resources.
	CloseSession(ctx context.Context, sessionID string) error
}

// ListRequest pages through sessions.
type ListRequest struct {
	Phase     Phase  `json:"phase,omitempty"`
	PageSize  int    `json:"pageSize,omitempty"`
	PageToken string `json:"pageToken,omitempty"`
}

// ListResponse is one page of session snapshots.
type ListResponse struct {
	Sessions      []WorkflowState `json:"sessions"`
	TotalSize     int             `json:"totalSize"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}
