package mcptools

import "github.com/dusk-indust/conductor/internal/status"

// --- MCP Tool Input/Output Types ---
// The MCP Go SDK generates each tool's JSON schema from these struct tags.

// FileRef points at an uploaded file by storage reference.
type FileRef struct {
	Ref       string `json:"ref" jsonschema:"storage reference of the file"`
	Name      string `json:"name,omitempty" jsonschema:"original file name, used for classification"`
	MediaType string `json:"mediaType,omitempty" jsonschema:"MIME type of the file"`
}

// StartSessionInput is the input for the start_session tool.
type StartSessionInput struct {
	Text  string    `json:"text,omitempty" jsonschema:"chat text describing the request"`
	URLs  []string  `json:"urls,omitempty" jsonschema:"links to data sources such as spreadsheets"`
	Files []FileRef `json:"files,omitempty" jsonschema:"attached files"`
}

// StartSessionOutput is the result of the start_session tool.
type StartSessionOutput struct {
	SessionID string `json:"sessionId"`
}

// SubmitInputInput is the input for the submit_input tool.
type SubmitInputInput struct {
	SessionID string   `json:"sessionId" jsonschema:"the session to feed"`
	Text      string   `json:"text,omitempty" jsonschema:"chat text"`
	URL       string   `json:"url,omitempty" jsonschema:"a data source link"`
	File      *FileRef `json:"file,omitempty" jsonschema:"an attached file"`
}

// ResolveDecisionInput is the input for the resolve_decision tool.
type ResolveDecisionInput struct {
	SessionID string         `json:"sessionId" jsonschema:"the session waiting on the decision"`
	RequestID string         `json:"requestId" jsonschema:"the decision request ID from get_session or decision.needed"`
	Action    string         `json:"action" jsonschema:"one of the actions the decision accepts"`
	Data      map[string]any `json:"data,omitempty" jsonschema:"fields required by the chosen action"`
}

// ResolveDecisionOutput is the result of the resolve_decision tool.
type ResolveDecisionOutput struct {
	RequestID  string `json:"requestId"`
	Action     string `json:"action"`
	ByDefault  bool   `json:"byDefault"`
	ResolvedAt string `json:"resolvedAt"`
}

// SessionInput addresses a single session.
type SessionInput struct {
	SessionID string `json:"sessionId" jsonschema:"the session ID"`
}

// AckOutput is returned by tools that only acknowledge.
type AckOutput struct {
	OK bool `json:"ok"`
}

// GetSessionOutput is the result of the get_session tool.
type GetSessionOutput struct {
	Status  status.SessionStatus      `json:"status"`
	Outputs map[string]map[string]any `json:"outputs,omitempty"`
}

// ListSessionsInput is the input for the list_sessions tool.
type ListSessionsInput struct {
	Phase     string `json:"phase,omitempty" jsonschema:"only sessions in this phase"`
	PageSize  int    `json:"pageSize,omitempty" jsonschema:"maximum number of sessions (default: 20)"`
	PageToken string `json:"pageToken,omitempty" jsonschema:"nextPageToken of the previous page"`
}

// ListSessionsOutput is the result of the list_sessions tool.
type ListSessionsOutput struct {
	Sessions      []status.SessionStatus `json:"sessions"`
	TotalSize     int                    `json:"totalSize"`
	NextPageToken string                 `json:"nextPageToken,omitempty"`
}
