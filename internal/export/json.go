// Package export renders route plans and session results for tools outside
// the engine: JSON documents and Mermaid flowcharts.
package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dusk-indust/conductor/internal/orchestrator"
	"github.com/dusk-indust/conductor/internal/status"
)

// SessionExport is the JSON export of one session.
type SessionExport struct {
	ExportedAt string                    `json:"exportedAt"`
	Status     status.SessionStatus      `json:"status"`
	Plan       orchestrator.RoutePlan    `json:"plan"`
	Outputs    map[string]map[string]any `json:"outputs"`
	Decisions  []DecisionExport          `json:"decisions,omitempty"`
	Warnings   []string                  `json:"warnings,omitempty"`
}

// DecisionExport is one resolved decision.
type DecisionExport struct {
	Stage     string         `json:"stage"`
	RequestID string         `json:"requestId"`
	Action    string         `json:"action"`
	Data      map[string]any `json:"data,omitempty"`
	ByDefault bool           `json:"byDefault"`
}

// Session builds the export of st. Outputs are listed for completed stages
// only, keyed by stage name.
func Session(st orchestrator.WorkflowState, now time.Time) SessionExport {
	out := SessionExport{
		ExportedAt: now.UTC().Format(time.RFC3339),
		Status:     status.Summarize(st),
		Plan:       st.Plan,
		Outputs:    make(map[string]map[string]any, len(st.Completed)),
		Warnings:   st.Warnings,
	}
	for _, name := range st.Completed {
		out.Outputs[name] = st.Outputs[name].Data
	}
	for _, d := range st.Decisions {
		out.Decisions = append(out.Decisions, DecisionExport{
			Stage:     d.Stage,
			RequestID: d.Outcome.RequestID,
			Action:    d.Outcome.Response.Action,
			Data:      d.Outcome.Response.Data,
			ByDefault: d.Outcome.ByDefault,
		})
	}
	return out
}

// JSON marshals v with two-space indentation.
func JSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: marshal: %w", err)
	}
	return append(data, '\n'), nil
}
