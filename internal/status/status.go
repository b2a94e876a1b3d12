// Package status reduces a workflow state to the per-stage view shown by
// the CLI and the MCP tools.
package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/dusk-indust/conductor/internal/orchestrator"
)

// Stage states.
const (
	StateDone     = "done"
	StateDegraded = "degraded"
	StateRunning  = "running"
	StateWaiting  = "waiting"
	StateFailed   = "failed"
	StatePending  = "pending"
)

// StageInfo describes one stage of the plan.
type StageInfo struct {
	Name     string `json:"name" yaml:"name"`
	State    string `json:"state" yaml:"state"`
	Attempts int    `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Warning  string `json:"warning,omitempty" yaml:"warning,omitempty"`
}

// PendingDecision is the open decision of a session, if any.
type PendingDecision struct {
	RequestID string   `json:"requestId" yaml:"requestId"`
	Stage     string   `json:"stage" yaml:"stage"`
	Prompt    string   `json:"prompt" yaml:"prompt"`
	Actions   []string `json:"actions" yaml:"actions"`
	Default   string   `json:"default" yaml:"default"`
	Deadline  string   `json:"deadline" yaml:"deadline"`
}

// SessionStatus is the summary of one session.
type SessionStatus struct {
	SessionID  string           `json:"sessionId" yaml:"sessionId"`
	Phase      string           `json:"phase" yaml:"phase"`
	Intent     string           `json:"intent,omitempty" yaml:"intent,omitempty"`
	Confidence float64          `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Stages     []StageInfo      `json:"stages" yaml:"stages"`
	Completed  int              `json:"completed" yaml:"completed"`
	Next       string           `json:"next,omitempty" yaml:"next,omitempty"`
	Pending    *PendingDecision `json:"pending,omitempty" yaml:"pending,omitempty"`
	Failure    string           `json:"failure,omitempty" yaml:"failure,omitempty"`
	UpdatedAt  string           `json:"updatedAt" yaml:"updatedAt"`
}

// Summarize builds the status of st.
func Summarize(st orchestrator.WorkflowState) SessionStatus {
	s := SessionStatus{
		SessionID:  st.SessionID,
		Phase:      string(st.Phase),
		Intent:     string(st.Intent),
		Confidence: st.Confidence,
		Completed:  len(st.Completed),
		Stages:     make([]StageInfo, 0, len(st.Plan.Stages)),
		UpdatedAt:  st.UpdatedAt.UTC().Format(time.RFC3339),
	}

	next, hasNext := st.NextStage()
	if hasNext {
		s.Next = next.Name
	}

	for i, sd := range st.Plan.Stages {
		info := StageInfo{Name: sd.Name, Optional: sd.Optional, State: StatePending}
		if i < len(st.Completed) {
			out := st.Outputs[sd.Name]
			info.State = StateDone
			info.Attempts = out.Attempts
			if out.Degraded {
				info.State = StateDegraded
				info.Warning = out.Warning
			}
		} else if hasNext && sd.Name == next.Name && i == len(st.Completed) {
			switch st.Phase {
			case orchestrator.PhaseRunningStage, orchestrator.PhaseRecovering:
				info.State = StateRunning
			case orchestrator.PhaseFailed:
				info.State = StateFailed
			}
		}
		if st.Pending != nil && st.Pending.Stage == sd.Name {
			info.State = StateWaiting
		}
		s.Stages = append(s.Stages, info)
	}

	if p := st.Pending; p != nil {
		actions := make([]string, 0, len(p.Accept))
		for _, shape := range p.Accept {
			actions = append(actions, shape.Action)
		}
		s.Pending = &PendingDecision{
			RequestID: p.ID,
			Stage:     p.Stage,
			Prompt:    p.Prompt,
			Actions:   actions,
			Default:   p.Default.Action,
			Deadline:  p.Deadline.UTC().Format(time.RFC3339),
		}
	}
	if f := st.Failure; f != nil {
		s.Failure = f.Reason
	}
	return s
}

var stateMarks = map[string]string{
	StateDone:     "✓",
	StateDegraded: "~",
	StateRunning:  "●",
	StateWaiting:  "?",
	StateFailed:   "✗",
	StatePending:  "·",
}

// Render formats s as plain text, one line per stage.
func Render(s SessionStatus) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s (%s)\n", s.SessionID, s.Phase)
	if s.Intent != "" {
		fmt.Fprintf(&sb, "  intent: %s (%.2f)\n", s.Intent, s.Confidence)
	}
	for _, st := range s.Stages {
		line := fmt.Sprintf("  %s %s", stateMarks[st.State], st.Name)
		if st.Optional {
			line += " (optional)"
		}
		if st.Attempts > 1 {
			line += fmt.Sprintf(" [%d attempts]", st.Attempts)
		}
		if st.Warning != "" {
			line += ": " + st.Warning
		}
		sb.WriteString(line + "\n")
	}
	if p := s.Pending; p != nil {
		fmt.Fprintf(&sb, "  waiting on %s: %s\n", p.RequestID, p.Prompt)
		fmt.Fprintf(&sb, "    actions: %s (default %s, until %s)\n", strings.Join(p.Actions, ", "), p.Default, p.Deadline)
	}
	if s.Failure != "" {
		fmt.Fprintf(&sb, "  failed: %s\n", s.Failure)
	}
	return sb.String()
}
