package orchestrator

import (
	"strings"
	"time"
)

// KeyInput is the WorkflowState key under which the raw inputs are exposed
// to stages.
const KeyInput = "input"

// decisionKeyPrefix prefixes the state key of a recorded decision response.
const decisionKeyPrefix = "decision."

// DecisionKey returns the state key holding the decision made after stage.
func DecisionKey(stage string) string {
	return decisionKeyPrefix + stage
}

// WorkflowState is the record threaded through every stage of a session.
// Only the session's executor goroutine mutates it; everyone else works on
// copies from Clone.
type WorkflowState struct {
	SessionID string  `json:"sessionId"`
	Phase     Phase   `json:"phase"`
	Inputs    []Input `json:"inputs,omitempty"`

	Intent         Intent         `json:"intent,omitempty"`
	Confidence     float64        `json:"confidence"`
	Classification map[string]any `json:"classification,omitempty"`

	Plan RoutePlan `json:"plan"`

	// Completed lists finished stages in execution order and is always a
	// prefix of Plan.Stages.
	Completed []string               `json:"completed"`
	Outputs   map[string]StageOutput `json:"outputs"`

	Pending   *DecisionRequest `json:"pending,omitempty"`
	Decisions []DecisionRecord `json:"decisions,omitempty"`

	Failure  *Failure       `json:"failure,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StageOutput is the recorded result of a completed stage.
type StageOutput struct {
	Data     map[string]any `json:"data"`
	Degraded bool           `json:"degraded,omitempty"`
	Warning  string         `json:"warning,omitempty"`
	Attempts int            `json:"attempts"`
}

// DecisionRecord is a resolved decision kept for the audit trail.
type DecisionRecord struct {
	Stage   string  `json:"stage"`
	Outcome Outcome `json:"outcome"`
}

// Failure describes why a session ended in PhaseFailed.
type Failure struct {
	Kind          string `json:"kind"`
	Reason        string `json:"reason"`
	Stage         string `json:"stage,omitempty"`
	LastCompleted string `json:"lastCompleted,omitempty"`
	Internal      bool   `json:"internal"`
}

// NewWorkflowState returns an empty state in PhaseIntake.
func NewWorkflowState(sessionID string, now time.Time) *WorkflowState {
	return &WorkflowState{
		SessionID: sessionID,
		Phase:     PhaseIntake,
		Completed: []string{},
		Outputs:   make(map[string]StageOutput),
		Metadata:  make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LastCompleted returns the most recently completed stage, or "".
func (s *WorkflowState) LastCompleted() string {
	if len(s.Completed) == 0 {
		return ""
	}
	return s.Completed[len(s.Completed)-1]
}

// NextStage returns the first plan stage that has not completed.
func (s *WorkflowState) NextStage() (StageDescriptor, bool) {
	if len(s.Completed) >= len(s.Plan.Stages) {
		return StageDescriptor{}, false
	}
	return s.Plan.Stages[len(s.Completed)], true
}

// Lookup resolves a state key as seen by stages: "input" yields the raw
// inputs, a stage name yields its output data, "decision.<stage>" yields
// the recorded response, and anything else falls through to Metadata.
func (s *WorkflowState) Lookup(key string) (any, bool) {
	if key == KeyInput {
		if len(s.Inputs) == 0 {
			return nil, false
		}
		return s.Inputs, true
	}
	if out, ok := s.Outputs[key]; ok {
		return out.Data, true
	}
	if stage, ok := strings.CutPrefix(key, decisionKeyPrefix); ok {
		for i := len(s.Decisions) - 1; i >= 0; i-- {
			if s.Decisions[i].Stage == stage {
				return s.Decisions[i].Outcome.Response, true
			}
		}
	}
	v, ok := s.Metadata[key]
	return v, ok
}

// owedCheckpoint returns the last completed stage when it carries a
// checkpoint that was neither degraded nor answered.
func (s *WorkflowState) owedCheckpoint() (StageDescriptor, bool) {
	n := len(s.Completed)
	if n == 0 || n > len(s.Plan.Stages) {
		return StageDescriptor{}, false
	}
	stage := s.Plan.Stages[n-1]
	if stage.Checkpoint == nil || s.Outputs[stage.Name].Degraded {
		return StageDescriptor{}, false
	}
	for _, d := range s.Decisions {
		if d.Stage == stage.Name {
			return StageDescriptor{}, false
		}
	}
	return stage, true
}

// isPrefixOfPlan reports whether Completed matches the head of the plan.
func (s *WorkflowState) isPrefixOfPlan() bool {
	if len(s.Completed) > len(s.Plan.Stages) {
		return false
	}
	for i, name := range s.Completed {
		if s.Plan.Stages[i].Name != name {
			return false
		}
	}
	return true
}

// Clone returns a deep copy safe to hand outside the executor.
func (s *WorkflowState) Clone() WorkflowState {
	dst := *s

	dst.Inputs = append([]Input(nil), s.Inputs...)
	dst.Classification = cloneMap(s.Classification)
	dst.Plan = clonePlan(s.Plan)
	dst.Completed = append([]string{}, s.Completed...)

	dst.Outputs = make(map[string]StageOutput, len(s.Outputs))
	for k, v := range s.Outputs {
		v.Data = cloneMap(v.Data)
		dst.Outputs[k] = v
	}

	if s.Pending != nil {
		p := cloneRequest(*s.Pending)
		dst.Pending = &p
	}
	if s.Decisions != nil {
		dst.Decisions = make([]DecisionRecord, len(s.Decisions))
		for i, d := range s.Decisions {
			d.Outcome.Response = cloneResponse(d.Outcome.Response)
			dst.Decisions[i] = d
		}
	}
	if s.Failure != nil {
		f := *s.Failure
		dst.Failure = &f
	}
	dst.Warnings = append([]string(nil), s.Warnings...)
	dst.Metadata = cloneMap(s.Metadata)
	return dst
}

func clonePlan(p RoutePlan) RoutePlan {
	out := RoutePlan{Intent: p.Intent}
	if p.Stages != nil {
		out.Stages = make([]StageDescriptor, len(p.Stages))
		for i, sd := range p.Stages {
			out.Stages[i] = cloneDescriptor(sd)
		}
	}
	return out
}

func cloneDescriptor(sd StageDescriptor) StageDescriptor {
	sd.Requires = append([]string(nil), sd.Requires...)
	if sd.Checkpoint != nil {
		cp := *sd.Checkpoint
		cp.Accept = cloneShapes(cp.Accept)
		cp.Default = cloneResponse(cp.Default)
		if cp.Branches != nil {
			branches := make(map[string][]StageDescriptor, len(cp.Branches))
			for action, tail := range cp.Branches {
				copied := make([]StageDescriptor, len(tail))
				for i, t := range tail {
					copied[i] = cloneDescriptor(t)
				}
				branches[action] = copied
			}
			cp.Branches = branches
		}
		sd.Checkpoint = &cp
	}
	return sd
}

func cloneShapes(shapes []ResponseShape) []ResponseShape {
	if shapes == nil {
		return nil
	}
	out := make([]ResponseShape, len(shapes))
	for i, s := range shapes {
		s.Fields = append([]string(nil), s.Fields...)
		out[i] = s
	}
	return out
}

func cloneRequest(r DecisionRequest) DecisionRequest {
	r.Accept = cloneShapes(r.Accept)
	r.Default = cloneResponse(r.Default)
	return r
}

func cloneResponse(r Response) Response {
	r.Data = cloneMap(r.Data)
	return r
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []Input:
		return append([]Input(nil), t...)
	case Response:
		return cloneResponse(t)
	default:
		return v
	}
}
