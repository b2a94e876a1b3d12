package orchestrator

import (
	"fmt"
	"sync"
)

// Stage names used by the default route table.
const (
	StageFetchSheet       = "fetch-sheet"
	StageNormalizeRows    = "normalize-rows"
	StageExtractDocuments = "extract-documents"
	StageClassifyTrades   = "classify-trades"
	StageComputeTakeoff   = "compute-takeoff"
	StageSummarize        = "summarize"
	StageLookup           = "lookup"
	StageClarify          = "clarify"
)

// Decision actions used by the default checkpoints.
const (
	ActionContinue           = "continue"
	ActionSelect             = "select"
	ActionSkipClassification = "skip-classification"
	ActionStop               = "stop"
)

// AgentResolver looks up the Agent behind a stage name.
type AgentResolver interface {
	Resolve(stage string) (Agent, error)
}

// Router maps intents to route plans and stage names to agents. The intent
// table is static; planning never fails.
type Router struct {
	mu     sync.RWMutex
	routes map[Intent]func() RoutePlan
	agents map[string]Agent
	parent AgentResolver
}

// NewRouter creates a Router with the default route table. parent, when
// non-nil, resolves stages that were not registered directly.
func NewRouter(parent AgentResolver) *Router {
	return &Router{
		routes: defaultRoutes(),
		agents: make(map[string]Agent),
		parent: parent,
	}
}

// RegisterAgent binds a stage name to an agent, taking precedence over the
// parent resolver.
func (r *Router) RegisterAgent(stage string, agent Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[stage] = agent
}

// RegisterRoute replaces the plan produced for intent. A route needs at
// least one stage.
func (r *Router) RegisterRoute(intent Intent, stages ...StageDescriptor) error {
	if len(stages) == 0 {
		return fmt.Errorf("router: route for intent %q has no stages", intent)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[intent] = func() RoutePlan {
		return clonePlan(RoutePlan{Intent: intent, Stages: stages})
	}
	return nil
}

// Resolve implements AgentResolver.
func (r *Router) Resolve(stage string) (Agent, error) {
	r.mu.RLock()
	agent, ok := r.agents[stage]
	r.mu.RUnlock()
	if ok {
		return agent, nil
	}
	if r.parent != nil {
		return r.parent.Resolve(stage)
	}
	return nil, fmt.Errorf("router: no agent registered for stage %q", stage)
}

// Plan returns a fresh plan for intent. Unknown intents, including the empty
// one, get the single-stage clarify route.
func (r *Router) Plan(intent Intent) RoutePlan {
	r.mu.RLock()
	build, ok := r.routes[intent]
	r.mu.RUnlock()
	if !ok {
		return clarifyRoute(intent)
	}
	return build()
}

// Intents lists the intents with a dedicated route.
func (r *Router) Intents() []Intent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Intent, 0, len(r.routes))
	for _, intent := range []Intent{IntentSpreadsheetImport, IntentDocumentTakeoff, IntentSimpleLookup, IntentGeneralInquiry} {
		if _, ok := r.routes[intent]; ok {
			out = append(out, intent)
		}
	}
	for intent := range r.routes {
		if !containsIntent(out, intent) {
			out = append(out, intent)
		}
	}
	return out
}

func containsIntent(list []Intent, intent Intent) bool {
	for _, i := range list {
		if i == intent {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Default route table
// ---------------------------------------------------------------------------

func defaultRoutes() map[Intent]func() RoutePlan {
	return map[Intent]func() RoutePlan{
		IntentSpreadsheetImport: spreadsheetRoute,
		IntentDocumentTakeoff:   documentRoute,
		IntentSimpleLookup: func() RoutePlan {
			return RoutePlan{Intent: IntentSimpleLookup, Stages: []StageDescriptor{
				{Name: StageLookup, Requires: []string{KeyInput}},
			}}
		},
		IntentGeneralInquiry: func() RoutePlan { return clarifyRoute(IntentGeneralInquiry) },
	}
}

func clarifyRoute(intent Intent) RoutePlan {
	return RoutePlan{Intent: intent, Stages: []StageDescriptor{
		{Name: StageClarify, Requires: []string{KeyInput}},
	}}
}

func spreadsheetRoute() RoutePlan {
	return RoutePlan{Intent: IntentSpreadsheetImport, Stages: []StageDescriptor{
		{Name: StageFetchSheet, Requires: []string{KeyInput}},
		{
			Name:     StageNormalizeRows,
			Requires: []string{StageFetchSheet},
			Checkpoint: &Checkpoint{
				Prompt: "Confirm the detected column mapping before trades are classified.",
				Accept: []ResponseShape{
					{Action: ActionContinue},
					{Action: ActionSkipClassification},
					{Action: ActionStop},
				},
				Default: Response{Action: ActionContinue},
				Branches: map[string][]StageDescriptor{
					ActionSkipClassification: {
						{Name: StageComputeTakeoff, Requires: []string{StageNormalizeRows}},
						{Name: StageSummarize, Requires: []string{StageComputeTakeoff}, Optional: true},
					},
					ActionStop: {},
				},
			},
		},
		{Name: StageClassifyTrades, Requires: []string{StageNormalizeRows}},
		{Name: StageComputeTakeoff, Requires: []string{StageClassifyTrades}},
		{Name: StageSummarize, Requires: []string{StageComputeTakeoff}, Optional: true},
	}}
}

func documentRoute() RoutePlan {
	return RoutePlan{Intent: IntentDocumentTakeoff, Stages: []StageDescriptor{
		{
			Name:     StageExtractDocuments,
			Requires: []string{KeyInput},
			Checkpoint: &Checkpoint{
				Prompt: "Select the files to include in the takeoff, or continue with all of them.",
				Accept: []ResponseShape{
					{Action: ActionContinue},
					{Action: ActionSelect, Fields: []string{"files"}},
				},
				Default: Response{Action: ActionContinue},
			},
		},
		{Name: StageClassifyTrades, Requires: []string{StageExtractDocuments}},
		{Name: StageComputeTakeoff, Requires: []string{StageClassifyTrades}},
		{Name: StageSummarize, Requires: []string{StageComputeTakeoff}, Optional: true},
	}}
}
