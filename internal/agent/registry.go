package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dusk-indust/conductor/internal/a2a"
	"github.com/dusk-indust/conductor/internal/orchestrator"
)

// Compile-time interface check.
var _ orchestrator.AgentResolver = (*Registry)(nil)

// Registry maps stage names to agent factories. Agents are constructed on
// first use and reused afterwards.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	spawned   map[string]orchestrator.Agent
}

// NewRegistry creates a Registry pre-registered with the reference agents
// for every stage in the default route table.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		spawned:   make(map[string]orchestrator.Agent),
	}
	r.factories[orchestrator.StageFetchSheet] = func() orchestrator.Agent { return orchestrator.AgentFunc(FetchSheet) }
	r.factories[orchestrator.StageNormalizeRows] = func() orchestrator.Agent { return orchestrator.AgentFunc(NormalizeRows) }
	r.factories[orchestrator.StageExtractDocuments] = func() orchestrator.Agent { return orchestrator.AgentFunc(ExtractDocuments) }
	r.factories[orchestrator.StageClassifyTrades] = func() orchestrator.Agent { return orchestrator.AgentFunc(ClassifyTrades) }
	r.factories[orchestrator.StageComputeTakeoff] = func() orchestrator.Agent { return orchestrator.AgentFunc(ComputeTakeoff) }
	r.factories[orchestrator.StageSummarize] = func() orchestrator.Agent { return orchestrator.AgentFunc(Summarize) }
	r.factories[orchestrator.StageLookup] = func() orchestrator.Agent { return orchestrator.AgentFunc(Lookup) }
	r.factories[orchestrator.StageClarify] = func() orchestrator.Agent { return orchestrator.AgentFunc(Clarify) }
	return r
}

// Register installs factory for stage, replacing any previous registration
// and dropping an already constructed agent.
func (r *Registry) Register(stage string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[stage] = factory
	delete(r.spawned, stage)
}

// UseRemote routes each stage in endpoints to the A2A agent at that URL.
func (r *Registry) UseRemote(client a2a.Client, endpoints map[string]string) {
	for stage, endpoint := range endpoints {
		r.Register(stage, func() orchestrator.Agent { return NewRemote(client, stage, endpoint) })
	}
}

// Resolve implements orchestrator.AgentResolver.
func (r *Registry) Resolve(stage string) (orchestrator.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ag, ok := r.spawned[stage]; ok {
		return ag, nil
	}
	factory, ok := r.factories[stage]
	if !ok {
		return nil, fmt.Errorf("no agent registered for stage %q", stage)
	}
	ag := factory()
	r.spawned[stage] = ag
	return ag, nil
}

// Stages lists the registered stage names in lexical order.
func (r *Registry) Stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.factories))
	for stage := range r.factories {
		out = append(out, stage)
	}
	sort.Strings(out)
	return out
}
