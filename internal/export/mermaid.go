package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dusk-indust/conductor/internal/orchestrator"
)

// Mermaid produces a flowchart of plan. Stages chain top to bottom;
// optional stages are drawn with rounded edges; a checkpoint becomes a
// decision node whose branches fork off to their replacement tails.
func Mermaid(plan orchestrator.RoutePlan) string {
	var sb strings.Builder
	sb.WriteString("flowchart TD\n")
	sb.WriteString(fmt.Sprintf("  start([%q])\n", string(plan.Intent)))

	ids := 0
	nextID := func(prefix string) string {
		ids++
		return fmt.Sprintf("%s%d", prefix, ids)
	}

	writeStage := func(sd orchestrator.StageDescriptor) string {
		id := nextID("S")
		if sd.Optional {
			sb.WriteString(fmt.Sprintf("  %s(%q)\n", id, sd.Name+" (optional)"))
		} else {
			sb.WriteString(fmt.Sprintf("  %s[%q]\n", id, sd.Name))
		}
		return id
	}

	edge := func(from, label, to string) {
		if label == "" {
			sb.WriteString(fmt.Sprintf("  %s --> %s\n", from, to))
			return
		}
		sb.WriteString(fmt.Sprintf("  %s -->|%s| %s\n", from, label, to))
	}

	done := "done([\"complete\"])"
	prev := "start"
	for _, sd := range plan.Stages {
		id := writeStage(sd)
		edge(prev, "", id)
		prev = id

		cp := sd.Checkpoint
		if cp == nil {
			continue
		}
		gate := nextID("D")
		sb.WriteString(fmt.Sprintf("  %s{%q}\n", gate, "decision: "+sd.Name))
		edge(prev, "", gate)
		prev = gate

		actions := make([]string, 0, len(cp.Branches))
		for action := range cp.Branches {
			actions = append(actions, action)
		}
		sort.Strings(actions)
		for _, action := range actions {
			from, label := gate, action
			for _, b := range cp.Branches[action] {
				id := writeStage(b)
				edge(from, label, id)
				from, label = id, ""
			}
			edge(from, label, done)
		}
	}
	edge(prev, "", done)
	return sb.String()
}
