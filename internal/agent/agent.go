// Package agent provides the stage agents the orchestrator invokes: thin
// built-in reference agents for every stage of the default route table, a
// Remote adapter that forwards a stage to an A2A endpoint, and a Host that
// serves registered agents over A2A.
package agent

import (
	"encoding/json"
	"fmt"

	"github.com/dusk-indust/conductor/internal/orchestrator"
)

// Factory constructs the agent for one stage.
type Factory func() orchestrator.Agent

// inputsOf decodes the "input" state value. In-process callers pass
// []orchestrator.Input; values that crossed a JSON boundary arrive as
// generic slices and are re-decoded.
func inputsOf(v any) ([]orchestrator.Input, error) {
	switch in := v.(type) {
	case nil:
		return nil, nil
	case []orchestrator.Input:
		return in, nil
	}
	var out []orchestrator.Input
	if err := redecode(v, &out); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	return out, nil
}

// dataOf returns the stage output stored under key as a map.
func dataOf(input map[string]any, key string) (map[string]any, error) {
	switch v := input[key].(type) {
	case map[string]any:
		return v, nil
	case nil:
		return nil, fmt.Errorf("missing %q", key)
	default:
		return nil, fmt.Errorf("%q is %T, want an object", key, v)
	}
}

// redecode converts a loosely typed value into dst through JSON.
func redecode(v any, dst any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
