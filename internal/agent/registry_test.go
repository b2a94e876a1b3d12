package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/conductor/internal/a2a"
	"github.com/dusk-indust/conductor/internal/orchestrator"
)

func TestRegistry_ResolvesEveryRoutedStage(t *testing.T) {
	reg := NewRegistry()
	router := orchestrator.NewRouter(reg)

	for _, intent := range router.Intents() {
		for _, stage := range router.Plan(intent).Stages {
			ag, err := reg.Resolve(stage.Name)
			require.NoError(t, err, "stage %s of %s", stage.Name, intent)
			assert.NotNil(t, ag)
		}
	}
	assert.Len(t, reg.Stages(), 8)
}

func TestRegistry_UnknownStage(t *testing.T) {
	_, err := NewRegistry().Resolve("nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestRegistry_ReusesAndReplaces(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	reg.Register("custom", func() orchestrator.Agent {
		calls++
		return orchestrator.AgentFunc(func(context.Context, map[string]any, orchestrator.WorkflowState) (map[string]any, error) {
			return map[string]any{"v": 1}, nil
		})
	})

	_, err := reg.Resolve("custom")
	require.NoError(t, err)
	_, err = reg.Resolve("custom")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	reg.UseRemote(a2a.NewHTTPClient(), map[string]string{"custom": "http://127.0.0.1:1/a2a"})
	ag, err := reg.Resolve("custom")
	require.NoError(t, err)
	assert.IsType(t, &Remote{}, ag)
}
