package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dusk-indust/conductor/internal/orchestrator"
)

// Memory keeps deep copies of workflow states in a map.
type Memory struct {
	mu     sync.RWMutex
	states map[string]orchestrator.WorkflowState
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{states: make(map[string]orchestrator.WorkflowState)}
}

// Persist stores a copy of state, replacing any previous version.
func (m *Memory) Persist(_ context.Context, state orchestrator.WorkflowState) error {
	if state.SessionID == "" {
		return fmt.Errorf("store: persist: empty session id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.SessionID] = state.Clone()
	return nil
}

// Load returns a copy of the stored state.
func (m *Memory) Load(_ context.Context, sessionID string) (*orchestrator.WorkflowState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[sessionID]
	if !ok {
		return nil, fmt.Errorf("load %s: %w", sessionID, ErrNotFound)
	}
	c := st.Clone()
	return &c, nil
}

// List returns every stored state ordered by creation time.
func (m *Memory) List(_ context.Context) ([]orchestrator.WorkflowState, error) {
	m.mu.RLock()
	out := make([]orchestrator.WorkflowState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out, nil
}

// Delete removes a session. Deleting an unknown session is not an error.
func (m *Memory) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
	return nil
}
