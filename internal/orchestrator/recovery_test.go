package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dusk-indust/conductor/internal/fault"
)

func TestPolicy_Classify(t *testing.T) {
	p := Policy{MaxAttempts: 3, BackoffBase: 100 * time.Millisecond, BackoffMax: time.Second}
	required := StageDescriptor{Name: "compute-takeoff"}
	optional := StageDescriptor{Name: "summarize", Optional: true}

	tests := []struct {
		name    string
		stage   StageDescriptor
		err     error
		attempt int
		want    RecoveryAction
	}{
		{"transient first attempt retries", required, fault.Transient("fetch", errors.New("503")), 1, ActionRetry},
		{"transient second attempt retries", required, fault.Transient("fetch", errors.New("503")), 2, ActionRetry},
		{"transient at cap is fatal", required, fault.Transient("fetch", errors.New("503")), 3, ActionFatal},
		{"validation is fatal", optional, fault.Validation("rows", errors.New("bad column")), 1, ActionFatal},
		{"internal is fatal on optional stage", optional, fault.Internal("agent", errors.New("panic")), 1, ActionFatal},
		{"unknown on optional degrades", optional, errors.New("model refused"), 1, ActionDegrade},
		{"unknown on required is fatal", required, errors.New("model refused"), 1, ActionFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Classify(tt.stage, tt.err, tt.attempt)
			assert.Equal(t, tt.want, got.Action)
		})
	}
}

func TestPolicy_StageOverridesMaxAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3}
	stage := StageDescriptor{Name: "fetch-sheet", MaxAttempts: 5}
	err := fault.Transient("fetch", errors.New("timeout"))

	assert.Equal(t, ActionRetry, p.Classify(stage, err, 4).Action)
	assert.Equal(t, ActionFatal, p.Classify(stage, err, 5).Action)
}

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{MaxAttempts: 10, BackoffBase: 100 * time.Millisecond, BackoffMax: time.Second}
	err := fault.Transient("fetch", errors.New("timeout"))
	stage := StageDescriptor{Name: "fetch-sheet"}

	assert.Equal(t, 100*time.Millisecond, p.Classify(stage, err, 1).Backoff)
	assert.Equal(t, 200*time.Millisecond, p.Classify(stage, err, 2).Backoff)
	assert.Equal(t, 400*time.Millisecond, p.Classify(stage, err, 3).Backoff)
	assert.Equal(t, 800*time.Millisecond, p.Classify(stage, err, 4).Backoff)
	assert.Equal(t, time.Second, p.Classify(stage, err, 5).Backoff)
	assert.Equal(t, time.Second, p.Classify(stage, err, 9).Backoff)
}
