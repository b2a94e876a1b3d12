package orchestrator

import "time"

// Config holds runtime tuning for an Engine.
type Config struct {
	// EventBuffer is the per-subscriber queue length before events are
	// dropped in favour of a gap marker. Minimum 2.
	EventBuffer int

	// StageTimeout bounds one agent call unless the stage overrides it.
	StageTimeout time.Duration

	// MaxAttempts is the total number of tries a transiently failing stage
	// gets unless the stage overrides it.
	MaxAttempts int

	// BackoffBase and BackoffMax shape the exponential retry delay.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// DecisionTimeout is the default deadline of a decision gate.
	DecisionTimeout time.Duration

	// IdleTimeout expires sessions that are not running a stage. Zero
	// disables expiry.
	IdleTimeout time.Duration

	// MinConfidence is the lowest scorer confidence the classifier accepts.
	MinConfidence float64

	// ResumeConcurrency bounds how many persisted sessions Resume restores
	// at once.
	ResumeConcurrency int
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		EventBuffer:       64,
		StageTimeout:      2 * time.Minute,
		MaxAttempts:       3,
		BackoffBase:       500 * time.Millisecond,
		BackoffMax:        30 * time.Second,
		DecisionTimeout:   15 * time.Minute,
		IdleTimeout:       time.Hour,
		MinConfidence:     0.3,
		ResumeConcurrency: 8,
	}
}

// withDefaults fills zero fields from DefaultConfig. IdleTimeout is left
// alone so zero keeps meaning "never expire".
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EventBuffer < 2 {
		c.EventBuffer = d.EventBuffer
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = d.StageTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.DecisionTimeout <= 0 {
		c.DecisionTimeout = d.DecisionTimeout
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = d.MinConfidence
	}
	if c.ResumeConcurrency <= 0 {
		c.ResumeConcurrency = d.ResumeConcurrency
	}
	return c
}
