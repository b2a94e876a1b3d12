package orchestrator

import (
	"time"

	"github.com/dusk-indust/conductor/internal/fault"
)

// RecoveryAction is what the executor does after a stage fails.
type RecoveryAction string

const (
	ActionRetry   RecoveryAction = "retry"
	ActionDegrade RecoveryAction = "degrade"
	ActionFatal   RecoveryAction = "fatal"
)

// Recovery is the policy's verdict for one failed attempt.
type Recovery struct {
	Action  RecoveryAction
	Backoff time.Duration
	Kind    fault.Kind
}

// Policy maps a stage failure to a recovery action. It holds no state; the
// executor owns attempt counting.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// NewPolicy builds a Policy from engine settings.
func NewPolicy(cfg Config) Policy {
	cfg = cfg.withDefaults()
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffMax:  cfg.BackoffMax,
	}
}

// Classify decides how to handle err raised by attempt number attempt
// (1-based) of stage.
//
// Transient faults retry until the stage's attempt budget is spent, then
// become fatal. Validation and internal faults are always fatal. Anything
// else degrades an optional stage and fails a required one.
func (p Policy) Classify(stage StageDescriptor, err error, attempt int) Recovery {
	kind := fault.KindOf(err)
	if fault.IsRetryable(err) {
		if attempt < p.maxAttempts(stage) {
			return Recovery{Action: ActionRetry, Backoff: p.backoff(attempt), Kind: kind}
		}
		return Recovery{Action: ActionFatal, Kind: kind}
	}

	switch kind {
	case fault.KindValidation, fault.KindInternal, fault.KindCanceled:
		return Recovery{Action: ActionFatal, Kind: kind}
	default:
		if stage.Optional {
			return Recovery{Action: ActionDegrade, Kind: kind}
		}
		return Recovery{Action: ActionFatal, Kind: kind}
	}
}

func (p Policy) maxAttempts(stage StageDescriptor) int {
	if stage.MaxAttempts > 0 {
		return stage.MaxAttempts
	}
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 1
}

// backoff returns base·2^(attempt-1), capped at BackoffMax.
func (p Policy) backoff(attempt int) time.Duration {
	if p.BackoffBase <= 0 {
		return 0
	}
	d := p.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.BackoffMax > 0 && d >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if p.BackoffMax > 0 && d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}
