// Package fault classifies failures raised while running pipeline stages.
//
// Every stage error is reduced to one of a small set of kinds so the
// recovery policy can decide between retrying, degrading and aborting
// without inspecting agent-specific error types:
//
//   - KindValidation: the input cannot satisfy the stage contract; never retried.
//   - KindTransient: timeouts, rate limits, flaky networks; retried with backoff.
//   - KindInternal: storage, broadcaster or a misbehaving agent; aborts the session.
//   - KindCanceled: the session was cancelled by its owner.
//   - KindUnknown: anything else; degraded or fatal depending on the stage.
//
// Errors are created with the constructors in this package and inspected
// with KindOf, IsRetryable and IsUserFacing.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is the failure class of an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindTransient
	KindInternal
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindInternal:
		return "internal"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String. Unrecognised names map to
// KindUnknown.
func ParseKind(s string) Kind {
	switch s {
	case "validation":
		return KindValidation
	case "transient":
		return KindTransient
	case "internal":
		return KindInternal
	case "canceled":
		return KindCanceled
	default:
		return KindUnknown
	}
}

// Error is a classified error. Op names the operation that failed
// (a stage name, "persist", "resolve" and so on).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	default:
		return e.Kind.String() + " error"
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind. A nil err still produces a non-nil
// *Error so callers can signal a bare kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation marks err as a contract violation by the caller or by stage input.
func Validation(op string, err error) *Error {
	return New(KindValidation, op, err)
}

// Validationf builds a validation error from a format string.
func Validationf(op, format string, args ...any) *Error {
	return New(KindValidation, op, fmt.Errorf(format, args...))
}

// Transient marks err as a retryable condition.
func Transient(op string, err error) *Error {
	return New(KindTransient, op, err)
}

// Internal marks err as a system failure distinct from business failures.
func Internal(op string, err error) *Error {
	return New(KindInternal, op, err)
}

// Canceled marks err as the result of a cancellation request.
func Canceled(op string, err error) *Error {
	return New(KindCanceled, op, err)
}

// KindOf reports the kind of err. Explicitly classified errors win; after
// that context and network errors are recognised; everything else is
// KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTransient
	}

	return KindUnknown
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// IsUserFacing reports whether err describes a problem with the request
// rather than with the system, so its message can be shown to a client.
func IsUserFacing(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindCanceled:
		return true
	default:
		return false
	}
}

// IsInternal reports whether err is a system failure.
func IsInternal(err error) bool {
	return KindOf(err) == KindInternal
}
