// Package api exposes the orchestrator's control interface as JSON-RPC 2.0
// over HTTP and its event stream as Server-Sent Events, together with a Go
// client for both.
package api

import (
	"errors"

	"github.com/dusk-indust/conductor/internal/a2a"
	"github.com/dusk-indust/conductor/internal/fault"
	"github.com/dusk-indust/conductor/internal/orchestrator"
)

// Control method names.
const (
	MethodStartSession    = "session/start"
	MethodSubmitInput     = "session/input"
	MethodResolveDecision = "decision/resolve"
	MethodCancelSession   = "session/cancel"
	MethodGetSession      = "session/get"
	MethodListSessions    = "session/list"
	MethodCloseSession    = "session/close"
)

// Control error codes beyond the standard JSON-RPC set.
const (
	ErrCodeSessionNotFound  = -32001
	ErrCodeSessionTerminal  = -32002
	ErrCodeDecisionMismatch = -32003
)

// Routes.
const (
	RPCPath    = "/v1/rpc"
	eventsPath = "/v1/sessions/{id}/events"
)

// StartParams are the params of session/start.
type StartParams struct {
	Inputs []orchestrator.Input `json:"inputs,omitempty"`
}

// StartResult is the result of session/start.
type StartResult struct {
	SessionID string `json:"sessionId"`
}

// SessionParams address a single session.
type SessionParams struct {
	SessionID string `json:"sessionId"`
}

// InputParams are the params of session/input.
type InputParams struct {
	SessionID string             `json:"sessionId"`
	Input     orchestrator.Input `json:"input"`
}

// ResolveParams are the params of decision/resolve.
type ResolveParams struct {
	SessionID string                `json:"sessionId"`
	RequestID string                `json:"requestId"`
	Response  orchestrator.Response `json:"response"`
}

// Ack is the result of calls that return nothing else.
type Ack struct {
	OK bool `json:"ok"`
}

// errorCode maps a control rejection onto its JSON-RPC code.
func errorCode(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		return ErrCodeSessionNotFound
	case errors.Is(err, orchestrator.ErrSessionTerminal):
		return ErrCodeSessionTerminal
	case errors.Is(err, orchestrator.ErrDecisionMismatch):
		return ErrCodeDecisionMismatch
	case fault.KindOf(err) == fault.KindValidation:
		return a2a.ErrCodeInvalidParams
	default:
		return a2a.ErrCodeInternal
	}
}

// codeError maps a JSON-RPC error back onto the sentinel it was built from
// so callers can use errors.Is on the client side.
func codeError(rpcErr *a2a.RPCError) error {
	switch rpcErr.Code {
	case ErrCodeSessionNotFound:
		return orchestrator.ErrSessionNotFound
	case ErrCodeSessionTerminal:
		return orchestrator.ErrSessionTerminal
	case ErrCodeDecisionMismatch:
		return orchestrator.ErrDecisionMismatch
	case a2a.ErrCodeInvalidParams:
		return fault.Validation(rpcErr.Method, errors.New(rpcErr.Message))
	case a2a.ErrCodeInternal:
		return fault.Internal(rpcErr.Method, errors.New(rpcErr.Message))
	default:
		return nil
	}
}
