package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/dusk-indust/conductor/internal/fault"
)

// Gate holds open decision requests until they are answered or their
// deadline passes. Both paths produce an Outcome that is handed to the
// resolve callback exactly once per request.
type Gate struct {
	mu       sync.Mutex
	pending  map[string]*gateEntry
	resolved map[string]Outcome

	onResolve func(Outcome)
	now       func() time.Time
}

type gateEntry struct {
	req   DecisionRequest
	timer *time.Timer
}

// NewGate creates a Gate. onResolve runs outside the gate's lock and must
// not block.
func NewGate(onResolve func(Outcome)) *Gate {
	return &Gate{
		pending:   make(map[string]*gateEntry),
		resolved:  make(map[string]Outcome),
		onResolve: onResolve,
		now:       time.Now,
	}
}

// Open registers req and arms its deadline. A deadline already in the past
// resolves by default immediately.
func (g *Gate) Open(req DecisionRequest) {
	g.mu.Lock()
	if _, done := g.resolved[req.ID]; done {
		g.mu.Unlock()
		return
	}
	if old, ok := g.pending[req.ID]; ok && old.timer != nil {
		old.timer.Stop()
	}
	entry := &gateEntry{req: cloneRequest(req)}
	g.pending[req.ID] = entry

	if req.Deadline.IsZero() {
		g.mu.Unlock()
		return
	}
	wait := req.Deadline.Sub(g.now())
	if wait > 0 {
		entry.timer = time.AfterFunc(wait, func() { g.expire(req.ID) })
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.expire(req.ID)
}

// Resolve answers an open request. The first resolution wins; repeating it
// returns the stored outcome with no further effect. A response that fits
// none of the accepted shapes is a validation fault and leaves the request
// open with its original deadline.
func (g *Gate) Resolve(sessionID, requestID string, resp Response) (Outcome, error) {
	g.mu.Lock()
	if out, ok := g.resolved[requestID]; ok {
		g.mu.Unlock()
		if out.SessionID != sessionID {
			return Outcome{}, ErrDecisionMismatch
		}
		return out, nil
	}

	entry, ok := g.pending[requestID]
	if !ok || entry.req.SessionID != sessionID {
		g.mu.Unlock()
		return Outcome{}, ErrDecisionMismatch
	}
	if err := validateResponse(entry.req, resp); err != nil {
		g.mu.Unlock()
		return Outcome{}, err
	}

	out := g.settleLocked(entry, resp, false)
	g.mu.Unlock()

	g.notify(out)
	return out, nil
}

// Release disarms every open request of sessionID without resolving it.
func (g *Gate) Release(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, e := range g.pending {
		if e.req.SessionID != sessionID {
			continue
		}
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(g.pending, id)
	}
}

// Forget releases sessionID and drops its resolved outcomes.
func (g *Gate) Forget(sessionID string) {
	g.Release(sessionID)
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, out := range g.resolved {
		if out.SessionID == sessionID {
			delete(g.resolved, id)
		}
	}
}

func (g *Gate) expire(requestID string) {
	g.mu.Lock()
	entry, ok := g.pending[requestID]
	if !ok {
		g.mu.Unlock()
		return
	}
	out := g.settleLocked(entry, entry.req.Default, true)
	g.mu.Unlock()

	g.notify(out)
}

func (g *Gate) settleLocked(entry *gateEntry, resp Response, byDefault bool) Outcome {
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(g.pending, entry.req.ID)

	out := Outcome{
		RequestID:  entry.req.ID,
		SessionID:  entry.req.SessionID,
		Response:   cloneResponse(resp),
		ByDefault:  byDefault,
		ResolvedAt: g.now(),
	}
	g.resolved[entry.req.ID] = out
	return out
}

func (g *Gate) notify(out Outcome) {
	if g.onResolve != nil {
		g.onResolve(out)
	}
}

// validateResponse checks resp against the request's accepted shapes.
func validateResponse(req DecisionRequest, resp Response) error {
	if resp.Action == "" {
		return fault.Validationf("resolve decision", "response action is required")
	}
	for _, shape := range req.Accept {
		if shape.Action != resp.Action {
			continue
		}
		for _, field := range shape.Fields {
			if v, ok := resp.Data[field]; !ok || v == nil {
				return fault.Validationf("resolve decision", "action %q requires field %q", resp.Action, field)
			}
		}
		return nil
	}
	return fault.Validation("resolve decision", fmt.Errorf("action %q is not accepted at stage %s (accepts %v)", resp.Action, req.Stage, shapeActions(req.Accept)))
}

func shapeActions(shapes []ResponseShape) []string {
	out := make([]string, len(shapes))
	for i, s := range shapes {
		out[i] = s.Action
	}
	return out
}
