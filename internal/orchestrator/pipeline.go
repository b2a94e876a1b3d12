package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dusk-indust/conductor/internal/fault"
	"github.com/dusk-indust/conductor/internal/logging"
)

// Compile-time interface check.
var _ Orchestrator = (*Engine)(nil)

var errSessionStopped = errors.New("session stopped")

// Engine is the pipeline executor. It owns the session store, the decision
// gate and the event broadcaster, and runs one goroutine per live session
// that drains the session's mailbox. That goroutine is the only writer of
// the session's WorkflowState and the only publisher of its events.
type Engine struct {
	cfg        Config
	classifier Classifier
	router     *Router
	storage    Storage
	log        *logging.Logger
	policy     Policy

	sessions *SessionStore
	events   *Broadcaster
	gate     *Gate

	now   func() time.Time
	newID func() string

	base    context.Context
	stopAll context.CancelFunc
	closing atomic.Bool
	wg      sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithClassifier replaces the default rule classifier.
func WithClassifier(c Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithStorage sets the persistence backend. Without one, state lives only in
// memory.
func WithStorage(s Storage) Option {
	return func(e *Engine) { e.storage = s }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides the session and decision ID source.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// NewEngine creates an Engine that plans with router and resolves stage
// agents through it.
func NewEngine(cfg Config, router *Router, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	base, stop := context.WithCancel(context.Background())

	e := &Engine{
		cfg:      cfg,
		router:   router,
		storage:  nopStorage{},
		log:      logging.NopLogger(),
		policy:   NewPolicy(cfg),
		sessions: NewSessionStore(),
		events:   NewBroadcaster(cfg.EventBuffer),
		now:      time.Now,
		newID:    uuid.NewString,
		base:     base,
		stopAll:  stop,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.classifier == nil {
		e.classifier = NewRuleClassifier(NewKeywordScorer(), cfg.MinConfidence)
	}
	e.gate = NewGate(e.deliverOutcome)
	e.gate.now = e.now
	e.events.now = e.now

	if cfg.IdleTimeout > 0 {
		e.wg.Add(1)
		go e.janitor(cfg.IdleTimeout)
	}
	return e
}

// Close stops every executor goroutine without changing session state, so
// persisted sessions can be resumed by another Engine.
func (e *Engine) Close() {
	if !e.closing.CompareAndSwap(false, true) {
		return
	}
	e.stopAll()
	for _, sess := range e.sessions.all() {
		sess.stop()
		e.gate.Release(sess.ID)
	}
	e.wg.Wait()
}

// ---------------------------------------------------------------------------
// Orchestrator interface
// ---------------------------------------------------------------------------

// StartSession implements Orchestrator.
func (e *Engine) StartSession(ctx context.Context, inputs ...Input) (string, error) {
	if e.closing.Load() {
		return "", fault.Internal("start session", errors.New("engine is shut down"))
	}
	for _, in := range inputs {
		if err := validateInput(in); err != nil {
			return "", err
		}
	}

	now := e.now()
	state := NewWorkflowState(e.newID(), now)
	if err := e.storage.Persist(ctx, state.Clone()); err != nil {
		return "", fault.Internal("start session", fmt.Errorf("persist: %w", err))
	}

	sess := newSession(e.base, state)
	if !e.sessions.Put(sess) {
		return "", fault.Internal("start session", fmt.Errorf("session id %q already in use", sess.ID))
	}
	e.spawn(sess)
	e.log.WithSession(sess.ID).Info("session started", "inputs", len(inputs))

	if len(inputs) > 0 {
		sess.mailbox.post(trigger{kind: triggerInput, inputs: append([]Input(nil), inputs...)})
	}
	return sess.ID, nil
}

// SubmitInput implements Orchestrator.
func (e *Engine) SubmitInput(_ context.Context, sessionID string, in Input) error {
	sess, ok := e.sessions.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if err := validateInput(in); err != nil {
		return err
	}
	if sess.Phase().IsTerminal() {
		return ErrSessionTerminal
	}
	if !sess.mailbox.post(trigger{kind: triggerInput, inputs: []Input{in}}) {
		return ErrSessionTerminal
	}
	return nil
}

// ResolveDecision implements Orchestrator.
func (e *Engine) ResolveDecision(_ context.Context, sessionID, requestID string, resp Response) (Outcome, error) {
	sess, ok := e.sessions.Get(sessionID)
	if !ok {
		return Outcome{}, ErrSessionNotFound
	}
	out, err := e.gate.Resolve(sessionID, requestID, resp)
	if errors.Is(err, ErrDecisionMismatch) && sess.Phase().IsTerminal() {
		return Outcome{}, ErrSessionTerminal
	}
	return out, err
}

// CancelSession implements Orchestrator.
func (e *Engine) CancelSession(_ context.Context, sessionID string) error {
	sess, ok := e.sessions.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if sess.Phase().IsTerminal() {
		return ErrSessionTerminal
	}
	if !sess.cancelled.CompareAndSwap(false, true) {
		return nil
	}
	sess.cancel()
	sess.mailbox.post(trigger{kind: triggerCancel})
	e.log.WithSession(sessionID).Info("session cancel requested")
	return nil
}

// Subscribe implements Orchestrator.
func (e *Engine) Subscribe(sessionID string) (*Subscription, error) {
	if _, ok := e.sessions.Get(sessionID); !ok {
		return nil, ErrSessionNotFound
	}
	return e.events.Subscribe(sessionID), nil
}

// State implements Orchestrator.
func (e *Engine) State(sessionID string) (WorkflowState, error) {
	sess, ok := e.sessions.Get(sessionID)
	if !ok {
		return WorkflowState{}, ErrSessionNotFound
	}
	return sess.Snapshot(), nil
}

// List implements Orchestrator.
func (e *Engine) List(req ListRequest) ListResponse {
	return e.sessions.List(req)
}

// Stats is a point-in-time count of live sessions.
type Stats struct {
	Sessions    int           `json:"sessions"`
	Subscribers int           `json:"subscribers"`
	Phases      map[Phase]int `json:"phases"`
}

// Stats counts the sessions held in memory, their phases and the event
// subscribers attached to them.
func (e *Engine) Stats() Stats {
	st := Stats{Sessions: e.sessions.Len(), Phases: make(map[Phase]int)}
	for _, sess := range e.sessions.all() {
		st.Phases[sess.Phase()]++
		st.Subscribers += e.events.Subscribers(sess.ID)
	}
	return st
}

// CloseSession implements Orchestrator. The session is removed from memory
// and storage; a running stage is abandoned.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) error {
	sess, ok := e.sessions.Delete(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	e.forget(sess)
	if err := e.storage.Delete(ctx, sessionID); err != nil {
		return fault.Internal("close session", fmt.Errorf("delete %s: %w", sessionID, err))
	}
	e.log.WithSession(sessionID).Info("session closed")
	return nil
}

func (e *Engine) forget(sess *Session) {
	sess.stop()
	sess.mailbox.close()
	e.gate.Forget(sess.ID)
	e.events.Forget(sess.ID)
}

func validateInput(in Input) error {
	switch in.Kind {
	case InputText, InputURL, InputFile, "":
	default:
		return fault.Validationf("input", "unknown input kind %q", in.Kind)
	}
	if strings.TrimSpace(in.Content) == "" {
		return fault.Validationf("input", "input content is empty")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Executor loop
// ---------------------------------------------------------------------------

func (e *Engine) spawn(sess *Session) {
	e.wg.Add(1)
	go e.run(sess)
}

// run drains the session's mailbox until the session becomes terminal or is
// stopped.
func (e *Engine) run(sess *Session) {
	defer e.wg.Done()
	defer close(sess.done)

	for {
		t, ok := sess.mailbox.next(sess.quit)
		if !ok {
			return
		}
		e.handle(sess, t)
		if sess.Phase().IsTerminal() {
			return
		}
	}
}

func (e *Engine) handle(sess *Session, t trigger) {
	if sess.stopped() {
		return
	}
	if sess.cancelled.Load() {
		e.failCancelled(sess)
		return
	}
	switch t.kind {
	case triggerInput:
		e.handleInput(sess, t.inputs)
	case triggerOutcome:
		e.handleOutcome(sess, t.outcome)
	case triggerContinue:
		e.advance(sess)
	}
}

func (e *Engine) handleInput(sess *Session, inputs []Input) {
	if sess.Phase() != PhaseIntake {
		sess.update(e.now(), func(s *WorkflowState) {
			s.Inputs = append(s.Inputs, inputs...)
		})
		if err := e.persist(sess); err != nil {
			e.failInternal(sess, "", err)
		}
		return
	}

	e.transition(sess, PhaseRouting, func(s *WorkflowState) {
		s.Inputs = append(s.Inputs, inputs...)
	})

	snap := sess.Snapshot()
	cls := e.classifier.Classify(sess.ctx, snap.Inputs)
	plan := e.router.Plan(cls.Intent)

	e.log.WithSession(sess.ID).Info("session routed",
		"intent", cls.Intent, "confidence", cls.Confidence, "rule", cls.Rule, "stages", plan.StageNames())

	e.transition(sess, PhaseRunningStage, func(s *WorkflowState) {
		s.Intent = cls.Intent
		s.Confidence = cls.Confidence
		s.Classification = cloneMap(cls.Metadata)
		s.Plan = plan
	})
	if err := e.persist(sess); err != nil {
		e.failInternal(sess, "", err)
		return
	}
	e.advance(sess)
}

func (e *Engine) handleOutcome(sess *Session, out Outcome) {
	snap := sess.Snapshot()
	if snap.Phase != PhaseAwaitingDecision || snap.Pending == nil || snap.Pending.ID != out.RequestID {
		e.log.WithSession(sess.ID).Debug("stale decision outcome ignored", "request", out.RequestID)
		return
	}
	stage := snap.Pending.Stage

	e.publish(sess, Event{
		Kind:      EventDecisionResolved,
		Stage:     stage,
		RequestID: out.RequestID,
		Payload: map[string]any{
			"action":     out.Response.Action,
			"by_default": out.ByDefault,
		},
	})

	var branch []StageDescriptor
	hasBranch := false
	if idx := len(snap.Completed) - 1; idx >= 0 && snap.Plan.Stages[idx].Checkpoint != nil {
		branch, hasBranch = snap.Plan.Stages[idx].Checkpoint.Branches[out.Response.Action]
	}

	e.transition(sess, PhaseRunningStage, func(s *WorkflowState) {
		s.Pending = nil
		s.Decisions = append(s.Decisions, DecisionRecord{Stage: stage, Outcome: out})
		if hasBranch {
			head := s.Plan.Stages[:len(s.Completed):len(s.Completed)]
			for _, sd := range branch {
				head = append(head, cloneDescriptor(sd))
			}
			s.Plan.Stages = head
		}
	})
	if err := e.persist(sess); err != nil {
		e.failInternal(sess, stage, err)
		return
	}
	e.advance(sess)
}

// advance runs stages until the plan is exhausted, a checkpoint pauses the
// session, or the session fails.
func (e *Engine) advance(sess *Session) {
	for {
		if sess.cancelled.Load() {
			e.failCancelled(sess)
			return
		}
		if inputs := sess.mailbox.takeInputs(); len(inputs) > 0 {
			sess.update(e.now(), func(s *WorkflowState) {
				s.Inputs = append(s.Inputs, inputs...)
			})
		}
		snap := sess.Snapshot()
		stage, ok := snap.NextStage()
		if !ok {
			e.complete(sess)
			return
		}
		if !e.runStage(sess, stage) {
			return
		}
	}
}

// runStage executes stage with retries. It reports whether the caller should
// move on to the next stage.
func (e *Engine) runStage(sess *Session, stage StageDescriptor) bool {
	log := e.log.WithSession(sess.ID).WithStage(stage.Name)

	for attempt := 1; ; attempt++ {
		e.transition(sess, PhaseRunningStage, nil)
		e.publish(sess, Event{Kind: EventStageStarted, Stage: stage.Name, Attempt: attempt})

		out, err := e.invoke(sess, stage)
		if err == nil {
			return e.stageSucceeded(sess, stage, out, attempt)
		}
		if sess.stopped() {
			return false
		}
		if sess.cancelled.Load() {
			e.failCancelled(sess)
			return false
		}

		e.transition(sess, PhaseRecovering, nil)
		rec := e.policy.Classify(stage, err, attempt)
		e.publish(sess, Event{
			Kind:    EventStageFailed,
			Stage:   stage.Name,
			Attempt: attempt,
			Payload: map[string]any{
				"action": string(rec.Action),
				"error":  err.Error(),
				"kind":   rec.Kind.String(),
			},
		})

		switch rec.Action {
		case ActionRetry:
			log.Warn("stage failed, retrying", "attempt", attempt, "backoff", rec.Backoff, "error", err)
			if !sleepCtx(sess.ctx, rec.Backoff) {
				if sess.cancelled.Load() {
					e.failCancelled(sess)
				}
				return false
			}
		case ActionDegrade:
			log.Warn("stage degraded", "attempt", attempt, "error", err)
			return e.stageDegraded(sess, stage, err, attempt)
		default:
			internal := fault.IsInternal(err)
			if internal {
				log.Error("stage failed with internal fault", "attempt", attempt, "error", err)
			} else {
				log.Warn("stage failed", "attempt", attempt, "error", err)
			}
			snap := sess.Snapshot()
			e.fail(sess, Failure{
				Kind:          rec.Kind.String(),
				Reason:        fmt.Sprintf("stage %s failed: %v", stage.Name, err),
				Stage:         stage.Name,
				LastCompleted: snap.LastCompleted(),
				Internal:      internal,
			})
			return false
		}
	}
}

type invokeResult struct {
	out map[string]any
	err error
}

// invoke assembles the stage input and calls its agent under the stage
// timeout. A panicking agent becomes an internal fault; an agent that
// ignores its context is abandoned when the timeout fires.
func (e *Engine) invoke(sess *Session, stage StageDescriptor) (map[string]any, error) {
	agent, err := e.router.Resolve(stage.Name)
	if err != nil {
		return nil, fault.Internal(stage.Name, err)
	}

	snap := sess.Snapshot()
	input := make(map[string]any, len(stage.Requires))
	for _, key := range stage.Requires {
		v, ok := snap.Lookup(key)
		if !ok {
			return nil, fault.Validationf(stage.Name, "required state key %q is missing", key)
		}
		input[key] = v
	}

	timeout := stage.Timeout
	if timeout <= 0 {
		timeout = e.cfg.StageTimeout
	}
	ctx, cancel := context.WithTimeout(sess.ctx, timeout)
	defer cancel()

	done := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invokeResult{err: fault.Internal(stage.Name, fmt.Errorf("agent panic: %v", r))}
			}
		}()
		out, err := agent.Invoke(ctx, input, snap)
		done <- invokeResult{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && sess.ctx.Err() != nil {
			return nil, fault.Canceled(stage.Name, r.err)
		}
		return r.out, r.err
	case <-ctx.Done():
		if sess.ctx.Err() != nil {
			return nil, fault.Canceled(stage.Name, sess.ctx.Err())
		}
		return nil, fault.Transient(stage.Name, fmt.Errorf("agent timed out after %s: %w", timeout, context.DeadlineExceeded))
	}
}

// stageSucceeded records the stage output. A checkpointed stage is written
// together with its pending decision so storage never holds the stage as
// completed without the decision it owes.
func (e *Engine) stageSucceeded(sess *Session, stage StageDescriptor, out map[string]any, attempt int) bool {
	var req *DecisionRequest
	phase := PhaseRunningStage
	if stage.Checkpoint != nil {
		r := e.decisionRequest(sess.ID, stage)
		req, phase = &r, PhaseAwaitingDecision
		// Armed before Pending becomes visible. Its outcome queues behind
		// this trigger, so the executor sees Pending set when it arrives.
		e.gate.Open(r)
	}

	e.transition(sess, phase, func(s *WorkflowState) {
		s.Outputs[stage.Name] = StageOutput{Data: cloneMap(out), Attempts: attempt}
		s.Completed = append(s.Completed, stage.Name)
		if req != nil {
			p := cloneRequest(*req)
			s.Pending = &p
		}
	})
	if err := e.persist(sess); err != nil {
		e.failInternal(sess, stage.Name, err)
		return false
	}

	e.publish(sess, Event{
		Kind:    EventStageCompleted,
		Stage:   stage.Name,
		Attempt: attempt,
		Payload: map[string]any{"keys": sortedKeys(out)},
	})

	if req != nil {
		e.announceDecision(sess, *req)
		return false
	}
	return true
}

// stageDegraded records an empty, flagged output for an optional stage and
// lets the workflow continue. A degraded stage never opens its checkpoint.
func (e *Engine) stageDegraded(sess *Session, stage StageDescriptor, cause error, attempt int) bool {
	warning := fmt.Sprintf("%s degraded: %v", stage.Name, cause)
	sess.update(e.now(), func(s *WorkflowState) {
		s.Outputs[stage.Name] = StageOutput{
			Data:     map[string]any{},
			Degraded: true,
			Warning:  warning,
			Attempts: attempt,
		}
		s.Completed = append(s.Completed, stage.Name)
		s.Warnings = append(s.Warnings, warning)
	})
	if err := e.persist(sess); err != nil {
		e.failInternal(sess, stage.Name, err)
		return false
	}
	return true
}

func (e *Engine) decisionRequest(sessionID string, stage StageDescriptor) DecisionRequest {
	cp := stage.Checkpoint
	timeout := cp.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DecisionTimeout
	}
	return DecisionRequest{
		ID:        e.newID(),
		SessionID: sessionID,
		Stage:     stage.Name,
		Prompt:    cp.Prompt,
		Accept:    cloneShapes(cp.Accept),
		Deadline:  e.now().Add(timeout),
		Default:   cloneResponse(cp.Default),
	}
}

func (e *Engine) announceDecision(sess *Session, req DecisionRequest) {
	e.publish(sess, Event{
		Kind:      EventDecisionNeeded,
		Stage:     req.Stage,
		RequestID: req.ID,
		Payload: map[string]any{
			"prompt":   req.Prompt,
			"accept":   shapeActions(req.Accept),
			"default":  req.Default.Action,
			"deadline": req.Deadline,
		},
	})
}

// deliverOutcome is the gate callback; it queues the outcome behind any
// trigger already waiting for the session.
func (e *Engine) deliverOutcome(out Outcome) {
	sess, ok := e.sessions.Get(out.SessionID)
	if !ok {
		return
	}
	sess.mailbox.post(trigger{kind: triggerOutcome, outcome: out})
}

// ---------------------------------------------------------------------------
// Terminal transitions
// ---------------------------------------------------------------------------

func (e *Engine) complete(sess *Session) {
	e.transition(sess, PhaseComplete, nil)
	if err := e.persist(sess); err != nil {
		e.failInternal(sess, "", err)
		return
	}
	snap := sess.Snapshot()
	e.publish(sess, Event{
		Kind:    EventWorkflowCompleted,
		Payload: map[string]any{"last_completed_stage": snap.LastCompleted()},
	})
	e.log.WithSession(sess.ID).Info("session complete", "stages", snap.Completed)
	e.finish(sess)
}

func (e *Engine) failCancelled(sess *Session) {
	snap := sess.Snapshot()
	e.fail(sess, Failure{
		Kind:          fault.KindCanceled.String(),
		Reason:        "cancelled",
		LastCompleted: snap.LastCompleted(),
	})
}

func (e *Engine) failInternal(sess *Session, stage string, err error) {
	if sess.stopped() {
		return
	}
	e.log.WithSession(sess.ID).Error("internal failure", "stage", stage, "error", err)
	snap := sess.Snapshot()
	e.fail(sess, Failure{
		Kind:          fault.KindInternal.String(),
		Reason:        err.Error(),
		Stage:         stage,
		LastCompleted: snap.LastCompleted(),
		Internal:      true,
	})
}

func (e *Engine) fail(sess *Session, f Failure) {
	if sess.stopped() || sess.Phase().IsTerminal() {
		return
	}
	e.transition(sess, PhaseFailed, func(s *WorkflowState) {
		s.Failure = &f
		s.Pending = nil
	})
	if err := e.persist(sess); err != nil {
		e.log.WithSession(sess.ID).Error("persist failed state", "error", err)
	}
	e.publish(sess, Event{
		Kind:  EventWorkflowFailed,
		Stage: f.Stage,
		Payload: map[string]any{
			"reason":               f.Reason,
			"kind":                 f.Kind,
			"last_completed_stage": f.LastCompleted,
			"internal":             f.Internal,
		},
	})
	e.log.WithSession(sess.ID).Info("session failed", "reason", f.Reason, "internal", f.Internal)
	e.finish(sess)
}

// finish releases per-session resources once a session is terminal. The
// session itself stays queryable until it is closed or expires.
func (e *Engine) finish(sess *Session) {
	sess.mailbox.close()
	e.gate.Release(sess.ID)
	e.events.CloseSession(sess.ID)
	sess.cancel()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (e *Engine) transition(sess *Session, phase Phase, fn func(*WorkflowState)) {
	var from Phase
	sess.update(e.now(), func(s *WorkflowState) {
		from = s.Phase
		s.Phase = phase
		if fn != nil {
			fn(s)
		}
	})
	if from != phase {
		e.log.WithSession(sess.ID).WithPhase(string(phase)).Debug("transition", "from", from)
	}
}

func (e *Engine) publish(sess *Session, ev Event) {
	ev.SessionID = sess.ID
	ev = e.events.Publish(ev)
	e.log.WithSession(sess.ID).Debug("event", "kind", ev.Kind, "seq", ev.Seq, "stage", ev.Stage)
}

func (e *Engine) persist(sess *Session) error {
	if sess.stopped() {
		return errSessionStopped
	}
	if err := e.storage.Persist(e.base, sess.Snapshot()); err != nil {
		return fault.Internal("persist", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// janitor evicts sessions that sit idle in intake or a terminal phase.
func (e *Engine) janitor(idle time.Duration) {
	defer e.wg.Done()

	interval := idle / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.base.Done():
			return
		case <-ticker.C:
			if n := e.ExpireIdle(e.now().Add(-idle)); n > 0 {
				e.log.Debug("expired idle sessions", "count", n)
			}
		}
	}
}

// ExpireIdle drops sessions in intake or a terminal phase whose last
// activity is before cutoff and returns how many were dropped. Expired
// intake sessions are also deleted from storage.
func (e *Engine) ExpireIdle(cutoff time.Time) int {
	n := 0
	for _, sess := range e.sessions.all() {
		phase := sess.Phase()
		if phase != PhaseIntake && !phase.IsTerminal() {
			continue
		}
		if !sess.idleSince().Before(cutoff) {
			continue
		}
		if _, ok := e.sessions.Delete(sess.ID); !ok {
			continue
		}
		e.forget(sess)
		if phase == PhaseIntake {
			if err := e.storage.Delete(e.base, sess.ID); err != nil {
				e.log.WithSession(sess.ID).Warn("delete expired session", "error", err)
			}
		}
		n++
	}
	return n
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// nopStorage is used when no Storage is configured.
type nopStorage struct{}

func (nopStorage) Persist(context.Context, WorkflowState) error { return nil }
func (nopStorage) Load(_ context.Context, id string) (*WorkflowState, error) {
	return nil, fmt.Errorf("session %s: not persisted", id)
}
func (nopStorage) List(context.Context) ([]WorkflowState, error) { return nil, nil }
func (nopStorage) Delete(context.Context, string) error          { return nil }
