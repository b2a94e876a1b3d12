package orchestrator

import (
	"fmt"
	"sync"
	"time"
)

// EventKind names a session event.
type EventKind string

const (
	EventStageStarted      EventKind = "stage.started"
	EventStageCompleted    EventKind = "stage.completed"
	EventStageFailed       EventKind = "stage.failed"
	EventDecisionNeeded    EventKind = "decision.needed"
	EventDecisionResolved  EventKind = "decision.resolved"
	EventWorkflowCompleted EventKind = "workflow.completed"
	EventWorkflowFailed    EventKind = "workflow.failed"

	// EventStreamGap is synthesized per subscriber when its queue overflowed.
	EventStreamGap EventKind = "stream.gap"
)

// IsTerminal reports whether the kind ends a session's stream.
func (k EventKind) IsTerminal() bool {
	return k == EventWorkflowCompleted || k == EventWorkflowFailed
}

// Event is one progress notification for a session. Seq increases by one per
// published event within a session; a gap marker carries the Seq of the last
// event it replaced and how many were dropped.
type Event struct {
	Seq       uint64         `json:"seq"`
	Kind      EventKind      `json:"kind"`
	SessionID string         `json:"sessionId"`
	Time      time.Time      `json:"time"`
	Stage     string         `json:"stage,omitempty"`
	Attempt   int            `json:"attempt,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Dropped   int            `json:"dropped,omitempty"`
}

// ---------------------------------------------------------------------------
// Broadcaster
// ---------------------------------------------------------------------------

// Broadcaster fans session events out to subscribers. Every subscriber owns
// a bounded queue; a slow subscriber loses its oldest events to a gap marker
// and never slows the publisher or other subscribers.
type Broadcaster struct {
	mu     sync.Mutex
	topics map[string]*topic
	limit  int
	nextID uint64
	now    func() time.Time
}

type topic struct {
	seq    uint64
	subs   map[uint64]*Subscription
	closed bool
}

// NewBroadcaster creates a Broadcaster whose subscribers queue at most
// bufferSize events (minimum 2) besides a gap marker.
func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize < 2 {
		bufferSize = 2
	}
	return &Broadcaster{
		topics: make(map[string]*topic),
		limit:  bufferSize,
		now:    time.Now,
	}
}

func (b *Broadcaster) topicLocked(sessionID string) *topic {
	t, ok := b.topics[sessionID]
	if !ok {
		t = &topic{subs: make(map[uint64]*Subscription)}
		b.topics[sessionID] = t
	}
	return t
}

// Publish stamps ev with the session's next sequence number and enqueues it
// for every current subscriber. It never blocks on a subscriber. Events
// published after CloseSession are discarded.
func (b *Broadcaster) Publish(ev Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(ev.SessionID)
	if t.closed {
		return ev
	}
	t.seq++
	ev.Seq = t.seq
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	for _, sub := range t.subs {
		sub.push(ev)
	}
	return ev
}

// Subscribe registers a subscriber for sessionID. Events published before
// the call are not replayed. Subscribing to a closed session yields an
// already-closed channel.
func (b *Broadcaster) Subscribe(sessionID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		ID:        b.nextID,
		SessionID: sessionID,
		b:         b,
		limit:     b.limit,
		notify:    make(chan struct{}, 1),
		out:       make(chan Event),
		done:      make(chan struct{}),
	}
	t := b.topicLocked(sessionID)
	if t.closed {
		sub.draining = true
	} else {
		t.subs[sub.ID] = sub
	}
	go sub.pump()
	return sub
}

// CloseSession stops accepting events for sessionID. Subscribers receive
// what is already queued and then see their channel close.
func (b *Broadcaster) CloseSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(sessionID)
	if t.closed {
		return
	}
	t.closed = true
	for id, sub := range t.subs {
		sub.drain()
		delete(t.subs, id)
	}
}

// Forget drops all bookkeeping for sessionID, closing any subscribers
// immediately.
func (b *Broadcaster) Forget(sessionID string) {
	b.mu.Lock()
	t, ok := b.topics[sessionID]
	delete(b.topics, sessionID)
	b.mu.Unlock()
	if !ok {
		return
	}
	for _, sub := range t.subs {
		sub.stop()
	}
}

// Subscribers returns the number of live subscribers for sessionID.
func (b *Broadcaster) Subscribers(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[sessionID]; ok {
		return len(t.subs)
	}
	return 0
}

func (b *Broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[sub.SessionID]; ok {
		delete(t.subs, sub.ID)
	}
}

// ---------------------------------------------------------------------------
// Subscription
// ---------------------------------------------------------------------------

// Subscription is one consumer's view of a session's events.
type Subscription struct {
	ID        uint64
	SessionID string

	b     *Broadcaster
	limit int

	mu       sync.Mutex
	queue    []Event
	draining bool
	stopped  bool

	notify   chan struct{}
	out      chan Event
	done     chan struct{}
	stopOnce sync.Once
}

// Events returns the delivery channel. It is closed after the session
// closes and the queue drains, or after Close.
func (s *Subscription) Events() <-chan Event {
	return s.out
}

// Close unsubscribes and discards anything still queued. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.b.unsubscribe(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) drain() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// push enqueues ev. When the queue is full the oldest event is dropped: the
// head of the queue becomes (or stays) a gap marker counting the losses.
func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.stopped || s.draining {
		s.mu.Unlock()
		return
	}

	held := len(s.queue)
	hasGap := held > 0 && s.queue[0].Kind == EventStreamGap
	if hasGap {
		held--
	}
	if held >= s.limit {
		if hasGap {
			s.queue[0].Dropped++
			s.queue[0].Seq = s.queue[1].Seq
			s.queue = append(s.queue[:1], s.queue[2:]...)
		} else {
			dropped := s.queue[0]
			s.queue[0] = Event{
				Seq:       dropped.Seq,
				Kind:      EventStreamGap,
				SessionID: s.SessionID,
				Time:      ev.Time,
				Dropped:   1,
			}
		}
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
}

// pump moves queued events to the delivery channel.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			draining := s.draining
			s.mu.Unlock()
			if draining {
				return
			}
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

// FormatEvent renders an event as a one-line status update.
func FormatEvent(ev Event) string {
	switch ev.Kind {
	case EventStageStarted:
		if ev.Attempt > 1 {
			return fmt.Sprintf("  ● %s (attempt %d)...", ev.Stage, ev.Attempt)
		}
		return fmt.Sprintf("  ● %s...", ev.Stage)
	case EventStageCompleted:
		return fmt.Sprintf("  ✓ %s complete", ev.Stage)
	case EventStageFailed:
		return fmt.Sprintf("  ✗ %s failed (%v): %v", ev.Stage, ev.Payload["action"], ev.Payload["error"])
	case EventDecisionNeeded:
		return fmt.Sprintf("  ? %s needs a decision [%s]: %v", ev.Stage, ev.RequestID, ev.Payload["prompt"])
	case EventDecisionResolved:
		if byDefault, _ := ev.Payload["by_default"].(bool); byDefault {
			return fmt.Sprintf("  → %s resolved by default: %v", ev.Stage, ev.Payload["action"])
		}
		return fmt.Sprintf("  → %s resolved: %v", ev.Stage, ev.Payload["action"])
	case EventWorkflowCompleted:
		return "  ✓ workflow complete"
	case EventWorkflowFailed:
		return fmt.Sprintf("  ✗ workflow failed after %q: %v", ev.Payload["last_completed_stage"], ev.Payload["reason"])
	case EventStreamGap:
		return fmt.Sprintf("  … %d events dropped", ev.Dropped)
	default:
		return fmt.Sprintf("  ? %s (unknown event)", ev.Kind)
	}
}
