package orchestrator

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const shardCount = 32

// Session is one live workflow. Its executor goroutine is the only writer of
// state; readers take snapshots.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu    sync.RWMutex
	state *WorkflowState

	mailbox *mailbox
	ctx     context.Context
	cancel  context.CancelFunc

	cancelled  atomic.Bool
	lastActive atomic.Int64
	quit       chan struct{}
	quitOnce   sync.Once
	done       chan struct{}
}

func newSession(parent context.Context, state *WorkflowState) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ID:        state.SessionID,
		CreatedAt: state.CreatedAt,
		state:     state,
		mailbox:   newMailbox(),
		ctx:       ctx,
		cancel:    cancel,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.touch(state.UpdatedAt)
	return s
}

// Snapshot returns a deep copy of the current state.
func (s *Session) Snapshot() WorkflowState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Phase
}

// Done is closed when the session's executor goroutine exits.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// update mutates state under the write lock and stamps UpdatedAt.
func (s *Session) update(now time.Time, fn func(*WorkflowState)) {
	s.mu.Lock()
	fn(s.state)
	s.state.UpdatedAt = now
	s.mu.Unlock()
	s.touch(now)
}

// stop makes the executor goroutine exit without a state transition.
func (s *Session) stop() {
	s.quitOnce.Do(func() { close(s.quit) })
	s.cancel()
}

func (s *Session) stopped() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (s *Session) touch(t time.Time) {
	s.lastActive.Store(t.UnixNano())
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// ---------------------------------------------------------------------------
// SessionStore
// ---------------------------------------------------------------------------

// SessionStore maps session IDs to live sessions. Keys are spread over
// independently locked shards so unrelated sessions never contend.
type SessionStore struct {
	shards [shardCount]*sessionShard
}

type sessionShard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore {
	st := &SessionStore{}
	for i := range st.shards {
		st.shards[i] = &sessionShard{sessions: make(map[string]*Session)}
	}
	return st
}

func (st *SessionStore) shardFor(id string) *sessionShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return st.shards[h.Sum32()%shardCount]
}

// Put stores sess. It returns false if the ID is already taken.
func (st *SessionStore) Put(sess *Session) bool {
	sh := st.shardFor(sess.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, exists := sh.sessions[sess.ID]; exists {
		return false
	}
	sh.sessions[sess.ID] = sess
	return true
}

// Get returns the session with the given ID.
func (st *SessionStore) Get(id string) (*Session, bool) {
	sh := st.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	sess, ok := sh.sessions[id]
	return sess, ok
}

// Delete removes and returns the session with the given ID.
func (st *SessionStore) Delete(id string) (*Session, bool) {
	sh := st.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.sessions[id]
	if ok {
		delete(sh.sessions, id)
	}
	return sess, ok
}

// Len returns the number of stored sessions.
func (st *SessionStore) Len() int {
	n := 0
	for _, sh := range st.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// all returns every session ordered by creation time, then ID.
func (st *SessionStore) all() []*Session {
	var out []*Session
	for _, sh := range st.shards {
		sh.mu.RLock()
		for _, sess := range sh.sessions {
			out = append(out, sess)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// List returns snapshots matching req in creation order.
//
// PageToken is the ID of the last session of the previous page; an unknown
// token yields an empty page. PageSize <= 0 returns everything.
func (st *SessionStore) List(req ListRequest) ListResponse {
	all := st.all()

	start := 0
	if req.PageToken != "" {
		start = len(all)
		for i, sess := range all {
			if sess.ID == req.PageToken {
				start = i + 1
				break
			}
		}
	}

	total := 0
	var matched []WorkflowState
	for i, sess := range all {
		snap := sess.Snapshot()
		if req.Phase != "" && snap.Phase != req.Phase {
			continue
		}
		total++
		if i >= start {
			matched = append(matched, snap)
		}
	}

	var next string
	if req.PageSize > 0 && len(matched) > req.PageSize {
		next = matched[req.PageSize-1].SessionID
		matched = matched[:req.PageSize]
	}
	if matched == nil {
		matched = []WorkflowState{}
	}
	return ListResponse{Sessions: matched, TotalSize: total, NextPageToken: next}
}

// ---------------------------------------------------------------------------
// mailbox
// ---------------------------------------------------------------------------

type triggerKind int

const (
	triggerInput triggerKind = iota
	triggerOutcome
	triggerContinue
	triggerCancel
)

// trigger is a unit of work for a session's executor goroutine.
type trigger struct {
	kind    triggerKind
	inputs  []Input
	outcome Outcome
}

// mailbox is an unbounded FIFO of triggers. Posting never blocks.
type mailbox struct {
	mu     sync.Mutex
	queue  []trigger
	wake   chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

// post appends t; it returns false once the mailbox is closed.
func (m *mailbox) post(t trigger) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, t)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// next blocks until a trigger is available or stop is closed.
func (m *mailbox) next(stop <-chan struct{}) (trigger, bool) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			t := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return t, true
		}
		m.mu.Unlock()
		select {
		case <-m.wake:
		case <-stop:
			return trigger{}, false
		}
	}
}

// takeInputs removes queued input triggers, keeping every other trigger in
// order, and returns their inputs.
func (m *mailbox) takeInputs() []Input {
	m.mu.Lock()
	defer m.mu.Unlock()
	var inputs []Input
	kept := m.queue[:0]
	for _, t := range m.queue {
		if t.kind == triggerInput {
			inputs = append(inputs, t.inputs...)
			continue
		}
		kept = append(kept, t)
	}
	m.queue = kept
	return inputs
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.queue = nil
	m.mu.Unlock()
}
