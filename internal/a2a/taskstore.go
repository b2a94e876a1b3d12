package a2a

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Sentinel errors mapped to the A2A-specific JSON-RPC codes.
var (
	ErrTaskNotFound      = errors.New("a2a: task not found")
	ErrTaskNotCancelable = errors.New("a2a: task not cancelable")
)

// NewTaskID generates a random task identifier.
func NewTaskID() string {
	return uuid.NewString()
}

// TaskStore is a concurrency-safe in-memory store for agent-side task
// tracking. It keeps at most limit tasks, evicting the oldest terminal ones
// first.
type TaskStore struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	orderIDs []string
	limit    int
}

// NewTaskStore returns a TaskStore holding at most limit tasks. A limit of
// zero or less means unbounded.
func NewTaskStore(limit int) *TaskStore {
	return &TaskStore{
		tasks: make(map[string]*Task),
		limit: limit,
	}
}

// Create stores a new task. It returns an error if a task with the same ID
// already exists.
func (s *TaskStore) Create(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("a2a: task %q already exists", task.ID)
	}
	s.tasks[task.ID] = &task
	s.orderIDs = append(s.orderIDs, task.ID)
	s.evictLocked()
	return nil
}

// Get returns a deep copy of the task with the given ID.
func (s *TaskStore) Get(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	return deepCopyTask(t), nil
}

// Update applies fn to the stored task under a write lock and returns a copy
// of the result.
func (s *TaskStore) Update(id string, fn func(*Task)) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	fn(t)
	return deepCopyTask(t), nil
}

// Len returns the number of tracked tasks.
func (s *TaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

func (s *TaskStore) evictLocked() {
	if s.limit <= 0 || len(s.tasks) <= s.limit {
		return
	}
	kept := s.orderIDs[:0]
	for _, id := range s.orderIDs {
		if len(s.tasks) > s.limit && s.tasks[id].Status.State.IsTerminal() {
			delete(s.tasks, id)
			continue
		}
		kept = append(kept, id)
	}
	s.orderIDs = kept
}

// deepCopyTask round-trips the task through JSON so callers never share
// slices or raw messages with the store.
func deepCopyTask(t *Task) *Task {
	data, err := json.Marshal(t)
	if err != nil {
		cp := *t
		return &cp
	}
	var cp Task
	if err := json.Unmarshal(data, &cp); err != nil {
		cp = *t
	}
	return &cp
}
