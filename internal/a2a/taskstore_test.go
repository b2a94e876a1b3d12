package a2a

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStore_CreateGetUpdate(t *testing.T) {
	s := NewTaskStore(0)
	require.NoError(t, s.Create(Task{ID: "a", Status: TaskStatus{State: TaskStateWorking}}))
	assert.Error(t, s.Create(Task{ID: "a"}))

	got, err := s.Get("a")
	require.NoError(t, err)
	got.Status.State = TaskStateFailed

	again, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, TaskStateWorking, again.Status.State, "Get must return a copy")

	updated, err := s.Update("a", func(t *Task) { t.Status.State = TaskStateCompleted })
	require.NoError(t, err)
	assert.Equal(t, TaskStateCompleted, updated.Status.State)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = s.Update("missing", func(*Task) {})
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskStore_EvictsOldestTerminal(t *testing.T) {
	s := NewTaskStore(2)
	require.NoError(t, s.Create(Task{ID: "running", Status: TaskStatus{State: TaskStateWorking}}))
	require.NoError(t, s.Create(Task{ID: "done-1", Status: TaskStatus{State: TaskStateCompleted}}))
	require.NoError(t, s.Create(Task{ID: "done-2", Status: TaskStatus{State: TaskStateCompleted}}))

	assert.Equal(t, 2, s.Len())
	_, err := s.Get("running")
	assert.NoError(t, err)
	_, err = s.Get("done-1")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = s.Get("done-2")
	assert.NoError(t, err)
}

func TestTaskStore_ConcurrentAccess(t *testing.T) {
	s := NewTaskStore(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := NewTaskID()
			assert.NoError(t, s.Create(Task{ID: id}))
			_, err := s.Update(id, func(t *Task) { t.Status.State = TaskStateCompleted })
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}
