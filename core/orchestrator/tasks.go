package orchestrator

import (
	"sync"
	"time"

	"study-orchestrator/core/models"
)

// Task is a handle on a background operation. Callers wait on it with a
// timeout instead of polling the load status in a sleep loop.
type Task struct {
	done chan struct{}
	err  error
}

// Wait blocks until the task completes or the timeout elapses
func (t *Task) Wait(timeout time.Duration) error {
	select {
	case <-t.done:
		return t.err
	case <-time.After(timeout):
		return models.NewStudyCaseError("timed out waiting for background operation", nil)
	}
}

// Done reports whether the task has completed
func (t *Task) Done() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func completedTask(err error) *Task {
	t := &Task{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

// TaskRegistry keeps at most one in-flight background task per key, the
// single-flight gate for study loading and dataset transfers
type TaskRegistry struct {
	mu       sync.Mutex
	inflight map[int64]*Task
}

// NewTaskRegistry creates an empty registry
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{inflight: make(map[int64]*Task)}
}

// StartIfAbsent dispatches fn in a goroutine unless a task for the key is
// already in flight. It returns the in-flight or new task, and whether a
// new one was started.
func (r *TaskRegistry) StartIfAbsent(key int64, fn func() error) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.inflight[key]; ok {
		return t, false
	}

	t := &Task{done: make(chan struct{})}
	r.inflight[key] = t

	go func() {
		t.err = fn()
		r.mu.Lock()
		delete(r.inflight, key)
		r.mu.Unlock()
		close(t.done)
	}()

	return t, true
}

// Get returns the in-flight task for a key, if any
func (r *TaskRegistry) Get(key int64) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.inflight[key]
	return t, ok
}
