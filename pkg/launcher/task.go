package launcher

import (
	"errors"
	"sync"
	"time"

	"github.com/vango-dev/mushroom/pkg/dispatch"
)

// ErrTaskPanicked wraps the value recovered from a panicking task.
var ErrTaskPanicked = errors.New("launcher: task panicked")

// ExitReason describes why a task stopped.
type ExitReason int

const (
	// ExitNone means the task is still running.
	ExitNone ExitReason = iota

	// ExitReturned means the function returned without error.
	ExitReturned

	// ExitError means the function returned an error.
	ExitError

	// ExitPanic means the function panicked.
	ExitPanic

	// ExitCanceled means the function stopped after its context was canceled.
	ExitCanceled
)

// String returns the string representation of ExitReason.
func (r ExitReason) String() string {
	switch r {
	case ExitNone:
		return "running"
	case ExitReturned:
		return "returned"
	case ExitError:
		return "error"
	case ExitPanic:
		return "panic"
	case ExitCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Task is the handle of one launched scheduled function.
type Task struct {
	// Name is the qualified name of the scheduled entry.
	Name string

	entry *dispatch.Entry
	done  chan struct{}

	mu      sync.Mutex
	started time.Time
	ended   time.Time
	reason  ExitReason
	err     error
}

func newTask(entry *dispatch.Entry) *Task {
	return &Task{
		Name:  entry.QualifiedName,
		entry: entry,
		done:  make(chan struct{}),
	}
}

func (t *Task) markStarted() {
	t.mu.Lock()
	t.started = time.Now()
	t.mu.Unlock()
}

func (t *Task) finish(reason ExitReason, err error) {
	t.mu.Lock()
	t.ended = time.Now()
	if t.started.IsZero() {
		t.started = t.ended
	}
	t.reason = reason
	t.err = err
	t.mu.Unlock()
}

func (t *Task) close() {
	close(t.done)
}

// Done is closed when the task exits.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Running reports whether the task has not exited yet.
func (t *Task) Running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Err returns the error the task exited with, or nil while it runs or
// after a clean return.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Reason returns why the task exited.
func (t *Task) Reason() ExitReason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Elapsed returns how long the task has been running, or ran for.
func (t *Task) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started.IsZero() {
		return 0
	}
	if t.ended.IsZero() {
		return time.Since(t.started)
	}
	return t.ended.Sub(t.started)
}
