// Package launcher starts the scheduled functions of a dispatch table.
//
// Every scheduled entry runs exactly once, on its own worker, for as long as
// it wants to. Nothing is restarted. An exit of any kind is recorded on the
// task handle, logged and counted, so a task that dies early is visible
// instead of silently disappearing.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/mushroom/pkg/dispatch"
	"github.com/vango-dev/mushroom/pkg/plugin"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("launcher: already started")

	// ErrReleased is returned when Start is called after Release.
	ErrReleased = errors.New("launcher: released")
)

// Options configures a Launcher.
type Options struct {
	// Logger receives task lifecycle logs. Default: slog.Default().
	Logger *slog.Logger

	// Registerer registers the task metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer

	// Namespace prefixes metric names. Default: "mushroom".
	Namespace string

	// OnExit is called once for every task that stops, from the task's worker,
	// before the task's Done channel is closed.
	OnExit func(*Task)
}

// Launcher owns the workers running scheduled tasks.
type Launcher struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics

	mu       sync.Mutex
	pool     *ants.Pool
	tasks    []*Task
	started  bool
	released bool
}

// New creates a launcher. No workers exist until Start.
func New(opts Options) *Launcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Namespace == "" {
		opts.Namespace = "mushroom"
	}
	return &Launcher{
		opts:    opts,
		logger:  opts.Logger.With("component", "launcher"),
		metrics: newMetrics(opts.Namespace, opts.Registerer),
	}
}

// Start launches one task per scheduled entry of table and returns their
// handles in registration order. It returns once every task is running, so
// callers can rely on all tasks having begun before they start serving.
func (l *Launcher) Start(ctx context.Context, table *dispatch.Table, host plugin.Host) ([]*Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil, ErrReleased
	}
	if l.started {
		return nil, ErrAlreadyStarted
	}
	l.started = true

	entries := table.Scheduled()
	if len(entries) == 0 {
		l.logger.Debug("no scheduled functions")
		return nil, nil
	}

	pool, err := ants.NewPool(len(entries),
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			l.logger.Error("worker panic escaped task recovery", "panic", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("launcher: create pool: %w", err)
	}
	l.pool = pool

	var running sync.WaitGroup
	tasks := make([]*Task, 0, len(entries))
	for _, entry := range entries {
		task := newTask(entry)
		running.Add(1)
		if err := pool.Submit(func() {
			task.markStarted()
			l.metrics.running.Inc()
			running.Done()
			l.run(ctx, host, task)
		}); err != nil {
			running.Done()
			task.finish(ExitError, fmt.Errorf("launcher: submit %s: %w", entry.QualifiedName, err))
			l.report(task)
			task.close()
		}
		tasks = append(tasks, task)
	}
	running.Wait()

	l.tasks = tasks
	l.logger.Info("scheduled functions started", "count", len(tasks))

	out := make([]*Task, len(tasks))
	copy(out, tasks)
	return out, nil
}

func (l *Launcher) run(ctx context.Context, host plugin.Host, task *Task) {
	reason, err := ExitReturned, error(nil)
	defer func() {
		if r := recover(); r != nil {
			reason, err = ExitPanic, fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
		l.metrics.running.Dec()
		task.finish(reason, err)
		l.report(task)
		task.close()
	}()

	err = task.entry.Run(ctx, host)
	switch {
	case ctx.Err() != nil && (err == nil || errors.Is(err, ctx.Err())):
		reason = ExitCanceled
	case err != nil:
		reason = ExitError
	}
}

func (l *Launcher) report(task *Task) {
	l.metrics.exits.WithLabelValues(task.Name, task.Reason().String()).Inc()

	attrs := []any{
		"task", task.Name,
		"reason", task.Reason().String(),
		"ran", task.Elapsed().Round(time.Millisecond),
	}
	switch task.Reason() {
	case ExitCanceled:
		l.logger.Debug("scheduled function stopped", attrs...)
	case ExitReturned:
		l.logger.Warn("scheduled function returned", attrs...)
	default:
		l.logger.Error("scheduled function failed", append(attrs, "error", task.Err())...)
	}

	if l.opts.OnExit != nil {
		l.opts.OnExit(task)
	}
}

// Tasks returns the handles of every launched task.
func (l *Launcher) Tasks() []*Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Task, len(l.tasks))
	copy(out, l.tasks)
	return out
}

// Running returns the number of tasks that have not exited.
func (l *Launcher) Running() int {
	n := 0
	for _, t := range l.Tasks() {
		if t.Running() {
			n++
		}
	}
	return n
}

// Release frees the worker pool. Tasks still running are not interrupted;
// cancel the context passed to Start to stop them.
func (l *Launcher) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	if l.pool != nil {
		l.pool.Release()
	}
}
