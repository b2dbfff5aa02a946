package taskgraph

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// now is overridden in tests to provide deterministic timings.
var now = time.Now

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// PanicError wraps a panic recovered from a task.
type PanicError struct {
	TaskID string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("taskgraph: panic in task %s: %v", e.TaskID, e.Value)
}

// TaskError names the task whose failure ended the run.
type TaskError struct {
	TaskID string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Event describes a task transition for hooks.
type Event struct {
	TaskID   string
	Deps     []string
	Status   Status
	Started  time.Time
	Duration time.Duration
	Err      error
}

type HookFunc func(context.Context, Event)

// Hooks are optional lifecycle callbacks. They run on the task's goroutine.
type Hooks struct {
	OnStart  HookFunc
	OnFinish HookFunc
}

// Metrics summarises one run.
type Metrics struct {
	StartedAt      time.Time
	Duration       time.Duration
	MaxConcurrency int
	TasksTotal     int
	TasksSucceeded int
	TasksFailed    int
	TasksSkipped   int
}

type Option func(*options)

type options struct {
	concurrency int64
	hooks       Hooks
}

// WithConcurrency bounds the number of tasks running at once. Zero or less means unbounded.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = int64(n)
	}
}

func WithHooks(h Hooks) Option {
	return func(o *options) {
		o.hooks = h
	}
}

// Run executes the graph and blocks until every task finished or was skipped.
// The first failure cancels the context seen by running tasks, and tasks
// downstream of it never start. The returned error is that first failure.
func (g *Graph) Run(ctx context.Context, opts ...Option) (*Results, Metrics, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	order, err := g.sort()
	if err != nil {
		return nil, Metrics{}, err
	}

	results := newResults(order)
	m := Metrics{StartedAt: now(), TasksTotal: len(order)}

	limit := o.concurrency
	if limit <= 0 {
		limit = int64(len(order))
	}
	sem := semaphore.NewWeighted(max(limit, 1))

	done := make(map[string]chan struct{}, len(order))
	for _, n := range order {
		done[n.id] = make(chan struct{})
	}

	var (
		mu      sync.Mutex
		running int
	)
	track := func(delta int) {
		mu.Lock()
		defer mu.Unlock()
		running += delta
		m.MaxConcurrency = max(m.MaxConcurrency, running)
	}

	eg, runCtx := errgroup.WithContext(ctx)
	for _, n := range order {
		eg.Go(func() error {
			defer close(done[n.id])

			for _, dep := range n.deps {
				select {
				case <-done[dep]:
				case <-runCtx.Done():
				}
				if results.Status(dep) != StatusSucceeded {
					results.set(n.id, StatusSkipped, nil, nil)
					return nil
				}
			}

			if err := sem.Acquire(runCtx, 1); err != nil {
				results.set(n.id, StatusSkipped, nil, nil)
				return nil
			}
			defer sem.Release(1)

			track(1)
			defer track(-1)

			ev := Event{TaskID: n.id, Deps: n.deps, Status: StatusRunning, Started: now()}
			results.set(n.id, StatusRunning, nil, nil)
			if o.hooks.OnStart != nil {
				o.hooks.OnStart(runCtx, ev)
			}

			val, err := runTask(runCtx, n, results.view(n))

			ev.Duration = now().Sub(ev.Started)
			ev.Err = err
			if err != nil {
				ev.Status = StatusFailed
			} else {
				ev.Status = StatusSucceeded
			}
			results.set(n.id, ev.Status, val, err)
			if o.hooks.OnFinish != nil {
				o.hooks.OnFinish(runCtx, ev)
			}

			if err != nil {
				return &TaskError{TaskID: n.id, Err: err}
			}
			return nil
		})
	}

	runErr := eg.Wait()

	m.Duration = now().Sub(m.StartedAt)
	for _, n := range order {
		switch results.Status(n.id) {
		case StatusSucceeded:
			m.TasksSucceeded++
		case StatusFailed:
			m.TasksFailed++
		default:
			m.TasksSkipped++
		}
	}

	if runErr == nil {
		// A parent cancellation skips tasks without failing any of them.
		if err := ctx.Err(); err != nil && m.TasksSkipped > 0 {
			runErr = err
		}
	}
	return results, m, runErr
}

func runTask(ctx context.Context, n *node, deps Resolver) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{TaskID: n.id, Value: r, Stack: debug.Stack()}
		}
	}()
	return n.run(ctx, deps)
}
