// Package taskgraph runs a small typed DAG of tasks: independent tasks run in
// parallel, a task starts only after every dependency succeeded, and the first
// failure cancels the rest.
package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrTaskExists        = errors.New("taskgraph: task already exists")
	ErrEmptyTaskName     = errors.New("taskgraph: task name must not be empty")
	ErrNilRun            = errors.New("taskgraph: task run function must not be nil")
	ErrForeignDependency = errors.New("taskgraph: dependency belongs to another graph")
	ErrCycleDetected     = errors.New("taskgraph: cycle detected")
	ErrMissingDependency = errors.New("taskgraph: missing dependency")
	ErrUndeclared        = errors.New("taskgraph: value of undeclared dependency")
)

// Graph is a set of named tasks and their dependencies.
type Graph struct {
	mu    sync.Mutex
	nodes map[string]*node
	order []string
}

func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// TaskFunc produces one typed result. Dependency values are read through deps.
type TaskFunc[T any] func(ctx context.Context, deps Resolver) (T, error)

// Handle references a task producing a value of type T.
type Handle[T any] struct {
	graph *Graph
	id    string
}

func (h *Handle[T]) ref() (*Graph, string) { return h.graph, h.id }

func (h *Handle[T]) ID() string { return h.id }

// Value reads the task's typed result from a resolver.
func (h *Handle[T]) Value(res Resolver) (T, error) {
	var zero T
	if res == nil {
		return zero, fmt.Errorf("taskgraph: nil resolver for task %s", h.id)
	}
	v, err := res.value(h.id)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("taskgraph: task %s produced %T", h.id, v)
	}
	return out, nil
}

// Reference marks values usable as dependencies.
type Reference interface {
	ref() (*Graph, string)
}

type taskConfig struct {
	deps []Reference
}

type TaskOption func(*taskConfig)

// DependsOn declares task dependencies.
func DependsOn(refs ...Reference) TaskOption {
	return func(cfg *taskConfig) {
		cfg.deps = append(cfg.deps, refs...)
	}
}

type runFunc func(context.Context, Resolver) (any, error)

type node struct {
	id   string
	deps []string
	run  runFunc
}

// AddTask registers a task under a unique name.
func AddTask[T any](g *Graph, name string, run TaskFunc[T], opts ...TaskOption) (*Handle[T], error) {
	if g == nil {
		return nil, errors.New("taskgraph: nil graph")
	}
	if name == "" {
		return nil, ErrEmptyTaskName
	}
	if run == nil {
		return nil, ErrNilRun
	}

	cfg := taskConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrTaskExists, name)
	}

	seen := make(map[string]struct{}, len(cfg.deps))
	deps := make([]string, 0, len(cfg.deps))
	for _, ref := range cfg.deps {
		owner, id := ref.ref()
		if owner != g {
			return nil, fmt.Errorf("%w (%s)", ErrForeignDependency, id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		deps = append(deps, id)
	}

	g.nodes[name] = &node{
		id:   name,
		deps: deps,
		run: func(ctx context.Context, r Resolver) (any, error) {
			return run(ctx, r)
		},
	}
	g.order = append(g.order, name)
	return &Handle[T]{graph: g, id: name}, nil
}

// Validate checks the graph is acyclic with every dependency defined.
func (g *Graph) Validate() error {
	_, err := g.sort()
	return err
}

// sort returns the tasks in a dependency-respecting order (Kahn's algorithm,
// ties broken by insertion order).
func (g *Graph) sort() ([]*node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	indegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for _, id := range g.order {
		n := g.nodes[id]
		for _, dep := range n.deps {
			if _, ok := g.nodes[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrMissingDependency, id, dep)
			}
			dependents[dep] = append(dependents[dep], id)
			indegree[id]++
		}
	}

	var queue []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	out := make([]*node, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		out = append(out, g.nodes[id])
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(out) != len(g.nodes) {
		return nil, ErrCycleDetected
	}
	return out, nil
}
