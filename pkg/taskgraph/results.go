package taskgraph

import (
	"fmt"
	"slices"
	"sync"
)

// Resolver gives a task read access to results.
type Resolver interface {
	value(id string) (any, error)
}

// Results holds every task's status and value after a run.
type Results struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	status Status
	value  any
	err    error
}

func newResults(order []*node) *Results {
	r := &Results{entries: make(map[string]*entry, len(order))}
	for _, n := range order {
		r.entries[n.id] = &entry{status: StatusPending}
	}
	return r
}

func (r *Results) set(id string, status Status, value any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[id]
	e.status = status
	e.value = value
	e.err = err
}

func (r *Results) Status(id string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[id]; ok {
		return e.status
	}
	return ""
}

func (r *Results) value(id string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingDependency, id)
	}
	if e.status == StatusFailed {
		return nil, &TaskError{TaskID: id, Err: e.err}
	}
	if e.status != StatusSucceeded {
		return nil, fmt.Errorf("taskgraph: task %s is %s", id, e.status)
	}
	return e.value, nil
}

// view restricts a task to the values of its declared dependencies.
func (r *Results) view(n *node) Resolver {
	return depView{results: r, deps: n.deps}
}

type depView struct {
	results *Results
	deps    []string
}

func (v depView) value(id string) (any, error) {
	if !slices.Contains(v.deps, id) {
		return nil, fmt.Errorf("%w: %s", ErrUndeclared, id)
	}
	return v.results.value(id)
}
