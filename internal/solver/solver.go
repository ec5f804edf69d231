// Package solver defines the problem-specific capability worker nodes plug in
// and a Starlark-scripted implementation of it.
package solver

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrTimeout is returned by Solve when the computation was cut off.
var ErrTimeout = errors.New("solve timed out")

// Part is one task produced by dividing a problem.
type Part struct {
	Data   []byte
	TaskID uint64
}

// Solver splits, solves and merges one problem type.
type Solver interface {
	// Name is the problem type this solver handles, e.g. "TSP".
	Name() string

	// Divide splits data into tasks, using nodeCount as a hint for how many.
	Divide(data []byte, nodeCount int) ([]Part, error)

	// Solve computes one task. A zero timeout means no limit.
	Solve(ctx context.Context, data, commonData []byte, timeout time.Duration) ([]byte, error)

	// Merge combines the partial results of every task, in task order.
	Merge(partials [][]byte) ([]byte, error)
}

// Registry maps problem types to solvers. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	solvers map[string]Solver
}

// NewRegistry returns a registry holding the given solvers.
func NewRegistry(solvers ...Solver) *Registry {
	r := &Registry{solvers: make(map[string]Solver)}
	for _, s := range solvers {
		r.Add(s)
	}
	return r
}

// Add registers s under s.Name(), replacing any previous solver for that name.
func (r *Registry) Add(s Solver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.solvers[s.Name()] = s
}

// Lookup returns the solver for problemType.
func (r *Registry) Lookup(problemType string) (Solver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.solvers[problemType]
	return s, ok
}

// Names returns the registered problem types, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.solvers))
	for name := range r.solvers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}
