// Package task holds the task registry and the runner that executes task
// graphs.
//
// Tasks are registered once at startup. A task names its dependencies and
// whether they run in series or in parallel; a task with no action is a pure
// composition. Because every dependency must already be registered, the graph
// is acyclic by construction.
package task

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/conneroisu/sitebuild/internal/errors"
)

// Mode selects how a task's dependencies are executed.
type Mode int

const (
	// Series runs dependencies one after another in declared order and stops
	// at the first failure.
	Series Mode = iota
	// Parallel starts all dependencies together and waits for all of them.
	Parallel
)

// String returns the string representation of the Mode
func (m Mode) String() string {
	switch m {
	case Series:
		return "series"
	case Parallel:
		return "parallel"
	default:
		return "unknown"
	}
}

// Action is the work a task performs once its dependencies have completed.
type Action func(ctx context.Context) error

// Task is a named unit of build work.
type Task struct {
	Name        string
	Description string
	Action      Action
	Deps        []string
	Mode        Mode
}

// Registry maps task names to tasks. It is safe for concurrent use.
type Registry struct {
	tasks map[string]*Task
	order []string
	mutex sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
	}
}

// Register adds t. It fails if the name is blank or taken, or if any
// dependency has not been registered yet.
func (r *Registry) Register(t Task) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if strings.TrimSpace(t.Name) == "" {
		return errors.ErrInvalidTaskName(t.Name)
	}
	if _, exists := r.tasks[t.Name]; exists {
		return errors.ErrDuplicateTask(t.Name)
	}
	for _, dep := range t.Deps {
		if _, ok := r.tasks[dep]; !ok {
			return errors.ErrUnknownDependency(t.Name, dep)
		}
	}

	stored := t
	stored.Deps = append([]string(nil), t.Deps...)
	r.tasks[t.Name] = &stored
	r.order = append(r.order, t.Name)
	return nil
}

// Series registers a composition running deps in order.
func (r *Registry) Series(name string, deps ...string) error {
	return r.Register(Task{Name: name, Deps: deps, Mode: Series})
}

// Parallel registers a composition running deps concurrently.
func (r *Registry) Parallel(name string, deps ...string) error {
	return r.Register(Task{Name: name, Deps: deps, Mode: Parallel})
}

// Get returns the task registered under name.
func (r *Registry) Get(name string) (Task, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	t, ok := r.tasks[name]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Names returns task names in registration order.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]string(nil), r.order...)
}

// Tasks returns all tasks in registration order.
func (r *Registry) Tasks() []Task {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]Task, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.tasks[name])
	}
	return out
}

// Validate checks the graph for cycles. Register already prevents them, so
// this only fails if the registry was assembled some other way.
func (r *Registry) Validate() error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(r.tasks))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			start := 0
			for i, n := range path {
				if n == name {
					start = i
					break
				}
			}
			cycle := append(append([]string(nil), path[start:]...), name)
			return errors.ErrDependencyCycle(cycle)
		case done:
			return nil
		}
		t, ok := r.tasks[name]
		if !ok {
			return errors.ErrUnknownTask(name)
		}
		state[name] = visiting
		path = append(path, name)
		for _, dep := range t.Deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[name] = done
		return nil
	}

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
