package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/sitebuild/internal/errors"
	"github.com/conneroisu/sitebuild/internal/logging"
)

// Runner executes tasks from a registry.
type Runner struct {
	registry *Registry
	logger   logging.Logger
	metrics  *Metrics
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMetrics attaches prometheus metrics to the runner.
func WithMetrics(m *Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a runner over registry.
func NewRunner(registry *Registry, logger logging.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	r := &Runner{
		registry: registry,
		logger:   logger.WithComponent("runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the registry the runner executes from.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Run executes the named task after its dependencies. Within one call every
// reachable task runs at most once, however many dependents reference it.
func (r *Runner) Run(ctx context.Context, name string) error {
	if _, ok := r.registry.Get(name); !ok {
		return errors.ErrUnknownTask(name)
	}

	inv := &invocation{
		runner:  r,
		id:      uuid.NewString()[:8],
		results: make(map[string]*result),
	}
	inv.logger = r.logger.With("run", inv.id)

	perf := logging.StartOperation(inv.logger, name)
	err := inv.run(ctx, name)
	if err != nil {
		perf.EndWithError(ctx, err, "tasks", inv.count())
		return err
	}
	perf.End(ctx, "tasks", inv.count())
	return nil
}

// result is the memoized outcome of one task within an invocation.
type result struct {
	done chan struct{}
	err  error
}

// invocation is the state of a single Run call.
type invocation struct {
	runner  *Runner
	id      string
	logger  logging.Logger
	results map[string]*result
	mutex   sync.Mutex
}

func (inv *invocation) count() int {
	inv.mutex.Lock()
	defer inv.mutex.Unlock()
	return len(inv.results)
}

// run executes name once; concurrent and later callers wait for the first
// execution and share its outcome.
func (inv *invocation) run(ctx context.Context, name string) error {
	inv.mutex.Lock()
	if res, ok := inv.results[name]; ok {
		inv.mutex.Unlock()
		select {
		case <-res.done:
			return res.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	res := &result{done: make(chan struct{})}
	inv.results[name] = res
	inv.mutex.Unlock()

	res.err = inv.execute(ctx, name)
	close(res.done)
	return res.err
}

func (inv *invocation) execute(ctx context.Context, name string) error {
	t, ok := inv.runner.registry.Get(name)
	if !ok {
		return errors.ErrUnknownTask(name)
	}

	start := time.Now()
	err := inv.executeTask(ctx, t)
	inv.runner.metrics.observe(name, time.Since(start), err)
	return err
}

func (inv *invocation) executeTask(ctx context.Context, t Task) error {
	if err := inv.runDeps(ctx, t); err != nil {
		return err
	}
	if t.Action == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	inv.logger.Info(ctx, "Starting task", "task", t.Name)
	start := time.Now()
	if err := t.Action(ctx); err != nil {
		inv.logger.Error(ctx, err, "Task failed", "task", t.Name,
			"duration", time.Since(start).Round(time.Millisecond).String())
		if errors.IsTaskError(err) || errors.IsRegistrationError(err) || errors.IsBindError(err) {
			return err
		}
		return errors.NewTaskError(t.Name, err)
	}
	inv.logger.Info(ctx, "Finished task", "task", t.Name,
		"duration", time.Since(start).Round(time.Millisecond).String())
	return nil
}

func (inv *invocation) runDeps(ctx context.Context, t Task) error {
	if len(t.Deps) == 0 {
		return nil
	}

	if t.Mode == Parallel {
		// Siblings keep running after a failure; errgroup reports the first.
		var g errgroup.Group
		for _, dep := range t.Deps {
			g.Go(func() error {
				return inv.run(ctx, dep)
			})
		}
		return g.Wait()
	}

	for _, dep := range t.Deps {
		if err := inv.run(ctx, dep); err != nil {
			return err
		}
	}
	return nil
}
