package watcher

import (
	"context"
	"sync"

	"github.com/conneroisu/sitebuild/internal/errors"
	"github.com/conneroisu/sitebuild/internal/logging"
)

// TaskRunner runs a named task.
type TaskRunner interface {
	Run(ctx context.Context, name string) error
}

type ruleState struct {
	running bool
	pending bool
}

// Trigger re-runs the task bound to a rule whenever a batch arrives.
//
// Runs for one rule never overlap. A batch that arrives while the rule's task
// is running marks the rule pending; however many batches arrive, exactly one
// more run starts once the current one completes.
type Trigger struct {
	runner  TaskRunner
	logger  logging.Logger
	handler *errors.ErrorHandler
	states  map[string]*ruleState
	wg      sync.WaitGroup
	mutex   sync.Mutex
}

// NewTrigger creates a trigger running tasks on runner.
func NewTrigger(runner TaskRunner, logger logging.Logger) *Trigger {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("watcher")
	return &Trigger{
		runner:  runner,
		logger:  logger,
		handler: errors.NewErrorHandler(logger),
		states:  make(map[string]*ruleState),
	}
}

// Fire requests a run for rule. It never blocks.
func (t *Trigger) Fire(ctx context.Context, rule Rule) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	state, ok := t.states[rule.Name]
	if !ok {
		state = &ruleState{}
		t.states[rule.Name] = state
	}
	if state.running {
		state.pending = true
		return
	}
	state.running = true
	t.wg.Add(1)
	go t.loop(ctx, rule, state)
}

func (t *Trigger) loop(ctx context.Context, rule Rule, state *ruleState) {
	defer t.wg.Done()
	for {
		if err := t.runner.Run(ctx, rule.Task); err != nil {
			t.handler.Handle(ctx, err)
		} else {
			t.logger.Debug(ctx, "Watch run finished", "rule", rule.Name, "task", rule.Task)
		}

		t.mutex.Lock()
		if state.pending && ctx.Err() == nil {
			state.pending = false
			t.mutex.Unlock()
			continue
		}
		state.running = false
		state.pending = false
		t.mutex.Unlock()
		return
	}
}

// Consume fires a run for every batch until batches is closed or ctx is
// done, then waits for in-flight runs to finish.
func (t *Trigger) Consume(ctx context.Context, batches <-chan Batch) {
	defer t.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			t.logger.Info(ctx, "Change detected",
				"rule", batch.Rule.Name, "task", batch.Rule.Task, "files", batch.Paths())
			t.Fire(ctx, batch.Rule)
		}
	}
}

// Wait blocks until no run is in flight.
func (t *Trigger) Wait() {
	t.wg.Wait()
}
