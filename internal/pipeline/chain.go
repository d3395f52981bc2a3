package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/conneroisu/sitebuild/internal/errors"
	"github.com/conneroisu/sitebuild/internal/logging"
)

// Stats summarises one chain run.
type Stats struct {
	In      int
	Out     int
	Dropped int
}

// Chain is a source followed by an ordered list of stages.
type Chain struct {
	name   string
	source Source
	stages []Stage
	sink   ErrorSink
	logger logging.Logger
	stats  Stats
}

// New starts a chain named name reading from source.
func New(name string, source Source) *Chain {
	return &Chain{
		name:   name,
		source: source,
		logger: logging.NewNopLogger(),
	}
}

// Pipe appends stages.
func (c *Chain) Pipe(stages ...Stage) *Chain {
	c.stages = append(c.stages, stages...)
	return c
}

// OnError sets where per-item failures are reported.
func (c *Chain) OnError(sink ErrorSink) *Chain {
	c.sink = sink
	return c
}

// WithLogger sets the chain logger.
func (c *Chain) WithLogger(logger logging.Logger) *Chain {
	if logger != nil {
		c.logger = logger.With("chain", c.name)
	}
	return c
}

// Name returns the chain name.
func (c *Chain) Name() string {
	return c.name
}

// Stats returns the counters of the last run.
func (c *Chain) Stats() Stats {
	return c.stats
}

// Run drains the source through every stage, then flushes stages in order.
// Items that fail with a transform error are reported and dropped while the
// rest of the stream continues; Run then returns an error listing them. Any
// other stage error stops the run immediately.
func (c *Chain) Run(ctx context.Context) error {
	c.stats = Stats{}
	var failed []error

	for item, err := range c.source.Items(ctx) {
		if err != nil {
			return fmt.Errorf("%s: source: %w", c.name, err)
		}
		c.stats.In++
		if err := c.push(ctx, 0, []*Item{item}, &failed); err != nil {
			return err
		}
	}

	for i, stage := range c.stages {
		f, ok := stage.(Flusher)
		if !ok {
			continue
		}
		out, err := f.Flush(ctx)
		if err != nil {
			if !c.tolerate(ctx, err, &failed) {
				return fmt.Errorf("%s: stage %s: %w", c.name, stage.Name(), err)
			}
			continue
		}
		if err := c.push(ctx, i+1, out, &failed); err != nil {
			return err
		}
	}

	c.logger.Debug(ctx, "Chain finished",
		"in", c.stats.In, "out", c.stats.Out, "dropped", c.stats.Dropped)

	if len(failed) > 0 {
		return fmt.Errorf("%s: %d item(s) failed: %w", c.name, len(failed), stderrors.Join(failed...))
	}
	return nil
}

// push sends items through stages[from:]. Each item reaches the end of the
// chain before the next one starts, so arrival order is kept.
func (c *Chain) push(ctx context.Context, from int, items []*Item, failed *[]error) error {
	for _, item := range items {
		batch := []*Item{item}
		for i := from; i < len(c.stages) && len(batch) > 0; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			stage := c.stages[i]
			var next []*Item
			for _, it := range batch {
				out, err := stage.Process(ctx, it)
				if err != nil {
					if !c.tolerate(ctx, err, failed) {
						return fmt.Errorf("%s: stage %s: %s: %w", c.name, stage.Name(), it.Label(), err)
					}
					c.stats.Dropped++
					continue
				}
				next = append(next, out...)
			}
			batch = next
		}
		c.stats.Out += len(batch)
	}
	return nil
}

// tolerate reports err and reports whether the chain may continue.
func (c *Chain) tolerate(ctx context.Context, err error, failed *[]error) bool {
	if !errors.IsTransformError(err) {
		return false
	}
	var se *errors.SiteError
	if stderrors.As(err, &se) && se.Task == "" {
		se.Task = c.name
	}
	if c.sink != nil {
		c.sink.Report(ctx, err)
	}
	*failed = append(*failed, err)
	return true
}
