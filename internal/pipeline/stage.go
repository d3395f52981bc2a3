package pipeline

import (
	"context"
	"path"
	"strings"
)

// Stage transforms one item at a time. Returning no items drops the input,
// one item replaces it, several fan it out. An error wrapped as a transform
// error drops the item and is reported; any other error aborts the chain.
type Stage interface {
	Name() string
	Process(ctx context.Context, item *Item) ([]*Item, error)
}

// Flusher is implemented by stages that act once the stream has ended.
// Items returned from Flush continue through the stages after this one.
type Flusher interface {
	Flush(ctx context.Context) ([]*Item, error)
}

// Reloader is notified when a chain has produced output.
type Reloader interface {
	Reload(paths ...string)
}

// Predicate decides whether a conditional stage applies to an item.
type Predicate func(item *Item) bool

// Always returns a predicate with a fixed answer, for flags such as a
// production build.
func Always(b bool) Predicate {
	return func(*Item) bool { return b }
}

type funcStage struct {
	name string
	fn   func(ctx context.Context, item *Item) ([]*Item, error)
}

// Func adapts a function to a Stage.
func Func(name string, fn func(ctx context.Context, item *Item) ([]*Item, error)) Stage {
	return &funcStage{name: name, fn: fn}
}

func (s *funcStage) Name() string { return s.name }

func (s *funcStage) Process(ctx context.Context, item *Item) ([]*Item, error) {
	return s.fn(ctx, item)
}

// Map adapts an in-place transform to a Stage.
func Map(name string, fn func(ctx context.Context, item *Item) error) Stage {
	return Func(name, func(ctx context.Context, item *Item) ([]*Item, error) {
		if err := fn(ctx, item); err != nil {
			return nil, err
		}
		return []*Item{item}, nil
	})
}

// Tap calls fn for every item and passes it on unchanged.
func Tap(name string, fn func(item *Item)) Stage {
	return Map(name, func(_ context.Context, item *Item) error {
		fn(item)
		return nil
	})
}

type conditional struct {
	pred  Predicate
	stage Stage
	used  bool
}

// If applies stage only to items matching pred and passes the rest through
// untouched and in order.
func If(pred Predicate, stage Stage) Stage {
	return &conditional{pred: pred, stage: stage}
}

func (c *conditional) Name() string { return "if(" + c.stage.Name() + ")" }

func (c *conditional) Process(ctx context.Context, item *Item) ([]*Item, error) {
	if !c.pred(item) {
		return []*Item{item}, nil
	}
	c.used = true
	return c.stage.Process(ctx, item)
}

// Flush forwards to the wrapped stage if it handled at least one item.
func (c *conditional) Flush(ctx context.Context) ([]*Item, error) {
	f, ok := c.stage.(Flusher)
	if !ok || !c.used {
		return nil, nil
	}
	return f.Flush(ctx)
}

// RenameOptions describes how Rename rewrites a virtual path. Empty fields
// leave that part unchanged.
type RenameOptions struct {
	Dir    string
	Prefix string
	Suffix string
	Ext    string
}

// Rename rewrites item paths, e.g. Suffix ".min" turns "style.css" into
// "style.min.css".
func Rename(opts RenameOptions) Stage {
	return Map("rename", func(_ context.Context, item *Item) error {
		dir, file := path.Split(item.Path)
		ext := item.Ext()
		stem := strings.TrimSuffix(file, ext)
		if opts.Ext != "" {
			ext = opts.Ext
		}
		if opts.Dir != "" {
			dir = opts.Dir
		}
		item.Path = path.Clean(path.Join(dir, opts.Prefix+stem+opts.Suffix+ext))
		return nil
	})
}
