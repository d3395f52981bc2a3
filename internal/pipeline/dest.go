package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/conneroisu/sitebuild/internal/errors"
)

// DestStage writes items below a directory.
type DestStage struct {
	root     string
	reloader Reloader
	written  []string
}

// Dest writes each item to root joined with its virtual path and passes it
// on. When the stream ends the reloader, if any, is notified once with every
// written file.
func Dest(root string, reloader Reloader) *DestStage {
	return &DestStage{root: root, reloader: reloader}
}

func (d *DestStage) Name() string { return "dest" }

func (d *DestStage) Process(_ context.Context, item *Item) ([]*Item, error) {
	target := filepath.Join(d.root, filepath.FromSlash(item.Path))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, errors.NewIOError(errors.ErrCodeWriteFailed, "cannot create directory for "+target, err)
	}
	if err := os.WriteFile(target, item.Contents, 0o644); err != nil {
		return nil, errors.NewIOError(errors.ErrCodeWriteFailed, "cannot write "+target, err)
	}
	item.SetMeta("dest", target)
	d.written = append(d.written, filepath.ToSlash(target))
	return []*Item{item}, nil
}

// Flush notifies the reloader.
func (d *DestStage) Flush(context.Context) ([]*Item, error) {
	if d.reloader != nil && len(d.written) > 0 {
		d.reloader.Reload(d.written...)
	}
	return nil, nil
}

// Written returns the files written so far.
func (d *DestStage) Written() []string {
	return append([]string(nil), d.written...)
}

type reloadStage struct {
	reloader Reloader
	paths    []string
}

// Reload passes items through and notifies reloader once at the end of a
// non-empty stream.
func Reload(reloader Reloader) Stage {
	return &reloadStage{reloader: reloader}
}

func (r *reloadStage) Name() string { return "reload" }

func (r *reloadStage) Process(_ context.Context, item *Item) ([]*Item, error) {
	r.paths = append(r.paths, item.Label())
	return []*Item{item}, nil
}

func (r *reloadStage) Flush(context.Context) ([]*Item, error) {
	if r.reloader != nil && len(r.paths) > 0 {
		r.reloader.Reload(r.paths...)
	}
	return nil, nil
}
