// Package pipeline implements stage chains: a source produces work items,
// each item flows through an ordered list of stages, and stages that need the
// whole stream act once more when the stream ends.
//
// A chain and its stages are built for a single run. Stages may keep per-run
// state, such as the list of files written, and act on it in Flush.
package pipeline

import (
	"path"
	"strings"
)

// Item is one file flowing through a chain.
type Item struct {
	// Path is the virtual path relative to Base, always slash separated.
	Path string
	// Base is the directory the item was selected from.
	Base string
	// Source is the original file on disk; empty for generated items.
	Source string
	// Contents is the current content of the item.
	Contents []byte
	// Meta carries per-item data between stages.
	Meta map[string]any
}

// NewItem creates a generated item.
func NewItem(p string, contents []byte) *Item {
	return &Item{
		Path:     path.Clean(strings.TrimPrefix(p, "/")),
		Contents: contents,
		Meta:     make(map[string]any),
	}
}

// Clone returns a deep copy of the item.
func (it *Item) Clone() *Item {
	c := *it
	c.Contents = append([]byte(nil), it.Contents...)
	c.Meta = make(map[string]any, len(it.Meta))
	for k, v := range it.Meta {
		c.Meta[k] = v
	}
	return &c
}

// Ext returns the extension of the virtual path, including the dot.
func (it *Item) Ext() string {
	return path.Ext(it.Path)
}

// SetExt replaces the extension of the virtual path.
func (it *Item) SetExt(ext string) {
	it.Path = strings.TrimSuffix(it.Path, path.Ext(it.Path)) + ext
}

// Label identifies the item in logs and errors.
func (it *Item) Label() string {
	if it.Source != "" {
		return it.Source
	}
	return it.Path
}

// SetMeta stores a metadata value.
func (it *Item) SetMeta(key string, value any) {
	if it.Meta == nil {
		it.Meta = make(map[string]any)
	}
	it.Meta[key] = value
}
