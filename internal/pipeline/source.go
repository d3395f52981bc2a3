package pipeline

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/conneroisu/sitebuild/internal/errors"
)

// Source produces the initial items of a chain. Each call to Items starts a
// fresh, finite sequence.
type Source interface {
	Items(ctx context.Context) iter.Seq2[*Item, error]
}

// GlobSource selects files under a root directory.
type GlobSource struct {
	root     string
	includes []string
	excludes []string
}

// Glob selects files under root matching patterns. Patterns support "**"
// and brace alternatives; a leading "!" excludes matches. An item's Base is
// the static prefix of the pattern that matched it, so "_sass/style.scss"
// yields Path "style.scss" with Base "_sass".
func Glob(root string, patterns ...string) *GlobSource {
	g := &GlobSource{root: root}
	if g.root == "" {
		g.root = "."
	}
	for _, p := range patterns {
		if strings.HasPrefix(p, "!") {
			g.excludes = append(g.excludes, cleanPattern(p[1:]))
			continue
		}
		g.includes = append(g.includes, cleanPattern(p))
	}
	return g
}

func cleanPattern(p string) string {
	return path.Clean(filepath.ToSlash(strings.TrimSpace(p)))
}

type match struct {
	rel  string // relative to root
	base string // static pattern prefix
}

// Files returns the matched paths relative to the root, in selection order.
func (g *GlobSource) Files() ([]string, error) {
	matches, err := g.resolve()
	if err != nil {
		return nil, err
	}
	files := make([]string, len(matches))
	for i, m := range matches {
		files[i] = m.rel
	}
	return files, nil
}

// resolve expands the patterns without reading any file. Files matched by
// several patterns are returned once, at their first position.
func (g *GlobSource) resolve() ([]match, error) {
	fsys := os.DirFS(g.root)
	seen := make(map[string]bool)
	var out []match

	for _, pattern := range g.includes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid glob pattern %q", pattern)
		}
		base, _ := doublestar.SplitPattern(pattern)
		found, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expanding %q: %w", pattern, err)
		}
		sort.Strings(found)
		for _, rel := range found {
			if seen[rel] || g.excluded(rel) {
				continue
			}
			seen[rel] = true
			out = append(out, match{rel: rel, base: base})
		}
	}
	return out, nil
}

func (g *GlobSource) excluded(rel string) bool {
	for _, ex := range g.excludes {
		if ok, _ := doublestar.Match(ex, rel); ok {
			return true
		}
	}
	return false
}

// Items implements Source. Files are read lazily as the sequence advances.
func (g *GlobSource) Items(ctx context.Context) iter.Seq2[*Item, error] {
	return func(yield func(*Item, error) bool) {
		matches, err := g.resolve()
		if err != nil {
			yield(nil, err)
			return
		}

		for _, m := range matches {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			source := filepath.Join(g.root, filepath.FromSlash(m.rel))
			data, err := os.ReadFile(source)
			if err != nil {
				yield(nil, errors.NewIOError("ERR_READ_FAILED", "cannot read "+source, err))
				return
			}

			rel := m.rel
			if m.base != "." {
				rel = strings.TrimPrefix(rel, m.base+"/")
			}
			item := &Item{
				Path:     rel,
				Base:     filepath.Join(g.root, filepath.FromSlash(m.base)),
				Source:   source,
				Contents: data,
				Meta:     make(map[string]any),
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

type staticSource struct {
	items []*Item
}

// Static yields copies of items. Useful for generated output and tests.
func Static(items ...*Item) Source {
	return &staticSource{items: items}
}

func (s *staticSource) Items(ctx context.Context) iter.Seq2[*Item, error] {
	return func(yield func(*Item, error) bool) {
		for _, it := range s.items {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(it.Clone(), nil) {
				return
			}
		}
	}
}
