package tools

import (
	"bytes"
	"context"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/sitebuild/internal/errors"
)

// templatePattern selects layouts and partials inside a search path.
const templatePattern = "**/*.{html,nunjucks,tmpl}"

// HTMLTemplates renders pages with html/template. Every template found in
// the search paths is available by its path relative to that search path,
// so a page can {{template "base.html" .}} a layout and fill its blocks with
// {{define}}.
type HTMLTemplates struct {
	funcs template.FuncMap
}

// NewHTMLTemplates creates a renderer with the default function map.
func NewHTMLTemplates() *HTMLTemplates {
	return &HTMLTemplates{
		funcs: template.FuncMap{
			// A Caser keeps state, so each call gets its own.
			"title": func(s string) string { return cases.Title(language.English).String(s) },
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
			"year":  func() int { return time.Now().Year() },
		},
	}
}

// Render implements TemplateRenderer. Any parse or execution failure is a
// transform error for sourcePath.
func (h *HTMLTemplates) Render(ctx context.Context, sourcePath string, searchPaths []string, data map[string]any) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	set := template.New("").Funcs(h.funcs)
	for _, dir := range searchPaths {
		names, err := doublestar.Glob(os.DirFS(dir), templatePattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, errors.NewTransformError(sourcePath, err)
		}
		for _, name := range names {
			text, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
			if err != nil {
				return nil, errors.NewTransformError(sourcePath, err)
			}
			if _, err := set.New(name).Parse(string(text)); err != nil {
				return nil, errors.NewTransformError(sourcePath, err)
			}
		}
	}

	page, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, errors.NewTransformError(sourcePath, err)
	}
	tmpl, err := set.New(filepath.Base(sourcePath)).Parse(string(page))
	if err != nil {
		return nil, errors.NewTransformError(sourcePath, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, errors.NewTransformError(sourcePath, err)
	}
	return buf.Bytes(), nil
}
