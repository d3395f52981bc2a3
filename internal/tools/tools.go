// Package tools adapts the external tools a site build drives (template
// renderer, style compiler, script bundler, linter) to small interfaces,
// and wraps them as pipeline stages.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// TemplateRenderer renders one page template.
type TemplateRenderer interface {
	Render(ctx context.Context, sourcePath string, searchPaths []string, data map[string]any) ([]byte, error)
}

// StyleCompiler compiles one stylesheet entry point to CSS.
type StyleCompiler interface {
	Compile(ctx context.Context, sourcePath string, includePaths []string) ([]byte, error)
}

// ScriptBundler resolves and bundles a script entry point.
type ScriptBundler interface {
	Bundle(ctx context.Context, entryPoint string, opts BundleOptions) ([]Output, error)
}

// Linter checks source files.
type Linter interface {
	Check(ctx context.Context, files []string) ([]Diagnostic, error)
}

// BundleOptions configures one bundler run.
type BundleOptions struct {
	// OutDir is where the caller will write the outputs. Nothing is written
	// by the bundler; the directory only fixes source map paths.
	OutDir    string
	// Outfile names the bundle, e.g. "bundle.min.js".
	Outfile   string
	Minify    bool
	Sourcemap bool
}

// Output is one file produced by the bundler, named relative to the output
// directory.
type Output struct {
	Path     string
	Contents []byte
}

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one linter finding.
type Diagnostic struct {
	File     string   `json:"file"`
	Line     int      `json:"line"`
	Column   int      `json:"column"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// String formats the diagnostic as "file:line:col: message".
func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d:%d: %s", d.File, d.Line, d.Column, d.Message)
}

// formatMessages joins esbuild messages into one error text.
func formatMessages(msgs []api.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			lines = append(lines, fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column+1, m.Text))
			continue
		}
		lines = append(lines, m.Text)
	}
	return strings.Join(lines, "\n")
}
