package tools

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/conneroisu/sitebuild/internal/errors"
	"github.com/conneroisu/sitebuild/internal/logging"
	"github.com/conneroisu/sitebuild/internal/pipeline"
)

// RenderStage renders each page item and gives it an .html extension. The
// item's path is available to templates as .page.
func RenderStage(renderer TemplateRenderer, searchPaths []string, data map[string]any) pipeline.Stage {
	return pipeline.Map("render", func(ctx context.Context, item *pipeline.Item) error {
		if item.Source == "" {
			return errors.NewTransformError(item.Path, fmt.Errorf("page has no source file"))
		}
		pageData := make(map[string]any, len(data)+1)
		for k, v := range data {
			pageData[k] = v
		}
		pageData["page"] = item.Path

		out, err := renderer.Render(ctx, item.Source, searchPaths, pageData)
		if err != nil {
			return asTransform(item, err)
		}
		item.Contents = out
		item.SetExt(".html")
		return nil
	})
}

// CompileStage compiles each stylesheet item to CSS.
func CompileStage(compiler StyleCompiler, includePaths []string) pipeline.Stage {
	return pipeline.Map("compile", func(ctx context.Context, item *pipeline.Item) error {
		out, err := compiler.Compile(ctx, item.Source, includePaths)
		if err != nil {
			return asTransform(item, err)
		}
		item.Contents = out
		item.SetExt(".css")
		return nil
	})
}

// CSSStage runs a CSS transformer over each item.
func CSSStage(name string, t *CSSTransformer) pipeline.Stage {
	return pipeline.Map(name, func(ctx context.Context, item *pipeline.Item) error {
		out, err := t.Transform(ctx, item.Path, item.Contents)
		if err != nil {
			return asTransform(item, err)
		}
		item.Contents = out
		return nil
	})
}

// asTransform makes sure a tool failure is reported against the item
// instead of stopping the whole chain. Cancellation stays fatal.
func asTransform(item *pipeline.Item, err error) error {
	if errors.IsTransformError(err) || stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.NewTransformError(item.Label(), err)
}

// LintStage collects the items it sees and runs the linter on all of them
// when the stream ends. Items pass through unchanged. Findings are logged;
// they never fail the chain.
type LintStage struct {
	linter      Linter
	logger      logging.Logger
	files       []string
	diagnostics []Diagnostic
	mutex       sync.Mutex
}

// NewLintStage creates a lint stage.
func NewLintStage(linter Linter, logger logging.Logger) *LintStage {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &LintStage{linter: linter, logger: logger}
}

func (l *LintStage) Name() string { return "lint" }

func (l *LintStage) Process(_ context.Context, item *pipeline.Item) ([]*pipeline.Item, error) {
	l.mutex.Lock()
	l.files = append(l.files, item.Label())
	l.mutex.Unlock()
	return []*pipeline.Item{item}, nil
}

// Flush runs the linter once over every collected file.
func (l *LintStage) Flush(ctx context.Context) ([]*pipeline.Item, error) {
	l.mutex.Lock()
	files := append([]string(nil), l.files...)
	l.mutex.Unlock()
	if len(files) == 0 {
		return nil, nil
	}

	diags, err := l.linter.Check(ctx, files)
	if err != nil {
		l.logger.Warn(ctx, err, "Linter failed", "files", len(files))
	}
	for _, d := range diags {
		l.logger.Warn(ctx, nil, d.Message,
			"file", d.File, "line", d.Line, "column", d.Column, "severity", string(d.Severity))
	}
	if len(diags) == 0 && err == nil {
		l.logger.Info(ctx, "Lint clean", "files", len(files))
	}

	l.mutex.Lock()
	l.diagnostics = diags
	l.mutex.Unlock()
	return nil, nil
}

// Diagnostics returns the findings of the last flush.
func (l *LintStage) Diagnostics() []Diagnostic {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]Diagnostic(nil), l.diagnostics...)
}

// OutputsSource turns bundler outputs into a pipeline source.
func OutputsSource(outputs []Output) pipeline.Source {
	items := make([]*pipeline.Item, 0, len(outputs))
	for _, o := range outputs {
		items = append(items, pipeline.NewItem(o.Path, o.Contents))
	}
	return pipeline.Static(items...)
}
