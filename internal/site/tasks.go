package site

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/conneroisu/sitebuild/internal/errors"
	"github.com/conneroisu/sitebuild/internal/logging"
	"github.com/conneroisu/sitebuild/internal/pipeline"
	"github.com/conneroisu/sitebuild/internal/task"
	"github.com/conneroisu/sitebuild/internal/tools"
)

// Task names.
const (
	TaskMarkup  = "markup"
	TaskScripts = "scripts"
	TaskStyles  = "styles"
	TaskLint    = "lint"
	TaskReload  = "reload"
	TaskJS      = "js"
	TaskServe   = "serve"
	TaskWatch   = "watch"
	TaskBuild   = "build"
	TaskDefault = "default"
	TaskClean   = "clean"
)

func (s *Site) register() error {
	tasks := []task.Task{
		{Name: TaskMarkup, Description: "Render pages with their layouts and partials", Action: s.action(TaskMarkup, s.markup)},
		{Name: TaskScripts, Description: "Bundle the script entry point", Action: s.action(TaskScripts, s.scripts)},
		{Name: TaskStyles, Description: "Compile, prefix and write stylesheets", Action: s.action(TaskStyles, s.styles)},
		{Name: TaskLint, Description: "Check script sources", Action: s.action(TaskLint, s.lint)},
		{Name: TaskReload, Description: "Tell connected browsers to reload", Action: s.action(TaskReload, s.reload)},
		{Name: TaskJS, Description: "Lint, then bundle scripts", Deps: []string{TaskLint, TaskScripts}, Mode: task.Series},
		{Name: TaskServe, Description: "Start the dev server in the background", Action: s.startServer},
		{Name: TaskWatch, Description: "Rebuild on source changes", Action: s.startWatcher},
		{Name: TaskBuild, Description: "Build markup, scripts and styles", Deps: []string{TaskMarkup, TaskScripts, TaskStyles}, Mode: task.Series},
		{
			Name:        TaskDefault,
			Description: "Build everything, serve and watch",
			Deps:        []string{TaskMarkup, TaskLint, TaskScripts, TaskStyles, TaskServe, TaskWatch},
			Mode:        task.Series,
		},
		{Name: TaskClean, Description: "Remove generated bundles and stylesheets", Action: s.clean},
	}

	for _, t := range tasks {
		if err := s.registry.Register(t); err != nil {
			return err
		}
	}
	return s.registry.Validate()
}

// action clears the task's previous reports when it succeeds again.
func (s *Site) action(name string, fn task.Action) task.Action {
	return func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		s.errors.ClearTask(name)
		return nil
	}
}

func (s *Site) chain(name string, source pipeline.Source) *pipeline.Chain {
	logger := s.logger.WithComponent("pipeline")
	return pipeline.New(name, source).
		WithLogger(logger).
		OnError(pipeline.MultiSink(pipeline.LogSink(logger), s.errors))
}

func (s *Site) paths(rel []string) []string {
	out := make([]string, len(rel))
	for i, p := range rel {
		out[i] = s.cfg.Path(p)
	}
	return out
}

func (s *Site) markup(ctx context.Context) error {
	cfg := s.cfg
	return s.chain(TaskMarkup, pipeline.Glob(cfg.Root, cfg.Markup.Sources...)).
		Pipe(
			tools.RenderStage(s.renderer, s.paths(cfg.Markup.SearchPaths), cfg.Markup.Data),
			pipeline.Dest(cfg.Path(cfg.Markup.Dest), s.reloader),
		).
		Run(ctx)
}

func (s *Site) styles(ctx context.Context) error {
	cfg := s.cfg
	production := pipeline.Always(cfg.Production)
	return s.chain(TaskStyles, pipeline.Glob(cfg.Root, cfg.Styles.Entry...)).
		Pipe(
			tools.CompileStage(s.compiler, s.paths(cfg.Styles.IncludePaths)),
			tools.CSSStage("prefix", s.css.prefix),
			pipeline.If(pipeline.Always(cfg.Sourcemap && !cfg.Production), tools.CSSStage("sourcemap", s.css.sourcemap)),
			pipeline.If(production, tools.CSSStage("minify", s.css.minify)),
			pipeline.If(production, pipeline.Rename(pipeline.RenameOptions{Suffix: ".min"})),
			pipeline.Dest(cfg.Path(cfg.Styles.Dest), s.reloader),
		).
		Run(ctx)
}

// scripts bundles once per run. Any bundler failure fails the task; there is
// no per-item recovery for a bundle.
func (s *Site) scripts(ctx context.Context) error {
	cfg := s.cfg
	perf := logging.StartOperation(s.logger, "bundle")
	outputs, err := s.bundler.Bundle(ctx, "./"+cfg.Scripts.Entry, tools.BundleOptions{
		OutDir:    cfg.Scripts.Dest,
		Outfile:   cfg.BundleName(),
		Minify:    cfg.Production,
		Sourcemap: cfg.Sourcemap,
	})
	if err != nil {
		perf.EndWithError(ctx, err)
		return errors.NewTaskError(TaskScripts, err)
	}
	perf.End(ctx, "files", len(outputs))

	return s.chain(TaskScripts, tools.OutputsSource(outputs)).
		Pipe(pipeline.Dest(cfg.Path(cfg.Scripts.Dest), s.reloader)).
		Run(ctx)
}

func (s *Site) lint(ctx context.Context) error {
	if s.linter == nil {
		s.logger.Debug(ctx, "Linting disabled")
		return nil
	}
	stage := tools.NewLintStage(s.linter, s.logger)
	err := s.chain(TaskLint, pipeline.Glob(s.cfg.Root, s.cfg.Scripts.Lint...)).
		Pipe(stage, pipeline.Reload(s.reloader)).
		Run(ctx)
	if err != nil {
		return err
	}
	if n := len(stage.Diagnostics()); n > 0 {
		s.logger.Info(ctx, "Lint finished with findings", "count", n)
	}
	return nil
}

func (s *Site) reload(ctx context.Context) error {
	return s.chain(TaskReload, pipeline.Glob(s.cfg.Root, s.cfg.Assets.Reload...)).
		Pipe(pipeline.Reload(s.reloader)).
		Run(ctx)
}

// cleanPatterns lists the generated files clean removes, relative to the
// project root.
func (s *Site) cleanPatterns() []string {
	cfg := s.cfg
	bundle := strings.TrimSuffix(cfg.Scripts.Bundle, filepath.Ext(cfg.Scripts.Bundle))
	return []string{
		pathJoin(cfg.Styles.Dest, "*.css"),
		pathJoin(cfg.Styles.Dest, "*.css.map"),
		pathJoin(cfg.Scripts.Dest, bundle+"{,.min}.js"),
		pathJoin(cfg.Scripts.Dest, bundle+"{,.min}.js.map"),
	}
}

func (s *Site) clean(ctx context.Context) error {
	fsys := os.DirFS(s.cfg.Root)
	removed := 0
	for _, pattern := range s.cleanPatterns() {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return fmt.Errorf("clean %s: %w", pattern, err)
		}
		for _, m := range matches {
			if err := os.Remove(s.cfg.Path(m)); err != nil && !os.IsNotExist(err) {
				return errors.NewIOError(errors.ErrCodeWriteFailed, "cannot remove "+m, err)
			}
			s.logger.Debug(ctx, "Removed", "file", m)
			removed++
		}
	}
	s.logger.Info(ctx, "Cleaned generated files", "count", removed)
	return nil
}

func pathJoin(dir, pattern string) string {
	dir = strings.TrimPrefix(filepath.ToSlash(filepath.Clean(dir)), "./")
	if dir == "." {
		return pattern
	}
	return dir + "/" + pattern
}
