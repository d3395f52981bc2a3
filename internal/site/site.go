// Package site assembles the sitebuild task graph from a configuration:
// markup pages, the script bundle, stylesheets, linting, reload, the dev
// server and the watcher. Long running services started by the serve and
// watch tasks keep running in the background until the context of the run
// that started them is cancelled; Wait blocks until they are gone.
package site

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/sitebuild/internal/config"
	"github.com/conneroisu/sitebuild/internal/errors"
	"github.com/conneroisu/sitebuild/internal/logging"
	"github.com/conneroisu/sitebuild/internal/pipeline"
	"github.com/conneroisu/sitebuild/internal/server"
	"github.com/conneroisu/sitebuild/internal/task"
	"github.com/conneroisu/sitebuild/internal/tools"
	"github.com/conneroisu/sitebuild/internal/watcher"
)

// Site owns the registry, the runner and the services tasks start.
type Site struct {
	cfg      *config.Config
	logger   logging.Logger
	registry *task.Registry
	runner   *task.Runner
	errors   *errors.ErrorCollector
	metrics  *prometheus.Registry
	server   *server.Server
	reloader pipeline.Reloader

	renderer tools.TemplateRenderer
	compiler tools.StyleCompiler
	bundler  tools.ScriptBundler
	linter   tools.Linter
	css      cssTransformers

	bg        errgroup.Group
	bgCtx     context.Context
	serveOnce sync.Once
	serveErr  error
	watchOnce sync.Once
	watchErr  error
	started   bool
	watcher   *watcher.FileWatcher
	mutex     sync.Mutex
}

// Option customizes a Site.
type Option func(*Site)

// WithRenderer replaces the template renderer.
func WithRenderer(r tools.TemplateRenderer) Option {
	return func(s *Site) { s.renderer = r }
}

// WithCompiler replaces the style compiler selected by styles.compiler.
func WithCompiler(c tools.StyleCompiler) Option {
	return func(s *Site) { s.compiler = c }
}

// WithBundler replaces the script bundler.
func WithBundler(b tools.ScriptBundler) Option {
	return func(s *Site) { s.bundler = b }
}

// WithLinter replaces the linter selected by scripts.linter.
func WithLinter(l tools.Linter) Option {
	return func(s *Site) { s.linter = l }
}

// WithMetricsRegistry sets the prometheus registry task metrics are
// registered on and /metrics is served from.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(s *Site) { s.metrics = reg }
}

// New builds a site from cfg and registers every task. A registration
// failure is returned as is and is fatal.
func New(cfg *config.Config, logger logging.Logger, opts ...Option) (*Site, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Site{
		cfg:    cfg,
		logger: logger,
		errors: errors.NewErrorCollector(100),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = prometheus.NewRegistry()
		s.metrics.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if err := s.defaultTools(); err != nil {
		return nil, err
	}

	var gatherer prometheus.Gatherer
	if cfg.Server.Metrics {
		gatherer = s.metrics
	}
	s.server = server.New(server.Options{
		Root:           cfg.Path(cfg.Server.Dir),
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReloadWindow:   cfg.Server.ReloadWindow,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Open:           cfg.Server.Open,
		Gatherer:       gatherer,
		Errors:         s.errors,
	}, logger)
	s.reloader = newRelativeReloader(cfg.Path(cfg.Server.Dir), s.server)

	s.registry = task.NewRegistry()
	s.runner = task.NewRunner(s.registry, logger, task.WithMetrics(task.NewMetrics(s.metrics)))
	if err := s.register(); err != nil {
		return nil, err
	}
	return s, nil
}

type cssTransformers struct {
	prefix    *tools.CSSTransformer
	minify    *tools.CSSTransformer
	sourcemap *tools.CSSTransformer
}

func (s *Site) defaultTools() error {
	cfg := s.cfg
	if s.renderer == nil {
		s.renderer = tools.NewHTMLTemplates()
	}
	if s.compiler == nil {
		if cfg.Styles.Compiler == "none" {
			s.compiler = tools.PlainCSS{}
		} else {
			s.compiler = tools.NewSassCLI(cfg.Styles.Compiler, "")
		}
	}
	if s.bundler == nil {
		s.bundler = tools.NewEsbuild(cfg.Root)
	}
	if s.linter == nil {
		switch cfg.Scripts.Linter {
		case "esbuild":
			s.linter = tools.NewEsbuildLinter()
		case "none":
		default:
			s.linter = tools.NewCommandLinter(cfg.Scripts.Linter, cfg.Scripts.LinterArgs, "")
		}
	}

	engines, err := tools.ParseEngines(cfg.Styles.Browsers)
	if err != nil {
		return errors.NewConfigError("styles.browsers", err)
	}
	s.css = cssTransformers{
		prefix:    tools.NewPrefixer(engines),
		minify:    tools.NewMinifier(cfg.Sourcemap),
		sourcemap: tools.NewCSSTransformer(tools.CSSOptions{Sourcemap: true}),
	}
	return nil
}

// Run executes the named task. The first call fixes the context background
// services are bound to.
func (s *Site) Run(ctx context.Context, name string) error {
	s.mutex.Lock()
	if s.bgCtx == nil {
		s.bgCtx = ctx
	}
	s.mutex.Unlock()
	return s.runner.Run(ctx, name)
}

// Runner returns the task runner.
func (s *Site) Runner() *task.Runner {
	return s.runner
}

// Registry returns the task registry.
func (s *Site) Registry() *task.Registry {
	return s.registry
}

// Server returns the dev server. It is only listening after serve ran.
func (s *Site) Server() *server.Server {
	return s.server
}

// Errors returns the collector per-item failures are reported to.
func (s *Site) Errors() *errors.ErrorCollector {
	return s.errors
}

// Config returns the configuration the site was built from.
func (s *Site) Config() *config.Config {
	return s.cfg
}

// Background reports whether serve or watch started a service.
func (s *Site) Background() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.started
}

// Wait blocks until every background service has stopped and returns the
// first service error.
func (s *Site) Wait() error {
	return s.bg.Wait()
}

func (s *Site) background(ctx context.Context) context.Context {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.started = true
	if s.bgCtx != nil {
		return s.bgCtx
	}
	return ctx
}

// startServer binds synchronously so a bind failure fails the serve task,
// then serves in the background.
func (s *Site) startServer(ctx context.Context) error {
	s.serveOnce.Do(func() {
		if s.serveErr = s.server.Listen(); s.serveErr != nil {
			return
		}
		bgCtx := s.background(ctx)
		s.bg.Go(func() error {
			return s.server.Serve(bgCtx)
		})
		s.logger.Info(ctx, "Dev server started", "url", s.server.URL())
	})
	return s.serveErr
}

// WatchRules returns the rules the watch task subscribes.
func (s *Site) WatchRules() []watcher.Rule {
	return []watcher.Rule{
		{Name: "styles", Globs: s.cfg.Styles.Watch, Task: TaskStyles},
		{Name: "scripts", Globs: s.cfg.Scripts.Watch, Task: TaskJS},
		{Name: "markup", Globs: s.cfg.Markup.Watch, Task: TaskMarkup},
		{Name: "assets", Globs: s.cfg.Assets.Reload, Task: TaskReload},
	}
}

func (s *Site) startWatcher(ctx context.Context) error {
	s.watchOnce.Do(func() {
		s.watchErr = s.watch(ctx)
	})
	return s.watchErr
}

// Watcher returns the file watcher once the watch task has started it.
func (s *Site) Watcher() *watcher.FileWatcher {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.watcher
}

func (s *Site) watch(ctx context.Context) error {
	fw, err := watcher.NewFileWatcher(s.cfg.Root, s.cfg.Watch.Debounce, s.logger, s.cfg.Watch.Ignore...)
	if err != nil {
		return err
	}
	for _, rule := range s.WatchRules() {
		if err := fw.AddRule(rule); err != nil {
			_ = fw.Stop()
			return err
		}
	}

	bgCtx := s.background(ctx)
	if err := fw.Start(bgCtx); err != nil {
		_ = fw.Stop()
		return err
	}
	s.mutex.Lock()
	s.watcher = fw
	s.mutex.Unlock()

	trigger := watcher.NewTrigger(s, s.logger)
	s.bg.Go(func() error {
		trigger.Consume(bgCtx, fw.Batches())
		return fw.Stop()
	})
	return nil
}

// relativeReloader rewrites written file paths relative to the served
// directory before passing them on, so the browser sees URL paths.
type relativeReloader struct {
	dir    string
	target pipeline.Reloader
}

func newRelativeReloader(dir string, target pipeline.Reloader) *relativeReloader {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return &relativeReloader{dir: dir, target: target}
}

func (r *relativeReloader) Reload(paths ...string) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, r.relative(p))
	}
	r.target.Reload(out...)
}

func (r *relativeReloader) relative(p string) string {
	abs, err := filepath.Abs(filepath.FromSlash(p))
	if err != nil {
		return p
	}
	rel, err := filepath.Rel(r.dir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return p
	}
	return filepath.ToSlash(rel)
}
