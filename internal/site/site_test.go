package site

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sitebuild/internal/errors"
	"github.com/conneroisu/sitebuild/internal/logging"
	"github.com/conneroisu/sitebuild/internal/server"
	"github.com/conneroisu/sitebuild/internal/testutils"
	"github.com/conneroisu/sitebuild/internal/tools"
)

var siteFiles = map[string]string{
	"_markup/layouts/base.html": `<html><body>{{block "content" .}}{{end}}</body></html>`,
	"_markup/partials/nav.html": `<nav>{{.page}}</nav>`,
	"_markup/index.html":        `{{define "content"}}{{template "nav.html" .}}<h1>{{.title | title}}</h1>{{end}}{{template "base.html" .}}`,
	"_markup/about.nunjucks":    `{{define "content"}}<h1>About</h1>{{end}}{{template "base.html" .}}`,
	"_sass/style.scss":          "a { user-select: none; color: red }\n",
	"_scripts/main.ts":          "import { greet } from \"./greet\";\ngreet(\"site\");\n",
	"_scripts/greet.ts":         "export function greet(name: string) { console.log(\"hello \" + name); }\n",
	"_scripts/legacy.js":        "var legacy = 1;\n",
}

func newTestSite(t *testing.T, root string, settings map[string]any, opts ...Option) *Site {
	t.Helper()
	merged := map[string]any{"markup.data": map[string]any{"title": "home page"}}
	for k, val := range settings {
		merged[k] = val
	}
	cfg := testutils.CreateTestConfig(t, root, merged)

	opts = append([]Option{WithMetricsRegistry(prometheus.NewRegistry())}, opts...)
	s, err := New(cfg, logging.NewNopLogger(), opts...)
	require.NoError(t, err)
	return s
}

func TestNewRegistersTasks(t *testing.T) {
	s := newTestSite(t, t.TempDir(), nil)

	assert.Equal(t, []string{
		TaskMarkup, TaskScripts, TaskStyles, TaskLint, TaskReload, TaskJS,
		TaskServe, TaskWatch, TaskBuild, TaskDefault, TaskClean,
	}, s.Registry().Names())

	def, ok := s.Registry().Get(TaskDefault)
	require.True(t, ok)
	assert.Equal(t, []string{TaskMarkup, TaskLint, TaskScripts, TaskStyles, TaskServe, TaskWatch}, def.Deps)

	js, _ := s.Registry().Get(TaskJS)
	assert.Equal(t, []string{TaskLint, TaskScripts}, js.Deps)
	assert.Nil(t, js.Action)
}

func TestNewRejectsUnknownBrowser(t *testing.T) {
	cfg := testutils.CreateTestConfig(t, t.TempDir(), map[string]any{
		"styles.browsers": []string{"netscape >= 4"},
	})

	_, err := New(cfg, nil, WithMetricsRegistry(prometheus.NewRegistry()))
	require.Error(t, err)
	var se *errors.SiteError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, errors.ErrorTypeConfig, se.Type)
}

func TestBuild(t *testing.T) {
	root := t.TempDir()
	testutils.WriteFiles(t, root, siteFiles)
	s := newTestSite(t, root, nil)

	require.NoError(t, s.Run(context.Background(), TaskBuild))

	index := testutils.ReadFile(t, root, "index.html")
	assert.Contains(t, index, "<nav>index.html</nav>")
	assert.Contains(t, index, "<h1>Home Page</h1>")
	assert.Contains(t, testutils.ReadFile(t, root, "about.html"), "<h1>About</h1>")

	bundle := testutils.ReadFile(t, root, "assets/js/bundle.js")
	assert.Contains(t, bundle, "hello ")
	assert.Contains(t, bundle, "site")

	css := testutils.ReadFile(t, root, "assets/css/style.css")
	// The default browser list reaches back to Chrome 30.
	assert.Contains(t, css, "-webkit-user-select: none")
	assert.Contains(t, css, "color: red")

	assert.False(t, s.Errors().HasErrors())
	assert.False(t, s.Background())
}

func TestBuildProduction(t *testing.T) {
	root := t.TempDir()
	testutils.WriteFiles(t, root, siteFiles)
	s := newTestSite(t, root, map[string]any{"production": true})

	require.NoError(t, s.Run(context.Background(), TaskBuild))

	assert.True(t, testutils.Exists(root, "assets/js/bundle.min.js"))
	assert.False(t, testutils.Exists(root, "assets/js/bundle.js"))
	assert.True(t, testutils.Exists(root, "assets/css/style.min.css"))
	assert.False(t, testutils.Exists(root, "assets/css/style.css"))
	assert.NotContains(t, testutils.ReadFile(t, root, "assets/css/style.min.css"), "\n  ")
}

func TestBuildSourcemap(t *testing.T) {
	root := t.TempDir()
	testutils.WriteFiles(t, root, siteFiles)
	s := newTestSite(t, root, map[string]any{"sourcemap": true})

	require.NoError(t, s.Run(context.Background(), TaskBuild))

	assert.True(t, testutils.Exists(root, "assets/js/bundle.js.map"))
	assert.Contains(t, testutils.ReadFile(t, root, "assets/js/bundle.js"), "sourceMappingURL=bundle.js.map")
	assert.Contains(t, testutils.ReadFile(t, root, "assets/css/style.css"), "sourceMappingURL=data:")
}

func TestMarkupItemFailure(t *testing.T) {
	root := t.TempDir()
	testutils.WriteFiles(t, root, siteFiles)
	testutils.WriteFiles(t, root, map[string]string{"_markup/broken.html": "{{if}}"})
	s := newTestSite(t, root, nil)

	err := s.Run(context.Background(), TaskMarkup)
	require.Error(t, err)
	assert.True(t, errors.IsTaskError(err))

	// The other pages are still written.
	assert.True(t, testutils.Exists(root, "index.html"))
	assert.True(t, testutils.Exists(root, "about.html"))
	assert.False(t, testutils.Exists(root, "broken.html"))

	reports := s.Errors().Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, TaskMarkup, reports[0].Task)
	assert.Equal(t, errors.ErrCodeItemTransform, reports[0].Code)
	assert.True(t, strings.HasSuffix(filepath.ToSlash(reports[0].File), "_markup/broken.html"))

	testutils.WriteFiles(t, root, map[string]string{"_markup/broken.html": "fixed"})
	require.NoError(t, s.Run(context.Background(), TaskMarkup))
	assert.False(t, s.Errors().HasErrors())
}

func TestScriptsFailureIsTaskError(t *testing.T) {
	root := t.TempDir()
	testutils.WriteFiles(t, root, siteFiles)
	testutils.WriteFiles(t, root, map[string]string{"_scripts/main.ts": "let = ;"})
	s := newTestSite(t, root, nil)

	err := s.Run(context.Background(), TaskBuild)
	require.Error(t, err)
	var se *errors.SiteError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, errors.ErrorTypeTask, se.Type)
	assert.Equal(t, TaskScripts, se.Task)

	// Series stops at the failure: markup ran, styles did not.
	assert.True(t, testutils.Exists(root, "index.html"))
	assert.False(t, testutils.Exists(root, "assets/css/style.css"))
}

type recorder struct {
	mutex sync.Mutex
	calls []string
	files []string
}

func (r *recorder) add(call string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) Check(_ context.Context, files []string) ([]tools.Diagnostic, error) {
	r.add("lint")
	r.mutex.Lock()
	r.files = append(r.files, files...)
	r.mutex.Unlock()
	return []tools.Diagnostic{{File: files[0], Line: 1, Column: 1, Severity: tools.SeverityWarning, Message: "legacy var"}}, nil
}

func (r *recorder) Bundle(_ context.Context, entry string, opts tools.BundleOptions) ([]tools.Output, error) {
	r.add("bundle " + entry + " " + opts.Outfile)
	return []tools.Output{{Path: opts.Outfile, Contents: []byte("/* bundle */")}}, nil
}

func TestJSRunsLintThenScripts(t *testing.T) {
	root := t.TempDir()
	testutils.WriteFiles(t, root, siteFiles)
	rec := &recorder{}
	s := newTestSite(t, root, nil, WithLinter(rec), WithBundler(rec))

	require.NoError(t, s.Run(context.Background(), TaskJS))

	assert.Equal(t, []string{"lint", "bundle ./_scripts/main.ts bundle.js"}, rec.calls)
	require.Len(t, rec.files, 1)
	assert.True(t, strings.HasSuffix(filepath.ToSlash(rec.files[0]), "_scripts/legacy.js"))
	assert.Equal(t, "/* bundle */", testutils.ReadFile(t, root, "assets/js/bundle.js"))
}

func TestLintDisabled(t *testing.T) {
	root := t.TempDir()
	testutils.WriteFiles(t, root, siteFiles)
	s := newTestSite(t, root, map[string]any{"scripts.linter": "none"})

	assert.NoError(t, s.Run(context.Background(), TaskLint))
}

func TestClean(t *testing.T) {
	root := t.TempDir()
	testutils.WriteFiles(t, root, siteFiles)
	s := newTestSite(t, root, map[string]any{"sourcemap": true})
	require.NoError(t, s.Run(context.Background(), TaskBuild))
	testutils.WriteFiles(t, root, map[string]string{"assets/js/vendor.js": "keep"})

	require.NoError(t, s.Run(context.Background(), TaskClean))

	assert.False(t, testutils.Exists(root, "assets/js/bundle.js"))
	assert.False(t, testutils.Exists(root, "assets/js/bundle.js.map"))
	assert.False(t, testutils.Exists(root, "assets/css/style.css"))
	assert.True(t, testutils.Exists(root, "assets/js/vendor.js"))
	assert.True(t, testutils.Exists(root, "index.html"))
}

func TestCleanPatterns(t *testing.T) {
	s := newTestSite(t, t.TempDir(), map[string]any{"styles.dest": "./css"})
	assert.Equal(t, []string{
		"css/*.css",
		"css/*.css.map",
		"assets/js/bundle{,.min}.js",
		"assets/js/bundle{,.min}.js.map",
	}, s.cleanPatterns())
}

func TestServeBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	s := newTestSite(t, t.TempDir(), map[string]any{"server.port": port})

	err = s.Run(context.Background(), TaskServe)
	require.Error(t, err)
	assert.True(t, errors.IsBindError(err))
	assert.False(t, s.Background())

	// A second request reports the same failure.
	assert.True(t, errors.IsBindError(s.Run(context.Background(), TaskServe)))
}

func TestServeAndWatch(t *testing.T) {
	root := t.TempDir()
	testutils.WriteFiles(t, root, siteFiles)
	s := newTestSite(t, root, map[string]any{"watch.debounce": "20ms", "server.reload_window": "10ms"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Run(ctx, TaskServe))
	require.NoError(t, s.Run(ctx, TaskWatch))
	require.True(t, s.Background())
	require.NotNil(t, s.Watcher())
	assert.Len(t, s.Watcher().Rules(), 4)

	resp, err := http.Get(s.Server().URL() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(s.Server().URL() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Server().Addr()+server.ReloadPath, nil)
	require.NoError(t, err)
	defer conn.CloseNow()
	require.Eventually(t, func() bool { return s.Server().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	testutils.WriteFiles(t, root, map[string]string{"_sass/style.scss": "b { color: blue }\n"})

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(root, "assets", "css", "style.css"))
		return err == nil && strings.Contains(string(data), "blue")
	}, 5*time.Second, 20*time.Millisecond)

	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	defer readCancel()
	_, data, err := conn.Read(readCtx)
	require.NoError(t, err)
	var msg server.ReloadMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "reload", msg.Type)
	assert.Equal(t, []string{"assets/css/style.css"}, msg.Paths)

	cancel()
	assert.NoError(t, s.Wait())
}

type pathRecorder struct{ paths []string }

func (p *pathRecorder) Reload(paths ...string) { p.paths = append(p.paths, paths...) }

func TestRelativeReloader(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"inside", filepath.Join(dir, "assets", "css", "style.css"), "assets/css/style.css"},
		{"root file", filepath.Join(dir, "index.html"), "index.html"},
		{"outside", filepath.Join(outside, "x.css"), filepath.Join(outside, "x.css")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &pathRecorder{}
			newRelativeReloader(dir, rec).Reload(tt.in)
			assert.Equal(t, []string{tt.want}, rec.paths)
		})
	}
}

func TestWatchRules(t *testing.T) {
	s := newTestSite(t, t.TempDir(), nil)

	tasks := make(map[string]string)
	for _, r := range s.WatchRules() {
		tasks[r.Name] = r.Task
		assert.NotEmpty(t, r.Globs, r.Name)
	}
	assert.Equal(t, map[string]string{
		"styles":  TaskStyles,
		"scripts": TaskJS,
		"markup":  TaskMarkup,
		"assets":  TaskReload,
	}, tasks)
	for name := range tasks {
		_, ok := s.Registry().Get(tasks[name])
		assert.True(t, ok, fmt.Sprintf("rule %s targets a registered task", name))
	}
}
