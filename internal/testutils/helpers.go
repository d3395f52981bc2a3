// Package testutils holds helpers shared by the sitebuild test suites: on-disk
// project fixtures, configuration built from defaults, and polling waits.
package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sitebuild/internal/config"
)

// ProjectFiles is a minimal project laid out the way the default
// configuration expects.
var ProjectFiles = map[string]string{
	"_markup/layouts/base.html": `<html><body>{{block "content" .}}{{end}}</body></html>`,
	"_markup/partials/nav.html": `<nav>{{.page}}</nav>`,
	"_markup/index.html":        `{{define "content"}}{{template "nav.html" .}}<h1>{{.page}}</h1>{{end}}{{template "base.html" .}}`,
	"_sass/style.scss":          "a { color: red }\n",
	"_scripts/main.ts":          "console.log(\"ready\");\n",
}

// CreateTempProject writes files into a fresh temporary directory and
// returns it. ProjectFiles is used when files is nil.
func CreateTempProject(t *testing.T, files map[string]string) string {
	t.Helper()
	if files == nil {
		files = ProjectFiles
	}
	root := t.TempDir()
	WriteFiles(t, root, files)
	return root
}

// WriteFiles writes slash-separated relative paths under root, creating
// parent directories as needed.
func WriteFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

// ReadFile returns the content of a slash-separated path under root.
func ReadFile(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
	require.NoError(t, err)
	return string(data)
}

// Exists reports whether a slash-separated path under root exists.
func Exists(root, name string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(name)))
	return err == nil
}

// CreateTestConfig loads a configuration rooted at projectDir with the dev
// server on a loopback ephemeral port and no style compiler. Settings are
// applied on top as dotted keys.
func CreateTestConfig(t *testing.T, projectDir string, settings map[string]any) *config.Config {
	t.Helper()
	v := viper.New()
	v.Set("root", projectDir)
	v.Set("server.host", "127.0.0.1")
	v.Set("server.port", 0)
	v.Set("styles.compiler", "none")
	for k, val := range settings {
		v.Set(k, val)
	}
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	return cfg
}

// WaitFor polls cond every 10ms until it holds or timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s within %v", msg, timeout)
}

// WaitForFileChange waits for a file to be modified after originalModTime.
func WaitForFileChange(
	t *testing.T,
	filePath string,
	originalModTime time.Time,
	timeout time.Duration,
) {
	t.Helper()
	WaitFor(t, timeout, func() bool {
		info, err := os.Stat(filePath)
		return err == nil && info.ModTime().After(originalModTime)
	}, "file "+filePath+" was not modified")
}
