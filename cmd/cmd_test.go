package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/sitebuild/internal/errors"
	"github.com/conneroisu/sitebuild/internal/testutils"
	"github.com/conneroisu/sitebuild/internal/version"
)

// resetFlags puts every flag of cmd and its children back to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	resetFlags(rootCmd)
	t.Cleanup(viper.Reset)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// minimalSite has no layout or partial directories.
var minimalSite = map[string]string{
	"_markup/index.html": "<p>{{.page}}</p>",
	"_sass/style.scss":   "a { color: red }",
	"_scripts/main.ts":   "console.log(\"ready\");",
}

func TestTasksCommand(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		out, err := executeCommand(t, "tasks")
		require.NoError(t, err)
		assert.Contains(t, out, "NAME")
		assert.Contains(t, out, "markup, lint, scripts, styles, serve, watch")
		assert.Contains(t, out, "lint, scripts")
	})

	t.Run("json", func(t *testing.T) {
		out, err := executeCommand(t, "tasks", "-f", "json")
		require.NoError(t, err)
		var infos []TaskInfo
		require.NoError(t, json.Unmarshal([]byte(out), &infos))
		require.Len(t, infos, 11)
		assert.Equal(t, "markup", infos[0].Name)
		assert.Empty(t, infos[0].Mode)
	})

	t.Run("yaml", func(t *testing.T) {
		out, err := executeCommand(t, "tasks", "--format", "yaml")
		require.NoError(t, err)
		var infos []TaskInfo
		require.NoError(t, yaml.Unmarshal([]byte(out), &infos))
		byName := make(map[string]TaskInfo)
		for _, i := range infos {
			byName[i.Name] = i
		}
		assert.Equal(t, "series", byName["build"].Mode)
		assert.Equal(t, []string{"markup", "scripts", "styles"}, byName["build"].Deps)
	})

	t.Run("invalid format", func(t *testing.T) {
		_, err := executeCommand(t, "tasks", "-f", "xml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid format")
	})
}

func TestBuildCommand(t *testing.T) {
	root := testutils.CreateTempProject(t, minimalSite)
	t.Setenv("SITEBUILD_STYLES_COMPILER", "none")

	_, err := executeCommand(t, "build", "--root", root, "--log-level", "error")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(root, "index.html"))
	assert.FileExists(t, filepath.Join(root, "assets", "js", "bundle.js"))
	assert.FileExists(t, filepath.Join(root, "assets", "css", "style.css"))
}

func TestBuildCommandProduction(t *testing.T) {
	root := testutils.CreateTempProject(t, minimalSite)
	t.Setenv("SITEBUILD_STYLES_COMPILER", "none")

	_, err := executeCommand(t, "b", "--root", root, "--production", "-l", "error")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(root, "assets", "js", "bundle.min.js"))
	assert.FileExists(t, filepath.Join(root, "assets", "css", "style.min.css"))
}

func TestTaskCommandFailure(t *testing.T) {
	files := map[string]string{"_markup/index.html": "{{if}}"}
	root := testutils.CreateTempProject(t, files)

	_, err := executeCommand(t, "markup", "--root", root, "-l", "error")
	require.Error(t, err)
	assert.True(t, errors.IsTaskError(err))
}

func TestConfigFileFlag(t *testing.T) {
	root := testutils.CreateTempProject(t, minimalSite)
	cfg := filepath.Join(t.TempDir(), "site.yml")
	content := "root: " + root + "\nstyles:\n  compiler: none\n  dest: css\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfg, []byte(content), 0o644))

	_, err := executeCommand(t, "styles", "--config", cfg)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "css", "style.css"))
}

func TestServeCommandBindError(t *testing.T) {
	root := testutils.CreateTempProject(t, minimalSite)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)

	_, err = executeCommand(t, "serve", "--root", root, "--host", "127.0.0.1", "--port", port, "-l", "error")
	require.Error(t, err)
	assert.True(t, errors.IsBindError(err))
}

func TestCheckCommand(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		out, err := executeCommand(t, "check", "--root", filepath.Join(t.TempDir(), "missing"))
		require.Error(t, err)
		assert.Contains(t, out, "project root is not a directory")
	})

	t.Run("json", func(t *testing.T) {
		root := testutils.CreateTempProject(t, minimalSite)
		t.Setenv("SITEBUILD_STYLES_COMPILER", "none")

		out, err := executeCommand(t, "check", "--root", root, "-f", "json")
		require.NoError(t, err)
		var report struct {
			Valid    bool `json:"valid"`
			Warnings []struct {
				Field string `json:"field"`
			} `json:"warnings"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.True(t, report.Valid)
		fields := make([]string, 0, len(report.Warnings))
		for _, w := range report.Warnings {
			fields = append(fields, w.Field)
		}
		assert.Contains(t, fields, "markup.search_paths")
	})
}

func TestWriteVersion(t *testing.T) {
	info := version.Info{
		Version:   "v1.0.0",
		GitCommit: "0123456789",
		GoVersion: "go1.24.0",
		Platform:  "linux/amd64",
		Release:   true,
	}

	tests := []struct {
		name   string
		format string
		short  bool
		check  func(t *testing.T, out string)
	}{
		{"short", "text", true, func(t *testing.T, out string) {
			assert.Equal(t, "v1.0.0 (0123456)\n", out)
		}},
		{"text", "text", false, func(t *testing.T, out string) {
			assert.True(t, strings.HasPrefix(out, "sitebuild v1.0.0 (0123456)\n"))
			assert.Contains(t, out, "Platform: linux/amd64")
		}},
		{"json", "json", false, func(t *testing.T, out string) {
			var got map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(out), &got))
			assert.Equal(t, "v1.0.0", got["version"])
			assert.Equal(t, true, got["release"])
		}},
		{"yaml", "yaml", false, func(t *testing.T, out string) {
			assert.Contains(t, out, "version: v1.0.0")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeVersion(&buf, info, tt.format, tt.short))
			tt.check(t, buf.String())
		})
	}

	assert.Error(t, writeVersion(io.Discard, info, "xml", false))
}

func TestValidatePort(t *testing.T) {
	tests := []struct {
		port    string
		wantErr bool
	}{
		{"0", false},
		{"4040", false},
		{"65535", false},
		{"-1", true},
		{"65536", true},
		{"http", true},
	}

	for _, tt := range tests {
		t.Run(tt.port, func(t *testing.T) {
			err := ValidatePort(tt.port)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServerFlagBindings(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "serve"}
	addServerFlags(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{"--port", "5000", "--open"}))
	require.NoError(t, SetViperBindings(cmd, serverFlagBindings))

	assert.Equal(t, 5000, viper.GetInt("server.port"))
	assert.True(t, viper.GetBool("server.open"))
	assert.Equal(t, "localhost", viper.GetString("server.host"))

	assert.Error(t, cmd.Flags().Set("port", "99999"))
}
