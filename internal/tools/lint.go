package tools

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/sitebuild/internal/validation"
)

// EsbuildLinter reports syntax errors and warnings found by esbuild's
// parser for the configured target.
type EsbuildLinter struct {
	target api.Target
}

// NewEsbuildLinter creates a linter checking against ES2015, the level the
// scripts are written for.
func NewEsbuildLinter() *EsbuildLinter {
	return &EsbuildLinter{target: api.ES2015}
}

// Check implements Linter. Only unreadable files cause an error.
func (l *EsbuildLinter) Check(ctx context.Context, files []string) ([]Diagnostic, error) {
	var diags []Diagnostic
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return diags, err
		}
		src, err := os.ReadFile(file)
		if err != nil {
			return diags, fmt.Errorf("reading %s: %w", file, err)
		}

		loader := api.LoaderJS
		if strings.EqualFold(filepath.Ext(file), ".ts") {
			loader = api.LoaderTS
		}
		result := api.Transform(string(src), api.TransformOptions{
			Loader:     loader,
			Sourcefile: file,
			Target:     l.target,
			LogLevel:   api.LogLevelSilent,
		})
		diags = append(diags, toDiagnostics(file, SeverityError, result.Errors)...)
		diags = append(diags, toDiagnostics(file, SeverityWarning, result.Warnings)...)
	}
	return diags, nil
}

func toDiagnostics(file string, severity Severity, msgs []api.Message) []Diagnostic {
	out := make([]Diagnostic, 0, len(msgs))
	for _, m := range msgs {
		d := Diagnostic{File: file, Severity: severity, Message: m.Text}
		if m.Location != nil {
			d.Line = m.Location.Line
			d.Column = m.Location.Column + 1
		}
		out = append(out, d)
	}
	return out
}

// allowedLintCommands lists the linters CommandLinter may run.
var allowedLintCommands = map[string]bool{
	"jshint": true,
	"eslint": true,
}

// CommandLinter runs an external linter that prints unix-style
// "file:line:col: message" lines, e.g. "jshint --reporter=unix".
type CommandLinter struct {
	command string
	args    []string
	dir     string
}

// NewCommandLinter creates a linter running command with args, followed by
// the files to check.
func NewCommandLinter(command string, args []string, dir string) *CommandLinter {
	return &CommandLinter{command: command, args: args, dir: dir}
}

// Check implements Linter. Findings are never an error; a linter that cannot
// be run, or that fails without printing findings, is.
func (l *CommandLinter) Check(ctx context.Context, files []string) ([]Diagnostic, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if err := validation.ValidateCommand(l.command, allowedLintCommands); err != nil {
		return nil, fmt.Errorf("command validation failed: %w", err)
	}
	args := append(append([]string(nil), l.args...), files...)
	for _, arg := range args {
		if err := validation.ValidateArgument(arg); err != nil {
			return nil, fmt.Errorf("invalid argument '%s': %w", arg, err)
		}
	}

	cmd := exec.CommandContext(ctx, l.command, args...)
	cmd.Dir = l.dir
	output, err := cmd.CombinedOutput()
	diags := ParseUnixReport(output)

	if err != nil {
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) && len(diags) > 0 {
			return diags, nil
		}
		if ctx.Err() != nil {
			return diags, ctx.Err()
		}
		return diags, fmt.Errorf("%s failed: %w\nOutput: %s", l.command, err, bytes.TrimSpace(output))
	}
	return diags, nil
}

var unixLine = regexp.MustCompile(`^(.+?):(\d+):(\d+): (.*)$`)

// ParseUnixReport extracts diagnostics from unix-style linter output.
// Lines that do not match, such as summaries, are ignored.
func ParseUnixReport(output []byte) []Diagnostic {
	var diags []Diagnostic
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		m := unixLine.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}
		line, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		severity := SeverityWarning
		if strings.Contains(strings.ToLower(m[4]), "error") {
			severity = SeverityError
		}
		diags = append(diags, Diagnostic{
			File:     m[1],
			Line:     line,
			Column:   col,
			Severity: severity,
			Message:  m[4],
		})
	}
	return diags
}
