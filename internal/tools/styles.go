package tools

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/sitebuild/internal/errors"
	"github.com/conneroisu/sitebuild/internal/validation"
)

// allowedStyleCommands lists the compilers SassCLI may run.
var allowedStyleCommands = map[string]bool{
	"sass":      true,
	"node-sass": true,
}

// SassCLI compiles stylesheets by running a Sass executable.
type SassCLI struct {
	command string
	dir     string
}

// NewSassCLI creates a compiler running command in dir. An empty command
// means "sass".
func NewSassCLI(command, dir string) *SassCLI {
	if command == "" {
		command = "sass"
	}
	return &SassCLI{command: command, dir: dir}
}

// Compile implements StyleCompiler. Syntax errors come back as transform
// errors carrying the compiler's own message.
func (s *SassCLI) Compile(ctx context.Context, sourcePath string, includePaths []string) ([]byte, error) {
	args, err := s.args(sourcePath, includePaths)
	if err != nil {
		return nil, fmt.Errorf("command validation failed: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.command, args...)
	cmd.Dir = s.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s timed out: %w", s.command, ctx.Err())
		}
		var exitErr *exec.ExitError
		if !stderrors.As(err, &exitErr) {
			// The compiler could not be started at all.
			return nil, fmt.Errorf("running %s: %w", s.command, err)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, errors.NewTransformError(sourcePath, fmt.Errorf("%s", msg))
	}

	return stdout.Bytes(), nil
}

func (s *SassCLI) args(sourcePath string, includePaths []string) ([]string, error) {
	if err := validation.ValidateCommand(s.command, allowedStyleCommands); err != nil {
		return nil, err
	}

	flag := "--load-path="
	var args []string
	if filepath.Base(s.command) == "node-sass" {
		flag = "--include-path="
	} else {
		args = append(args, "--no-source-map")
	}
	for _, p := range includePaths {
		args = append(args, flag+p)
	}
	args = append(args, sourcePath)

	for _, arg := range args {
		if err := validation.ValidateArgument(arg); err != nil {
			return nil, fmt.Errorf("invalid argument '%s': %w", arg, err)
		}
	}
	return args, nil
}

// PlainCSS is the compiler used when none is configured: the source is
// already CSS and is read as-is.
type PlainCSS struct{}

// Compile implements StyleCompiler.
func (PlainCSS) Compile(ctx context.Context, sourcePath string, _ []string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, errors.NewTransformError(sourcePath, err)
	}
	return data, nil
}

// CSSOptions configures one esbuild pass over a stylesheet.
type CSSOptions struct {
	// Engines drives vendor prefixing and syntax lowering.
	Engines   []api.Engine
	Minify    bool
	Sourcemap bool
}

// CSSTransformer post-processes CSS with esbuild.
type CSSTransformer struct {
	opts CSSOptions
}

// NewCSSTransformer creates a transformer.
func NewCSSTransformer(opts CSSOptions) *CSSTransformer {
	return &CSSTransformer{opts: opts}
}

// NewPrefixer adds the vendor prefixes the given engines need.
func NewPrefixer(engines []api.Engine) *CSSTransformer {
	return NewCSSTransformer(CSSOptions{Engines: engines})
}

// NewMinifier minifies CSS, optionally appending an inline source map.
func NewMinifier(sourcemap bool) *CSSTransformer {
	return NewCSSTransformer(CSSOptions{Minify: true, Sourcemap: sourcemap})
}

// Transform rewrites css. name is used in messages and source maps.
func (c *CSSTransformer) Transform(ctx context.Context, name string, css []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := api.TransformOptions{
		Loader:            api.LoaderCSS,
		Sourcefile:        name,
		Engines:           c.opts.Engines,
		MinifyWhitespace:  c.opts.Minify,
		MinifySyntax:      c.opts.Minify,
		MinifyIdentifiers: c.opts.Minify,
		LogLevel:          api.LogLevelSilent,
	}
	if c.opts.Sourcemap {
		opts.Sourcemap = api.SourceMapInline
	}

	result := api.Transform(string(css), opts)
	if len(result.Errors) > 0 {
		return nil, messagesError(name, result.Errors)
	}
	return result.Code, nil
}

// messagesError turns esbuild errors for one file into a transform error
// located at the first message.
func messagesError(file string, msgs []api.Message) *errors.SiteError {
	err := errors.NewTransformError(file, fmt.Errorf("%s", formatMessages(msgs)))
	if len(msgs) > 0 && msgs[0].Location != nil {
		err = err.WithLocation(file, msgs[0].Location.Line, msgs[0].Location.Column+1)
	}
	return err
}

var engineNames = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"ff":      api.EngineFirefox,
	"ie":      api.EngineIE,
	"ios":     api.EngineIOS,
	"ios_saf": api.EngineIOS,
	"opera":   api.EngineOpera,
	"safari":  api.EngineSafari,
}

// browserQueries are browserslist keywords with no single minimum version.
// Entries starting with one are skipped.
var browserQueries = map[string]bool{
	"last": true, ">": true, ">=": true, "<": true, "<=": true,
	"not": true, "defaults": true, "dead": true, "cover": true,
	"maintained": true, "unreleased": true,
	// esbuild has no engine for the old Android browser.
	"android": true,
}

// ParseEngines converts browser entries such as "safari 5", "ie 11" or
// "chrome >= 30" to esbuild engines, the version being the oldest one to
// support. Browserslist queries ("last 2 versions", "> 1%") are skipped;
// any other browser name is an error.
func ParseEngines(browsers []string) ([]api.Engine, error) {
	var engines []api.Engine
	for _, b := range browsers {
		fields := strings.Fields(strings.ToLower(b))
		if len(fields) == 0 || browserQueries[fields[0]] {
			continue
		}
		name, ok := engineNames[fields[0]]
		if !ok {
			return nil, fmt.Errorf("unknown browser %q", b)
		}

		var version string
		switch {
		case len(fields) == 2:
			version = fields[1]
		case len(fields) == 3 && (fields[1] == ">=" || fields[1] == ">"):
			version = fields[2]
		default:
			return nil, fmt.Errorf("unsupported browser entry %q: want \"<browser> <version>\" or \"<browser> >= <version>\"", b)
		}
		// Ranges such as "ie 9-11" start at their lower bound.
		version, _, _ = strings.Cut(version, "-")
		engines = append(engines, api.Engine{Name: name, Version: version})
	}
	return engines, nil
}
