package tools

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/evanw/esbuild/pkg/api"
)

// Esbuild bundles browser scripts with esbuild: one IIFE file, resolving
// the "browser" then "module" package fields and .ts/.js sources.
type Esbuild struct {
	workDir string
	target  api.Target
}

// NewEsbuild creates a bundler resolving paths against workDir.
func NewEsbuild(workDir string) *Esbuild {
	return &Esbuild{workDir: workDir, target: api.ES2015}
}

// Bundle implements ScriptBundler. Any error fails the whole run.
func (e *Esbuild) Bundle(ctx context.Context, entryPoint string, opts BundleOptions) ([]Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	workDir, err := filepath.Abs(e.workDir)
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}
	outfile := opts.Outfile
	if outfile == "" {
		outfile = "bundle.js"
	}
	outPath := filepath.Join(workDir, filepath.FromSlash(opts.OutDir), outfile)

	build := api.BuildOptions{
		EntryPoints:       []string{entryPoint},
		AbsWorkingDir:     workDir,
		Bundle:            true,
		Write:             false,
		Outfile:           outPath,
		Format:            api.FormatIIFE,
		Platform:          api.PlatformBrowser,
		Target:            e.target,
		MainFields:        []string{"browser", "module"},
		ResolveExtensions: []string{".ts", ".js"},
		MinifyWhitespace:  opts.Minify,
		MinifySyntax:      opts.Minify,
		MinifyIdentifiers: opts.Minify,
		LogLevel:          api.LogLevelSilent,
	}
	if opts.Sourcemap {
		build.Sourcemap = api.SourceMapLinked
	}

	result := api.Build(build)
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("bundling %s failed:\n%s", entryPoint, formatMessages(result.Errors))
	}

	outputs := make([]Output, 0, len(result.OutputFiles))
	for _, f := range result.OutputFiles {
		rel, err := filepath.Rel(filepath.Dir(outPath), f.Path)
		if err != nil {
			rel = filepath.Base(f.Path)
		}
		outputs = append(outputs, Output{Path: filepath.ToSlash(rel), Contents: f.Contents})
	}
	return outputs, nil
}
