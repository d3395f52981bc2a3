// Package internal contains the core implementation packages for sitebuild.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - task: named task registry with series and parallel dependencies, and
//     the runner that executes the graph
//   - pipeline: sources, stage chains and destinations that files flow through
//   - tools: template rendering, style compilation, bundling and linting stages
//   - watcher: file system monitoring with debouncing and task triggers
//   - server: static file server with live reload over WebSocket
//   - site: the concrete task graph wired from configuration
//   - config: configuration loading and validation
//   - errors: typed errors and the per-task error collector
//   - logging: structured logging on top of log/slog
//   - validation: command argument and path checks for external tools
//   - version: build information
//   - testutils: shared test fixtures
//
// # Inter-Package Communication
//
//   - site registers pipeline chains as task actions in the registry
//   - the runner resolves dependencies and runs actions
//   - watcher batches map to task names and go back through the runner
//   - pipeline destinations notify the server, which pushes reloads to browsers
//   - every failing item lands in the error collector, cleared when its task
//     next succeeds
package internal
