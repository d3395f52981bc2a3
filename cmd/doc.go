// Package cmd provides the command-line interface for sitebuild.
//
// Every task in the site task graph is a subcommand; running sitebuild with
// no command runs the default task. The process exits with status 1 when a
// task fails.
//
// # Available Commands
//
//   - markup, scripts, styles, lint, reload, js: single build tasks
//   - build: markup, scripts and styles in series
//   - serve: start the dev server with live reload
//   - watch: rebuild on source changes
//   - default: build, serve and watch until interrupted
//   - clean: remove generated bundles and stylesheets
//   - tasks: list the task graph as a table, JSON or YAML
//   - check: check the configuration against the project
//   - version: show build information
//
// # Command Examples
//
//	// Build, serve and watch on the default port 4040
//	sitebuild
//
//	// Minified production build
//	sitebuild build --production
//
//	// Serve on another port without watching
//	sitebuild serve --port 8080 --open
//
//	// Task graph as YAML
//	sitebuild tasks -f yaml
package cmd
