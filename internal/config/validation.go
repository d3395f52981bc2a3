package config

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ValidationError represents a configuration validation issue with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		builder.WriteString(title + "\n")
		for _, issue := range issues {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", issue.Field, issue.Message))
			for _, suggestion := range issue.Suggestions {
				builder.WriteString(fmt.Sprintf("    💡 %s\n", suggestion))
			}
		}
	}

	write("❌ Validation Errors:", vr.Errors)
	if vr.HasErrors() && vr.HasWarnings() {
		builder.WriteString("\n")
	}
	write("⚠️  Validation Warnings:", vr.Warnings)

	return builder.String()
}

func (vr *ValidationResult) warn(field string, value interface{}, message string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{
		Field:       field,
		Value:       value,
		Message:     message,
		Suggestions: suggestions,
	})
}

func (vr *ValidationResult) fail(field string, value interface{}, message string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{
		Field:       field,
		Value:       value,
		Message:     message,
		Suggestions: suggestions,
	})
}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// ValidateConfigWithDetails checks a loaded configuration against the project
// on disk. Problems that would make a task fail outright are errors; things
// that only look suspicious are warnings.
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	if info, err := os.Stat(config.Root); err != nil || !info.IsDir() {
		result.fail("root", config.Root, "project root is not a directory",
			"Run sitebuild from the site directory or set root in .sitebuild.yml")
		result.Valid = false
		return result
	}

	validateServerDetails(&config.Server, result)
	validateMarkupDetails(config, result)
	validateStylesDetails(config, result)
	validateScriptsDetails(config, result)

	for _, pattern := range config.Assets.Reload {
		if !doublestar.ValidatePattern(pattern) {
			result.fail("assets.reload", pattern, "invalid glob pattern")
		}
	}

	result.Valid = !result.HasErrors()

	return result
}

func validateServerDetails(config *ServerConfig, result *ValidationResult) {
	if config.Port > 0 && config.Port < 1024 {
		result.warn("server.port", config.Port,
			fmt.Sprintf("port %d is privileged and may require elevated permissions", config.Port),
			"Use a port between 1024-65535, the default is 4040")
	}

	if config.Host == "0.0.0.0" || config.Host == "::" {
		result.warn("server.host", config.Host,
			"binding to all interfaces exposes the dev server to the network",
			"Use localhost unless other devices need to reach the site")
	} else if config.Host != "" && config.Host != "localhost" && net.ParseIP(config.Host) == nil {
		result.warn("server.host", config.Host, "host is neither localhost nor an IP address")
	}
}

func validateMarkupDetails(config *Config, result *ValidationResult) {
	for _, pattern := range append(append([]string{}, config.Markup.Sources...), config.Markup.Watch...) {
		if !doublestar.ValidatePattern(pattern) {
			result.fail("markup", pattern, "invalid glob pattern")
		}
	}
	for _, dir := range config.Markup.SearchPaths {
		if !isDir(config.Path(dir)) {
			result.warn("markup.search_paths", dir, "search path does not exist",
				"Layouts and partials in this directory will not be found")
		}
	}
}

func validateStylesDetails(config *Config, result *ValidationResult) {
	for _, pattern := range append(append([]string{}, config.Styles.Entry...), config.Styles.Watch...) {
		if !doublestar.ValidatePattern(pattern) {
			result.fail("styles", pattern, "invalid glob pattern")
		}
	}

	if config.Styles.Compiler != "none" {
		if _, err := lookPath(config.Styles.Compiler); err != nil {
			result.fail("styles.compiler", config.Styles.Compiler,
				fmt.Sprintf("%s was not found on PATH", config.Styles.Compiler),
				"Install Dart Sass: npm install -g sass",
				"Or set styles.compiler to none to copy plain CSS")
		}
	}
}

func validateScriptsDetails(config *Config, result *ValidationResult) {
	if _, err := os.Stat(config.Path(config.Scripts.Entry)); err != nil {
		result.warn("scripts.entry", config.Scripts.Entry, "entry point does not exist",
			"The scripts task will fail until the file is created")
	}

	switch config.Scripts.Linter {
	case "esbuild", "none":
	default:
		if _, err := lookPath(config.Scripts.Linter); err != nil {
			result.warn("scripts.linter", config.Scripts.Linter,
				fmt.Sprintf("%s was not found on PATH", config.Scripts.Linter),
				"Set scripts.linter to esbuild to use the built-in syntax check")
		}
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
