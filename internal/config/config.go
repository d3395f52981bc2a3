// Package config provides configuration management for sitebuild using Viper
// for loading from files, environment variables, and command-line flags.
//
// The configuration system supports a .sitebuild.yml file, environment
// variable overrides with the SITEBUILD_ prefix, defaults, and validation.
// It describes where the site sources live, where generated files are
// written, how the dev server listens, and which paths the watcher follows.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/sitebuild/internal/errors"
	"github.com/conneroisu/sitebuild/internal/validation"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "SITEBUILD"

type Config struct {
	Root       string        `yaml:"root"       mapstructure:"root"`
	Production bool          `yaml:"production" mapstructure:"production"`
	Sourcemap  bool          `yaml:"sourcemap"  mapstructure:"sourcemap"`
	Server     ServerConfig  `yaml:"server"     mapstructure:"server"`
	Markup     MarkupConfig  `yaml:"markup"     mapstructure:"markup"`
	Styles     StylesConfig  `yaml:"styles"     mapstructure:"styles"`
	Scripts    ScriptsConfig `yaml:"scripts"    mapstructure:"scripts"`
	Assets     AssetsConfig  `yaml:"assets"     mapstructure:"assets"`
	Watch      WatchConfig   `yaml:"watch"      mapstructure:"watch"`
	Log        LogConfig     `yaml:"log"        mapstructure:"log"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"            mapstructure:"port"`
	Host           string        `yaml:"host"            mapstructure:"host"`
	Dir            string        `yaml:"dir"             mapstructure:"dir"`
	Open           bool          `yaml:"open"            mapstructure:"open"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ReloadWindow   time.Duration `yaml:"reload_window"   mapstructure:"reload_window"`
	Metrics        bool          `yaml:"metrics"         mapstructure:"metrics"`
}

type MarkupConfig struct {
	Sources     []string       `yaml:"sources"      mapstructure:"sources"`
	SearchPaths []string       `yaml:"search_paths" mapstructure:"search_paths"`
	Dest        string         `yaml:"dest"         mapstructure:"dest"`
	Data        map[string]any `yaml:"data"         mapstructure:"data"`
	Watch       []string       `yaml:"watch"        mapstructure:"watch"`
}

type StylesConfig struct {
	Entry        []string `yaml:"entry"         mapstructure:"entry"`
	IncludePaths []string `yaml:"include_paths" mapstructure:"include_paths"`
	Compiler     string   `yaml:"compiler"      mapstructure:"compiler"`
	Browsers     []string `yaml:"browsers"      mapstructure:"browsers"`
	Dest         string   `yaml:"dest"          mapstructure:"dest"`
	Watch        []string `yaml:"watch"         mapstructure:"watch"`
}

type ScriptsConfig struct {
	Entry      string   `yaml:"entry"       mapstructure:"entry"`
	Dest       string   `yaml:"dest"        mapstructure:"dest"`
	Bundle     string   `yaml:"bundle"      mapstructure:"bundle"`
	Lint       []string `yaml:"lint"        mapstructure:"lint"`
	Linter     string   `yaml:"linter"      mapstructure:"linter"`
	LinterArgs []string `yaml:"linter_args" mapstructure:"linter_args"`
	Watch      []string `yaml:"watch"       mapstructure:"watch"`
}

type AssetsConfig struct {
	Reload []string `yaml:"reload" mapstructure:"reload"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
	Ignore   []string      `yaml:"ignore"   mapstructure:"ignore"`
}

type LogConfig struct {
	Level  string `yaml:"level"  mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Compilers accepted for styles.compiler. "none" copies CSS as-is.
var Compilers = []string{"sass", "node-sass", "none"}

// Linters accepted for scripts.linter.
var Linters = []string{"esbuild", "jshint", "eslint", "none"}

// SetDefaults registers default values on v. Values already set through a
// file, flag, or environment variable take precedence.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("root", ".")
	v.SetDefault("production", false)
	v.SetDefault("sourcemap", false)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 4040)
	v.SetDefault("server.dir", ".")
	v.SetDefault("server.open", false)
	v.SetDefault("server.reload_window", 50*time.Millisecond)
	v.SetDefault("server.metrics", true)

	v.SetDefault("markup.sources", []string{"_markup/*.{html,nunjucks}"})
	v.SetDefault("markup.search_paths", []string{"_markup/layouts", "_markup/partials"})
	v.SetDefault("markup.dest", ".")
	v.SetDefault("markup.watch", []string{"_markup/**/*.{html,nunjucks}"})

	v.SetDefault("styles.entry", []string{"_sass/style.scss"})
	v.SetDefault("styles.include_paths", []string{"node_modules", "_sass"})
	v.SetDefault("styles.compiler", "sass")
	v.SetDefault("styles.browsers", []string{
		"last 2 versions", "chrome >= 30", "firefox >= 30", "ie >= 10",
		"ios >= 7", "safari >= 7", "opera >= 23",
	})
	v.SetDefault("styles.dest", "assets/css")
	v.SetDefault("styles.watch", []string{"_sass/**/*.scss"})

	v.SetDefault("scripts.entry", "_scripts/main.ts")
	v.SetDefault("scripts.dest", "assets/js")
	v.SetDefault("scripts.bundle", "bundle.js")
	v.SetDefault("scripts.lint", []string{"_scripts/**/*.js"})
	v.SetDefault("scripts.linter", "esbuild")
	v.SetDefault("scripts.linter_args", []string{"--reporter=unix"})
	v.SetDefault("scripts.watch", []string{"_scripts/**/*.{ts,js}"})

	v.SetDefault("assets.reload", []string{"*.html", "assets/**/*.{png,jpg,jpeg,svg}"})

	v.SetDefault("watch.debounce", 100*time.Millisecond)
	v.SetDefault("watch.ignore", []string{".git", "node_modules"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads, defaults and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.NewConfigError("cannot decode configuration", err)
	}

	// An empty map in YAML decodes to nil.
	if config.Markup.Data == nil {
		config.Markup.Data = make(map[string]any)
	}
	config.Scripts.Entry = strings.TrimPrefix(config.Scripts.Entry, "./")

	if err := validateConfig(&config); err != nil {
		return nil, errors.NewConfigError("invalid configuration", err)
	}

	return &config, nil
}

// BundleName returns the bundle file name for the current mode: production
// builds get a ".min" infix.
func (c *Config) BundleName() string {
	if !c.Production {
		return c.Scripts.Bundle
	}
	ext := filepath.Ext(c.Scripts.Bundle)
	return strings.TrimSuffix(c.Scripts.Bundle, ext) + ".min" + ext
}

// Path joins rel onto the project root.
func (c *Config) Path(rel string) string {
	return filepath.Join(c.Root, filepath.FromSlash(rel))
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	// The root is wherever the user points; only paths derived from it are
	// checked for traversal.
	if strings.TrimSpace(config.Root) == "" {
		return fmt.Errorf("root: empty path")
	}

	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateMarkupConfig(&config.Markup); err != nil {
		return fmt.Errorf("markup config: %w", err)
	}

	if err := validateStylesConfig(&config.Styles); err != nil {
		return fmt.Errorf("styles config: %w", err)
	}

	if err := validateScriptsConfig(&config.Scripts); err != nil {
		return fmt.Errorf("scripts config: %w", err)
	}

	if err := validateGlobs("assets.reload", config.Assets.Reload); err != nil {
		return err
	}

	if config.Watch.Debounce <= 0 {
		return fmt.Errorf("watch.debounce must be positive, got %s", config.Watch.Debounce)
	}

	switch config.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", config.Log.Format)
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Port 0 asks the system for a free port.
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	if err := validatePath(config.Dir); err != nil {
		return fmt.Errorf("dir: %w", err)
	}

	if config.ReloadWindow < 0 {
		return fmt.Errorf("reload_window must not be negative, got %s", config.ReloadWindow)
	}

	return nil
}

func validateMarkupConfig(config *MarkupConfig) error {
	if err := validateGlobs("sources", config.Sources); err != nil {
		return err
	}
	if err := validateGlobs("watch", config.Watch); err != nil {
		return err
	}
	for _, path := range config.SearchPaths {
		if err := validatePath(path); err != nil {
			return fmt.Errorf("invalid search path '%s': %w", path, err)
		}
	}

	return validation.ValidateOutputDir(config.Dest)
}

func validateStylesConfig(config *StylesConfig) error {
	if err := validateGlobs("entry", config.Entry); err != nil {
		return err
	}
	if err := validateGlobs("watch", config.Watch); err != nil {
		return err
	}
	if !contains(Compilers, config.Compiler) {
		return fmt.Errorf("unknown compiler %q, expected one of %s", config.Compiler, strings.Join(Compilers, ", "))
	}
	for _, path := range config.IncludePaths {
		if err := validatePath(path); err != nil {
			return fmt.Errorf("invalid include path '%s': %w", path, err)
		}
	}

	return validation.ValidateOutputDir(config.Dest)
}

func validateScriptsConfig(config *ScriptsConfig) error {
	if err := validatePath(config.Entry); err != nil {
		return fmt.Errorf("entry: %w", err)
	}
	if config.Bundle == "" || strings.ContainsAny(config.Bundle, `/\`) {
		return fmt.Errorf("bundle must be a plain file name, got %q", config.Bundle)
	}
	if err := validateGlobs("watch", config.Watch); err != nil {
		return err
	}
	if !contains(Linters, config.Linter) {
		return fmt.Errorf("unknown linter %q, expected one of %s", config.Linter, strings.Join(Linters, ", "))
	}
	for _, arg := range config.LinterArgs {
		if err := validation.ValidateArgument(arg); err != nil {
			return fmt.Errorf("linter_args: %w", err)
		}
	}

	return validation.ValidateOutputDir(config.Dest)
}

// validateGlobs rejects an empty list or an empty pattern.
func validateGlobs(field string, globs []string) error {
	if len(globs) == 0 {
		return fmt.Errorf("%s must list at least one glob", field)
	}
	for _, g := range globs {
		if strings.TrimSpace(g) == "" {
			return fmt.Errorf("%s contains an empty glob", field)
		}
	}

	return nil
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	for _, part := range strings.Split(filepath.ToSlash(cleanPath), "/") {
		if part == ".." {
			return fmt.Errorf("path contains traversal: %s", path)
		}
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}
