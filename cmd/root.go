// Package cmd provides the command-line interface for sitebuild with
// configuration merged from several sources.
//
// Configuration System:
//
//	Values are resolved with this precedence, highest first:
//	1. Command-line flags (--production, --sourcemap, --root, ...)
//	2. Individual environment variables (SITEBUILD_SERVER_PORT, ...)
//	3. The configuration file: --config, then SITEBUILD_CONFIG_FILE, then
//	   .sitebuild.yml in the current directory
//	4. Built-in defaults
//
// Environment Variables:
//
//	SITEBUILD_CONFIG_FILE: Path to custom configuration file
//	SITEBUILD_SERVER_PORT: Override server port
//	SITEBUILD_PRODUCTION: Build minified output
//	And every other key following the SITEBUILD_<SECTION>_<OPTION> pattern
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/sitebuild/internal/config"
	"github.com/conneroisu/sitebuild/internal/site"
)

var cfgFile string

// flagBindings maps persistent flags to configuration keys.
var flagBindings = map[string]string{
	"root":       "root",
	"production": "production",
	"sourcemap":  "sourcemap",
	"log-level":  "log.level",
	"log-format": "log.format",
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sitebuild",
	Short: "Build and serve a static site from markup, styles and scripts",
	Long: `sitebuild renders page templates, compiles stylesheets, bundles scripts and
serves the result with live reload while watching the sources for changes.

Running sitebuild without a command runs the default task: build everything,
start the dev server and watch for changes until interrupted.

Tasks:
  markup    Render _markup pages with their layouts and partials
  scripts   Bundle the script entry point
  styles    Compile and prefix stylesheets
  lint      Check script sources
  reload    Tell connected browsers to reload
  js        lint, then scripts
  build     markup, scripts and styles
  serve     Start the dev server
  watch     Rebuild on change
  clean     Remove generated bundles and stylesheets

Examples:
  sitebuild                       Build, serve and watch
  sitebuild build --production    Minified build
  sitebuild styles --sourcemap    Stylesheets with inline source maps
  sitebuild tasks -f yaml         List the task graph`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTask(cmd, site.TaskDefault)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .sitebuild.yml, can also use SITEBUILD_CONFIG_FILE env var)")
	flags.String("root", ".", "project root directory")
	flags.Bool("production", false, "minify output and write .min files")
	flags.Bool("sourcemap", false, "emit source maps")
	flags.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")

	addServerFlags(rootCmd)

	AddFlagValidation(rootCmd, "log-format", func(format string) error {
		return validateFormat(format, []string{"text", "json"})
	})
}

// initConfig initializes the configuration system.
//
// The config file is taken from the --config flag, then from
// SITEBUILD_CONFIG_FILE, and finally searched as .sitebuild.yml in the
// current directory. Every key can be overridden from the environment with
// the SITEBUILD_ prefix (e.g. SITEBUILD_SERVER_PORT=8080).
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("SITEBUILD_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sitebuild")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bound here rather than in init so a viper.Reset between runs keeps
	// the flags wired.
	for flagName, key := range flagBindings {
		_ = viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flagName))
	}

	// A missing file is fine; defaults apply.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
