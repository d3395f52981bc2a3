package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// serverFlagBindings maps dev server flags to configuration keys.
var serverFlagBindings = map[string]string{
	"port": "server.port",
	"host": "server.host",
	"open": "server.open",
}

// addServerFlags adds the dev server flags to commands that start it.
func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("port", "p", 4040, "Port to serve on (0 picks a free port)")
	cmd.Flags().String("host", "localhost", "Host to bind to")
	cmd.Flags().Bool("open", false, "Open the site in the default browser")
	AddFlagValidation(cmd, "port", ValidatePort)
}

// SetViperBindings binds the flags of cmd that exist to viper configuration
// keys.
func SetViperBindings(cmd *cobra.Command, bindings map[string]string) error {
	for flagName, configKey := range bindings {
		flag := cmd.Flags().Lookup(flagName)
		if flag == nil {
			continue
		}
		if err := viper.BindPFlag(configKey, flag); err != nil {
			return fmt.Errorf("binding --%s: %w", flagName, err)
		}
	}
	return nil
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		flag = cmd.PersistentFlags().Lookup(flagName)
	}
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidatePort accepts 0 to 65535; 0 lets the system pick.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}

	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}

	return nil
}

func validateFormat(format string, valid []string) error {
	for _, v := range valid {
		if format == v {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q, must be one of: %s", format, strings.Join(valid, ", "))
}
