package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/sitebuild/internal/config"
)

var checkFormat string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the configuration against the project on disk",
	Long: `Load the configuration and check it against the project:

- Source, watch and reload globs are valid
- The style compiler and linter can be found on PATH
- Layout and partial directories exist
- The script entry point exists
- The dev server address is sensible

Examples:
  sitebuild check             # Human readable report
  sitebuild check -f json     # JSON report`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text, json)")
	AddFlagValidation(checkCmd, "format", func(format string) error {
		return validateFormat(format, []string{"text", "json"})
	})
}

func runCheck(cmd *cobra.Command, args []string) error {
	if err := SetViperBindings(cmd, serverFlagBindings); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	result := config.ValidateConfigWithDetails(cfg)
	if err := writeCheck(cmd.OutOrStdout(), result, checkFormat); err != nil {
		return err
	}
	if !result.Valid {
		return fmt.Errorf("configuration has %d error(s)", len(result.Errors))
	}
	return nil
}

type checkIssue struct {
	Field       string   `json:"field"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func writeCheck(w io.Writer, result *config.ValidationResult, format string) error {
	if format == "json" {
		convert := func(issues []config.ValidationError) []checkIssue {
			out := make([]checkIssue, 0, len(issues))
			for _, i := range issues {
				out = append(out, checkIssue{Field: i.Field, Message: i.Message, Suggestions: i.Suggestions})
			}
			return out
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string]interface{}{
			"valid":    result.Valid,
			"errors":   convert(result.Errors),
			"warnings": convert(result.Warnings),
		})
	}

	if !result.HasErrors() && !result.HasWarnings() {
		_, err := fmt.Fprintln(w, "✅ Configuration looks good")
		return err
	}
	_, err := io.WriteString(w, result.String())
	return err
}
