package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/sitebuild/internal/site"
	"github.com/conneroisu/sitebuild/internal/task"
)

// taskCommands lists the tasks exposed as subcommands, with short aliases
// for the ones typed most.
var taskCommands = []struct {
	name    string
	aliases []string
}{
	{site.TaskMarkup, []string{"m"}},
	{site.TaskScripts, nil},
	{site.TaskStyles, nil},
	{site.TaskLint, nil},
	{site.TaskReload, nil},
	{site.TaskJS, nil},
	{site.TaskServe, []string{"s"}},
	{site.TaskWatch, []string{"w"}},
	{site.TaskBuild, []string{"b"}},
	{site.TaskDefault, nil},
	{site.TaskClean, nil},
}

var tasksFormat string

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List registered tasks and their dependencies",
	Long: `List every registered task with its description, how its dependencies run
and which tasks it depends on.

Examples:
  sitebuild tasks             # Table output
  sitebuild tasks -f json     # JSON output
  sitebuild tasks -f yaml     # YAML output`,
	Args: cobra.NoArgs,
	RunE: runTasks,
}

func init() {
	for _, tc := range taskCommands {
		name := tc.name
		taskCmd := &cobra.Command{
			Use:     name,
			Aliases: tc.aliases,
			Short:   "Run the " + name + " task",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runTask(cmd, name)
			},
		}
		if name == site.TaskServe || name == site.TaskDefault {
			addServerFlags(taskCmd)
		}
		rootCmd.AddCommand(taskCmd)
	}

	rootCmd.AddCommand(tasksCmd)
	tasksCmd.Flags().StringVarP(&tasksFormat, "format", "f", "table", "Output format (table, json, yaml)")
	AddFlagValidation(tasksCmd, "format", func(format string) error {
		return validateFormat(format, []string{"table", "json", "yaml"})
	})
}

// TaskInfo is the listing form of a task.
type TaskInfo struct {
	Name        string   `json:"name"                   yaml:"name"`
	Description string   `json:"description,omitempty"  yaml:"description,omitempty"`
	Mode        string   `json:"mode,omitempty"         yaml:"mode,omitempty"`
	Deps        []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

func taskInfos(tasks []task.Task) []TaskInfo {
	infos := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		info := TaskInfo{Name: t.Name, Description: t.Description, Deps: t.Deps}
		if len(t.Deps) > 0 {
			info.Mode = t.Mode.String()
		}
		infos = append(infos, info)
	}
	return infos
}

func runTasks(cmd *cobra.Command, args []string) error {
	s, _, err := loadSite(cmd)
	if err != nil {
		return err
	}
	return writeTasks(cmd.OutOrStdout(), taskInfos(s.Registry().Tasks()), tasksFormat)
}

func writeTasks(w io.Writer, infos []TaskInfo, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(infos)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(infos); err != nil {
			return err
		}
		return encoder.Close()
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tMODE\tDEPENDENCIES\tDESCRIPTION")
		for _, info := range infos {
			mode, deps := "-", "-"
			if len(info.Deps) > 0 {
				mode = info.Mode
				deps = strings.Join(info.Deps, ", ")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Name, mode, deps, info.Description)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}
