package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/output"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks",
	Long:    `List tasks from the local store. Works offline.`,
	Example: `  offtask list --open --priority high
  offtask list --category work --search report
  offtask list --json`,
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		filters, err := listFilters(cmd)
		if err != nil {
			return err
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		tasks, err := a.Tasks.List(cmd.Context(), filters)
		if err != nil {
			return err
		}

		if handled, err := output.Emit(outputMode(), tasks); handled {
			return err
		}

		if len(tasks) == 0 {
			output.Info("No tasks")
			return nil
		}
		width := output.TerminalWidth(80)
		for i := range tasks {
			fmt.Fprintln(output.Stdout, output.FormatTaskShort(&tasks[i], width))
		}
		return nil
	},
}

// listFilters builds TaskFilters from the list flags
func listFilters(cmd *cobra.Command) (models.TaskFilters, error) {
	var f models.TaskFilters

	completed, _ := cmd.Flags().GetBool("completed")
	open, _ := cmd.Flags().GetBool("open")
	if completed && open {
		return f, &models.ValidationError{Field: "completed", Message: "--completed and --open are mutually exclusive"}
	}
	if completed || open {
		f.Completed = &completed
	}

	if p, _ := cmd.Flags().GetString("priority"); p != "" {
		pr, err := models.ParsePriority(p)
		if err != nil {
			return f, err
		}
		f.Priority = pr
	}
	f.Category, _ = cmd.Flags().GetString("category")
	f.Search, _ = cmd.Flags().GetString("search")
	f.IncludeDeleted, _ = cmd.Flags().GetBool("all")
	return f, nil
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().Bool("completed", false, "only completed tasks")
	listCmd.Flags().Bool("open", false, "only open tasks")
	listCmd.Flags().StringP("priority", "p", "", "filter by priority")
	listCmd.Flags().StringP("category", "c", "", "filter by category")
	listCmd.Flags().StringP("search", "s", "", "substring match on title and description")
	listCmd.Flags().Bool("all", false, "include tasks deleted locally but not yet pushed")
}
