package cmd

import (
	"github.com/spf13/cobra"

	"github.com/marcus/offtask/internal/dateparse"
	"github.com/marcus/offtask/internal/input"
	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/output"
)

var editCmd = &cobra.Command{
	Use:     "edit <ref>",
	Aliases: []string{"update"},
	Short:   "Change fields of a task",
	Long:    `Change one or more fields of a task. Only the flags you pass are changed.`,
	Example: `  offtask edit "buy milk" --priority high
  offtask edit 1a2b --due tomorrow
  offtask edit 1a2b --clear-due --category errands`,
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := requireRef(args)
		if err != nil {
			return err
		}
		patch, err := editPatch(cmd)
		if err != nil {
			return err
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		task, err := a.Tasks.Resolve(cmd.Context(), ref)
		if err != nil {
			return err
		}
		task, err = a.Tasks.Update(cmd.Context(), task.ID, patch)
		if err != nil {
			return err
		}

		autoSyncAfterMutation(cmd.Context(), a)
		if t, err := a.Tasks.Get(cmd.Context(), task.ID); err == nil {
			task = t
		}

		if handled, err := output.Emit(outputMode(), task); handled {
			return err
		}
		output.Success("UPDATED %s", output.TaskOneLiner(task))
		return nil
	},
}

// editPatch builds a patch from the flags that were set
func editPatch(cmd *cobra.Command) (models.TaskPatch, error) {
	var p models.TaskPatch
	flags := cmd.Flags()

	if flags.Changed("title") {
		v, _ := flags.GetString("title")
		p.Title = &v
	}
	if flags.Changed("description") {
		v, _ := flags.GetString("description")
		v, err := input.ExpandValue(v, cmd.InOrStdin())
		if err != nil {
			return p, err
		}
		p.Description = &v
	}
	if flags.Changed("priority") {
		v, _ := flags.GetString("priority")
		pr := models.Priority(v)
		p.Priority = &pr
	}
	if flags.Changed("category") {
		v, _ := flags.GetString("category")
		p.Category = &v
	}
	if flags.Changed("completed") {
		v, _ := flags.GetBool("completed")
		p.Completed = &v
	}
	if clearDue, _ := flags.GetBool("clear-due"); clearDue {
		p.ClearDueDate = true
	} else if flags.Changed("due") {
		v, _ := flags.GetString("due")
		d, err := dateparse.ParseDueDate(v)
		if err != nil {
			return p, err
		}
		if d == "" {
			p.ClearDueDate = true
		} else {
			p.DueDate = &d
		}
	}

	if p.IsEmpty() {
		return p, &models.ValidationError{Field: "patch", Message: "nothing to change; pass at least one field flag"}
	}
	return p, nil
}

func init() {
	rootCmd.AddCommand(editCmd)
	editCmd.Flags().StringP("title", "t", "", "new title")
	editCmd.Flags().StringP("description", "d", "", "new description (markdown); - reads stdin, @file reads a file")
	editCmd.Flags().StringP("priority", "p", "", "new priority: low, medium, high")
	editCmd.Flags().StringP("category", "c", "", "new category")
	editCmd.Flags().String("due", "", "new due date")
	editCmd.Flags().Bool("clear-due", false, "remove the due date")
	editCmd.Flags().Bool("completed", false, "set completion state (--completed=false reopens)")
}
