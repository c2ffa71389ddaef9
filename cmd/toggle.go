package cmd

import (
	"github.com/spf13/cobra"

	"github.com/marcus/offtask/internal/output"
)

var toggleCmd = &cobra.Command{
	Use:     "toggle <ref>",
	Aliases: []string{"done"},
	Short:   "Flip a task between open and completed",
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := requireRef(args)
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
		task, err = a.Tasks.Toggle(cmd.Context(), task.ID)
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
		if task.Completed {
			output.Success("COMPLETED %s", output.TaskOneLiner(task))
		} else {
			output.Success("REOPENED %s", output.TaskOneLiner(task))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(toggleCmd)
}
