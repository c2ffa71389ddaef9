package cmd

import (
	"github.com/spf13/cobra"

	"github.com/marcus/offtask/internal/output"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <ref>",
	Aliases: []string{"rm"},
	Short:   "Delete a task",
	Long: `Delete a task. The task disappears from listings at once; it is removed
from the local store after the remote API confirms the delete.`,
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
		if err := a.Tasks.Delete(cmd.Context(), task.ID); err != nil {
			return err
		}

		autoSyncAfterMutation(cmd.Context(), a)

		if handled, err := output.Emit(outputMode(), map[string]string{"deleted": task.ID}); handled {
			return err
		}
		output.Success("DELETED %s %q", output.ShortID(task.ID), task.Title)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
