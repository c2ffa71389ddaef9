package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/output"
)

var showCmd = &cobra.Command{
	Use:     "show <ref>",
	Aliases: []string{"view"},
	Short:   "Show a task",
	Long: `Show one task in full. <ref> is a task id, a unique id prefix, or a title
(exact or a unique fuzzy match).`,
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

		pending, err := a.Tasks.Pending(cmd.Context())
		if err != nil {
			return err
		}
		var ops []models.PendingItem
		for _, item := range pending {
			if item.Op.TaskID == task.ID {
				ops = append(ops, item)
			}
		}

		if handled, err := output.Emit(outputMode(), task); handled {
			return err
		}

		fmt.Fprint(output.Stdout, output.FormatTaskLong(task))
		if len(ops) > 0 {
			fmt.Fprint(output.Stdout, output.SectionHeader("pending operations"))
			for _, item := range ops {
				fmt.Fprintln(output.Stdout, output.IndentString(output.FormatPendingItem(item), 2))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
