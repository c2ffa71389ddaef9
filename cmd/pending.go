package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/offtask/internal/output"
)

var pendingCmd = &cobra.Command{
	Use:     "pending",
	Short:   "List operations waiting to be pushed",
	Long:    `List the pending-operation log in replay order.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		items, err := a.Tasks.Pending(cmd.Context())
		if err != nil {
			return err
		}

		if handled, err := output.Emit(outputMode(), items); handled {
			return err
		}
		if len(items) == 0 {
			output.Success("Nothing pending; local store is in sync")
			return nil
		}
		for _, item := range items {
			fmt.Fprintln(output.Stdout, output.FormatPendingItem(item))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pendingCmd)
}
