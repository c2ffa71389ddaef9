package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/offtask/pkg/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live TUI of tasks, pending operations and sync progress",
	Long: `Launch a live-updating TUI showing:
- Tasks: the local task list
- Pending operations: the log waiting to be pushed
- Sync progress and remote reachability

The monitor runs the sync loop itself, so it also pushes and pulls.

Key bindings:
  Tab/Shift+Tab  Switch panels
  1/2            Jump to panel
  j/k, ↑/↓       Select row
  Space, x       Toggle the selected task
  s              Full sync
  p              Push pending operations
  c              Show/hide completed tasks
  /              Search
  r              Force refresh
  ?              Toggle help
  q              Quit`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(dataLogFile())

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval < 500*time.Millisecond {
			interval = 2 * time.Second
		}

		a.Start(cmd.Context())
		if err := monitor.Run(cmd.Context(), a.Tasks, interval); err != nil {
			return fmt.Errorf("error running monitor: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().Duration("interval", 2*time.Second, "Refresh interval (default 2s)")
}
