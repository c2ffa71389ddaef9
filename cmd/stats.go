package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/output"
)

// statsReport is the structured form of offtask stats
type statsReport struct {
	Tasks  models.TaskStats `json:"tasks"`
	Sync   models.SyncStats `json:"sync"`
	Online bool             `json:"online"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show task counts and sync health",
	Long: `Show task counts by completion, priority and category, plus the number of
pending operations and the last sync time. With --remote, also probe the
remote API and report its task count.`,
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		ctx := cmd.Context()
		if remote, _ := cmd.Flags().GetBool("remote"); remote {
			a.Connect(ctx)
		}

		report := statsReport{Online: a.Monitor.Online()}
		if report.Tasks, err = a.Tasks.Stats(ctx); err != nil {
			return err
		}
		if report.Sync, err = a.Tasks.SyncStats(ctx); err != nil {
			return err
		}

		if handled, err := output.Emit(outputMode(), report); handled {
			return err
		}
		fmt.Fprint(output.Stdout, output.FormatStats(report.Tasks))
		fmt.Fprint(output.Stdout, output.SectionHeader("sync"))
		fmt.Fprint(output.Stdout, output.IndentString(output.FormatSyncStats(report.Sync, report.Online), 2))
		fmt.Fprintln(output.Stdout)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().Bool("remote", false, "probe the remote API and include its task count")
}
