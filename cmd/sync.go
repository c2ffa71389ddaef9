package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/offtask/internal/app"
	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/output"
	tsync "github.com/marcus/offtask/internal/sync"
)

// syncReport is the structured form of offtask sync
type syncReport struct {
	Pull *tsync.PullResult `json:"pull,omitempty"`
	Push *tsync.PushResult `json:"push,omitempty"`
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile with the remote API",
	Long: `Pull remote changes and push the pending-operation log.

  offtask sync           pull, then push
  offtask sync --push    push pending operations only
  offtask sync --pull    merge remote changes only
  offtask sync --status  show pending count and last sync without syncing`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		push, _ := cmd.Flags().GetBool("push")
		pull, _ := cmd.Flags().GetBool("pull")
		status, _ := cmd.Flags().GetBool("status")
		if push && pull {
			return &models.ValidationError{Field: "push", Message: "--push and --pull are mutually exclusive; omit both for a full sync"}
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		ctx := cmd.Context()
		online := a.Connect(ctx)

		if status {
			return runSyncStatus(cmd, a, online)
		}
		if !online {
			return errOffline
		}

		var report syncReport
		switch {
		case push:
			res, err := a.Sync.SyncPending(ctx)
			if err != nil {
				return err
			}
			report.Push = &res
		case pull:
			res, err := a.Sync.PullFromAPI(ctx)
			if err != nil {
				return err
			}
			report.Pull = &res
		default:
			res, err := a.Sync.ForceSync(ctx)
			if err != nil {
				return err
			}
			report.Pull, report.Push = &res.Pull, &res.Push
		}

		if handled, err := output.Emit(outputMode(), report); handled {
			return err
		}
		printSyncReport(report)
		return nil
	},
}

func runSyncStatus(cmd *cobra.Command, a *app.App, online bool) error {
	stats, err := a.Tasks.SyncStats(cmd.Context())
	if err != nil {
		return err
	}
	if handled, err := output.Emit(outputMode(), map[string]interface{}{"online": online, "sync": stats}); handled {
		return err
	}
	fmt.Fprint(output.Stdout, output.FormatSyncStats(stats, online))
	return nil
}

func printSyncReport(r syncReport) {
	if r.Pull != nil {
		p := r.Pull
		output.Success("Pulled: %d new, %d updated, %d unchanged", p.Created, p.Updated, p.Skipped)
		if p.Failed > 0 {
			output.Warning("%d remote tasks could not be merged", p.Failed)
		}
	}
	if r.Push != nil {
		p := r.Push
		if p.Total == 0 {
			output.Success("Pushed: nothing pending")
		} else {
			output.Success("Pushed: %d/%d operations", p.Synced, p.Total)
		}
		if p.Purged > 0 {
			output.Info("Removed %d deleted tasks", p.Purged)
		}
		if p.Failed > 0 {
			output.Warning("%d operations stay pending; see offtask pending", p.Failed)
		}
	}
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Bool("push", false, "push pending operations only")
	syncCmd.Flags().Bool("pull", false, "pull remote changes only")
	syncCmd.Flags().Bool("status", false, "show sync state without syncing")
}
