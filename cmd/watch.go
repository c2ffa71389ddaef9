package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/marcus/offtask/internal/live"
	"github.com/marcus/offtask/internal/output"
	tsync "github.com/marcus/offtask/internal/sync"
	"github.com/marcus/offtask/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the background sync daemon",
	Long: `Run in the foreground until interrupted:

- probe the remote API and push pending operations whenever it comes back
- push on the sync interval while online
- push shortly after any other offtask process changes the local store
- with --listen, serve live progress on ws://ADDR/progress

Logs go to the configured log file, or <storage.dir>/offtask.log.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(dataLogFile())

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		ctx := cmd.Context()
		a.Start(ctx)

		w, err := watch.New(cfg.Storage.Dir, cfg.Sync.Debounce, func() {
			slog.Debug("watch: store changed, requesting push")
			a.Sync.Request(tsync.KindPush)
		})
		if err != nil {
			return err
		}
		defer w.Close()

		listen, _ := cmd.Flags().GetString("listen")
		if listen != "" {
			srv := live.NewServer(listen, func() []live.Message {
				return []live.Message{
					live.ProgressMessage(a.Sync.Progress().Current()),
					live.ConnectivityMessage(a.Monitor.Online()),
				}
			})
			if err := srv.Start(); err != nil {
				return err
			}
			defer srv.Stop()

			progress, unsubProgress := a.Sync.Progress().Subscribe()
			defer unsubProgress()
			edges, unsubEdges := a.Monitor.Subscribe()
			defer unsubEdges()
			go srv.Pump(ctx, progress, edges)

			output.Info("Live progress on ws://%s/progress", srv.Addr())
		}

		state := "offline"
		if a.Monitor.Online() {
			state = "online"
		}
		output.Info("Watching %s (%s, remote %s). Logs: %s", cfg.Storage.Dir, a.Store.Backend(), state, dataLogFile())
		slog.Info("watch: started", "dir", cfg.Storage.Dir, "api", cfg.API.BaseURL, "online", a.Monitor.Online())

		<-ctx.Done()
		slog.Info("watch: stopping")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("listen", "", "serve the live progress feed on this address (e.g. 127.0.0.1:7777)")
}
