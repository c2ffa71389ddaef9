package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/marcus/offtask/internal/app"
)

// autoSyncTimeout bounds the post-mutation push so a slow remote never
// holds up the command.
const autoSyncTimeout = 5 * time.Second

// autoSyncAfterMutation runs a quick push after a mutating command completes.
// Runs synchronously but with a short timeout. Errors are logged, not returned.
func autoSyncAfterMutation(ctx context.Context, a *app.App) {
	if !a.Config.Sync.Auto {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, autoSyncTimeout)
	defer cancel()

	if !a.Connect(ctx) {
		slog.Debug("autosync: offline, change stays pending")
		return
	}

	res, err := a.Sync.SyncPending(ctx)
	if err != nil {
		slog.Debug("autosync: push", "err", err)
		return
	}
	if res.Failed > 0 {
		slog.Warn("autosync: some changes were not accepted", "synced", res.Synced, "failed", res.Failed)
		return
	}
	slog.Debug("autosync: pushed", "synced", res.Synced)
}
