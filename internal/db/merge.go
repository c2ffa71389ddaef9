package db

import (
	"context"
	"database/sql"

	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/store"
)

// ApplyRemote merges a task fetched from the remote. Missing tasks are
// inserted as synced. Existing tasks are overwritten only when the remote
// copy is strictly newer. No log entry is written either way.
func (db *DB) ApplyRemote(ctx context.Context, remote models.Task) (store.MergeOutcome, error) {
	outcome := store.MergeSkipped
	err := db.withWriteLock(ctx, remote.ID, func(tx *sql.Tx) error {
		local, err := getTx(ctx, tx, remote.ID)
		now := models.Now()

		if err == store.ErrNotFound {
			t := remote.Clone()
			t.SyncStatus = models.SyncStatusSynced
			t.LastSynced = &now
			if err := insertTaskTx(ctx, tx, &t); err != nil {
				return err
			}
			outcome = store.MergeCreated
			return nil
		}
		if err != nil {
			return err
		}

		if !remote.UpdatedAt.After(local.UpdatedAt) {
			return nil
		}

		pending, err := countPendingTx(ctx, tx, remote.ID)
		if err != nil {
			return err
		}
		t := remote.Clone()
		t.SyncStatus = store.MergeStatus(*local, pending)
		t.LastSynced = local.LastSynced
		if t.SyncStatus == models.SyncStatusSynced {
			t.LastSynced = &now
		}
		if err := updateTaskTx(ctx, tx, &t); err != nil {
			return err
		}
		outcome = store.MergeUpdated
		return nil
	})
	return outcome, store.Wrap("apply remote", err)
}
