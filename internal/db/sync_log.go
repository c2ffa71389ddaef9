package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/store"
)

func insertOpTx(ctx context.Context, tx *sql.Tx, taskID string, op models.Operation, ts time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO sync_log (task_id, operation, timestamp, synced) VALUES (?, ?, ?, 0)`,
		taskID, op, ts)
	return err
}

func countPendingTx(ctx context.Context, tx *sql.Tx, taskID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_log WHERE task_id = ? AND synced = 0`, taskID).Scan(&n)
	return n, err
}

// PendingOperations returns unsynced log entries joined with their task rows,
// in replay order.
func (db *DB) PendingOperations(ctx context.Context) ([]models.PendingItem, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT l.id, l.task_id, l.operation, l.timestamp, l.synced,
		       t.id, t.title, t.description, t.completed, t.priority, t.category,
		       t.due_date, t.created_at, t.updated_at, t.sync_status, t.last_synced
		FROM sync_log l
		JOIN tasks t ON t.id = l.task_id
		WHERE l.synced = 0
		ORDER BY l.timestamp ASC, l.id ASC
	`)
	if err != nil {
		return nil, store.Wrap("read sync log", err)
	}
	defer rows.Close()

	var items []models.PendingItem
	for rows.Next() {
		var item models.PendingItem
		var lastSynced sql.NullTime
		t := &item.Task
		if err := rows.Scan(
			&item.Op.ID, &item.Op.TaskID, &item.Op.Operation, &item.Op.Timestamp, &item.Op.Synced,
			&t.ID, &t.Title, &t.Description, &t.Completed, &t.Priority, &t.Category,
			&t.DueDate, &t.CreatedAt, &t.UpdatedAt, &t.SyncStatus, &lastSynced,
		); err != nil {
			return nil, store.Wrap("read sync log", err)
		}
		item.Op.Timestamp = item.Op.Timestamp.UTC()
		t.CreatedAt = t.CreatedAt.UTC()
		t.UpdatedAt = t.UpdatedAt.UTC()
		if lastSynced.Valid {
			ls := lastSynced.Time.UTC()
			t.LastSynced = &ls
		}
		items = append(items, item)
	}
	return items, store.Wrap("read sync log", rows.Err())
}

// CountPending returns the number of unsynced log entries
func (db *DB) CountPending(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_log WHERE synced = 0`).Scan(&n)
	return n, store.Wrap("count pending", err)
}

// MarkSynced marks the task's outstanding log entries up to throughOpID as
// synced. The task becomes synced only when nothing is left pending, so a
// mutation made while a push was in flight keeps it pending. Calling it
// again for entries already marked changes nothing.
func (db *DB) MarkSynced(ctx context.Context, id string, throughOpID int64) error {
	err := db.withWriteLock(ctx, id, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sync_log SET synced = 1
			WHERE task_id = ? AND synced = 0 AND (? = 0 OR id <= ?)
		`, id, throughOpID, throughOpID)
		if err != nil {
			return err
		}
		marked, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if marked == 0 {
			return nil
		}

		t, err := getTx(ctx, tx, id)
		if err == store.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		remaining, err := countPendingTx(ctx, tx, id)
		if err != nil {
			return err
		}

		now := models.Now()
		t.LastSynced = &now
		if remaining == 0 && !t.IsDeleted() {
			t.SyncStatus = models.SyncStatusSynced
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET sync_status = ?, last_synced = ? WHERE id = ?`,
			t.SyncStatus, now, id)
		return err
	})
	return store.Wrap("mark synced", err)
}

// PurgeDeleted removes soft-deleted tasks with no outstanding log entries,
// along with their synced log history.
func (db *DB) PurgeDeleted(ctx context.Context) (int, error) {
	var purged int64
	err := db.withWriteLock(ctx, "", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM tasks
			WHERE sync_status = ?
			  AND NOT EXISTS (SELECT 1 FROM sync_log WHERE sync_log.task_id = tasks.id AND sync_log.synced = 0)
		`, models.SyncStatusDeleted)
		if err != nil {
			return err
		}
		if purged, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM sync_log
			WHERE synced = 1 AND NOT EXISTS (SELECT 1 FROM tasks WHERE tasks.id = sync_log.task_id)
		`)
		return err
	})
	return int(purged), store.Wrap("purge deleted", err)
}

// SyncStats reports pending work and the most recent successful sync
func (db *DB) SyncStats(ctx context.Context) (models.SyncStats, error) {
	var stats models.SyncStats

	pending, err := db.CountPending(ctx)
	if err != nil {
		return stats, err
	}
	stats.PendingSync = pending

	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE sync_status != ?`, models.SyncStatusDeleted,
	).Scan(&stats.TotalLocal); err != nil {
		return stats, store.Wrap("sync stats", err)
	}

	// MAX() loses the DATETIME column type, so order instead
	var last sql.NullTime
	err = db.conn.QueryRowContext(ctx,
		`SELECT last_synced FROM tasks WHERE last_synced IS NOT NULL ORDER BY last_synced DESC LIMIT 1`,
	).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return stats, store.Wrap("sync stats", err)
	}
	if last.Valid {
		ls := last.Time.UTC()
		stats.LastSync = &ls
	}
	return stats, nil
}
