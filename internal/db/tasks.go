package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/store"
)

const taskColumns = `id, title, description, completed, priority, category, due_date, created_at, updated_at, sync_status, last_synced`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads a full task row using the taskColumns order.
func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var lastSynced sql.NullTime
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.Completed, &t.Priority, &t.Category,
		&t.DueDate, &t.CreatedAt, &t.UpdatedAt, &t.SyncStatus, &lastSynced,
	)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if lastSynced.Valid {
		ls := lastSynced.Time.UTC()
		t.LastSynced = &ls
	}
	return &t, nil
}

// getTx loads a task by id inside tx, including soft-deleted rows.
func getTx(ctx context.Context, tx *sql.Tx, id string) (*models.Task, error) {
	t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return t, err
}

func insertTaskTx(ctx context.Context, tx *sql.Tx, t *models.Task) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Title, t.Description, t.Completed, t.Priority, t.Category, t.DueDate,
		t.CreatedAt, t.UpdatedAt, t.SyncStatus, nullTime(t.LastSynced))
	return err
}

func updateTaskTx(ctx context.Context, tx *sql.Tx, t *models.Task) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, completed = ?, priority = ?, category = ?,
		       due_date = ?, created_at = ?, updated_at = ?, sync_status = ?, last_synced = ?
		WHERE id = ?
	`, t.Title, t.Description, t.Completed, t.Priority, t.Category, t.DueDate,
		t.CreatedAt, t.UpdatedAt, t.SyncStatus, nullTime(t.LastSynced), t.ID)
	return err
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// Create inserts a new task and logs a CREATE operation
func (db *DB) Create(ctx context.Context, task *models.Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = models.Now()
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}

	err := db.withWriteLock(ctx, task.ID, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE id = ?`, task.ID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return store.ErrAlreadyExists
		}

		task.SyncStatus = models.SyncStatusPending
		task.LastSynced = nil
		if err := insertTaskTx(ctx, tx, task); err != nil {
			return err
		}
		return insertOpTx(ctx, tx, task.ID, models.OpCreate, task.UpdatedAt)
	})
	return store.Wrap("create", err)
}

// Get returns a live task by id. Soft-deleted tasks are reported as not found.
func (db *DB) Get(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanTask(db.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND sync_status != ?`, id, models.SyncStatusDeleted))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Wrap("get", err)
	}
	return t, nil
}

// List returns tasks matching filters, newest first
func (db *DB) List(ctx context.Context, f models.TaskFilters) ([]models.Task, error) {
	var where []string
	var args []any

	if !f.IncludeDeleted {
		where = append(where, "sync_status != ?")
		args = append(args, models.SyncStatusDeleted)
	}
	if f.Completed != nil {
		where = append(where, "completed = ?")
		args = append(args, *f.Completed)
	}
	if f.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, f.Priority)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		where = append(where, "(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)")
		args = append(args, like, like)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Wrap("list", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, store.Wrap("list", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, store.Wrap("list", rows.Err())
}

// mutate applies fn to a live task, bumps updatedAt, marks it pending and
// logs op, all in one transaction.
func (db *DB) mutate(ctx context.Context, id string, op models.Operation, fn func(t *models.Task)) (*models.Task, error) {
	var out *models.Task
	err := db.withWriteLock(ctx, id, func(tx *sql.Tx) error {
		t, err := getTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.IsDeleted() {
			return store.ErrNotFound
		}

		t.SyncStatus = models.SyncStatusPending
		fn(t)
		t.UpdatedAt = models.NextUpdatedAt(t.UpdatedAt, models.Now())

		if err := updateTaskTx(ctx, tx, t); err != nil {
			return err
		}
		if err := insertOpTx(ctx, tx, id, op, t.UpdatedAt); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, store.Wrap(strings.ToLower(string(op)), err)
	}
	return out, nil
}

// Update applies patch to a task and logs an UPDATE operation
func (db *DB) Update(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	return db.mutate(ctx, id, models.OpUpdate, func(t *models.Task) {
		patch.Apply(t)
	})
}

// ToggleComplete flips the completed flag and logs an UPDATE operation
func (db *DB) ToggleComplete(ctx context.Context, id string) (*models.Task, error) {
	return db.mutate(ctx, id, models.OpUpdate, func(t *models.Task) {
		t.Completed = !t.Completed
	})
}

// Delete soft-deletes a task and logs a DELETE operation. The row is kept
// until PurgeDeleted runs after the remote confirms.
func (db *DB) Delete(ctx context.Context, id string) error {
	_, err := db.mutate(ctx, id, models.OpDelete, func(t *models.Task) {
		t.SyncStatus = models.SyncStatusDeleted
	})
	return err
}

// Stats summarizes live tasks
func (db *DB) Stats(ctx context.Context) (models.TaskStats, error) {
	tasks, err := db.List(ctx, models.TaskFilters{})
	if err != nil {
		return models.TaskStats{}, err
	}
	return models.ComputeStats(tasks), nil
}
