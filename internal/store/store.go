// Package store defines the local task store contract shared by the
// SQLite and flat-file backends.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/marcus/offtask/internal/models"
)

// Sentinel errors returned by every Store implementation.
var (
	ErrNotFound      = errors.New("task not found")
	ErrAlreadyExists = errors.New("task already exists")
)

// StorageError wraps a failed durable write or read. The store state is
// unchanged when a mutating call returns one.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Wrap returns err as a *StorageError unless it is nil or one of the sentinels.
func Wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// MergeOutcome reports what ApplyRemote did with a remote task.
type MergeOutcome int

const (
	MergeSkipped MergeOutcome = iota
	MergeCreated
	MergeUpdated
)

func (m MergeOutcome) String() string {
	switch m {
	case MergeCreated:
		return "created"
	case MergeUpdated:
		return "updated"
	default:
		return "skipped"
	}
}

// Store is the local task store. Each mutating call writes the task row and
// appends exactly one pending operation atomically.
type Store interface {
	Create(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, id string) (*models.Task, error)
	List(ctx context.Context, filters models.TaskFilters) ([]models.Task, error)
	Update(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error)
	Delete(ctx context.Context, id string) error
	ToggleComplete(ctx context.Context, id string) (*models.Task, error)

	// PendingOperations returns unsynced log entries ordered by
	// (timestamp, id), each joined with the current task row.
	PendingOperations(ctx context.Context) ([]models.PendingItem, error)
	CountPending(ctx context.Context) (int, error)
	// MarkSynced marks the outstanding operations of id with log id <=
	// throughOpID as synced. A throughOpID of 0 marks all of them.
	MarkSynced(ctx context.Context, id string, throughOpID int64) error
	// PurgeDeleted removes soft-deleted tasks whose deletion is confirmed.
	PurgeDeleted(ctx context.Context) (int, error)
	// ApplyRemote merges a remote task using last-write-wins on UpdatedAt.
	ApplyRemote(ctx context.Context, remote models.Task) (MergeOutcome, error)

	Stats(ctx context.Context) (models.TaskStats, error)
	SyncStats(ctx context.Context) (models.SyncStats, error)

	// Backend names the storage strategy, e.g. "sqlite" or "jsonfile".
	Backend() string
	Close() error
}

// MergeStatus is the sync status a task should carry after a newer remote
// version has been applied over local with pending log entries remaining.
func MergeStatus(local models.Task, pending int) models.SyncStatus {
	switch {
	case local.IsDeleted():
		return models.SyncStatusDeleted
	case pending > 0:
		return models.SyncStatusPending
	default:
		return models.SyncStatusSynced
	}
}
