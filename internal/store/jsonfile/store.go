// Package jsonfile implements the flat-file task store: a single JSON
// document rewritten atomically on every mutation.
package jsonfile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/marcus/offtask/internal/filelock"
	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/store"
)

const (
	// FileName is the document inside the data directory
	FileName      = "tasks.json"
	lockFileName  = "tasks.lock"
	formatVersion = 1
)

// Document is the root JSON structure stored on disk.
type Document struct {
	Version  int                       `json:"version"`
	Tasks    map[string]*models.Task   `json:"tasks"`
	SyncLog  []models.PendingOperation `json:"syncLog"`
	NextOpID int64                     `json:"nextOpId"`
}

// Store implements store.Store on a JSON file.
type Store struct {
	path     string
	lockPath string
	mu       sync.RWMutex
}

var _ store.Store = (*Store)(nil)

// New returns a store persisting to dir/tasks.json. The file is created on
// first write.
func New(dir string) *Store {
	return &Store{
		path:     filepath.Join(dir, FileName),
		lockPath: filepath.Join(dir, lockFileName),
	}
}

// Backend implements store.Store
func (s *Store) Backend() string { return "jsonfile" }

// Close implements store.Store. There is nothing held open between calls.
func (s *Store) Close() error { return nil }

// load reads the document from disk. Returns an empty document if the file
// doesn't exist.
func (s *Store) load() (*Document, error) {
	doc := &Document{Version: formatVersion, Tasks: make(map[string]*models.Task), NextOpID: 1}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, err
	}
	if doc.Tasks == nil {
		doc.Tasks = make(map[string]*models.Task)
	}
	if doc.NextOpID < 1 {
		doc.NextOpID = 1
	}
	return doc, nil
}

// save writes the document to disk atomically.
func (s *Store) save(doc *Document) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// write loads the document under both locks, lets fn modify it and saves it
// only if fn succeeds.
func (s *Store) write(ctx context.Context, op string, fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := filelock.With(ctx, s.lockPath, filelock.DefaultTimeout, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		return s.save(doc)
	})
	return store.Wrap(op, err)
}

func (s *Store) read(op string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, err := s.load()
	return doc, store.Wrap(op, err)
}

// appendOp logs op for taskID, stamped with the task's updatedAt so entries
// for one task never go backwards in time.
func (d *Document) appendOp(taskID string, op models.Operation, t models.Task) {
	d.SyncLog = append(d.SyncLog, models.PendingOperation{
		ID:        d.NextOpID,
		TaskID:    taskID,
		Operation: op,
		Timestamp: t.UpdatedAt,
	})
	d.NextOpID++
}

func (d *Document) pendingFor(taskID string) int {
	n := 0
	for _, op := range d.SyncLog {
		if op.TaskID == taskID && !op.Synced {
			n++
		}
	}
	return n
}

// Create inserts a new task and logs a CREATE operation
func (s *Store) Create(ctx context.Context, task *models.Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = models.Now()
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}
	return s.write(ctx, "create", func(doc *Document) error {
		if _, ok := doc.Tasks[task.ID]; ok {
			return store.ErrAlreadyExists
		}
		task.SyncStatus = models.SyncStatusPending
		task.LastSynced = nil
		t := task.Clone()
		doc.Tasks[t.ID] = &t
		doc.appendOp(t.ID, models.OpCreate, t)
		return nil
	})
}

// Get returns a live task by id
func (s *Store) Get(ctx context.Context, id string) (*models.Task, error) {
	doc, err := s.read("get")
	if err != nil {
		return nil, err
	}
	t, ok := doc.Tasks[id]
	if !ok || t.IsDeleted() {
		return nil, store.ErrNotFound
	}
	c := t.Clone()
	return &c, nil
}

// List returns tasks matching filters, newest first
func (s *Store) List(ctx context.Context, f models.TaskFilters) ([]models.Task, error) {
	doc, err := s.read("list")
	if err != nil {
		return nil, err
	}
	var tasks []models.Task
	for _, t := range doc.Tasks {
		if f.Matches(*t) {
			tasks = append(tasks, t.Clone())
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

func (s *Store) mutate(ctx context.Context, id string, op models.Operation, fn func(t *models.Task)) (*models.Task, error) {
	var out models.Task
	err := s.write(ctx, string(op), func(doc *Document) error {
		t, ok := doc.Tasks[id]
		if !ok || t.IsDeleted() {
			return store.ErrNotFound
		}
		t.SyncStatus = models.SyncStatusPending
		fn(t)
		t.UpdatedAt = models.NextUpdatedAt(t.UpdatedAt, models.Now())
		doc.appendOp(id, op, *t)
		out = t.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Update applies patch and logs an UPDATE operation
func (s *Store) Update(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	return s.mutate(ctx, id, models.OpUpdate, func(t *models.Task) { patch.Apply(t) })
}

// ToggleComplete flips the completed flag and logs an UPDATE operation
func (s *Store) ToggleComplete(ctx context.Context, id string) (*models.Task, error) {
	return s.mutate(ctx, id, models.OpUpdate, func(t *models.Task) { t.Completed = !t.Completed })
}

// Delete soft-deletes a task and logs a DELETE operation
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.mutate(ctx, id, models.OpDelete, func(t *models.Task) {
		t.SyncStatus = models.SyncStatusDeleted
	})
	return err
}

// PendingOperations returns unsynced entries in (timestamp, id) order
func (s *Store) PendingOperations(ctx context.Context) ([]models.PendingItem, error) {
	doc, err := s.read("read sync log")
	if err != nil {
		return nil, err
	}
	var items []models.PendingItem
	for _, op := range doc.SyncLog {
		if op.Synced {
			continue
		}
		t, ok := doc.Tasks[op.TaskID]
		if !ok {
			continue
		}
		items = append(items, models.PendingItem{Op: op, Task: t.Clone()})
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Op, items[j].Op
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})
	return items, nil
}

// CountPending returns the number of unsynced log entries
func (s *Store) CountPending(ctx context.Context) (int, error) {
	doc, err := s.read("count pending")
	if err != nil {
		return 0, err
	}
	n := 0
	for _, op := range doc.SyncLog {
		if !op.Synced {
			n++
		}
	}
	return n, nil
}

// MarkSynced marks log entries for id up to throughOpID (0 = all) as synced
func (s *Store) MarkSynced(ctx context.Context, id string, throughOpID int64) error {
	return s.write(ctx, "mark synced", func(doc *Document) error {
		marked := 0
		for i := range doc.SyncLog {
			op := &doc.SyncLog[i]
			if op.TaskID != id || op.Synced {
				continue
			}
			if throughOpID != 0 && op.ID > throughOpID {
				continue
			}
			op.Synced = true
			marked++
		}
		if marked == 0 {
			return nil
		}
		t, ok := doc.Tasks[id]
		if !ok {
			return nil
		}
		now := models.Now()
		t.LastSynced = &now
		if doc.pendingFor(id) == 0 && !t.IsDeleted() {
			t.SyncStatus = models.SyncStatusSynced
		}
		return nil
	})
}

// PurgeDeleted removes confirmed soft-deletes and their synced history
func (s *Store) PurgeDeleted(ctx context.Context) (int, error) {
	purged := 0
	err := s.write(ctx, "purge deleted", func(doc *Document) error {
		for id, t := range doc.Tasks {
			if t.IsDeleted() && doc.pendingFor(id) == 0 {
				delete(doc.Tasks, id)
				purged++
			}
		}
		kept := doc.SyncLog[:0]
		for _, op := range doc.SyncLog {
			if _, ok := doc.Tasks[op.TaskID]; ok || !op.Synced {
				kept = append(kept, op)
			}
		}
		doc.SyncLog = kept
		return nil
	})
	return purged, err
}

// ApplyRemote merges a remote task with last-write-wins on UpdatedAt
func (s *Store) ApplyRemote(ctx context.Context, remote models.Task) (store.MergeOutcome, error) {
	outcome := store.MergeSkipped
	err := s.write(ctx, "apply remote", func(doc *Document) error {
		now := models.Now()
		local, ok := doc.Tasks[remote.ID]
		if !ok {
			t := remote.Clone()
			t.SyncStatus = models.SyncStatusSynced
			t.LastSynced = &now
			doc.Tasks[t.ID] = &t
			outcome = store.MergeCreated
			return nil
		}
		if !remote.UpdatedAt.After(local.UpdatedAt) {
			return nil
		}
		t := remote.Clone()
		t.SyncStatus = store.MergeStatus(*local, doc.pendingFor(remote.ID))
		t.LastSynced = local.LastSynced
		if t.SyncStatus == models.SyncStatusSynced {
			t.LastSynced = &now
		}
		doc.Tasks[t.ID] = &t
		outcome = store.MergeUpdated
		return nil
	})
	return outcome, err
}

// Stats summarizes live tasks
func (s *Store) Stats(ctx context.Context) (models.TaskStats, error) {
	tasks, err := s.List(ctx, models.TaskFilters{})
	if err != nil {
		return models.TaskStats{}, err
	}
	return models.ComputeStats(tasks), nil
}

// SyncStats reports pending work and the most recent successful sync
func (s *Store) SyncStats(ctx context.Context) (models.SyncStats, error) {
	doc, err := s.read("sync stats")
	if err != nil {
		return models.SyncStats{}, err
	}
	var stats models.SyncStats
	for _, op := range doc.SyncLog {
		if !op.Synced {
			stats.PendingSync++
		}
	}
	for _, t := range doc.Tasks {
		if !t.IsDeleted() {
			stats.TotalLocal++
		}
		if t.LastSynced != nil && (stats.LastSync == nil || t.LastSynced.After(*stats.LastSync)) {
			ls := *t.LastSynced
			stats.LastSync = &ls
		}
	}
	return stats, nil
}
