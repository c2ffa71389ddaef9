package api

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/offtask/internal/models"
)

// MemStore is the server's in-memory task table.
type MemStore struct {
	mu    sync.RWMutex
	tasks map[string]models.Task
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{tasks: make(map[string]models.Task)}
}

// remoteView strips the client-only sync fields.
func remoteView(t models.Task) models.Task {
	t = t.Clone()
	t.SyncStatus = ""
	t.LastSynced = nil
	return t
}

// Put stores t as-is, replacing any task with the same id.
func (m *MemStore) Put(t models.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = remoteView(t)
}

// Len returns the number of stored tasks.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

// Create inserts t, generating an id and timestamps when absent. If a task
// with t.ID already exists it is returned unchanged with created=false.
func (m *MemStore) Create(t models.Task) (models.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.ID != "" {
		if existing, ok := m.tasks[t.ID]; ok {
			return existing, false
		}
	} else {
		t.ID = uuid.NewString()
	}
	now := models.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	t = remoteView(t)
	m.tasks[t.ID] = t
	return t, true
}

// Get returns the task with id.
func (m *MemStore) Get(id string) (models.Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok
}

// List returns tasks matching f, newest first.
func (m *MemStore) List(f models.TaskFilters) []models.Task {
	m.mu.RLock()
	out := make([]models.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.Task) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Update applies patch to the task with id. A nil updatedAt stamps the
// current time. An updatedAt older than the stored one leaves the task
// unchanged and returns the stored version.
func (m *MemStore) Update(id string, patch models.TaskPatch, updatedAt *time.Time) (models.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	if updatedAt != nil && updatedAt.Before(t.UpdatedAt) {
		return t, true
	}
	patch.Apply(&t)
	if updatedAt != nil {
		t.UpdatedAt = updatedAt.UTC()
	} else {
		t.UpdatedAt = models.NextUpdatedAt(t.UpdatedAt, models.Now())
	}
	m.tasks[id] = t
	return t, true
}

// Toggle flips the completion flag of the task with id.
func (m *MemStore) Toggle(id string) (models.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	t.Completed = !t.Completed
	t.UpdatedAt = models.NextUpdatedAt(t.UpdatedAt, models.Now())
	m.tasks[id] = t
	return t, true
}

// Delete removes the task with id and returns it.
func (m *MemStore) Delete(id string) (models.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if ok {
		delete(m.tasks, id)
	}
	return t, ok
}

// Stats summarizes every stored task.
func (m *MemStore) Stats() models.TaskStats {
	return models.ComputeStats(m.List(models.TaskFilters{}))
}
