package models

import (
	"math"
	"strings"
	"time"
)

// Priority represents task priority
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium" // default
	PriorityLow    Priority = "low"
)

// SyncStatus tracks whether a local task has been reconciled with the remote
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusDeleted SyncStatus = "deleted"
)

// Operation is the kind of mutation recorded in the pending-operation log
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

const (
	// DefaultCategory is assigned to tasks created without a category
	DefaultCategory = "general"
	// DateLayout is the calendar-date format used for due dates
	DateLayout = "2006-01-02"
)

// Task represents a single to-do item
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	Priority    Priority   `json:"priority"`
	Category    string     `json:"category"`
	DueDate     string     `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	SyncStatus  SyncStatus `json:"syncStatus,omitempty"`
	LastSynced  *time.Time `json:"lastSynced,omitempty"`
}

// Clone returns a deep copy of the task
func (t Task) Clone() Task {
	c := t
	if t.LastSynced != nil {
		ls := *t.LastSynced
		c.LastSynced = &ls
	}
	return c
}

// IsDeleted reports whether the task is soft-deleted awaiting remote confirmation
func (t Task) IsDeleted() bool {
	return t.SyncStatus == SyncStatusDeleted
}

// PendingOperation is one entry of the append-only sync log
type PendingOperation struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"taskId"`
	Operation Operation `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
	Synced    bool      `json:"synced"`
}

// PendingItem pairs an unsynced log entry with the current state of its task
type PendingItem struct {
	Op   PendingOperation `json:"op"`
	Task Task             `json:"task"`
}

// TaskInput holds the caller-supplied fields for a new task
type TaskInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
	Category    string   `json:"category,omitempty"`
	DueDate     string   `json:"dueDate,omitempty"`
}

// TaskPatch is a partial update. Nil fields are left unchanged.
type TaskPatch struct {
	Title        *string   `json:"title,omitempty"`
	Description  *string   `json:"description,omitempty"`
	Completed    *bool     `json:"completed,omitempty"`
	Priority     *Priority `json:"priority,omitempty"`
	Category     *string   `json:"category,omitempty"`
	DueDate      *string   `json:"dueDate,omitempty"`
	ClearDueDate bool      `json:"-"`
}

// IsEmpty reports whether the patch changes no fields
func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Completed == nil &&
		p.Priority == nil && p.Category == nil && p.DueDate == nil && !p.ClearDueDate
}

// Apply copies the set fields of the patch onto t. Timestamps are not touched.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.ClearDueDate {
		t.DueDate = ""
	} else if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
}

// TaskFilters narrows a task listing. Zero values match everything.
type TaskFilters struct {
	Completed      *bool    `json:"completed,omitempty"`
	Priority       Priority `json:"priority,omitempty"`
	Category       string   `json:"category,omitempty"`
	Search         string   `json:"search,omitempty"`
	IncludeDeleted bool     `json:"-"`
}

// Matches reports whether t passes every set filter
func (f TaskFilters) Matches(t Task) bool {
	if t.IsDeleted() && !f.IncludeDeleted {
		return false
	}
	if f.Completed != nil && t.Completed != *f.Completed {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(t.Title), q) &&
			!strings.Contains(strings.ToLower(t.Description), q) {
			return false
		}
	}
	return true
}

// PriorityStats counts tasks per priority
type PriorityStats struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// TaskStats summarizes a task list
type TaskStats struct {
	Total          int            `json:"total"`
	Completed      int            `json:"completed"`
	Pending        int            `json:"pending"`
	CompletionRate int            `json:"completionRate"`
	PriorityStats  PriorityStats  `json:"priorityStats"`
	CategoryStats  map[string]int `json:"categoryStats"`
}

// ComputeStats builds TaskStats over tasks, skipping soft-deleted ones
func ComputeStats(tasks []Task) TaskStats {
	stats := TaskStats{CategoryStats: make(map[string]int)}
	for _, t := range tasks {
		if t.IsDeleted() {
			continue
		}
		stats.Total++
		if t.Completed {
			stats.Completed++
		}
		switch t.Priority {
		case PriorityHigh:
			stats.PriorityStats.High++
		case PriorityLow:
			stats.PriorityStats.Low++
		default:
			stats.PriorityStats.Medium++
		}
		stats.CategoryStats[t.Category]++
	}
	stats.Pending = stats.Total - stats.Completed
	if stats.Total > 0 {
		stats.CompletionRate = int(math.Round(float64(stats.Completed) / float64(stats.Total) * 100))
	}
	return stats
}

// SyncStats describes local sync health
type SyncStats struct {
	PendingSync int        `json:"pendingSync"`
	LastSync    *time.Time `json:"lastSync,omitempty"`
	TotalLocal  int        `json:"totalLocal"`
	TotalRemote *int       `json:"totalRemote,omitempty"`
}

// Now returns the current time truncated to millisecond precision in UTC.
// Timestamps round-trip through JSON and SQLite without drift at this precision.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NextUpdatedAt returns the updatedAt for a mutation at now, never earlier than prev
func NextUpdatedAt(prev, now time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}
