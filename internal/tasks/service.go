// Package tasks is the entry point UI code uses to read and mutate tasks.
//
// Service validates input before it reaches the store, assigns ids and
// timestamps, and asks the sync orchestrator for a push after every
// successful mutation while the remote is reachable.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/store"
	tsync "github.com/marcus/offtask/internal/sync"
)

// Syncer is the part of the orchestrator the facade drives.
type Syncer interface {
	Request(k tsync.Kind)
	Progress() *tsync.Broadcaster
}

// Connectivity reports whether the remote is reachable.
type Connectivity interface {
	Online() bool
}

// RemoteStats fetches aggregate stats from the remote API.
type RemoteStats interface {
	Stats(ctx context.Context) (*models.TaskStats, error)
}

// Service aggregates the store, orchestrator and connectivity monitor.
type Service struct {
	store  store.Store
	syncer Syncer
	conn   Connectivity
	remote RemoteStats
	auto   bool
}

// Option configures a Service.
type Option func(*Service)

// WithSyncer enables push requests after mutations.
func WithSyncer(s Syncer) Option { return func(svc *Service) { svc.syncer = s } }

// WithConnectivity sets the reachability source. Without one the service
// assumes offline.
func WithConnectivity(c Connectivity) Option { return func(svc *Service) { svc.conn = c } }

// WithRemote enables remote totals in SyncStats.
func WithRemote(r RemoteStats) Option { return func(svc *Service) { svc.remote = r } }

// WithAutoPush toggles the post-mutation push request. Default on.
func WithAutoPush(on bool) Option { return func(svc *Service) { svc.auto = on } }

// New creates a Service over st.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, auto: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store.
func (s *Service) Store() store.Store { return s.store }

// Online reports the current connectivity state.
func (s *Service) Online() bool {
	return s.conn != nil && s.conn.Online()
}

// List returns tasks matching f, newest first.
func (s *Service) List(ctx context.Context, f models.TaskFilters) ([]models.Task, error) {
	return s.store.List(ctx, f)
}

// Get returns a single live task.
func (s *Service) Get(ctx context.Context, id string) (*models.Task, error) {
	return s.store.Get(ctx, id)
}

// Create validates in, builds a new task and stores it.
func (s *Service) Create(ctx context.Context, in models.TaskInput) (*models.Task, error) {
	if err := models.ValidateTitle(in.Title); err != nil {
		return nil, err
	}
	priority, err := models.ParsePriority(string(in.Priority))
	if err != nil {
		return nil, err
	}
	due, err := models.ParseDueDate(in.DueDate)
	if err != nil {
		return nil, err
	}
	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = models.DefaultCategory
	}

	now := models.Now()
	task := &models.Task{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Priority:    priority,
		Category:    category,
		DueDate:     due,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.afterMutation("create", task.ID)
	return task, nil
}

// Update applies patch to the task with id.
func (s *Service) Update(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	if patch.Priority != nil {
		p := models.NormalizePriority(string(*patch.Priority))
		patch.Priority = &p
	}
	if patch.Category != nil {
		c := strings.TrimSpace(*patch.Category)
		if c == "" {
			c = models.DefaultCategory
		}
		patch.Category = &c
	}
	if err := models.ValidatePatch(patch); err != nil {
		return nil, err
	}
	t, err := s.store.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	s.afterMutation("update", id)
	return t, nil
}

// Toggle flips the completed flag.
func (s *Service) Toggle(ctx context.Context, id string) (*models.Task, error) {
	t, err := s.store.ToggleComplete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("toggle task: %w", err)
	}
	s.afterMutation("toggle", id)
	return t, nil
}

// Delete soft-deletes the task; it is purged once the remote confirms.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	s.afterMutation("delete", id)
	return nil
}

// Stats summarizes live local tasks.
func (s *Service) Stats(ctx context.Context) (models.TaskStats, error) {
	return s.store.Stats(ctx)
}

// SyncStats reports local sync health. TotalRemote is filled only when
// online and the remote answers.
func (s *Service) SyncStats(ctx context.Context) (models.SyncStats, error) {
	stats, err := s.store.SyncStats(ctx)
	if err != nil {
		return stats, err
	}
	if s.remote == nil || !s.Online() {
		return stats, nil
	}
	remote, err := s.remote.Stats(ctx)
	if err != nil {
		slog.Debug("tasks: remote stats", "err", err)
		return stats, nil
	}
	total := remote.Total
	stats.TotalRemote = &total
	return stats, nil
}

// Pending returns the unsynced operation log in replay order.
func (s *Service) Pending(ctx context.Context) ([]models.PendingItem, error) {
	return s.store.PendingOperations(ctx)
}

// SubscribeProgress streams sync progress snapshots. Without a syncer the
// channel is closed immediately.
func (s *Service) SubscribeProgress() (<-chan tsync.Progress, func()) {
	if s.syncer == nil {
		ch := make(chan tsync.Progress)
		close(ch)
		return ch, func() {}
	}
	return s.syncer.Progress().Subscribe()
}

// RequestSync enqueues a pass of kind k on the orchestrator.
func (s *Service) RequestSync(k tsync.Kind) {
	if s.syncer != nil {
		s.syncer.Request(k)
	}
}

func (s *Service) afterMutation(op, id string) {
	if !s.auto || s.syncer == nil || !s.Online() {
		return
	}
	slog.Debug("tasks: push requested", "op", op, "id", id)
	s.syncer.Request(tsync.KindPush)
}
