package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdsync "sync"
	"time"

	"github.com/marcus/offtask/internal/apiclient"
	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/store"
)

// DefaultInterval is the periodic push cadence of the run loop.
const DefaultInterval = 30 * time.Second

// Remote is the subset of the task API the orchestrator drives.
// *apiclient.Client satisfies it.
type Remote interface {
	List(ctx context.Context, f models.TaskFilters) ([]models.Task, error)
	Create(ctx context.Context, req apiclient.CreateRequest) (*models.Task, error)
	Update(ctx context.Context, id string, req apiclient.UpdateRequest) (*models.Task, error)
	Delete(ctx context.Context, id string) (*models.Task, error)
}

// Connectivity reports whether the remote is believed reachable.
type Connectivity interface {
	Online() bool
}

// Config tunes the orchestrator.
type Config struct {
	Interval time.Duration // periodic push; 0 disables the ticker
	Grace    time.Duration // completed/error visibility before idle
}

// Orchestrator runs push, pull and full sync passes. At most one pass runs
// at a time.
type Orchestrator struct {
	store    store.Store
	remote   Remote
	conn     Connectivity
	cfg      Config
	progress *Broadcaster

	run     stdsync.Mutex
	pushReq chan struct{}
	fullReq chan struct{}
}

// New creates an Orchestrator. A nil conn is treated as always online.
func New(st store.Store, remote Remote, conn Connectivity, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:    st,
		remote:   remote,
		conn:     conn,
		cfg:      cfg,
		progress: NewBroadcaster(cfg.Grace),
		pushReq:  make(chan struct{}, 1),
		fullReq:  make(chan struct{}, 1),
	}
}

// Progress returns the progress broadcaster.
func (o *Orchestrator) Progress() *Broadcaster { return o.progress }

// Close releases progress subscribers.
func (o *Orchestrator) Close() { o.progress.Close() }

func (o *Orchestrator) online() bool {
	return o.conn == nil || o.conn.Online()
}

// SyncPending pushes the pending-operation log to the remote.
func (o *Orchestrator) SyncPending(ctx context.Context) (PushResult, error) {
	if !o.online() {
		slog.Debug("sync: offline, push skipped")
		return PushResult{Offline: true}, nil
	}
	if !o.run.TryLock() {
		return PushResult{}, ErrSyncInProgress
	}
	defer o.run.Unlock()
	return o.pushStandalone(ctx)
}

// PullFromAPI merges the remote task list into the local store.
func (o *Orchestrator) PullFromAPI(ctx context.Context) (PullResult, error) {
	if !o.online() {
		slog.Debug("sync: offline, pull skipped")
		return PullResult{Offline: true}, nil
	}
	if !o.run.TryLock() {
		return PullResult{}, ErrSyncInProgress
	}
	defer o.run.Unlock()
	return o.pullStandalone(ctx)
}

// FullSync pulls then pushes.
func (o *Orchestrator) FullSync(ctx context.Context) (FullResult, error) {
	if !o.online() {
		slog.Debug("sync: offline, full sync skipped")
		return FullResult{Pull: PullResult{Offline: true}, Push: PushResult{Offline: true}}, nil
	}
	if !o.run.TryLock() {
		return FullResult{}, ErrSyncInProgress
	}
	defer o.run.Unlock()
	return o.full(ctx)
}

// ForceSync runs a full sync on demand.
func (o *Orchestrator) ForceSync(ctx context.Context) (FullResult, error) {
	slog.Info("sync: forced")
	return o.FullSync(ctx)
}

// Request queues a pass for the run loop. Requests of the same kind
// coalesce while one is already queued.
func (o *Orchestrator) Request(k Kind) {
	ch := o.pushReq
	if k == KindFull {
		ch = o.fullReq
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run serves queued requests and the periodic push until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	var tick <-chan time.Time
	if o.cfg.Interval > 0 {
		t := time.NewTicker(o.cfg.Interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if o.online() {
				o.runQueued(ctx, KindPush)
			}
		case <-o.fullReq:
			o.runQueued(ctx, KindFull)
		case <-o.pushReq:
			o.runQueued(ctx, KindPush)
		}
	}
}

// runQueued waits for any direct pass to finish, then runs k.
func (o *Orchestrator) runQueued(ctx context.Context, k Kind) {
	if !o.online() {
		return
	}
	o.run.Lock()
	defer o.run.Unlock()
	if ctx.Err() != nil {
		return
	}

	var err error
	switch k {
	case KindFull:
		_, err = o.full(ctx)
	default:
		_, err = o.pushStandalone(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("sync: queued pass failed", "kind", k.String(), "err", err)
	}
}

// --- passes (callers hold o.run) ---

func (o *Orchestrator) pushStandalone(ctx context.Context) (PushResult, error) {
	res, err := o.push(ctx, func(done, total int, label string, failed int) {
		o.progress.Publish(Progress{Total: total, CompletedCount: done, CurrentLabel: label, Status: StatusSyncing, Failed: failed})
	})
	switch {
	case err != nil:
		o.progress.Publish(Progress{Total: res.Total, CompletedCount: res.Synced, CurrentLabel: failureLabel(err), Status: StatusError, Failed: res.Failed})
	case res.Total == 0:
		o.progress.Publish(Progress{Status: StatusIdle})
	default:
		o.progress.Publish(Progress{Total: res.Total, CompletedCount: res.Total, CurrentLabel: pushSummary(res), Status: StatusCompleted, Failed: res.Failed})
	}
	return res, err
}

func (o *Orchestrator) pullStandalone(ctx context.Context) (PullResult, error) {
	o.progress.Publish(Progress{Total: 1, CurrentLabel: "Pulling remote tasks", Status: StatusSyncing})
	res, err := o.pull(ctx)
	if err != nil {
		o.progress.Publish(Progress{Total: 1, CurrentLabel: failureLabel(err), Status: StatusError, Failed: res.Failed})
		return res, err
	}
	o.progress.Publish(Progress{Total: 1, CompletedCount: 1, CurrentLabel: pullSummary(res), Status: StatusCompleted, Failed: res.Failed})
	return res, nil
}

func (o *Orchestrator) full(ctx context.Context) (FullResult, error) {
	var out FullResult
	o.progress.Publish(Progress{Total: 2, CurrentLabel: "Pulling remote tasks", Status: StatusSyncing})

	pullRes, pullErr := o.pull(ctx)
	out.Pull = pullRes
	if pullErr != nil {
		if ctx.Err() != nil {
			o.progress.Publish(Progress{Total: 2, CurrentLabel: failureLabel(ctx.Err()), Status: StatusError})
			return out, ctx.Err()
		}
		slog.Warn("sync: pull failed, pushing anyway", "err", pullErr)
	}

	o.progress.Publish(Progress{Total: 2, CompletedCount: 1, CurrentLabel: "Pushing local changes", Status: StatusSyncing, Failed: pullRes.Failed})
	pushRes, pushErr := o.push(ctx, func(done, total int, label string, failed int) {
		o.progress.Publish(Progress{Total: 2, CompletedCount: 1, CurrentLabel: label, Status: StatusSyncing, Failed: pullRes.Failed + failed})
	})
	out.Push = pushRes

	failed := pullRes.Failed + pushRes.Failed
	if err := errors.Join(pullErr, pushErr); err != nil {
		o.progress.Publish(Progress{Total: 2, CompletedCount: 1, CurrentLabel: failureLabel(err), Status: StatusError, Failed: failed})
		return out, err
	}
	label := pullSummary(pullRes) + "; " + pushSummary(pushRes)
	o.progress.Publish(Progress{Total: 2, CompletedCount: 2, CurrentLabel: label, Status: StatusCompleted, Failed: failed})
	return out, nil
}

// push drains the pending log in replay order. A failed item stays pending;
// later entries for the same task are held back so per-task order holds on
// the next pass.
func (o *Orchestrator) push(ctx context.Context, report func(done, total int, label string, failed int)) (PushResult, error) {
	var res PushResult

	items, err := o.store.PendingOperations(ctx)
	if err != nil {
		return res, &SyncFailure{Stage: "read pending", Err: err}
	}
	res.Total = len(items)
	if len(items) == 0 {
		return res, nil
	}
	slog.Info("sync: pushing", "pending", len(items))

	blocked := make(map[string]bool)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		report(i, len(items), "Syncing "+item.Task.Title, res.Failed)

		if blocked[item.Task.ID] {
			res.Failed++
			continue
		}

		if err := o.pushOne(ctx, item); err != nil {
			logPushFailure(item, err)
			blocked[item.Task.ID] = true
			res.Failed++
			continue
		}
		if err := o.store.MarkSynced(ctx, item.Task.ID, item.Op.ID); err != nil {
			slog.Warn("sync: mark synced", "task", item.Task.ID, "op", item.Op.ID, "err", err)
			blocked[item.Task.ID] = true
			res.Failed++
			continue
		}
		res.Synced++
	}
	report(len(items), len(items), "Cleaning up", res.Failed)

	purged, err := o.store.PurgeDeleted(ctx)
	if err != nil {
		return res, &SyncFailure{Stage: "purge deleted", Err: err}
	}
	res.Purged = purged
	slog.Info("sync: push done", "synced", res.Synced, "failed", res.Failed, "purged", purged)
	return res, nil
}

func (o *Orchestrator) pushOne(ctx context.Context, item models.PendingItem) error {
	t := item.Task
	switch item.Op.Operation {
	case models.OpCreate:
		_, err := o.remote.Create(ctx, apiclient.CreateRequestFromTask(t))
		return err

	case models.OpUpdate:
		_, err := o.remote.Update(ctx, t.ID, apiclient.UpdateRequestFromTask(t))
		if !errors.Is(err, apiclient.ErrNotFound) {
			return err
		}
		if t.IsDeleted() {
			// A DELETE follows in the log; the remote is already where it ends up.
			slog.Debug("sync: update target missing remotely, task deleted locally", "task", t.ID)
			return nil
		}
		// The remote lost the task; recreate it from local state.
		slog.Info("sync: update target missing remotely, recreating", "task", t.ID)
		_, err = o.remote.Create(ctx, apiclient.CreateRequestFromTask(t))
		return err

	case models.OpDelete:
		_, err := o.remote.Delete(ctx, t.ID)
		if errors.Is(err, apiclient.ErrNotFound) {
			return nil
		}
		return err

	default:
		return fmt.Errorf("unknown operation %q", item.Op.Operation)
	}
}

func logPushFailure(item models.PendingItem, err error) {
	attrs := []any{"task", item.Task.ID, "op", string(item.Op.Operation), "op_id", item.Op.ID, "err", err}
	if apiclient.IsTimeout(err) {
		slog.Warn("sync: request timed out, will retry", attrs...)
		return
	}
	slog.Warn("sync: push failed, will retry", attrs...)
}

// pull fetches every remote task and merges it into the store.
func (o *Orchestrator) pull(ctx context.Context) (PullResult, error) {
	var res PullResult

	remote, err := o.remote.List(ctx, models.TaskFilters{})
	if err != nil {
		if apiclient.IsTimeout(err) {
			slog.Warn("sync: pull timed out", "err", err)
		}
		return res, &SyncFailure{Stage: "pull", Err: err}
	}

	for _, rt := range remote {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		t, ok := normalizeRemote(rt)
		if !ok {
			slog.Warn("sync: skipping remote task without id", "title", rt.Title)
			res.Failed++
			continue
		}
		outcome, err := o.store.ApplyRemote(ctx, t)
		if err != nil {
			slog.Warn("sync: apply remote", "task", t.ID, "err", err)
			res.Failed++
			continue
		}
		switch outcome {
		case store.MergeCreated:
			res.Created++
		case store.MergeUpdated:
			res.Updated++
		default:
			res.Skipped++
		}
	}
	slog.Info("sync: pull done", "created", res.Created, "updated", res.Updated, "skipped", res.Skipped)
	return res, nil
}

// normalizeRemote fills defaults the remote may omit and strips local-only
// fields.
func normalizeRemote(t models.Task) (models.Task, bool) {
	if strings.TrimSpace(t.ID) == "" {
		return t, false
	}
	if !models.IsValidPriority(t.Priority) {
		t.Priority = models.NormalizePriority(string(t.Priority))
		if !models.IsValidPriority(t.Priority) {
			t.Priority = models.PriorityMedium
		}
	}
	if t.Category == "" {
		t.Category = models.DefaultCategory
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = t.UpdatedAt
	}
	t.SyncStatus = ""
	t.LastSynced = nil
	return t, true
}

func pushSummary(r PushResult) string {
	if r.Failed > 0 {
		return fmt.Sprintf("Pushed %d of %d changes, %d pending", r.Synced, r.Total, r.Failed)
	}
	return fmt.Sprintf("Pushed %d changes", r.Synced)
}

func pullSummary(r PullResult) string {
	return fmt.Sprintf("Pulled %d new, %d updated", r.Created, r.Updated)
}

func failureLabel(err error) string {
	var sf *SyncFailure
	if errors.As(err, &sf) {
		return "Sync failed: " + sf.Stage
	}
	if errors.Is(err, context.Canceled) {
		return "Sync cancelled"
	}
	return "Sync failed"
}
