package sync

import (
	"context"
	"errors"
	"net/http/httptest"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus/offtask/internal/api"
	"github.com/marcus/offtask/internal/apiclient"
	"github.com/marcus/offtask/internal/db"
	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/store"
	"github.com/marcus/offtask/internal/store/jsonfile"
	"github.com/marcus/offtask/internal/store/storetest"
)

// switchConn is a Connectivity flipped by tests.
type switchConn struct{ on atomic.Bool }

func (c *switchConn) Online() bool { return c.on.Load() }

// recordingRemote records remote calls in order and injects failures.
type recordingRemote struct {
	Remote

	mu    stdsync.Mutex
	calls []string
	fail  map[string]error // "CREATE <id>" etc.
	gate  chan struct{}    // when set, Create blocks until closed
}

func (r *recordingRemote) record(op, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := op + " " + id
	r.calls = append(r.calls, key)
	return r.fail[key]
}

func (r *recordingRemote) setFail(key string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail == nil {
		r.fail = make(map[string]error)
	}
	if err == nil {
		delete(r.fail, key)
		return
	}
	r.fail[key] = err
}

func (r *recordingRemote) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingRemote) Create(ctx context.Context, req apiclient.CreateRequest) (*models.Task, error) {
	if r.gate != nil {
		<-r.gate
	}
	if err := r.record("CREATE", req.ID); err != nil {
		return nil, err
	}
	return r.Remote.Create(ctx, req)
}

func (r *recordingRemote) Update(ctx context.Context, id string, req apiclient.UpdateRequest) (*models.Task, error) {
	if err := r.record("UPDATE", id); err != nil {
		return nil, err
	}
	return r.Remote.Update(ctx, id, req)
}

func (r *recordingRemote) Delete(ctx context.Context, id string) (*models.Task, error) {
	if err := r.record("DELETE", id); err != nil {
		return nil, err
	}
	return r.Remote.Delete(ctx, id)
}

type harness struct {
	store  store.Store
	server *api.Server
	remote *recordingRemote
	conn   *switchConn
	orch   *Orchestrator
}

var backends = []struct {
	name string
	open func(t *testing.T) store.Store
}{
	{"sqlite", func(t *testing.T) store.Store {
		d, err := db.Open(t.TempDir())
		if err != nil {
			t.Fatalf("open db: %v", err)
		}
		return d
	}},
	{"jsonfile", func(t *testing.T) store.Store {
		return jsonfile.New(t.TempDir())
	}},
}

func newHarness(t *testing.T, open func(t *testing.T) store.Store) *harness {
	t.Helper()
	st := open(t)
	t.Cleanup(func() { st.Close() })

	srv := api.NewServer(api.Config{RateLimit: 0})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client := apiclient.New(ts.URL+"/api", apiclient.WithTimeout(2*time.Second))
	h := &harness{
		store:  st,
		server: srv,
		remote: &recordingRemote{Remote: client},
		conn:   &switchConn{},
	}
	h.conn.on.Store(true)
	h.orch = New(st, h.remote, h.conn, Config{Grace: 50 * time.Millisecond})
	t.Cleanup(h.orch.Close)
	return h
}

func forEachBackend(t *testing.T, fn func(t *testing.T, h *harness)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, newHarness(t, b.open))
		})
	}
}

func (h *harness) create(t *testing.T, title string) *models.Task {
	t.Helper()
	task := storetest.NewTask(title)
	if err := h.store.Create(context.Background(), task); err != nil {
		t.Fatalf("create %q: %v", title, err)
	}
	return task
}

func (h *harness) get(t *testing.T, id string) *models.Task {
	t.Helper()
	task, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return task
}

func (h *harness) pending(t *testing.T) int {
	t.Helper()
	n, err := h.store.CountPending(context.Background())
	if err != nil {
		t.Fatalf("count pending: %v", err)
	}
	return n
}

func TestOfflineCreateThenPush(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		h.conn.on.Store(false)
		task := h.create(t, "Buy milk")

		res, err := h.orch.SyncPending(ctx)
		if err != nil {
			t.Fatalf("offline push: %v", err)
		}
		if !res.Offline {
			t.Fatal("expected offline no-op")
		}
		if h.pending(t) != 1 {
			t.Fatalf("expected 1 pending op while offline, got %d", h.pending(t))
		}
		if len(h.remote.Calls()) != 0 {
			t.Fatalf("offline push touched the remote: %v", h.remote.Calls())
		}

		h.conn.on.Store(true)
		res, err = h.orch.SyncPending(ctx)
		if err != nil {
			t.Fatalf("push: %v", err)
		}
		if res.Synced != 1 || res.Failed != 0 {
			t.Fatalf("unexpected result %+v", res)
		}

		remote, ok := h.server.Store().Get(task.ID)
		if !ok {
			t.Fatal("remote missing pushed task")
		}
		if remote.Title != "Buy milk" || !remote.CreatedAt.Equal(task.CreatedAt) || !remote.UpdatedAt.Equal(task.UpdatedAt) {
			t.Fatalf("remote not equivalent: %+v vs %+v", remote, task)
		}
		local := h.get(t, task.ID)
		if local.SyncStatus != models.SyncStatusSynced || local.LastSynced == nil {
			t.Fatalf("local not synced: %+v", local)
		}
		if h.pending(t) != 0 {
			t.Fatal("expected empty log")
		}
	})
}

func TestPushPreservesPerTaskOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		h.conn.on.Store(false)
		task := h.create(t, "draft")
		title := "final"
		if _, err := h.store.Update(ctx, task.ID, models.TaskPatch{Title: &title}); err != nil {
			t.Fatalf("update: %v", err)
		}
		other := h.create(t, "other")

		h.conn.on.Store(true)
		if _, err := h.orch.SyncPending(ctx); err != nil {
			t.Fatalf("push: %v", err)
		}

		want := []string{"CREATE " + task.ID, "UPDATE " + task.ID, "CREATE " + other.ID}
		got := h.remote.Calls()
		if len(got) != len(want) {
			t.Fatalf("calls = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("calls = %v, want %v", got, want)
			}
		}
		if remote, _ := h.server.Store().Get(task.ID); remote.Title != "final" {
			t.Fatalf("remote title = %q, want final", remote.Title)
		}
	})
}

// One task failing does not stop the pass, and it reappears next time.
func TestPushContinuesPastFailure(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		a := h.create(t, "A")
		b := h.create(t, "B")
		c := h.create(t, "C")
		h.remote.setFail("CREATE "+c.ID, &apiclient.NetworkError{Op: "POST /tasks", Err: errors.New("connection reset")})

		res, err := h.orch.SyncPending(ctx)
		if err != nil {
			t.Fatalf("push: %v", err)
		}
		if res.Synced != 2 || res.Failed != 1 {
			t.Fatalf("unexpected result %+v", res)
		}
		for _, id := range []string{a.ID, b.ID} {
			if st := h.get(t, id).SyncStatus; st != models.SyncStatusSynced {
				t.Fatalf("task %s status = %s, want synced", id, st)
			}
		}
		if st := h.get(t, c.ID).SyncStatus; st != models.SyncStatusPending {
			t.Fatalf("task C status = %s, want pending", st)
		}

		items, err := h.store.PendingOperations(ctx)
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		if len(items) != 1 || items[0].Task.ID != c.ID {
			t.Fatalf("expected only C pending, got %+v", items)
		}

		h.remote.setFail("CREATE "+c.ID, nil)
		if _, err := h.orch.SyncPending(ctx); err != nil {
			t.Fatalf("second push: %v", err)
		}
		if st := h.get(t, c.ID).SyncStatus; st != models.SyncStatusSynced {
			t.Fatalf("task C status after retry = %s", st)
		}
	})
}

func TestFailedItemHoldsBackLaterOpsForSameTask(t *testing.T) {
	h := newHarness(t, backends[0].open)
	ctx := context.Background()
	task := h.create(t, "x")
	if _, err := h.store.ToggleComplete(ctx, task.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	h.remote.setFail("CREATE "+task.ID, &apiclient.APIError{Status: 500, Message: "boom"})

	res, err := h.orch.SyncPending(ctx)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if res.Failed != 2 {
		t.Fatalf("expected both ops held, got %+v", res)
	}
	for _, call := range h.remote.Calls() {
		if call == "UPDATE "+task.ID {
			t.Fatal("update sent before its create succeeded")
		}
	}
}

func TestPullMergeLastWriteWins(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		older := h.create(t, "B local")
		newer := h.create(t, "D local")
		if _, err := h.orch.SyncPending(ctx); err != nil {
			t.Fatalf("push: %v", err)
		}

		// Remote B is newer and completed.
		t2 := older.UpdatedAt.Add(time.Minute)
		rb, _ := h.server.Store().Get(older.ID)
		rb.Completed = true
		rb.UpdatedAt = t2
		h.server.Store().Put(rb)

		// Remote D is older than local D.
		rd, _ := h.server.Store().Get(newer.ID)
		rd.Title = "D stale"
		rd.UpdatedAt = newer.UpdatedAt.Add(-time.Minute)
		h.server.Store().Put(rd)

		// Remote-only task E.
		now := models.Now()
		h.server.Store().Put(models.Task{ID: "remote-e", Title: "E", CreatedAt: now, UpdatedAt: now})

		res, err := h.orch.PullFromAPI(ctx)
		if err != nil {
			t.Fatalf("pull: %v", err)
		}
		if res.Created != 1 || res.Updated != 1 || res.Skipped != 1 {
			t.Fatalf("unexpected pull result %+v", res)
		}

		b := h.get(t, older.ID)
		if !b.Completed || !b.UpdatedAt.Equal(t2) {
			t.Fatalf("B not overwritten: %+v", b)
		}
		if d := h.get(t, newer.ID); d.Title != "D local" {
			t.Fatalf("D overwritten by stale remote: %q", d.Title)
		}
		e := h.get(t, "remote-e")
		if e.SyncStatus != models.SyncStatusSynced || e.Priority != models.PriorityMedium || e.Category != models.DefaultCategory {
			t.Fatalf("E not inserted as synced with defaults: %+v", e)
		}
		if h.pending(t) != 0 {
			t.Fatal("pull must not write log entries")
		}
	})
}

func TestPullKeepsPendingLocalEdit(t *testing.T) {
	h := newHarness(t, backends[1].open)
	ctx := context.Background()
	task := h.create(t, "mine")
	if _, err := h.orch.SyncPending(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}

	h.conn.on.Store(false)
	title := "edited offline"
	if _, err := h.store.Update(ctx, task.ID, models.TaskPatch{Title: &title}); err != nil {
		t.Fatalf("update: %v", err)
	}
	h.conn.on.Store(true)

	res, err := h.orch.FullSync(ctx)
	if err != nil {
		t.Fatalf("full sync: %v", err)
	}
	if res.Pull.Skipped != 1 || res.Push.Synced != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if remote, _ := h.server.Store().Get(task.ID); remote.Title != "edited offline" {
		t.Fatalf("remote title = %q", remote.Title)
	}
}

func TestOfflineDeleteThenPush(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		task := h.create(t, "doomed")
		if _, err := h.orch.SyncPending(ctx); err != nil {
			t.Fatalf("push: %v", err)
		}

		h.conn.on.Store(false)
		if err := h.store.Delete(ctx, task.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		// A pull while the delete is pending must not resurrect it.
		h.conn.on.Store(true)
		res, err := h.orch.FullSync(ctx)
		if err != nil {
			t.Fatalf("full sync: %v", err)
		}
		if res.Push.Purged != 1 {
			t.Fatalf("expected purge, got %+v", res.Push)
		}

		if _, ok := h.server.Store().Get(task.ID); ok {
			t.Fatal("remote still has deleted task")
		}
		if _, err := h.store.Get(ctx, task.ID); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("local Get err = %v, want ErrNotFound", err)
		}
		all, err := h.store.List(ctx, models.TaskFilters{IncludeDeleted: true})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) != 0 {
			t.Fatalf("expected row purged, got %+v", all)
		}
	})
}

func TestDeleteNotFoundCountsAsConfirmed(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		task := h.create(t, "ghost")
		if _, err := h.orch.SyncPending(ctx); err != nil {
			t.Fatalf("push: %v", err)
		}

		// Someone else removed it remotely before our DELETE arrives.
		h.server.Store().Delete(task.ID)
		if err := h.store.Delete(ctx, task.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}

		res, err := h.orch.SyncPending(ctx)
		if err != nil {
			t.Fatalf("push: %v", err)
		}
		if res.Synced != 1 || res.Failed != 0 || res.Purged != 1 {
			t.Fatalf("404 delete not confirmed: %+v", res)
		}
		if h.pending(t) != 0 {
			t.Fatal("expected empty log")
		}
	})
}

func TestUpdateBeforeDeleteOfRemotelyMissingTaskDrains(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		task := h.create(t, "gone elsewhere")
		if _, err := h.orch.SyncPending(ctx); err != nil {
			t.Fatalf("push: %v", err)
		}
		h.server.Store().Delete(task.ID)

		h.conn.on.Store(false)
		title := "edited offline"
		if _, err := h.store.Update(ctx, task.ID, models.TaskPatch{Title: &title}); err != nil {
			t.Fatalf("update: %v", err)
		}
		if err := h.store.Delete(ctx, task.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		h.conn.on.Store(true)

		res, err := h.orch.SyncPending(ctx)
		if err != nil {
			t.Fatalf("push: %v", err)
		}
		if res.Total != 2 || res.Synced != 2 || res.Failed != 0 || res.Purged != 1 {
			t.Fatalf("push = %+v, want both ops confirmed and the row purged", res)
		}
		if n := h.pending(t); n != 0 {
			t.Fatalf("pending = %d, want 0", n)
		}
		if _, ok := h.server.Store().Get(task.ID); ok {
			t.Fatal("deleted task was recreated remotely")
		}
		all, err := h.store.List(ctx, models.TaskFilters{IncludeDeleted: true})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) != 0 {
			t.Fatalf("row not purged: %+v", all)
		}

		calls := h.remote.Calls()
		want := []string{"CREATE " + task.ID, "UPDATE " + task.ID, "DELETE " + task.ID}
		if len(calls) != len(want) {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
		for i := range want {
			if calls[i] != want[i] {
				t.Fatalf("calls = %v, want %v", calls, want)
			}
		}
	})
}

func TestUpdateRecreatesMissingRemote(t *testing.T) {
	h := newHarness(t, backends[1].open)
	ctx := context.Background()
	task := h.create(t, "lost")
	if _, err := h.orch.SyncPending(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}
	h.server.Store().Delete(task.ID)

	if _, err := h.store.ToggleComplete(ctx, task.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := h.orch.SyncPending(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}
	remote, ok := h.server.Store().Get(task.ID)
	if !ok || !remote.Completed {
		t.Fatalf("remote not recreated with local state: %+v ok=%v", remote, ok)
	}
}

func TestFullSyncPushesAfterPullFailure(t *testing.T) {
	h := newHarness(t, backends[1].open)
	ctx := context.Background()
	task := h.create(t, "still goes")

	failing := &listFailRemote{Remote: h.remote}
	h.orch.remote = failing

	res, err := h.orch.FullSync(ctx)
	var sf *SyncFailure
	if !errors.As(err, &sf) || sf.Stage != "pull" {
		t.Fatalf("expected pull SyncFailure, got %v", err)
	}
	if res.Push.Synced != 1 {
		t.Fatalf("push did not run after pull failure: %+v", res)
	}
	if _, ok := h.server.Store().Get(task.ID); !ok {
		t.Fatal("remote missing task")
	}
	if got := h.orch.Progress().Current(); got.Status != StatusError {
		t.Fatalf("progress status = %s, want error", got.Status)
	}
}

type listFailRemote struct{ Remote }

func (r *listFailRemote) List(context.Context, models.TaskFilters) ([]models.Task, error) {
	return nil, &apiclient.APIError{Status: 503, Message: "unavailable"}
}

func TestSyncInProgress(t *testing.T) {
	h := newHarness(t, backends[1].open)
	ctx := context.Background()
	h.create(t, "slow")
	h.remote.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.SyncPending(ctx)
		done <- err
	}()

	// Wait until the first pass holds the lock.
	deadline := time.Now().Add(2 * time.Second)
	for h.orch.Progress().Current().Status != StatusSyncing {
		if time.Now().After(deadline) {
			t.Fatal("first pass never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := h.orch.SyncPending(ctx); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
	if _, err := h.orch.FullSync(ctx); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress from FullSync, got %v", err)
	}

	close(h.remote.gate)
	if err := <-done; err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if h.pending(t) != 0 {
		t.Fatal("first pass did not drain the log")
	}
}

func TestPushCancelledBetweenItems(t *testing.T) {
	h := newHarness(t, backends[1].open)
	h.create(t, "a")
	h.create(t, "b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.orch.SyncPending(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.pending(t) != 2 {
		t.Fatalf("cancelled pass changed the log: %d pending", h.pending(t))
	}
}

func TestRunServesRequests(t *testing.T) {
	h := newHarness(t, backends[1].open)
	h.create(t, "queued")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		h.orch.Run(ctx)
		close(stopped)
	}()

	for i := 0; i < 5; i++ {
		h.orch.Request(KindPush)
	}

	deadline := time.Now().Add(3 * time.Second)
	for h.pending(t) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("queued push never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}

	h.server.Store().Put(models.Task{ID: "from-remote", Title: "r", CreatedAt: models.Now(), UpdatedAt: models.Now()})
	h.orch.Request(KindFull)
	deadline = time.Now().Add(3 * time.Second)
	for {
		if _, err := h.store.Get(context.Background(), "from-remote"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("queued full sync never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestRunTickerPushesWhileOnline(t *testing.T) {
	h := newHarness(t, backends[1].open)
	h.orch.cfg.Interval = 20 * time.Millisecond
	h.create(t, "ticked")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.orch.Run(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for h.pending(t) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("ticker push never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRequestCoalesces(t *testing.T) {
	o := New(nil, nil, nil, Config{})
	for i := 0; i < 10; i++ {
		o.Request(KindPush)
		o.Request(KindFull)
	}
	if len(o.pushReq) != 1 || len(o.fullReq) != 1 {
		t.Fatalf("expected one queued request per kind, got push=%d full=%d", len(o.pushReq), len(o.fullReq))
	}
}

func TestEmptyPushReportsIdle(t *testing.T) {
	h := newHarness(t, backends[1].open)
	res, err := h.orch.SyncPending(context.Background())
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if res.Total != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := h.orch.Progress().Current().Status; got != StatusIdle {
		t.Fatalf("status = %s, want idle", got)
	}
}

func TestProgressRevertsToIdleAfterPush(t *testing.T) {
	h := newHarness(t, backends[1].open)
	h.create(t, "p")

	ch, unsubscribe := h.orch.Progress().Subscribe()
	defer unsubscribe()

	if _, err := h.orch.SyncPending(context.Background()); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got := h.orch.Progress().Current(); got.Status != StatusCompleted || got.Total != 1 || got.CompletedCount != 1 {
		t.Fatalf("unexpected terminal progress %+v", got)
	}

	deadline := time.After(2 * time.Second)
	sawCompleted := false
	for {
		select {
		case p := <-ch:
			if p.Status == StatusCompleted {
				sawCompleted = true
			}
			if sawCompleted && p.Status == StatusIdle && p.Total == 0 {
				return
			}
		case <-deadline:
			t.Fatal("progress never reverted to idle")
		}
	}
}

func TestNormalizeRemote(t *testing.T) {
	now := time.Now()
	got, ok := normalizeRemote(models.Task{ID: "x", Priority: "H", UpdatedAt: now, SyncStatus: models.SyncStatusPending})
	if !ok {
		t.Fatal("expected ok")
	}
	if got.Priority != models.PriorityHigh || got.Category != models.DefaultCategory {
		t.Fatalf("defaults not applied: %+v", got)
	}
	if got.SyncStatus != "" || !got.CreatedAt.Equal(now) {
		t.Fatalf("unexpected %+v", got)
	}
	if got, _ := normalizeRemote(models.Task{ID: "y", Priority: "urgent"}); got.Priority != models.PriorityMedium {
		t.Fatalf("bad priority not defaulted: %q", got.Priority)
	}
	if _, ok := normalizeRemote(models.Task{Title: "no id"}); ok {
		t.Fatal("expected task without id rejected")
	}
}
