// Package syncharness runs several offtask clients against one in-process
// remote API so sync behavior can be checked across clients.
package syncharness

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus/offtask/internal/api"
	"github.com/marcus/offtask/internal/apiclient"
	"github.com/marcus/offtask/internal/db"
	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/store"
	"github.com/marcus/offtask/internal/store/jsonfile"
	tsync "github.com/marcus/offtask/internal/sync"
	"github.com/marcus/offtask/internal/tasks"
)

// switchConn is a connectivity source the harness flips directly.
type switchConn struct{ on atomic.Bool }

func (c *switchConn) Online() bool { return c.on.Load() }

// Client is one simulated offtask installation.
type Client struct {
	ID    string
	Store store.Store
	Tasks *tasks.Service
	Sync  *tsync.Orchestrator
	conn  *switchConn
}

// Harness owns the remote API and the clients.
type Harness struct {
	t       *testing.T
	Remote  *api.Server
	Clients map[string]*Client
	order   []string
}

// NewHarness starts a remote API and n clients named client-A, client-B, ...
// Clients alternate between the SQLite and JSON file backends. Every client
// starts online.
func NewHarness(t *testing.T, n int) *Harness {
	t.Helper()
	remote := api.NewServer(api.Config{})
	srv := httptest.NewServer(remote.Handler())
	t.Cleanup(srv.Close)

	h := &Harness{t: t, Remote: remote, Clients: make(map[string]*Client)}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("client-%c", 'A'+i)
		dir := t.TempDir()

		var st store.Store
		if i%2 == 0 {
			d, err := db.Open(dir)
			if err != nil {
				t.Fatalf("%s: open sqlite: %v", id, err)
			}
			st = d
		} else {
			st = jsonfile.New(dir)
		}
		t.Cleanup(func() { st.Close() })

		conn := &switchConn{}
		conn.on.Store(true)
		client := apiclient.New(srv.URL+"/api", apiclient.WithTimeout(2*time.Second))
		orch := tsync.New(st, client, conn, tsync.Config{})
		t.Cleanup(orch.Close)

		h.Clients[id] = &Client{
			ID:    id,
			Store: st,
			Tasks: tasks.New(st, tasks.WithConnectivity(conn), tasks.WithAutoPush(false)),
			Sync:  orch,
			conn:  conn,
		}
		h.order = append(h.order, id)
	}
	return h
}

func (h *Harness) client(id string) *Client {
	h.t.Helper()
	c, ok := h.Clients[id]
	if !ok {
		h.t.Fatalf("unknown client %s", id)
	}
	return c
}

// SetOnline flips a client's connectivity.
func (h *Harness) SetOnline(id string, on bool) {
	h.client(id).conn.on.Store(on)
}

// Create adds a task on client id.
func (h *Harness) Create(id string, in models.TaskInput) *models.Task {
	h.t.Helper()
	task, err := h.client(id).Tasks.Create(context.Background(), in)
	if err != nil {
		h.t.Fatalf("%s: create %q: %v", id, in.Title, err)
	}
	return task
}

// Update patches a task on client id.
func (h *Harness) Update(id, taskID string, patch models.TaskPatch) *models.Task {
	h.t.Helper()
	task, err := h.client(id).Tasks.Update(context.Background(), taskID, patch)
	if err != nil {
		h.t.Fatalf("%s: update %s: %v", id, taskID, err)
	}
	return task
}

// Toggle flips completion on client id.
func (h *Harness) Toggle(id, taskID string) *models.Task {
	h.t.Helper()
	task, err := h.client(id).Tasks.Toggle(context.Background(), taskID)
	if err != nil {
		h.t.Fatalf("%s: toggle %s: %v", id, taskID, err)
	}
	return task
}

// Delete removes a task on client id.
func (h *Harness) Delete(id, taskID string) {
	h.t.Helper()
	if err := h.client(id).Tasks.Delete(context.Background(), taskID); err != nil {
		h.t.Fatalf("%s: delete %s: %v", id, taskID, err)
	}
}

// Push drains client id's pending log.
func (h *Harness) Push(id string) tsync.PushResult {
	h.t.Helper()
	res, err := h.client(id).Sync.SyncPending(context.Background())
	if err != nil {
		h.t.Fatalf("%s: push: %v", id, err)
	}
	return res
}

// Pull merges the remote list into client id.
func (h *Harness) Pull(id string) tsync.PullResult {
	h.t.Helper()
	res, err := h.client(id).Sync.PullFromAPI(context.Background())
	if err != nil {
		h.t.Fatalf("%s: pull: %v", id, err)
	}
	return res
}

// SyncAll runs a full sync on every client in order, then pulls on every
// client again so later pushes reach earlier clients.
func (h *Harness) SyncAll() {
	h.t.Helper()
	for _, id := range h.order {
		if _, err := h.client(id).Sync.FullSync(context.Background()); err != nil {
			h.t.Fatalf("%s: full sync: %v", id, err)
		}
	}
	for _, id := range h.order {
		h.Pull(id)
	}
}

// Tick waits long enough for the next mutation to get a later UpdatedAt.
func (h *Harness) Tick() {
	time.Sleep(5 * time.Millisecond)
}

// Pending returns the pending-operation count of client id.
func (h *Harness) Pending(id string) int {
	h.t.Helper()
	n, err := h.client(id).Store.CountPending(context.Background())
	if err != nil {
		h.t.Fatalf("%s: count pending: %v", id, err)
	}
	return n
}

// Get returns client id's copy of a task, or nil.
func (h *Harness) Get(id, taskID string) *models.Task {
	h.t.Helper()
	task, err := h.client(id).Store.Get(context.Background(), taskID)
	if err != nil {
		return nil
	}
	return task
}

// view is the replicated part of a task.
type view struct {
	Title       string
	Description string
	Completed   bool
	Priority    models.Priority
	Category    string
	DueDate     string
	UpdatedAt   time.Time
}

func viewOf(t models.Task) view {
	return view{
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		Priority:    t.Priority,
		Category:    t.Category,
		DueDate:     t.DueDate,
		UpdatedAt:   t.UpdatedAt.UTC(),
	}
}

// AssertReplicated checks that every remote task exists on every client
// with the same fields and that no client has pending work left.
func (h *Harness) AssertReplicated() {
	h.t.Helper()
	remote := h.Remote.Store().List(models.TaskFilters{})
	sort.Slice(remote, func(i, j int) bool { return remote[i].ID < remote[j].ID })

	for _, id := range h.order {
		if n := h.Pending(id); n != 0 {
			h.t.Errorf("%s: %d operations still pending", id, n)
		}
		for _, rt := range remote {
			local := h.Get(id, rt.ID)
			if local == nil {
				h.t.Errorf("%s: missing remote task %s (%q)", id, rt.ID, rt.Title)
				continue
			}
			if got, want := viewOf(*local), viewOf(rt); got != want {
				h.t.Errorf("%s: task %s diverged\n  local:  %+v\n  remote: %+v", id, rt.ID, got, want)
			}
			if local.SyncStatus != models.SyncStatusSynced {
				h.t.Errorf("%s: task %s sync status = %q", id, rt.ID, local.SyncStatus)
			}
		}
	}
}

// AssertSameLiveTasks checks that every client lists exactly the remote
// task ids.
func (h *Harness) AssertSameLiveTasks() {
	h.t.Helper()
	want := ids(h.Remote.Store().List(models.TaskFilters{}))
	for _, id := range h.order {
		local, err := h.client(id).Store.List(context.Background(), models.TaskFilters{})
		if err != nil {
			h.t.Fatalf("%s: list: %v", id, err)
		}
		if got := ids(local); fmt.Sprint(got) != fmt.Sprint(want) {
			h.t.Errorf("%s: live tasks = %v, remote = %v", id, got, want)
		}
	}
}

func ids(list []models.Task) []string {
	out := make([]string, 0, len(list))
	for _, t := range list {
		out = append(out, t.ID)
	}
	sort.Strings(out)
	return out
}
