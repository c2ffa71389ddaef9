package tasks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/marcus/offtask/internal/api"
	"github.com/marcus/offtask/internal/apiclient"
	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/store"
	"github.com/marcus/offtask/internal/store/jsonfile"
	tsync "github.com/marcus/offtask/internal/sync"
)

type fakeSyncer struct {
	pushes   atomic.Int32
	fulls    atomic.Int32
	progress *tsync.Broadcaster
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{progress: tsync.NewBroadcaster(0)}
}

func (f *fakeSyncer) Request(k tsync.Kind) {
	if k == tsync.KindFull {
		f.fulls.Add(1)
		return
	}
	f.pushes.Add(1)
}

func (f *fakeSyncer) Progress() *tsync.Broadcaster { return f.progress }

type staticConn bool

func (c staticConn) Online() bool { return bool(c) }

func newService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	st := jsonfile.New(t.TempDir())
	t.Cleanup(func() { _ = st.Close() })
	return New(st, opts...)
}

func TestCreateDefaultsAndTrims(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, models.TaskInput{Title: "  Buy milk  ", Priority: "H"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.ID == "" {
		t.Fatal("expected generated id")
	}
	if task.Title != "Buy milk" {
		t.Errorf("Title = %q", task.Title)
	}
	if task.Priority != models.PriorityHigh {
		t.Errorf("Priority = %q", task.Priority)
	}
	if task.Category != models.DefaultCategory {
		t.Errorf("Category = %q", task.Category)
	}
	if task.SyncStatus != models.SyncStatusPending {
		t.Errorf("SyncStatus = %q", task.SyncStatus)
	}
	if !task.CreatedAt.Equal(task.UpdatedAt) {
		t.Error("expected createdAt == updatedAt on create")
	}

	pending, err := svc.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Op.Operation != models.OpCreate {
		t.Fatalf("expected one CREATE op, got %+v", pending)
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name  string
		in    models.TaskInput
		field string
	}{
		{"empty title", models.TaskInput{Title: "   "}, "title"},
		{"bad priority", models.TaskInput{Title: "x", Priority: "urgent"}, "priority"},
		{"bad due date", models.TaskInput{Title: "x", DueDate: "next tuesday"}, "dueDate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(t)
			_, err := svc.Create(context.Background(), tt.in)
			var ve *models.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
			n, _ := svc.Store().CountPending(context.Background())
			if n != 0 {
				t.Errorf("validation failure reached the store: %d pending", n)
			}
		})
	}
}

func TestUpdateValidationAndNotFound(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	task, err := svc.Create(ctx, models.TaskInput{Title: "a"})
	if err != nil {
		t.Fatal(err)
	}

	empty := ""
	if _, err := svc.Update(ctx, task.ID, models.TaskPatch{Title: &empty}); err == nil {
		t.Fatal("expected empty title to be rejected")
	}

	title := "b"
	if _, err := svc.Update(ctx, "missing", models.TaskPatch{Title: &title}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	low := models.Priority("l")
	updated, err := svc.Update(ctx, task.ID, models.TaskPatch{Priority: &low})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Priority != models.PriorityLow {
		t.Errorf("Priority = %q, want normalized low", updated.Priority)
	}
}

func TestMutationsRequestPushWhenOnline(t *testing.T) {
	syncer := newFakeSyncer()
	svc := newService(t, WithSyncer(syncer), WithConnectivity(staticConn(true)))
	ctx := context.Background()

	task, err := svc.Create(ctx, models.TaskInput{Title: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Toggle(ctx, task.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, task.ID); err != nil {
		t.Fatal(err)
	}
	if got := syncer.pushes.Load(); got != 3 {
		t.Errorf("push requests = %d, want 3", got)
	}
}

func TestMutationsOfflineDoNotRequestPush(t *testing.T) {
	syncer := newFakeSyncer()
	svc := newService(t, WithSyncer(syncer), WithConnectivity(staticConn(false)))

	if _, err := svc.Create(context.Background(), models.TaskInput{Title: "a"}); err != nil {
		t.Fatal(err)
	}
	if got := syncer.pushes.Load(); got != 0 {
		t.Errorf("push requests = %d, want 0 while offline", got)
	}
}

func TestAutoPushDisabled(t *testing.T) {
	syncer := newFakeSyncer()
	svc := newService(t, WithSyncer(syncer), WithConnectivity(staticConn(true)), WithAutoPush(false))
	if _, err := svc.Create(context.Background(), models.TaskInput{Title: "a"}); err != nil {
		t.Fatal(err)
	}
	if got := syncer.pushes.Load(); got != 0 {
		t.Errorf("push requests = %d, want 0", got)
	}
	svc.RequestSync(tsync.KindFull)
	if syncer.fulls.Load() != 1 {
		t.Error("explicit RequestSync should still reach the syncer")
	}
}

func TestSyncStatsRemoteTotal(t *testing.T) {
	remote := api.NewServer(api.Config{})
	srv := httptest.NewServer(remote.Handler())
	defer srv.Close()
	remote.Store().Put(models.Task{ID: "r1", Title: "remote", Priority: models.PriorityLow, Category: "general"})
	client := apiclient.New(srv.URL + "/api")

	svc := newService(t, WithConnectivity(staticConn(true)), WithRemote(client))
	ctx := context.Background()
	if _, err := svc.Create(ctx, models.TaskInput{Title: "local"}); err != nil {
		t.Fatal(err)
	}

	stats, err := svc.SyncStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.PendingSync != 1 || stats.TotalLocal != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.TotalRemote == nil || *stats.TotalRemote != 1 {
		t.Fatalf("TotalRemote = %v, want 1", stats.TotalRemote)
	}
	if stats.LastSync != nil {
		t.Error("expected no LastSync before any sync")
	}
}

func TestSyncStatsRemoteUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := newService(t, WithConnectivity(staticConn(true)), WithRemote(apiclient.New(srv.URL)))
	stats, err := svc.SyncStats(context.Background())
	if err != nil {
		t.Fatalf("remote failure should not fail SyncStats: %v", err)
	}
	if stats.TotalRemote != nil {
		t.Error("expected nil TotalRemote when remote errors")
	}
}

func TestSubscribeProgressWithoutSyncer(t *testing.T) {
	svc := newService(t)
	ch, unsub := svc.SubscribeProgress()
	defer unsub()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel without a syncer")
	}
}

func TestSubscribeProgressPrimed(t *testing.T) {
	syncer := newFakeSyncer()
	svc := newService(t, WithSyncer(syncer))
	ch, unsub := svc.SubscribeProgress()
	defer unsub()
	p := <-ch
	if p.Status != tsync.StatusIdle {
		t.Errorf("Status = %q, want idle", p.Status)
	}
}
