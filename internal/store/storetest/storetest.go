// Package storetest holds the behavioral contract every store.Store
// implementation must satisfy. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/store"
)

// Factory opens a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the full contract suite against stores produced by open.
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAppendsOneOp", testCreateAppendsOneOp},
		{"CreateDuplicate", testCreateDuplicate},
		{"UpdateUnknown", testUpdateUnknown},
		{"UpdateBumpsUpdatedAt", testUpdateBumpsUpdatedAt},
		{"EmptyPatchStillLogged", testEmptyPatchStillLogged},
		{"Toggle", testToggle},
		{"SoftDelete", testSoftDelete},
		{"ReplayOrder", testReplayOrder},
		{"MarkSyncedIdempotent", testMarkSyncedIdempotent},
		{"MarkSyncedPartial", testMarkSyncedPartial},
		{"PurgeDeleted", testPurgeDeleted},
		{"PurgeKeepsUnconfirmed", testPurgeKeepsUnconfirmed},
		{"ApplyRemote", testApplyRemote},
		{"ApplyRemoteKeepsPending", testApplyRemoteKeepsPending},
		{"ListFilters", testListFilters},
		{"Stats", testStats},
		{"ConcurrentUpdates", testConcurrentUpdates},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// NewTask returns a valid task ready for Create.
func NewTask(title string) *models.Task {
	now := models.Now()
	return &models.Task{
		ID:        uuid.NewString(),
		Title:     title,
		Priority:  models.PriorityMedium,
		Category:  models.DefaultCategory,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func mustCreate(t *testing.T, s store.Store, title string) *models.Task {
	t.Helper()
	task := NewTask(title)
	if err := s.Create(context.Background(), task); err != nil {
		t.Fatalf("Create(%q): %v", title, err)
	}
	return task
}

func pending(t *testing.T, s store.Store) []models.PendingItem {
	t.Helper()
	items, err := s.PendingOperations(context.Background())
	if err != nil {
		t.Fatalf("PendingOperations: %v", err)
	}
	return items
}

func get(t *testing.T, s store.Store, id string) *models.Task {
	t.Helper()
	task, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return task
}

func markAll(t *testing.T, s store.Store) {
	t.Helper()
	for _, item := range pending(t, s) {
		if err := s.MarkSynced(context.Background(), item.Task.ID, item.Op.ID); err != nil {
			t.Fatalf("MarkSynced: %v", err)
		}
	}
}

func testCreateAppendsOneOp(t *testing.T, s store.Store) {
	task := mustCreate(t, s, "Buy milk")

	got := get(t, s, task.ID)
	if got.SyncStatus != models.SyncStatusPending {
		t.Errorf("SyncStatus: got %s, want pending", got.SyncStatus)
	}
	if got.Title != "Buy milk" {
		t.Errorf("Title: got %q", got.Title)
	}
	items := pending(t, s)
	if len(items) != 1 {
		t.Fatalf("pending ops: got %d, want 1", len(items))
	}
	if items[0].Op.Operation != models.OpCreate || items[0].Op.TaskID != task.ID {
		t.Errorf("op: got %+v", items[0].Op)
	}
	if items[0].Task.Title != "Buy milk" {
		t.Errorf("joined task title: got %q", items[0].Task.Title)
	}
}

func testCreateDuplicate(t *testing.T, s store.Store) {
	task := mustCreate(t, s, "dup")
	again := NewTask("dup again")
	again.ID = task.ID
	if err := s.Create(context.Background(), again); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if n := len(pending(t, s)); n != 1 {
		t.Errorf("failed create must not log: got %d ops", n)
	}
}

func testUpdateUnknown(t *testing.T, s store.Store) {
	title := "x"
	_, err := s.Update(context.Background(), "missing", models.TaskPatch{Title: &title})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Delete: expected ErrNotFound, got %v", err)
	}
	if n := len(pending(t, s)); n != 0 {
		t.Errorf("no op should be logged, got %d", n)
	}
}

func testUpdateBumpsUpdatedAt(t *testing.T, s store.Store) {
	task := mustCreate(t, s, "before")
	title := "after"
	updated, err := s.Update(context.Background(), task.ID, models.TaskPatch{Title: &title})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Title != "after" {
		t.Errorf("Title: got %q", updated.Title)
	}
	if updated.UpdatedAt.Before(task.UpdatedAt) {
		t.Errorf("updatedAt went backwards: %v < %v", updated.UpdatedAt, task.UpdatedAt)
	}
	if !updated.CreatedAt.Equal(task.CreatedAt) {
		t.Errorf("createdAt changed: %v != %v", updated.CreatedAt, task.CreatedAt)
	}
	items := pending(t, s)
	if len(items) != 2 || items[1].Op.Operation != models.OpUpdate {
		t.Fatalf("expected CREATE then UPDATE, got %+v", items)
	}
}

func testEmptyPatchStillLogged(t *testing.T, s store.Store) {
	task := mustCreate(t, s, "same")
	if _, err := s.Update(context.Background(), task.ID, models.TaskPatch{}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n := len(pending(t, s)); n != 2 {
		t.Errorf("empty patch should still append an op, got %d", n)
	}
}

func testToggle(t *testing.T, s store.Store) {
	task := mustCreate(t, s, "toggle me")
	got, err := s.ToggleComplete(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("ToggleComplete: %v", err)
	}
	if !got.Completed {
		t.Error("expected completed after first toggle")
	}
	got, err = s.ToggleComplete(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("ToggleComplete: %v", err)
	}
	if got.Completed {
		t.Error("expected not completed after second toggle")
	}
	if n := len(pending(t, s)); n != 3 {
		t.Errorf("ops: got %d, want 3", n)
	}
}

func testSoftDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := mustCreate(t, s, "gone")
	if err := s.Delete(ctx, task.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, task.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after delete: expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, task.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Delete: expected ErrNotFound, got %v", err)
	}
	all, err := s.List(ctx, models.TaskFilters{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 || all[0].SyncStatus != models.SyncStatusDeleted {
		t.Fatalf("soft-deleted row should be retained, got %+v", all)
	}
	visible, _ := s.List(ctx, models.TaskFilters{})
	if len(visible) != 0 {
		t.Errorf("deleted task should be hidden, got %d", len(visible))
	}
	items := pending(t, s)
	if len(items) != 2 || items[1].Op.Operation != models.OpDelete {
		t.Fatalf("expected CREATE then DELETE, got %+v", items)
	}
}

func testReplayOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")
	title := "a2"
	if _, err := s.Update(ctx, a.ID, models.TaskPatch{Title: &title}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, b.ID); err != nil {
		t.Fatal(err)
	}

	items := pending(t, s)
	want := []struct {
		id string
		op models.Operation
	}{
		{a.ID, models.OpCreate},
		{b.ID, models.OpCreate},
		{a.ID, models.OpUpdate},
		{b.ID, models.OpDelete},
	}
	if len(items) != len(want) {
		t.Fatalf("got %d items, want %d", len(items), len(want))
	}
	for i, w := range want {
		if items[i].Op.TaskID != w.id || items[i].Op.Operation != w.op {
			t.Errorf("item %d: got %s %s, want %s %s", i, items[i].Op.Operation, items[i].Op.TaskID, w.op, w.id)
		}
		if i > 0 && items[i].Op.ID <= items[i-1].Op.ID {
			t.Errorf("item %d: op ids not ascending", i)
		}
	}
}

func testMarkSyncedIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := mustCreate(t, s, "sync me")
	if err := s.MarkSynced(ctx, task.ID, 0); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	first := get(t, s, task.ID)
	if first.SyncStatus != models.SyncStatusSynced || first.LastSynced == nil {
		t.Fatalf("after MarkSynced: %+v", first)
	}

	if err := s.MarkSynced(ctx, task.ID, 0); err != nil {
		t.Fatalf("second MarkSynced: %v", err)
	}
	second := get(t, s, task.ID)
	if second.SyncStatus != first.SyncStatus || !second.LastSynced.Equal(*first.LastSynced) {
		t.Errorf("second MarkSynced changed state: %+v -> %+v", first, second)
	}
	if n := len(pending(t, s)); n != 0 {
		t.Errorf("pending after sync: %d", n)
	}
	if err := s.MarkSynced(ctx, "unknown", 0); err != nil {
		t.Errorf("MarkSynced unknown id: %v", err)
	}
}

func testMarkSyncedPartial(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := mustCreate(t, s, "partial")
	title := "later edit"
	if _, err := s.Update(ctx, task.ID, models.TaskPatch{Title: &title}); err != nil {
		t.Fatal(err)
	}
	items := pending(t, s)
	if err := s.MarkSynced(ctx, task.ID, items[0].Op.ID); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	got := get(t, s, task.ID)
	if got.SyncStatus != models.SyncStatusPending {
		t.Errorf("task with remaining ops must stay pending, got %s", got.SyncStatus)
	}
	rest := pending(t, s)
	if len(rest) != 1 || rest[0].Op.Operation != models.OpUpdate {
		t.Fatalf("remaining: %+v", rest)
	}
	n, err := s.CountPending(ctx)
	if err != nil || n != 1 {
		t.Errorf("CountPending: %d, %v", n, err)
	}
}

func testPurgeDeleted(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := mustCreate(t, s, "temp")
	if err := s.Delete(ctx, task.ID); err != nil {
		t.Fatal(err)
	}
	markAll(t, s)

	all, _ := s.List(ctx, models.TaskFilters{IncludeDeleted: true})
	if len(all) != 1 || all[0].SyncStatus != models.SyncStatusDeleted {
		t.Fatalf("confirmed delete should keep deleted status until purge, got %+v", all)
	}

	n, err := s.PurgeDeleted(ctx)
	if err != nil {
		t.Fatalf("PurgeDeleted: %v", err)
	}
	if n != 1 {
		t.Errorf("purged: got %d, want 1", n)
	}
	all, _ = s.List(ctx, models.TaskFilters{IncludeDeleted: true})
	if len(all) != 0 {
		t.Errorf("row should be gone, got %+v", all)
	}
}

func testPurgeKeepsUnconfirmed(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := mustCreate(t, s, "not yet")
	if err := s.Delete(ctx, task.ID); err != nil {
		t.Fatal(err)
	}
	n, err := s.PurgeDeleted(ctx)
	if err != nil {
		t.Fatalf("PurgeDeleted: %v", err)
	}
	if n != 0 {
		t.Errorf("unconfirmed delete purged")
	}
}

func testApplyRemote(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := models.Now()

	remote := models.Task{
		ID: uuid.NewString(), Title: "from server", Priority: models.PriorityHigh,
		Category: "work", CreatedAt: base, UpdatedAt: base,
	}
	out, err := s.ApplyRemote(ctx, remote)
	if err != nil || out != store.MergeCreated {
		t.Fatalf("ApplyRemote new: %v, %v", out, err)
	}
	got := get(t, s, remote.ID)
	if got.SyncStatus != models.SyncStatusSynced || got.LastSynced == nil {
		t.Errorf("pulled task should be synced: %+v", got)
	}
	if n := len(pending(t, s)); n != 0 {
		t.Errorf("pull must not log ops, got %d", n)
	}

	older := remote
	older.Title = "stale"
	older.UpdatedAt = base.Add(-time.Hour)
	if out, _ := s.ApplyRemote(ctx, older); out != store.MergeSkipped {
		t.Errorf("older remote: got %s", out)
	}
	same := remote
	same.Title = "same instant"
	if out, _ := s.ApplyRemote(ctx, same); out != store.MergeSkipped {
		t.Errorf("equal updatedAt must not overwrite, got %s", out)
	}

	newer := remote
	newer.Title = "fresh"
	newer.UpdatedAt = base.Add(time.Hour)
	if out, _ := s.ApplyRemote(ctx, newer); out != store.MergeUpdated {
		t.Errorf("newer remote: got %s", out)
	}
	got = get(t, s, remote.ID)
	if got.Title != "fresh" || !got.UpdatedAt.Equal(newer.UpdatedAt) {
		t.Errorf("newer remote not applied: %+v", got)
	}
}

func testApplyRemoteKeepsPending(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := mustCreate(t, s, "local edit")
	remote := *task
	remote.Title = "server edit"
	remote.UpdatedAt = task.UpdatedAt.Add(time.Minute)
	remote.SyncStatus = ""

	out, err := s.ApplyRemote(ctx, remote)
	if err != nil || out != store.MergeUpdated {
		t.Fatalf("ApplyRemote: %v %v", out, err)
	}
	got := get(t, s, task.ID)
	if got.SyncStatus != models.SyncStatusPending {
		t.Errorf("pending op remains, status should stay pending, got %s", got.SyncStatus)
	}
	if n := len(pending(t, s)); n != 1 {
		t.Errorf("merge must not add or drop ops, got %d", n)
	}

	if err := s.Delete(ctx, task.ID); err != nil {
		t.Fatal(err)
	}
	remote.UpdatedAt = remote.UpdatedAt.Add(time.Hour)
	if _, err := s.ApplyRemote(ctx, remote); err != nil {
		t.Fatal(err)
	}
	all, _ := s.List(ctx, models.TaskFilters{IncludeDeleted: true})
	if len(all) != 1 || all[0].SyncStatus != models.SyncStatusDeleted {
		t.Errorf("local delete must survive a pull, got %+v", all)
	}
}

func testListFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := mustCreate(t, s, "Write report")
	mustCreate(t, s, "Walk dog")
	pr := models.PriorityHigh
	cat := "work"
	if _, err := s.Update(ctx, a.ID, models.TaskPatch{Priority: &pr, Category: &cat}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ToggleComplete(ctx, a.ID); err != nil {
		t.Fatal(err)
	}

	done := true
	tests := []struct {
		name    string
		filters models.TaskFilters
		want    int
	}{
		{"all", models.TaskFilters{}, 2},
		{"completed", models.TaskFilters{Completed: &done}, 1},
		{"priority", models.TaskFilters{Priority: models.PriorityHigh}, 1},
		{"category", models.TaskFilters{Category: "work"}, 1},
		{"search", models.TaskFilters{Search: "DOG"}, 1},
	}
	for _, tt := range tests {
		got, err := s.List(ctx, tt.filters)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if len(got) != tt.want {
			t.Errorf("%s: got %d tasks, want %d", tt.name, len(got), tt.want)
		}
	}
}

func testStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := mustCreate(t, s, "one")
	mustCreate(t, s, "two")
	c := mustCreate(t, s, "three")
	if _, err := s.ToggleComplete(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, c.ID); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 2 || stats.Completed != 1 || stats.CompletionRate != 50 {
		t.Errorf("Stats: %+v", stats)
	}

	ss, err := s.SyncStats(ctx)
	if err != nil {
		t.Fatalf("SyncStats: %v", err)
	}
	if ss.PendingSync != 5 || ss.TotalLocal != 2 || ss.LastSync != nil {
		t.Errorf("SyncStats before sync: %+v", ss)
	}
	markAll(t, s)
	ss, _ = s.SyncStats(ctx)
	if ss.PendingSync != 0 || ss.LastSync == nil {
		t.Errorf("SyncStats after sync: %+v", ss)
	}
}

func testConcurrentUpdates(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := mustCreate(t, s, "contended")

	const workers = 6
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			title := fmt.Sprintf("edit %d", i)
			if _, err := s.Update(ctx, task.ID, models.TaskPatch{Title: &title}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Update: %v", err)
	}

	if n := len(pending(t, s)); n != workers+1 {
		t.Errorf("ops: got %d, want %d", n, workers+1)
	}
}
