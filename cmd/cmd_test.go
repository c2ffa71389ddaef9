package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/marcus/offtask/internal/api"
	"github.com/marcus/offtask/internal/apiclient"
	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/output"
	"github.com/marcus/offtask/internal/store"
	tsync "github.com/marcus/offtask/internal/sync"
	"github.com/marcus/offtask/internal/tasks"
)

// resetFlags restores every flag to its default so commands can run
// repeatedly in one process.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// isolate points config and storage at temp dirs and the API at baseURL
func isolate(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("OFFTASK_CONFIG_DIR", t.TempDir())
	t.Setenv("OFFTASK_STORAGE_DIR", dir)
	t.Setenv("OFFTASK_STORAGE_BACKEND", "jsonfile")
	t.Setenv("OFFTASK_API_BASE_URL", baseURL)
	t.Setenv("OFFTASK_CONNECTIVITY_PROBE_TIMEOUT", "500ms")
	return dir
}

// run executes the CLI with args and returns what it printed
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	prev := output.Stdout
	output.Stdout = &buf
	defer func() { output.Stdout = prev }()

	resetFlags(rootCmd)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	closeLogging()
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("offtask %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return v
}

func newRemote(t *testing.T) (*api.Server, string) {
	t.Helper()
	srv := api.NewServer(api.Config{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts.URL + "/api"
}

func TestAddListShowOffline(t *testing.T) {
	isolate(t, "http://127.0.0.1:1/api")

	task := decode[models.Task](t, mustRun(t, "add", "Buy milk", "-p", "high", "-c", "home", "--due", "2026-03-01", "--offline", "--json"))
	if task.Title != "Buy milk" || task.Priority != models.PriorityHigh || task.Category != "home" || task.DueDate != "2026-03-01" {
		t.Errorf("created = %+v", task)
	}
	if task.SyncStatus != models.SyncStatusPending {
		t.Errorf("sync status = %q, want pending", task.SyncStatus)
	}

	mustRun(t, "add", "Write", "report", "--offline")

	list := decode[[]models.Task](t, mustRun(t, "list", "--json"))
	if len(list) != 2 {
		t.Fatalf("list = %d tasks, want 2", len(list))
	}
	high := decode[[]models.Task](t, mustRun(t, "list", "--priority", "high", "--json"))
	if len(high) != 1 || high[0].ID != task.ID {
		t.Errorf("high priority list = %+v", high)
	}

	out := mustRun(t, "show", "milk")
	if !strings.Contains(out, "Buy milk") || !strings.Contains(out, "PENDING OPERATIONS") {
		t.Errorf("show output = %q", out)
	}

	out = mustRun(t, "pending")
	if strings.Count(out, "CREATE") != 2 {
		t.Errorf("pending output = %q", out)
	}
}

func TestEditToggleDeleteOffline(t *testing.T) {
	isolate(t, "http://127.0.0.1:1/api")

	task := decode[models.Task](t, mustRun(t, "add", "Old chore", "--offline", "--json"))
	short := output.ShortID(task.ID)

	edited := decode[models.Task](t, mustRun(t, "edit", short, "--priority", "low", "--title", "New chore", "--offline", "--json"))
	if edited.Title != "New chore" || edited.Priority != models.PriorityLow {
		t.Errorf("edited = %+v", edited)
	}

	toggled := decode[models.Task](t, mustRun(t, "done", "New chore", "--offline", "--json"))
	if !toggled.Completed {
		t.Error("expected completed after toggle")
	}
	open := decode[[]models.Task](t, mustRun(t, "list", "--open", "--json"))
	if len(open) != 0 {
		t.Errorf("open tasks = %d, want 0", len(open))
	}

	mustRun(t, "rm", short, "--offline")
	if got := decode[[]models.Task](t, mustRun(t, "list", "--json")); len(got) != 0 {
		t.Errorf("list after delete = %+v", got)
	}
	all := decode[[]models.Task](t, mustRun(t, "list", "--all", "--json"))
	if len(all) != 1 || all[0].SyncStatus != models.SyncStatusDeleted {
		t.Errorf("list --all = %+v", all)
	}

	items := decode[[]models.PendingItem](t, mustRun(t, "pending", "--json"))
	ops := make([]models.Operation, 0, len(items))
	for _, it := range items {
		ops = append(ops, it.Op.Operation)
	}
	want := []models.Operation{models.OpCreate, models.OpUpdate, models.OpUpdate, models.OpDelete}
	if fmt.Sprint(ops) != fmt.Sprint(want) {
		t.Errorf("pending ops = %v, want %v", ops, want)
	}
}

func TestInputErrors(t *testing.T) {
	isolate(t, "http://127.0.0.1:1/api")

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"missing title", []string{"add", "--offline"}, output.ErrCodeInvalidInput},
		{"bad priority", []string{"add", "x", "-p", "urgent", "--offline"}, output.ErrCodeInvalidInput},
		{"bad due date", []string{"add", "x", "--due", "soonish", "--offline"}, output.ErrCodeInvalidInput},
		{"unknown ref", []string{"show", "nothing-here"}, output.ErrCodeNotFound},
		{"empty edit", []string{"edit", "x", "--offline"}, output.ErrCodeInvalidInput},
		{"conflicting list flags", []string{"list", "--open", "--completed"}, output.ErrCodeInvalidInput},
		{"conflicting sync flags", []string{"sync", "--push", "--pull"}, output.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errorCode(err); got != tt.code {
				t.Errorf("errorCode(%v) = %q, want %q", err, got, tt.code)
			}
		})
	}
}

func TestAutoSyncPushesAfterMutation(t *testing.T) {
	remote, base := newRemote(t)
	isolate(t, base)

	task := decode[models.Task](t, mustRun(t, "add", "Pushed right away", "--json"))
	if task.SyncStatus != models.SyncStatusSynced {
		t.Errorf("sync status = %q, want synced", task.SyncStatus)
	}
	if got, ok := remote.Store().Get(task.ID); !ok || got.Title != "Pushed right away" {
		t.Errorf("remote task = %+v, %v", got, ok)
	}

	mustRun(t, "toggle", task.ID)
	if got, _ := remote.Store().Get(task.ID); !got.Completed {
		t.Error("remote task should be completed")
	}

	mustRun(t, "delete", task.ID)
	if remote.Store().Len() != 0 {
		t.Errorf("remote still has %d tasks", remote.Store().Len())
	}
	if got := decode[[]models.Task](t, mustRun(t, "list", "--all", "--json")); len(got) != 0 {
		t.Errorf("deleted task should be purged locally, got %+v", got)
	}
}

func TestAutoSyncDisabled(t *testing.T) {
	remote, base := newRemote(t)
	isolate(t, base)
	t.Setenv("OFFTASK_SYNC_AUTO", "false")

	mustRun(t, "add", "Stays local")
	if remote.Store().Len() != 0 {
		t.Errorf("remote has %d tasks, want 0", remote.Store().Len())
	}

	report := decode[syncReport](t, mustRun(t, "sync", "--push", "--json"))
	if report.Push == nil || report.Push.Synced != 1 {
		t.Errorf("push report = %+v", report.Push)
	}
	if remote.Store().Len() != 1 {
		t.Errorf("remote has %d tasks, want 1", remote.Store().Len())
	}
}

func TestSyncPullAndFull(t *testing.T) {
	remote, base := newRemote(t)
	isolate(t, base)
	t.Setenv("OFFTASK_SYNC_AUTO", "false")

	now := time.Now().UTC()
	remote.Store().Put(models.Task{
		ID: "remote-1", Title: "From the server", Priority: models.PriorityMedium,
		Category: "general", CreatedAt: now, UpdatedAt: now,
	})

	report := decode[syncReport](t, mustRun(t, "sync", "--pull", "--json"))
	if report.Pull == nil || report.Pull.Created != 1 || report.Push != nil {
		t.Errorf("pull report = %+v", report)
	}

	mustRun(t, "add", "Local only")
	report = decode[syncReport](t, mustRun(t, "sync", "--json"))
	if report.Pull == nil || report.Push == nil || report.Push.Synced != 1 {
		t.Errorf("full report = %+v", report)
	}
	if remote.Store().Len() != 2 {
		t.Errorf("remote has %d tasks, want 2", remote.Store().Len())
	}

	out := mustRun(t, "sync")
	if !strings.Contains(out, "Pulled:") || !strings.Contains(out, "nothing pending") {
		t.Errorf("sync output = %q", out)
	}
}

func TestSyncOffline(t *testing.T) {
	isolate(t, "http://127.0.0.1:1/api")

	_, err := run(t, "sync")
	if !errors.Is(err, errOffline) {
		t.Fatalf("err = %v, want errOffline", err)
	}
	if errorCode(err) != output.ErrCodeNetworkError {
		t.Errorf("code = %q", errorCode(err))
	}

	out := mustRun(t, "sync", "--status")
	if !strings.Contains(out, "offline") || !strings.Contains(out, "never") {
		t.Errorf("status output = %q", out)
	}
}

func TestStats(t *testing.T) {
	remote, base := newRemote(t)
	isolate(t, base)

	mustRun(t, "add", "One", "-p", "high", "-c", "work")
	mustRun(t, "add", "Two", "-c", "home")
	remote.Store().Put(models.Task{ID: "extra", Title: "Server side", Priority: models.PriorityLow, Category: "general"})

	local := decode[statsReport](t, mustRun(t, "stats", "--json"))
	if local.Tasks.Total != 2 || local.Tasks.PriorityStats.High != 1 {
		t.Errorf("stats = %+v", local.Tasks)
	}
	if local.Sync.TotalRemote != nil {
		t.Error("remote total should need --remote")
	}

	withRemote := decode[statsReport](t, mustRun(t, "stats", "--remote", "--json"))
	if !withRemote.Online || withRemote.Sync.TotalRemote == nil || *withRemote.Sync.TotalRemote != 3 {
		t.Errorf("stats --remote = %+v", withRemote)
	}

	out := mustRun(t, "stats")
	if !strings.Contains(out, "CATEGORIES") || !strings.Contains(out, "work") {
		t.Errorf("stats output = %q", out)
	}
}

func TestConfigCommand(t *testing.T) {
	isolate(t, "http://example.test/api")
	t.Setenv("OFFTASK_SYNC_INTERVAL", "45s")

	out := mustRun(t, "config")
	for _, want := range []string{"base_url: http://example.test/api", "interval: 45s", "# defaults"} {
		if !strings.Contains(out, want) {
			t.Errorf("config output missing %q:\n%s", want, out)
		}
	}

	keys := mustRun(t, "config", "--keys")
	if !strings.Contains(keys, "sync.debounce") {
		t.Errorf("keys = %q", keys)
	}
}

func TestVersionCommand(t *testing.T) {
	SetVersion("v1.2.3")
	defer SetVersion("")
	t.Setenv("OFFTASK_CONFIG_DIR", t.TempDir())

	out := mustRun(t, "version", "--install")
	if !strings.Contains(out, "offtask v1.2.3") || !strings.Contains(out, "github.com/marcus/offtask@v1.2.3") {
		t.Errorf("version output = %q", out)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&models.ValidationError{Field: "title", Message: "required"}, output.ErrCodeInvalidInput},
		{&tasks.AmbiguousRefError{Ref: "a", Total: 2}, output.ErrCodeAmbiguous},
		{fmt.Errorf("get: %w", store.ErrNotFound), output.ErrCodeNotFound},
		{store.ErrAlreadyExists, output.ErrCodeConflict},
		{tsync.ErrSyncInProgress, output.ErrCodeSyncInProgress},
		{&apiclient.NetworkError{Op: "GET /tasks", Err: errors.New("refused")}, output.ErrCodeNetworkError},
		{&apiclient.APIError{Status: 500, Message: "boom"}, output.ErrCodeNetworkError},
		{&store.StorageError{Op: "write", Err: errors.New("disk full")}, output.ErrCodeStorageError},
		{errors.New("something else"), output.ErrCodeInternal},
	}
	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.want {
			t.Errorf("errorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestReportErrorJSON(t *testing.T) {
	var buf bytes.Buffer
	prev := output.Stdout
	output.Stdout = &buf
	defer func() { output.Stdout = prev }()
	jsonFlag = true
	defer func() { jsonFlag = false }()

	reportError(&tasks.AmbiguousRefError{
		Ref:        "o",
		Total:      2,
		Candidates: []models.Task{{ID: "aaaaaaaa-1", Title: "One"}, {ID: "bbbbbbbb-2", Title: "Two"}},
	})

	var got struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if got.Error.Code != output.ErrCodeAmbiguous {
		t.Errorf("code = %q", got.Error.Code)
	}
	if ids, _ := got.Error.Details["candidates"].([]any); len(ids) != 2 {
		t.Errorf("details = %v", got.Error.Details)
	}
}

func TestAddDescriptionFromFile(t *testing.T) {
	dir := isolate(t, "http://127.0.0.1:1/api")
	path := filepath.Join(dir, "desc.md")
	if err := os.WriteFile(path, []byte("Steps:\n\n1. call\n"), 0644); err != nil {
		t.Fatal(err)
	}

	task := decode[models.Task](t, mustRun(t, "add", "Call the bank", "-d", "@"+path, "--offline", "--json"))
	if task.Description != "Steps:\n\n1. call" {
		t.Errorf("description = %q", task.Description)
	}
}

func TestUnknownFlagSuggestions(t *testing.T) {
	isolate(t, "http://127.0.0.1:1/api")

	_, err := run(t, "add", "x", "--priorty", "high", "--offline")
	if err == nil || !strings.Contains(err.Error(), "did you mean --priority") {
		t.Fatalf("typo error = %v", err)
	}

	_, err = run(t, "add", "x", "--notes", "more", "--offline")
	if err == nil || !strings.Contains(err.Error(), "try --description, -d") {
		t.Fatalf("alias error = %v", err)
	}
}
