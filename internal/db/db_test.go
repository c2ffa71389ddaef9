package db

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/store"
	"github.com/marcus/offtask/internal/store/storetest"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return database
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openTestDB(t)
	})
}

func TestOpenCreatesSchema(t *testing.T) {
	dir := t.TempDir()
	database, err := Open(filepath.Join(dir, "nested"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer database.Close()

	if _, err := os.Stat(filepath.Join(dir, "nested", FileName)); err != nil {
		t.Fatalf("database file not created: %v", err)
	}
	v, err := database.GetSchemaVersion()
	if err != nil {
		t.Fatalf("GetSchemaVersion: %v", err)
	}
	if v != SchemaVersion {
		t.Errorf("schema version: got %d, want %d", v, SchemaVersion)
	}
	if database.Backend() != "sqlite" {
		t.Errorf("Backend: got %q", database.Backend())
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	database, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	task := storetest.NewTask("persisted")
	if err := database.Create(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	database.Close()

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Title != "persisted" || !got.CreatedAt.Equal(task.CreatedAt) {
		t.Errorf("round trip mismatch: %+v vs %+v", got, task)
	}
	n, _ := reopened.CountPending(context.Background())
	if n != 1 {
		t.Errorf("pending log should survive restart, got %d", n)
	}
}

func TestMigrationAddsLastSynced(t *testing.T) {
	dir := t.TempDir()
	conn, err := sql.Open("sqlite", filepath.Join(dir, FileName))
	if err != nil {
		t.Fatal(err)
	}
	// Version 1 layout, before last_synced existed
	_, err = conn.Exec(`
		CREATE TABLE tasks (
			id TEXT PRIMARY KEY, title TEXT NOT NULL, description TEXT NOT NULL DEFAULT '',
			completed INTEGER NOT NULL DEFAULT 0, priority TEXT NOT NULL DEFAULT 'medium',
			category TEXT NOT NULL DEFAULT 'general', due_date TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL, updated_at DATETIME NOT NULL,
			sync_status TEXT NOT NULL DEFAULT 'pending'
		);
		CREATE TABLE schema_info (key TEXT PRIMARY KEY, value TEXT NOT NULL);
		INSERT INTO schema_info (key, value) VALUES ('version', '1');
	`)
	if err != nil {
		t.Fatalf("seed v1 schema: %v", err)
	}
	conn.Close()

	database, err := Open(dir)
	if err != nil {
		t.Fatalf("Open with migration: %v", err)
	}
	defer database.Close()

	exists, err := database.columnExists("tasks", "last_synced")
	if err != nil || !exists {
		t.Fatalf("last_synced column missing after migration: %v", err)
	}
	v, _ := database.GetSchemaVersion()
	if v != SchemaVersion {
		t.Errorf("version after migration: got %d", v)
	}
}

func TestProbe(t *testing.T) {
	version, err := Probe(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if version == "" {
		t.Error("expected sqlite version string")
	}
}

func TestProbeUnwritableDir(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Probe(context.Background(), filepath.Join(blocker, "sub")); err == nil {
		t.Error("Probe should fail when data dir cannot be created")
	}
}

// The schema must stay portable across SQLite drivers so the data file can be
// opened by cgo tooling as well.
func TestSchemaPortableToCgoDriver(t *testing.T) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite3: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Exec(schema); err != nil {
		t.Fatalf("schema on mattn driver: %v", err)
	}
	now := models.Now()
	if _, err := conn.Exec(`INSERT INTO tasks (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		"t1", "portable", now, now); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := conn.Exec(`INSERT INTO sync_log (task_id, operation, timestamp) VALUES (?, ?, ?)`,
		"t1", models.OpCreate, now); err != nil {
		t.Fatalf("insert log: %v", err)
	}
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM sync_log WHERE synced = 0`).Scan(&n); err != nil || n != 1 {
		t.Errorf("sync_log default synced: n=%d err=%v", n, err)
	}
}

func TestFailedLogInsertRollsBackTask(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	defer database.Close()

	existing := &models.Task{ID: "keep", Title: "Original", Priority: models.PriorityMedium, Category: models.DefaultCategory}
	if err := database.Create(ctx, existing); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := database.conn.Exec(`CREATE TRIGGER fail_log BEFORE INSERT ON sync_log
		BEGIN SELECT RAISE(ABORT, 'log unavailable'); END`); err != nil {
		t.Fatalf("install trigger: %v", err)
	}

	var stErr *store.StorageError
	err := database.Create(ctx, &models.Task{ID: "new", Title: "Never stored", Priority: models.PriorityLow, Category: models.DefaultCategory})
	if !errors.As(err, &stErr) {
		t.Fatalf("Create error = %v, want *store.StorageError", err)
	}
	if _, err := database.Get(ctx, "new"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("task row survived a failed log insert: %v", err)
	}

	title := "Changed"
	if _, err := database.Update(ctx, "keep", models.TaskPatch{Title: &title}); !errors.As(err, &stErr) {
		t.Fatalf("Update error = %v, want *store.StorageError", err)
	}
	got, err := database.Get(ctx, "keep")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Original" || !got.UpdatedAt.Equal(existing.UpdatedAt) {
		t.Fatalf("task changed by a failed update: %+v", got)
	}

	if _, err := database.ToggleComplete(ctx, "keep"); !errors.As(err, &stErr) {
		t.Fatalf("ToggleComplete error = %v, want *store.StorageError", err)
	}
	if err := database.Delete(ctx, "keep"); !errors.As(err, &stErr) {
		t.Fatalf("Delete error = %v, want *store.StorageError", err)
	}
	if got, err := database.Get(ctx, "keep"); err != nil || got.Completed {
		t.Fatalf("task changed by failed toggle or delete: %+v, %v", got, err)
	}

	n, err := database.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if n != 1 {
		t.Fatalf("pending = %d, want only the original CREATE", n)
	}
}

func TestConnectionsUseNormalSync(t *testing.T) {
	database := openTestDB(t)
	defer database.Close()

	// 1 is NORMAL
	for i := 0; i < 3; i++ {
		var mode int
		if err := database.conn.QueryRow("PRAGMA synchronous").Scan(&mode); err != nil {
			t.Fatalf("PRAGMA synchronous: %v", err)
		}
		if mode != 1 {
			t.Fatalf("synchronous = %d, want 1 (NORMAL)", mode)
		}
	}
}
