// Package db implements the SQLite task store.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcus/offtask/internal/filelock"
	"github.com/marcus/offtask/internal/store"
	_ "modernc.org/sqlite"
)

const (
	// FileName is the database file inside the data directory
	FileName     = "tasks.db"
	lockFileName = "db.lock"
	backendName  = "sqlite"
)

// DB wraps the database connection
type DB struct {
	conn    *sql.DB
	dir     string
	keys    store.KeyedMutex
	lockDir string
}

var _ store.Store = (*DB)(nil)

// Open opens (creating if needed) the database in dir and runs any pending migrations
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	conn, err := openConn(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	db := &DB{conn: conn, dir: dir, lockDir: dir}
	if _, err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func openConn(path string) (*sql.DB, error) {
	// busy_timeout and synchronous are per connection, so they go in the DSN
	// for every pooled conn
	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(500)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	return conn, nil
}

// Probe checks that SQLite can be opened in dir and answers a query. It is
// used once at startup to pick the storage backend.
func Probe(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	conn, err := sql.Open("sqlite", filepath.Join(dir, FileName))
	if err != nil {
		return "", fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	var version string
	if err := conn.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		return "", fmt.Errorf("probe sqlite: %w", err)
	}
	return version, nil
}

// Close closes the database
func (db *DB) Close() error {
	return db.conn.Close()
}

// Dir returns the data directory holding the database
func (db *DB) Dir() string {
	return db.dir
}

// Backend implements store.Store
func (db *DB) Backend() string { return backendName }

// withWriteLock executes fn inside a transaction while holding the per-task
// in-process lock and the cross-process file lock. The transaction commits
// only if fn returns nil.
func (db *DB) withWriteLock(ctx context.Context, key string, fn func(tx *sql.Tx) error) error {
	if key != "" {
		unlock := db.keys.Lock(key)
		defer unlock()
	}

	return filelock.With(ctx, filepath.Join(db.lockDir, lockFileName), filelock.DefaultTimeout, func() error {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}
