package db

import (
	"context"
	"database/sql"
	"fmt"
)

// columnExists checks whether a column exists on a table
func (db *DB) columnExists(table, column string) (bool, error) {
	rows, err := db.conn.Query(fmt.Sprintf("PRAGMA table_info(%s);", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// GetSchemaVersion returns the current schema version from the database
func (db *DB) GetSchemaVersion() (int, error) {
	var version string
	err := db.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v int
	fmt.Sscanf(version, "%d", &v)
	return v, nil
}

func setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		fmt.Sprintf("%d", version))
	return err
}

// RunMigrations runs any pending database migrations
func (db *DB) RunMigrations() (int, error) {
	// Quick check without lock
	currentVersion, _ := db.GetSchemaVersion()
	if currentVersion >= SchemaVersion {
		return 0, nil
	}

	var migrationsRun int
	err := db.withWriteLock(context.Background(), "", func(tx *sql.Tx) error {
		var err error
		migrationsRun, err = db.runMigrations(tx)
		return err
	})
	return migrationsRun, err
}

func (db *DB) runMigrations(tx *sql.Tx) (int, error) {
	currentVersion, err := db.GetSchemaVersion()
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}

	migrationsRun := 0
	for _, m := range Migrations {
		if m.Version <= currentVersion {
			continue
		}
		// Fresh databases already carry the column from the base schema
		if m.Version == 2 {
			exists, err := db.columnExists("tasks", "last_synced")
			if err != nil {
				return migrationsRun, fmt.Errorf("check column last_synced: %w", err)
			}
			if exists {
				if err := setSchemaVersion(tx, m.Version); err != nil {
					return migrationsRun, fmt.Errorf("set version %d: %w", m.Version, err)
				}
				migrationsRun++
				continue
			}
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			return migrationsRun, fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if err := setSchemaVersion(tx, m.Version); err != nil {
			return migrationsRun, fmt.Errorf("set version %d: %w", m.Version, err)
		}
		migrationsRun++
	}

	if migrationsRun == 0 && currentVersion == 0 {
		if err := setSchemaVersion(tx, SchemaVersion); err != nil {
			return migrationsRun, err
		}
	}
	return migrationsRun, nil
}
