package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Every cached entity, one row per (collection, id)
			CREATE TABLE IF NOT EXISTS entities (
				collection TEXT NOT NULL,
				id TEXT NOT NULL,
				scope TEXT NOT NULL DEFAULT '',
				natural_key TEXT,
				sort_ts INTEGER NOT NULL DEFAULT 0,
				payload BLOB NOT NULL,
				pending INTEGER NOT NULL DEFAULT 0,
				deleted INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (collection, id)
			);

			-- Last synced position per collection scope
			CREATE TABLE IF NOT EXISTS sync_cursors (
				collection TEXT NOT NULL,
				scope TEXT NOT NULL,
				cursor_ts INTEGER NOT NULL,
				cursor_id TEXT NOT NULL,
				synced_at DATETIME NOT NULL,
				PRIMARY KEY (collection, scope)
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_entities_scope_order ON entities(collection, scope, deleted, sort_ts, id);
			CREATE INDEX IF NOT EXISTS idx_entities_natural_key ON entities(collection, natural_key);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now().UTC(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
