package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a schema migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// sqliteMigrations holds the SQLite schema in order.
var sqliteMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			CREATE TABLE IF NOT EXISTS logs (
				id TEXT PRIMARY KEY,
				timestamp TEXT NOT NULL,
				level TEXT NOT NULL,
				message TEXT NOT NULL,
				source TEXT NOT NULL DEFAULT '',
				application TEXT NOT NULL DEFAULT '',
				environment TEXT NOT NULL DEFAULT '',
				host TEXT NOT NULL DEFAULT '',
				category TEXT NOT NULL DEFAULT '',
				severity INTEGER NOT NULL DEFAULT 0,
				logger TEXT NOT NULL DEFAULT '',
				thread TEXT NOT NULL DEFAULT '',
				user_id TEXT NOT NULL DEFAULT '',
				session_id TEXT NOT NULL DEFAULT '',
				request_id TEXT NOT NULL DEFAULT '',
				metadata TEXT NOT NULL DEFAULT '',
				tags TEXT NOT NULL DEFAULT '',
				parsed INTEGER NOT NULL DEFAULT 0,
				raw TEXT NOT NULL DEFAULT '',
				processed_at TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
			CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level);
			CREATE INDEX IF NOT EXISTS idx_logs_source ON logs(source);
			CREATE INDEX IF NOT EXISTS idx_logs_category ON logs(category);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB, migrations []Migration) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL
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

		_, err = tx.Exec(m.Up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now().UTC().Format(time.RFC3339),
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
