package database

import (
	"database/sql"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		scheduled_time DATETIME,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS backups (
		id TEXT PRIMARY KEY,
		product_type TEXT NOT NULL,
		version_snapshotted TEXT NOT NULL,
		path TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		checksum TEXT,
		verified BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS downloads (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		destination TEXT NOT NULL,
		expected_checksum TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		bytes_received INTEGER NOT NULL DEFAULT 0,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		executable BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL DEFAULT 'pending'
	)`,

	`CREATE TABLE IF NOT EXISTS lifecycle (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		state TEXT NOT NULL DEFAULT 'idle',
		percent REAL NOT NULL DEFAULT 0,
		target_version TEXT,
		last_error TEXT,
		last_error_kind TEXT,
		last_outcome TEXT,
		peripherals_suppressed BOOLEAN NOT NULL DEFAULT FALSE,
		available_version TEXT,
		update_available BOOLEAN NOT NULL DEFAULT FALSE,
		last_check_time DATETIME,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS update_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_version TEXT NOT NULL,
		to_version TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_scheduled_time ON tasks(scheduled_time)`,
	`CREATE INDEX IF NOT EXISTS idx_backups_product_type ON backups(product_type)`,
	`CREATE INDEX IF NOT EXISTS idx_backups_verified ON backups(verified)`,
	`CREATE INDEX IF NOT EXISTS idx_downloads_status ON downloads(status)`,
	`CREATE INDEX IF NOT EXISTS idx_history_created_at ON update_history(created_at)`,
}

func runMigrations(db *sql.DB) error {
	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}
