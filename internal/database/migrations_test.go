package database

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db
}

func TestRunMigrations(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	err := runMigrations(db)
	if err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	expectedTables := []string{"tasks", "backups", "downloads", "lifecycle", "update_history"}

	for _, table := range expectedTables {
		var count int
		err = db.QueryRow(`
			SELECT COUNT(*) FROM sqlite_master
			WHERE type='table' AND name=?
		`, table).Scan(&count)

		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}

		if count != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}
}

func TestRunMigrationsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := runMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	if err := runMigrations(db); err != nil {
		t.Errorf("migrations should be idempotent: %v", err)
	}
}

func TestLifecycleSingleRow(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := runMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO lifecycle (id, state) VALUES (1, 'idle')`); err != nil {
		t.Fatalf("failed to insert lifecycle row: %v", err)
	}

	// The CHECK constraint pins the lifecycle table to a single row.
	if _, err := db.Exec(`INSERT INTO lifecycle (id, state) VALUES (2, 'idle')`); err == nil {
		t.Error("expected second lifecycle row to be rejected")
	}
}
