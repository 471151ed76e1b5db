package db_test

import (
	"path/filepath"
	"testing"

	"github.com/lherron/couchmig/internal/db"
)

func TestOpenCreatesParentDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "journal.db")

	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	defer database.Close()

	if database.Path() != dbPath {
		t.Errorf("expected path %s, got %s", dbPath, database.Path())
	}
}

func TestMigrateWithInfo(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	defer database.Close()

	_, pending, err := database.MigrationStatus()
	if err != nil {
		t.Fatalf("MigrationStatus failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending migrations on a fresh db, got %v", pending)
	}

	applied, err := database.MigrateWithInfo()
	if err != nil {
		t.Fatalf("could not run migrations: %v", err)
	}
	if len(applied) != 2 || applied[0] != "000001_runs.sql" || applied[1] != "000002_run_items.sql" {
		t.Errorf("unexpected applied migrations: %v", applied)
	}

	// Second run is a no-op
	applied, err = database.MigrateWithInfo()
	if err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected nothing applied on second run, got %v", applied)
	}

	done, pending, err := database.MigrationStatus()
	if err != nil {
		t.Fatalf("MigrationStatus failed: %v", err)
	}
	if len(done) != 2 || len(pending) != 0 {
		t.Errorf("expected 2 applied and 0 pending, got %v and %v", done, pending)
	}
}

func TestPartialMigration(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	defer database.Close()

	_, err = database.Exec(`
		CREATE TABLE schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
		)
	`)
	if err != nil {
		t.Fatalf("could not create schema_migrations: %v", err)
	}
	if _, err := database.Exec(`INSERT INTO schema_migrations (version) VALUES ('000001_runs.sql')`); err != nil {
		t.Fatalf("could not insert migration: %v", err)
	}

	applied, pending, err := database.MigrationStatus()
	if err != nil {
		t.Fatalf("MigrationStatus failed: %v", err)
	}
	if len(applied) != 1 || len(pending) != 1 || pending[0] != "000002_run_items.sql" {
		t.Errorf("unexpected status: applied=%v pending=%v", applied, pending)
	}
}
