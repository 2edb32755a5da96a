package sqlite

import (
	"database/sql"
	"fmt"
)

// migration is a single idempotent schema step, applied in order.
type migration struct {
	Name string
	SQL  string
}

// migrationsList runs once against a fresh or existing workspace database.
// Every statement uses IF NOT EXISTS / OR IGNORE so re-running is harmless;
// that keeps RunMigrations safe to call on every daemon and CLI startup,
// matching the teacher's idempotent-migration posture.
var migrationsList = []migration{
	{"schema", schemaSQL},
	{"triggers", triggersSQL},
}

// globalMigrationsList is the equivalent list for ~/.granary/workers.db.
var globalMigrationsList = []migration{
	{"global_schema", globalSchemaSQL},
}

// RunMigrations applies migrationsList to a workspace database, holding an
// EXCLUSIVE lock for the duration so concurrent daemon/CLI startups don't
// race on CREATE TABLE/TRIGGER. Foreign keys are disabled for the duration
// since SQLite forbids toggling the pragma inside a transaction; they're
// restored unconditionally on return.
func RunMigrations(db *sql.DB) error {
	return runMigrations(db, migrationsList)
}

// RunGlobalMigrations applies globalMigrationsList to the global database.
func RunGlobalMigrations(db *sql.DB) error {
	return runMigrations(db, globalMigrationsList)
}

func runMigrations(db *sql.DB, list []migration) error {
	if _, err := db.Exec("PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disable foreign keys for migrations: %w", err)
	}
	defer func() { _, _ = db.Exec("PRAGMA foreign_keys = ON") }()

	if _, err := db.Exec("BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("acquire exclusive lock for migrations: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = db.Exec("ROLLBACK")
		}
	}()

	for _, m := range list {
		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}

	if _, err := db.Exec("COMMIT"); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	committed = true
	return nil
}
