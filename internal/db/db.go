package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/custody/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 2

// FileName is the catalog database file inside the base directory.
const FileName = "custody.db"

// Init initializes the SQLite evidence catalog at baseDir/custody.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.custody.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	// Create exports subdirectory
	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: cases, seals, objects
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS cases (
		  ref         TEXT PRIMARY KEY,
		  created_at  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS seals (
		  case_ref       TEXT NOT NULL REFERENCES cases(ref),
		  number         TEXT NOT NULL,
		  label          TEXT,
		  state          INTEGER NOT NULL DEFAULT 0,
		  capture_count  INTEGER NOT NULL DEFAULT 0,
		  created_at     INTEGER NOT NULL,
		  PRIMARY KEY (case_ref, number)
		);

		CREATE TABLE IF NOT EXISTS objects (
		  case_ref       TEXT NOT NULL,
		  seal           TEXT NOT NULL,
		  letter         TEXT NOT NULL,
		  label          TEXT,
		  capture_count  INTEGER NOT NULL DEFAULT 0,
		  created_at     INTEGER NOT NULL,
		  PRIMARY KEY (case_ref, seal, letter),
		  FOREIGN KEY (case_ref, seal) REFERENCES seals(case_ref, number)
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Migration 1 -> 2: seal transition history
	if version < 2 {
		schema := `
		CREATE TABLE IF NOT EXISTS seal_transitions (
		  id          INTEGER PRIMARY KEY AUTOINCREMENT,
		  case_ref    TEXT NOT NULL,
		  seal        TEXT NOT NULL,
		  from_state  INTEGER NOT NULL,
		  to_state    INTEGER NOT NULL,
		  at          INTEGER NOT NULL,
		  FOREIGN KEY (case_ref, seal) REFERENCES seals(case_ref, number)
		);

		CREATE INDEX IF NOT EXISTS idx_seal_transitions_seal
		ON seal_transitions(case_ref, seal, id);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if err := SetUserVersion(db, 2); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 3 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
