package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/hpungsan/syllabus/internal/config"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// FileName is the database file inside the base directory.
const FileName = "syllabus.db"

// Init initializes the SQLite database at baseDir/syllabus.db, creating the
// exports and artifacts subdirectories alongside it.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.syllabus.
func Init(baseDir string) (*sql.DB, error) {
	for _, dir := range []string{baseDir, filepath.Join(baseDir, "exports"), filepath.Join(baseDir, "artifacts")} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		// Explicit chmod (best-effort, may not work on all platforms)
		_ = os.Chmod(dir, 0700)
	}

	// Pragmas in the connection string apply to every pooled connection.
	// Immediate transactions take the write lock up front so concurrent
	// writers wait on busy_timeout instead of failing on lock upgrade.
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

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

	// Migration 0 -> 1: Initial schema
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS sources (
		  id                    TEXT PRIMARY KEY,
		  path                  TEXT NOT NULL UNIQUE,
		  fingerprint           TEXT NOT NULL DEFAULT '',
		  size                  INTEGER NOT NULL DEFAULT 0,
		  modified_at           INTEGER NOT NULL DEFAULT 0,
		  label                 TEXT NOT NULL DEFAULT 'unknown',
		  status                TEXT NOT NULL,
		  error                 TEXT,
		  missing               INTEGER NOT NULL DEFAULT 0,
		  processed_fingerprint TEXT,
		  created_at            INTEGER NOT NULL,
		  updated_at            INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sources_status ON sources(status);

		CREATE TABLE IF NOT EXISTS artifacts (
		  id           TEXT PRIMARY KEY,
		  kind         TEXT NOT NULL,
		  owner_key    TEXT NOT NULL,
		  subject      TEXT NOT NULL DEFAULT '',
		  location     TEXT NOT NULL DEFAULT '',
		  fresh        INTEGER NOT NULL DEFAULT 1,
		  stale_reason TEXT,
		  created_at   INTEGER NOT NULL,
		  updated_at   INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_artifacts_identity
		ON artifacts(kind, owner_key, subject);

		CREATE TABLE IF NOT EXISTS artifact_owners (
		  artifact_id TEXT NOT NULL REFERENCES artifacts(id) ON DELETE CASCADE,
		  source_id   TEXT NOT NULL,
		  fingerprint TEXT NOT NULL DEFAULT '',
		  PRIMARY KEY (artifact_id, source_id)
		);

		CREATE INDEX IF NOT EXISTS idx_artifact_owners_source ON artifact_owners(source_id);

		CREATE TABLE IF NOT EXISTS artifact_inputs (
		  artifact_id TEXT NOT NULL REFERENCES artifacts(id) ON DELETE CASCADE,
		  input_id    TEXT NOT NULL,
		  PRIMARY KEY (artifact_id, input_id)
		);

		CREATE INDEX IF NOT EXISTS idx_artifact_inputs_input ON artifact_inputs(input_id);

		CREATE TABLE IF NOT EXISTS exams (
		  id                   TEXT PRIMARY KEY,
		  name                 TEXT NOT NULL,
		  course               TEXT,
		  deadline             TEXT NOT NULL,
		  coverage_artifact_id TEXT,
		  imported_at          INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS exam_sources (
		  exam_id   TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
		  source_id TEXT NOT NULL,
		  PRIMARY KEY (exam_id, source_id)
		);

		CREATE TABLE IF NOT EXISTS topics (
		  id             TEXT PRIMARY KEY,
		  exam_id        TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
		  position       INTEGER NOT NULL,
		  chapter        TEXT,
		  objective      TEXT NOT NULL,
		  effort_minutes INTEGER NOT NULL,
		  tier           TEXT NOT NULL,
		  confidence     REAL NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_topics_exam ON topics(exam_id, position);

		CREATE TABLE IF NOT EXISTS schedules (
		  id             TEXT PRIMARY KEY,
		  status         TEXT NOT NULL,
		  reason         TEXT,
		  strategy       TEXT NOT NULL,
		  start_date     TEXT NOT NULL,
		  end_date       TEXT NOT NULL,
		  inventory_hash TEXT NOT NULL,
		  artifact_id    TEXT,
		  complete       INTEGER NOT NULL,
		  provisional    INTEGER NOT NULL DEFAULT 0,
		  payload        TEXT NOT NULL,
		  created_at     INTEGER NOT NULL,
		  superseded_at  INTEGER
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_schedules_one_current
		ON schedules(status)
		WHERE status = 'current';

		CREATE INDEX IF NOT EXISTS idx_schedules_created ON schedules(created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_schedules_artifact
		ON schedules(artifact_id)
		WHERE artifact_id IS NOT NULL;

		CREATE TABLE IF NOT EXISTS settings (
		  key   TEXT PRIMARY KEY,
		  value TEXT NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

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
