package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// migration is a numbered schema change. Migrations are applied in order
// and tracked in the schema_migrations table so each runs exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "tab cache",
		SQL: `
CREATE TABLE cached_tabs (
    id             INTEGER PRIMARY KEY,
    account        TEXT NOT NULL,
    remote_id      TEXT,
    url            TEXT NOT NULL,
    title          TEXT NOT NULL DEFAULT '',
    derived_title  TEXT NOT NULL DEFAULT '',
    position       INTEGER NOT NULL DEFAULT 0,
    space_id       TEXT NOT NULL DEFAULT '',
    active         BOOLEAN NOT NULL DEFAULT 0,
    overflowed     BOOLEAN NOT NULL DEFAULT 0,
    avatar_emoji   TEXT NOT NULL DEFAULT '',
    avatar_color   TEXT NOT NULL DEFAULT '',
    avatar_photo   TEXT NOT NULL DEFAULT '',
    created_at     DATETIME NOT NULL,
    last_accessed  DATETIME NOT NULL
);
CREATE INDEX cached_tabs_account ON cached_tabs(account);
CREATE TABLE cached_spaces (
    account      TEXT NOT NULL,
    id           TEXT NOT NULL,
    name         TEXT NOT NULL,
    kind         TEXT NOT NULL,
    parent_id    TEXT NOT NULL DEFAULT '',
    is_expanded  BOOLEAN NOT NULL DEFAULT 0,
    sort_order   INTEGER NOT NULL,
    PRIMARY KEY (account, id)
);
CREATE TABLE cache_meta (
    account   TEXT PRIMARY KEY,
    saved_at  DATETIME NOT NULL
);`,
	},
	{
		Version:     2,
		Description: "session snapshots",
		SQL: `
CREATE TABLE snapshots (
    id          INTEGER PRIMARY KEY,
    rev         INTEGER NOT NULL,
    name        TEXT,
    account     TEXT NOT NULL,
    created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
    tab_count   INTEGER NOT NULL,
    payload     BLOB NOT NULL,
    UNIQUE(account, rev)
);`,
	},
}

// OpenDB opens (or creates) the SQLite database at path.
// It creates parent directories if needed, enables WAL mode and runs any
// pending migrations.
func OpenDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	// Background cache writes and CLI reads share the file.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// runMigrations ensures the schema_migrations table exists and runs any
// pending migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// DefaultDBPath returns the default database file path:
// ~/.local/share/tabsync/tabsync.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "tabsync", "tabsync.db"), nil
}
