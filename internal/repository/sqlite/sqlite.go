// Package sqlite is the default storage backend: users, watch-lists and
// the status audit trail in one SQLite file.
//
// It uses modernc.org/sqlite, a pure Go translation of SQLite, so the
// binary cross-compiles without a C toolchain.
//
// Errors leave this package as apperror values: sql.ErrNoRows becomes
// NotFound, a UNIQUE violation on the watch-list becomes Conflict.
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/sakif/roblox-stats/internal/repository"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

var _ repository.Store = (*DB)(nil)

// DB wraps a sql.DB connection pool and implements repository.Store.
type DB struct {
	conn *sql.DB
}

// New opens the SQLite database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/roblox_stats.db"  → file-based database (persistent)
//   - ":memory:"              → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// ONE CONNECTION:
	// SQLite allows a single writer at a time, and PRAGMAs apply per
	// connection. With one pooled connection every statement sees the same
	// settings and the same ":memory:" database, and concurrent writers queue
	// inside database/sql instead of failing with SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default; watch-list rows reference users.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate runs all database migrations.
//
// CREATE TABLE IF NOT EXISTS is idempotent, so migrate runs on every start.
func (db *DB) migrate() error {
	// users: the primary key IS the Telegram id. GetOrCreate relies on it
	// for insert-or-ignore.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                    INTEGER PRIMARY KEY,
			username              TEXT NOT NULL DEFAULT '',
			first_name            TEXT NOT NULL DEFAULT '',
			last_name             TEXT NOT NULL DEFAULT '',
			language              TEXT NOT NULL DEFAULT 'ru',
			theme                 TEXT NOT NULL DEFAULT 'dark',
			status                TEXT NOT NULL DEFAULT 'pending'
			                      CHECK (status IN ('pending', 'approved', 'rejected', 'banned')),
			external_id           INTEGER,
			external_username     TEXT,
			external_display_name TEXT,
			external_avatar_url   TEXT,
			created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			status_changed_at     DATETIME,
			status_changed_by     INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_users_status ON users(status);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// watchlist: the autoincrement id preserves insertion order for List.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS watchlist (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id            INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			game_id            INTEGER NOT NULL,
			name               TEXT NOT NULL DEFAULT '',
			thumbnail_url      TEXT NOT NULL DEFAULT '',
			visits             INTEGER NOT NULL DEFAULT 0,
			playing            INTEGER NOT NULL DEFAULT 0,
			favorites          INTEGER NOT NULL DEFAULT 0,
			up_votes           INTEGER NOT NULL DEFAULT 0,
			down_votes         INTEGER NOT NULL DEFAULT 0,
			added_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			metrics_updated_at DATETIME,
			UNIQUE (user_id, game_id)
		);
		CREATE INDEX IF NOT EXISTS idx_watchlist_game_id ON watchlist(game_id);
	`)
	if err != nil {
		return fmt.Errorf("creating watchlist table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS status_changes (
			id          TEXT PRIMARY KEY,
			user_id     INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			from_status TEXT NOT NULL,
			to_status   TEXT NOT NULL,
			actor_id    INTEGER NOT NULL,
			changed_at  DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_status_changes_user ON status_changes(user_id, changed_at);
	`)
	if err != nil {
		return fmt.Errorf("creating status_changes table: %w", err)
	}

	// Databases created before metrics were cached lack this column.
	if err := db.addColumnIfNotExists("watchlist", "metrics_updated_at", "DATETIME"); err != nil {
		return fmt.Errorf("adding metrics_updated_at to watchlist: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// ALTER TABLE has no IF NOT EXISTS in SQLite, so this checks first.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil // column already exists
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}
