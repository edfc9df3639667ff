// Package db opens the SQLite database holding terminal session records.
package db

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

var (
	db   *sql.DB
	once sync.Once
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	command TEXT NOT NULL,
	env TEXT,
	status TEXT NOT NULL DEFAULT 'running',
	exit_code INTEGER,
	pid INTEGER,
	term_cols INTEGER NOT NULL DEFAULT 0,
	term_rows INTEGER NOT NULL DEFAULT 0,
	remote_addr TEXT,
	log_file_path TEXT,
	preview_line TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);
`

// InitDB opens the database at dbPath once per process and applies the schema.
func InitDB(dbPath string) (*sql.DB, error) {
	var initErr error
	once.Do(func() {
		conn, err := sql.Open("sqlite3", dbPath)
		if err != nil {
			initErr = fmt.Errorf("failed to open database: %w", err)
			return
		}

		// WAL lets the API read while pumps update records.
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			initErr = fmt.Errorf("failed to enable WAL mode: %w", err)
			return
		}
		if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
			conn.Close()
			initErr = fmt.Errorf("failed to set busy timeout: %w", err)
			return
		}

		if err := migrate(conn); err != nil {
			conn.Close()
			initErr = err
			return
		}
		db = conn
	})

	if initErr != nil {
		return nil, initErr
	}
	if db == nil {
		return nil, fmt.Errorf("database initialization failed earlier")
	}
	return db, nil
}

// GetDB returns the connection opened by InitDB.
func GetDB() *sql.DB {
	return db
}

// CloseDB closes the database connection.
func CloseDB() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

// ResetDB resets the singleton for testing purposes.
func ResetDB() {
	if db != nil {
		db.Close()
	}
	once = sync.Once{}
	db = nil
}

// NewTestDB creates a fresh in-memory database, bypassing the singleton.
func NewTestDB() (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open test database: %w", err)
	}
	// Each connection to :memory: is a separate database.
	conn.SetMaxOpenConns(1)

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func migrate(conn *sql.DB) error {
	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
