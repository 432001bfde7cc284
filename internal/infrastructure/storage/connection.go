// Package storage provides the SQLite-backed activity journal behind the
// ports.ActivityJournal port. The journal is local observability for the
// status command; the reconciler never reads it.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Connection manages the SQLite database connection.
type Connection struct {
	db       *sql.DB
	dbPath   string
	mu       sync.RWMutex
	isClosed bool
}

// NewConnection creates a new SQLite connection.
// If dbPath is empty, it uses the default location: ~/.petsync/petsync.db
func NewConnection(dbPath string) (*Connection, error) {
	if dbPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("could not determine home directory: %w", err)
		}
		dbPath = filepath.Join(homeDir, ".petsync", "petsync.db")
	}

	return &Connection{dbPath: dbPath}, nil
}

// Open opens the database connection, creating the directory and schema as
// needed.
func (c *Connection) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return fmt.Errorf("database already open")
	}

	dir := filepath.Dir(c.dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("could not create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", c.dbPath)
	if err != nil {
		return fmt.Errorf("could not open database: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("could not ping database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return fmt.Errorf("could not migrate database: %w", err)
	}

	c.db = db
	c.isClosed = false
	return nil
}

// DB returns the underlying database handle.
func (c *Connection) DB() *sql.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

// Close closes the database connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil || c.isClosed {
		return nil
	}

	err := c.db.Close()
	c.db = nil
	c.isClosed = true
	return err
}

func migrate(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS activity_records (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			ref TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			completed_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_activity_started_at
			ON activity_records(started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_activity_kind
			ON activity_records(kind);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	return nil
}
