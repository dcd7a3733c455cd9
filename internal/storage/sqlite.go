package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a bookmark node does not exist
var ErrNotFound = errors.New("not found")

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new Storage instance, opening/creating the DB and initializing schema
func NewStorage(dbPath string) (*Storage, error) {
	// Ensure the directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes every read-modify-write issued by this process
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storage := &Storage{db: db}

	// Initialize schema
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// initSchema creates tables, indices and the fixed root folders if they don't exist
func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS bookmark_nodes (
		node_id INTEGER PRIMARY KEY AUTOINCREMENT,
		parent_id INTEGER,
		title TEXT NOT NULL DEFAULT '',
		url TEXT,
		date_added INTEGER NOT NULL DEFAULT 0,
		position INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_parent ON bookmark_nodes(parent_id, position);
	CREATE INDEX IF NOT EXISTS idx_nodes_url ON bookmark_nodes(url);

	INSERT OR IGNORE INTO bookmark_nodes (node_id, parent_id, title, url, position) VALUES
		(0, NULL, '', NULL, 0),
		(1, 0, 'Bookmarks bar', NULL, 0),
		(2, 0, 'Other bookmarks', NULL, 1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}
