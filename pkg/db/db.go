package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// Database owns the sqlite handle every Queries instance runs over.
type Database struct {
	DB *sql.DB
}

// New opens the sqlite file at path, creating parent directories on
// first run.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("db path not set")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One connection; sqlite serializes writers anyway and a single
	// handle avoids busy errors under the write-through stores.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	return &Database{DB: db}, nil
}

// Close releases the handle. Safe on a nil receiver.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
