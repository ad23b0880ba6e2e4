package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS agents (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    handle TEXT,
    style TEXT,
    instruments TEXT,
    max_position_usd REAL DEFAULT 0,
    active BOOLEAN DEFAULT 1,
    account_key TEXT,
    signer_key TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conditional_actions (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    condition TEXT NOT NULL,
    params TEXT,
    status TEXT NOT NULL,
    rationale TEXT,
    error_message TEXT,
    result TEXT,
    created_at DATETIME NOT NULL,
    triggered_at DATETIME,
    executed_at DATETIME,
    expires_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_conditional_owner
    ON conditional_actions(owner_id, status);

CREATE TABLE IF NOT EXISTS queued_actions (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    priority INTEGER NOT NULL,
    instrument TEXT NOT NULL,
    side TEXT NOT NULL,
    size REAL,
    price REAL,
    rationale TEXT,
    not_before DATETIME,
    expires_at DATETIME,
    created_at DATETIME NOT NULL,
    attempts INTEGER DEFAULT 0,
    last_error TEXT,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_queued_owner
    ON queued_actions(owner_id, priority);

CREATE TABLE IF NOT EXISTS executions (
    id TEXT PRIMARY KEY,
    owner_id TEXT,
    instrument TEXT NOT NULL,
    side TEXT NOT NULL,
    size REAL NOT NULL,
    price REAL DEFAULT 0,
    fee REAL DEFAULT 0,
    kind TEXT,
    order_id TEXT,
    success BOOLEAN DEFAULT 1,
    error TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_executions_owner
    ON executions(owner_id, created_at);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d.DB, "conditional_actions", "rationale", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "conditional_actions", "result", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "queued_actions", "metadata", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "executions", "owner_id", "TEXT"); err != nil {
		return err
	}

	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
