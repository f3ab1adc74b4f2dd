package sqlitestore

import (
	"context"
	"fmt"
)

// schemaVersion is the current schema version. Bump this when the
// schema changes; existing checkpoint databases must then be recreated.
const schemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS batches (
    batch_id    TEXT PRIMARY KEY,
    created_at  TEXT NOT NULL,
    total_items INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_items (
    batch_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    item_id  TEXT NOT NULL,
    payload  BLOB,
    PRIMARY KEY (batch_id, item_id),
    FOREIGN KEY (batch_id) REFERENCES batches (batch_id)
);

CREATE TABLE IF NOT EXISTS batch_results (
    batch_id    TEXT NOT NULL,
    item_id     TEXT NOT NULL,
    status      INTEGER NOT NULL,
    value       BLOB,
    error       TEXT NOT NULL DEFAULT '',
    attempts    INTEGER NOT NULL,
    finished_at TEXT NOT NULL,
    PRIMARY KEY (batch_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_batch_items_position
    ON batch_items (batch_id, position);
`

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	err = s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("schema version mismatch: database has %d, expected %d (delete the checkpoint database)",
			version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version) VALUES (?)", schemaVersion,
	); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
