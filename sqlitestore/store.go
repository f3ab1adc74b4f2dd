// Package sqlitestore provides the durable Checkpoint Store backend
// for github.com/azargarov/batch, backed by SQLite.
//
// Result rows are written one at a time, outside any batch-wide
// transaction, so a crash mid-batch loses at most the in-flight items'
// results and never previously persisted ones.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/azargarov/batch"
)

// Store manages checkpoint persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

var _ batch.Store = (*Store)(nil)

// Open initializes or connects to the checkpoint database at path and
// bootstraps the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// CreateBatch writes the batch header and item set in one transaction,
// so the batch either exists completely or not at all.
func (s *Store) CreateBatch(ctx context.Context, rec batch.BatchRecord) error {
	if rec.BatchID == "" {
		return errors.New("sqlitestore: empty batch id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batches (batch_id, created_at, total_items) VALUES (?, ?, ?)`,
		rec.BatchID,
		createdAt.Format(time.RFC3339Nano),
		rec.TotalItems,
	); err != nil {
		return fmt.Errorf("insert batch %q: %w", rec.BatchID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO batch_items (batch_id, position, item_id, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare item insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, it := range rec.Items {
		if _, err := stmt.ExecContext(ctx, rec.BatchID, i, it.ID, []byte(it.Payload)); err != nil {
			return fmt.Errorf("insert item %q: %w", it.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch %q: %w", rec.BatchID, err)
	}
	return nil
}

// SaveResult upserts one item's result row. Concurrent workers may call
// it freely; last writer wins per item id.
func (s *Store) SaveResult(ctx context.Context, batchID string, res batch.ResultRecord) error {
	finishedAt := res.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO batch_results
            (batch_id, item_id, status, value, error, attempts, finished_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		batchID,
		res.ItemID,
		int(res.Status),
		[]byte(res.Value),
		res.Error,
		res.Attempts,
		finishedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save result %q/%q: %w", batchID, res.ItemID, err)
	}
	return nil
}

// PendingBatches lists checkpoints of batches whose persisted result
// count is still below their item count, oldest first.
func (s *Store) PendingBatches(ctx context.Context) ([]batch.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT b.batch_id, b.total_items, b.created_at,
                (SELECT COUNT(*) FROM batch_results r WHERE r.batch_id = b.batch_id) AS completed
         FROM batches b
         WHERE (SELECT COUNT(*) FROM batch_results r WHERE r.batch_id = b.batch_id) < b.total_items
         ORDER BY b.created_at`)
	if err != nil {
		return nil, fmt.Errorf("query pending batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []batch.Checkpoint
	for rows.Next() {
		var cp batch.Checkpoint
		var createdAt string
		if err := rows.Scan(&cp.BatchID, &cp.TotalItems, &createdAt, &cp.CompletedItems); err != nil {
			return nil, fmt.Errorf("scan pending batch: %w", err)
		}
		cp.CreatedAt = parseTime(createdAt)
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending batches: %w", err)
	}
	return out, nil
}

// LoadBatch returns the header, the item set in submission order, and
// every persisted result.
func (s *Store) LoadBatch(ctx context.Context, batchID string) (batch.BatchRecord, []batch.ResultRecord, error) {
	var rec batch.BatchRecord
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT batch_id, created_at, total_items FROM batches WHERE batch_id = ?`,
		batchID,
	).Scan(&rec.BatchID, &createdAt, &rec.TotalItems)
	if errors.Is(err, sql.ErrNoRows) {
		return batch.BatchRecord{}, nil, batch.ErrUnknownBatch
	}
	if err != nil {
		return batch.BatchRecord{}, nil, fmt.Errorf("load batch %q: %w", batchID, err)
	}
	rec.CreatedAt = parseTime(createdAt)

	rec.Items, err = s.loadItems(ctx, batchID)
	if err != nil {
		return batch.BatchRecord{}, nil, err
	}

	results, err := s.loadResults(ctx, batchID)
	if err != nil {
		return batch.BatchRecord{}, nil, err
	}
	return rec, results, nil
}

// UnprocessedItems returns the batch items without a result row, in
// submission order.
func (s *Store) UnprocessedItems(ctx context.Context, batchID string) ([]batch.ItemRecord, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM batches WHERE batch_id = ?`, batchID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check batch %q: %w", batchID, err)
	}
	if exists == 0 {
		return nil, batch.ErrUnknownBatch
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT i.item_id, i.payload
         FROM batch_items i
         LEFT JOIN batch_results r
           ON r.batch_id = i.batch_id AND r.item_id = i.item_id
         WHERE i.batch_id = ? AND r.item_id IS NULL
         ORDER BY i.position`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanItems(rows)
}

// DeleteBatch removes the header, items, and results in one
// transaction using ranged deletes keyed by batch id.
func (s *Store) DeleteBatch(ctx context.Context, batchID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM batch_results WHERE batch_id = ?`,
		`DELETE FROM batch_items WHERE batch_id = ?`,
		`DELETE FROM batches WHERE batch_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, batchID); err != nil {
			return fmt.Errorf("delete batch %q: %w", batchID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete %q: %w", batchID, err)
	}
	return nil
}

func (s *Store) loadItems(ctx context.Context, batchID string) ([]batch.ItemRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, payload FROM batch_items WHERE batch_id = ? ORDER BY position`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanItems(rows)
}

func (s *Store) loadResults(ctx context.Context, batchID string) ([]batch.ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, status, value, error, attempts, finished_at
         FROM batch_results WHERE batch_id = ?`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []batch.ResultRecord
	for rows.Next() {
		var res batch.ResultRecord
		var status int
		var value []byte
		var finishedAt string
		if err := rows.Scan(&res.ItemID, &status, &value, &res.Error, &res.Attempts, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.Status = batch.Status(status)
		if len(value) > 0 {
			res.Value = json.RawMessage(value)
		}
		res.FinishedAt = parseTime(finishedAt)
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

func scanItems(rows *sql.Rows) ([]batch.ItemRecord, error) {
	var out []batch.ItemRecord
	for rows.Next() {
		var rec batch.ItemRecord
		var payload []byte
		if err := rows.Scan(&rec.ID, &payload); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if len(payload) > 0 {
			rec.Payload = json.RawMessage(payload)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return out, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
