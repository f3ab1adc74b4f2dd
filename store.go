package batch

import (
	"context"
	"encoding/json"
	"time"
)

// ItemRecord is the storage form of an Item. Payloads travel as raw
// JSON so stores stay free of the caller's type parameters.
type ItemRecord struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ResultRecord is the storage form of a terminal Result. Canceled items
// are never written, so they re-surface as unprocessed on resume.
type ResultRecord struct {
	ItemID     string          `json:"item_id"`
	Status     Status          `json:"status"`
	Value      json.RawMessage `json:"value,omitempty"`
	Error      string          `json:"error,omitempty"`
	Attempts   int             `json:"attempts"`
	FinishedAt time.Time       `json:"finished_at"`
}

// BatchRecord is the immutable description of a submitted batch.
type BatchRecord struct {
	BatchID    string       `json:"batch_id"`
	CreatedAt  time.Time    `json:"created_at"`
	TotalItems int          `json:"total_items"`
	Items      []ItemRecord `json:"items"`
}

// Checkpoint is the derived completion view of one batch.
type Checkpoint struct {
	BatchID        string    `json:"batch_id"`
	TotalItems     int       `json:"total_items"`
	CompletedItems int       `json:"completed_items"`
	CreatedAt      time.Time `json:"created_at"`
}

// Done reports whether every item has a persisted result.
func (c Checkpoint) Done() bool { return c.CompletedItems >= c.TotalItems }

// Store is the injectable persistence backend behind checkpointing.
// Implementations must support concurrent SaveResult calls from
// multiple workers; last-writer-wins per item id is acceptable since
// each id only ever completes once.
//
// MemStore backs tests; sqlitestore.Store is the durable option. Any
// key-addressed engine with per-key atomic writes can implement it.
type Store interface {
	// CreateBatch persists the batch header and item set atomically,
	// before any processing starts.
	CreateBatch(ctx context.Context, rec BatchRecord) error

	// SaveResult upserts one item's result. Writes are per-item so a
	// crash mid-batch loses at most in-flight results.
	SaveResult(ctx context.Context, batchID string, res ResultRecord) error

	// PendingBatches lists checkpoints of batches that still have
	// unprocessed items.
	PendingBatches(ctx context.Context) ([]Checkpoint, error)

	// LoadBatch returns the batch header, its item set, and every
	// persisted result. Returns ErrUnknownBatch for missing ids.
	LoadBatch(ctx context.Context, batchID string) (BatchRecord, []ResultRecord, error)

	// UnprocessedItems returns the batch items without a persisted
	// result, in original submission order.
	UnprocessedItems(ctx context.Context, batchID string) ([]ItemRecord, error)

	// DeleteBatch removes the header and all results in one ranged
	// operation. Explicit caller action; completion does not trigger it.
	DeleteBatch(ctx context.Context, batchID string) error
}
