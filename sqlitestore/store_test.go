package sqlitestore_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/azargarov/batch"
	"github.com/azargarov/batch/sqlitestore"
)

func openStore(t *testing.T) (*sqlitestore.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	store, err := sqlitestore.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func seedBatch(t *testing.T, store *sqlitestore.Store, batchID string, n int) []string {
	t.Helper()
	ids := make([]string, n)
	items := make([]batch.ItemRecord, n)
	for i := range items {
		ids[i] = string(rune('a' + i))
		items[i] = batch.ItemRecord{ID: ids[i], Payload: []byte(`{"doc":"` + ids[i] + `"}`)}
	}
	if err := store.CreateBatch(context.Background(), batch.BatchRecord{
		BatchID:    batchID,
		CreatedAt:  time.Now().UTC(),
		TotalItems: n,
		Items:      items,
	}); err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	return ids
}

func TestOpenBootstrapsSchema(t *testing.T) {
	store, path := openStore(t)
	if store.Path() != path {
		t.Fatalf("Path() = %q; want %q", store.Path(), path)
	}
	seedBatch(t, store, "first", 2)

	rec, results, err := store.LoadBatch(context.Background(), "first")
	if err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}
	if rec.BatchID != "first" || rec.TotalItems != 2 || len(rec.Items) != 2 {
		t.Fatalf("unexpected batch record: %+v", rec)
	}
	if len(results) != 0 {
		t.Fatalf("fresh batch has %d results; want 0", len(results))
	}
}

func TestCreateBatchRejectsEmptyID(t *testing.T) {
	store, _ := openStore(t)
	err := store.CreateBatch(context.Background(), batch.BatchRecord{TotalItems: 1})
	if err == nil {
		t.Fatal("expected error for empty batch id")
	}
}

func TestSaveResultAndUnprocessed(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	ids := seedBatch(t, store, "screening", 5)

	for _, id := range ids[:2] {
		if err := store.SaveResult(ctx, "screening", batch.ResultRecord{
			ItemID:     id,
			Status:     batch.StatusOK,
			Value:      []byte(`{"include":true}`),
			Attempts:   1,
			FinishedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("SaveResult %q failed: %v", id, err)
		}
	}

	remaining, err := store.UnprocessedItems(ctx, "screening")
	if err != nil {
		t.Fatalf("UnprocessedItems failed: %v", err)
	}
	if len(remaining) != 3 {
		t.Fatalf("unprocessed = %d; want 3", len(remaining))
	}
	for i, rec := range remaining {
		if rec.ID != ids[i+2] {
			t.Fatalf("unprocessed[%d].ID = %q; want %q (submission order)", i, rec.ID, ids[i+2])
		}
		if len(rec.Payload) == 0 {
			t.Fatalf("unprocessed[%d] lost its payload", i)
		}
	}
}

func TestSaveResultOverwritesByKey(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	ids := seedBatch(t, store, "b", 1)

	for attempts := 1; attempts <= 3; attempts++ {
		if err := store.SaveResult(ctx, "b", batch.ResultRecord{
			ItemID:   ids[0],
			Status:   batch.StatusOK,
			Attempts: attempts,
		}); err != nil {
			t.Fatalf("SaveResult failed: %v", err)
		}
	}
	_, results, err := store.LoadBatch(ctx, "b")
	if err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}
	if len(results) != 1 || results[0].Attempts != 3 {
		t.Fatalf("results = %+v; want one row with last write", results)
	}
}

func TestPendingBatches(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	ids := seedBatch(t, store, "incomplete", 3)
	doneIDs := seedBatch(t, store, "finished", 1)

	if err := store.SaveResult(ctx, "incomplete", batch.ResultRecord{ItemID: ids[0], Status: batch.StatusOK, Attempts: 1}); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}
	if err := store.SaveResult(ctx, "finished", batch.ResultRecord{ItemID: doneIDs[0], Status: batch.StatusFailed, Error: "rejected", Attempts: 1}); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	pending, err := store.PendingBatches(ctx)
	if err != nil {
		t.Fatalf("PendingBatches failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %+v; want only the incomplete batch", pending)
	}
	cp := pending[0]
	if cp.BatchID != "incomplete" || cp.TotalItems != 3 || cp.CompletedItems != 1 {
		t.Fatalf("checkpoint = %+v", cp)
	}
	if cp.CreatedAt.IsZero() {
		t.Fatal("checkpoint lost its creation time")
	}
}

func TestLoadBatchUnknownID(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	if _, _, err := store.LoadBatch(ctx, "missing"); !errors.Is(err, batch.ErrUnknownBatch) {
		t.Fatalf("LoadBatch err = %v; want ErrUnknownBatch", err)
	}
	if _, err := store.UnprocessedItems(ctx, "missing"); !errors.Is(err, batch.ErrUnknownBatch) {
		t.Fatalf("UnprocessedItems err = %v; want ErrUnknownBatch", err)
	}
}

func TestDeleteBatchRemovesEverything(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	ids := seedBatch(t, store, "doomed", 3)
	if err := store.SaveResult(ctx, "doomed", batch.ResultRecord{ItemID: ids[0], Status: batch.StatusOK, Attempts: 1}); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	if err := store.DeleteBatch(ctx, "doomed"); err != nil {
		t.Fatalf("DeleteBatch failed: %v", err)
	}
	if _, _, err := store.LoadBatch(ctx, "doomed"); !errors.Is(err, batch.ErrUnknownBatch) {
		t.Fatalf("LoadBatch after delete err = %v; want ErrUnknownBatch", err)
	}
	pending, err := store.PendingBatches(ctx)
	if err != nil {
		t.Fatalf("PendingBatches failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after delete = %+v; want none", pending)
	}
}

func TestResultsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	store, err := sqlitestore.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ctx := context.Background()
	ids := seedBatch(t, store, "durable", 2)
	if err := store.SaveResult(ctx, "durable", batch.ResultRecord{
		ItemID: ids[0], Status: batch.StatusOK, Value: []byte(`42`), Attempts: 2, FinishedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := sqlitestore.Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	_, results, err := reopened.LoadBatch(ctx, "durable")
	if err != nil {
		t.Fatalf("LoadBatch after reopen failed: %v", err)
	}
	if len(results) != 1 || results[0].ItemID != ids[0] || results[0].Attempts != 2 {
		t.Fatalf("results after reopen = %+v", results)
	}
	remaining, err := reopened.UnprocessedItems(ctx, "durable")
	if err != nil {
		t.Fatalf("UnprocessedItems after reopen failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != ids[1] {
		t.Fatalf("unprocessed after reopen = %+v", remaining)
	}
}

func TestConcurrentSaveResult(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	ids := seedBatch(t, store, "parallel", 16)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := store.SaveResult(ctx, "parallel", batch.ResultRecord{
				ItemID: id, Status: batch.StatusOK, Attempts: 1, FinishedAt: time.Now().UTC(),
			}); err != nil {
				t.Errorf("SaveResult %q failed: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	_, results, err := store.LoadBatch(ctx, "parallel")
	if err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}
	if len(results) != 16 {
		t.Fatalf("results = %d; want 16, none lost", len(results))
	}
}

func TestRunnerEndToEndWithSQLite(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	items := []batch.Item[string]{
		{ID: "doc-1", Payload: "alpha"},
		{ID: "doc-2", Payload: "beta"},
		{ID: "doc-3", Payload: "gamma"},
	}
	r := batch.New[string, string](batch.Options{
		Workers: 2,
		Retry:   batch.RetryPolicy{Attempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond},
		Store:   store,
		BatchID: "e2e",
	})
	results, err := r.Run(ctx, items, func(_ context.Context, p string) (string, error) {
		return "screened:" + p, nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d; want 3", len(results))
	}

	pending, err := store.PendingBatches(ctx)
	if err != nil {
		t.Fatalf("PendingBatches failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending = %+v; want none after full run", pending)
	}

	_, saved, err := store.LoadBatch(ctx, "e2e")
	if err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}
	if len(saved) != 3 {
		t.Fatalf("persisted results = %d; want 3", len(saved))
	}
}
