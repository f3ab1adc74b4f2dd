package batch

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store. It exists so tests and short-lived
// callers can checkpoint without a database; state is lost with the
// process.
type MemStore struct {
	mu      sync.Mutex
	batches map[string]BatchRecord
	results map[string]map[string]ResultRecord // batchID -> itemID -> result
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		batches: make(map[string]BatchRecord),
		results: make(map[string]map[string]ResultRecord),
	}
}

func (s *MemStore) CreateBatch(_ context.Context, rec BatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// copy the item slice so later caller mutation cannot leak in
	items := make([]ItemRecord, len(rec.Items))
	copy(items, rec.Items)
	rec.Items = items
	s.batches[rec.BatchID] = rec
	if s.results[rec.BatchID] == nil {
		s.results[rec.BatchID] = make(map[string]ResultRecord)
	}
	return nil
}

func (s *MemStore) SaveResult(_ context.Context, batchID string, res ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batchID]; !ok {
		return ErrUnknownBatch
	}
	s.results[batchID][res.ItemID] = res
	return nil
}

func (s *MemStore) PendingBatches(_ context.Context) ([]Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Checkpoint
	for id, rec := range s.batches {
		done := len(s.results[id])
		if done < rec.TotalItems {
			out = append(out, Checkpoint{
				BatchID:        id,
				TotalItems:     rec.TotalItems,
				CompletedItems: done,
				CreatedAt:      rec.CreatedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) LoadBatch(_ context.Context, batchID string) (BatchRecord, []ResultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.batches[batchID]
	if !ok {
		return BatchRecord{}, nil, ErrUnknownBatch
	}
	results := make([]ResultRecord, 0, len(s.results[batchID]))
	for _, it := range rec.Items {
		if res, ok := s.results[batchID][it.ID]; ok {
			results = append(results, res)
		}
	}
	return rec, results, nil
}

func (s *MemStore) UnprocessedItems(_ context.Context, batchID string) ([]ItemRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.batches[batchID]
	if !ok {
		return nil, ErrUnknownBatch
	}
	var out []ItemRecord
	for _, it := range rec.Items {
		if _, done := s.results[batchID][it.ID]; !done {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *MemStore) DeleteBatch(_ context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, batchID)
	delete(s.results, batchID)
	return nil
}
