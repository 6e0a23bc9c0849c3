package memory

import (
	"context"
	"sort"
	"sync"

	"solana-reward-distributor/internal/storage"
)

// CycleStore is an in-memory implementation of storage.CycleStore.
type CycleStore struct {
	mu      sync.RWMutex
	cycles  map[string]*storage.CycleRecord // keyed by cycle_id
	batches map[string][]storage.BatchRecord
}

// NewCycleStore creates a new in-memory cycle store.
func NewCycleStore() *CycleStore {
	return &CycleStore{
		cycles:  make(map[string]*storage.CycleRecord),
		batches: make(map[string][]storage.BatchRecord),
	}
}

var _ storage.CycleStore = (*CycleStore)(nil)

// Begin inserts a RUNNING cycle. Returns ErrDuplicateKey if cycle_id exists.
func (s *CycleStore) Begin(_ context.Context, rec *storage.CycleRecord) error {
	if rec == nil || rec.CycleID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cycles[rec.CycleID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *rec
	s.cycles[rec.CycleID] = &copy
	return nil
}

// Finish replaces the cycle row and stores its batches.
func (s *CycleStore) Finish(_ context.Context, rec *storage.CycleRecord, batches []storage.BatchRecord) error {
	if rec == nil || rec.CycleID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cycles[rec.CycleID]; !exists {
		return storage.ErrNotFound
	}

	seen := make(map[string]struct{}, len(batches))
	for _, b := range batches {
		if b.BatchID == "" {
			return storage.ErrInvalidInput
		}
		if _, dup := seen[b.BatchID]; dup {
			return storage.ErrDuplicateKey
		}
		seen[b.BatchID] = struct{}{}
	}

	copy := *rec
	s.cycles[rec.CycleID] = &copy

	stored := make([]storage.BatchRecord, len(batches))
	for i, b := range batches {
		b.CycleID = rec.CycleID
		stored[i] = b
	}
	s.batches[rec.CycleID] = stored
	return nil
}

// GetByID retrieves a cycle. Returns ErrNotFound if not exists.
func (s *CycleStore) GetByID(_ context.Context, cycleID string) (*storage.CycleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.cycles[cycleID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *rec
	return &copy, nil
}

// GetBatches retrieves a cycle's batches ordered by index.
func (s *CycleStore) GetBatches(_ context.Context, cycleID string) ([]storage.BatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := append([]storage.BatchRecord(nil), s.batches[cycleID]...)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Index < result[j].Index
	})
	return result, nil
}

// ListRecent retrieves up to limit cycles, newest first.
func (s *CycleStore) ListRecent(_ context.Context, limit int) ([]*storage.CycleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*storage.CycleRecord, 0, len(s.cycles))
	for _, rec := range s.cycles {
		copy := *rec
		result = append(result, &copy)
	}

	// Sort by started_at DESC, cycle_id for determinism
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt != result[j].StartedAt {
			return result[i].StartedAt > result[j].StartedAt
		}
		return result[i].CycleID < result[j].CycleID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
