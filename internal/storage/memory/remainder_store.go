package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"solana-reward-distributor/internal/storage"
)

// RemainderStore is an in-memory implementation of storage.RemainderStore.
type RemainderStore struct {
	mu   sync.RWMutex
	data map[string]decimal.Decimal // keyed by reward mint
}

// NewRemainderStore creates a new in-memory remainder store.
func NewRemainderStore() *RemainderStore {
	return &RemainderStore{data: make(map[string]decimal.Decimal)}
}

var _ storage.RemainderStore = (*RemainderStore)(nil)

// Get returns the carried amount, zero when absent.
func (s *RemainderStore) Get(_ context.Context, rewardMint string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	amount, ok := s.data[rewardMint]
	if !ok {
		return decimal.Zero, nil
	}
	return amount, nil
}

// Set replaces the carried amount.
func (s *RemainderStore) Set(_ context.Context, rewardMint string, amount decimal.Decimal, _ int64) error {
	if rewardMint == "" || amount.IsNegative() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[rewardMint] = amount
	return nil
}
