// Package storage defines persistence for distribution cycles.
// Implementations live in memory/ and postgres/; event analytics in clickhouse/.
package storage

import (
	"context"

	"github.com/shopspring/decimal"
)

// CycleStore records every cycle and the fate of each of its batches.
type CycleStore interface {
	// Begin inserts a RUNNING cycle. Returns ErrDuplicateKey if cycle_id exists.
	Begin(ctx context.Context, rec *CycleRecord) error

	// Finish updates the cycle and inserts its batches atomically.
	// Returns ErrNotFound if the cycle was never begun.
	Finish(ctx context.Context, rec *CycleRecord, batches []BatchRecord) error

	// GetByID retrieves a cycle. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, cycleID string) (*CycleRecord, error)

	// GetBatches retrieves a cycle's batches ordered by index.
	GetBatches(ctx context.Context, cycleID string) ([]BatchRecord, error)

	// ListRecent retrieves up to limit cycles, newest first.
	ListRecent(ctx context.Context, limit int) ([]*CycleRecord, error)
}

// RemainderStore holds the undistributed reward carried between cycles.
type RemainderStore interface {
	// Get returns zero when nothing is stored for rewardMint.
	Get(ctx context.Context, rewardMint string) (decimal.Decimal, error)

	// Set replaces the stored amount.
	Set(ctx context.Context, rewardMint string, amount decimal.Decimal, updatedAt int64) error
}

// Locker provides cross-process cycle exclusivity.
type Locker interface {
	// TryLock acquires name without blocking. Returns ErrLocked when held elsewhere.
	// The returned func releases the lock.
	TryLock(ctx context.Context, name string) (func(), error)
}
