package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"solana-reward-distributor/internal/storage"
)

// RemainderStore implements storage.RemainderStore using PostgreSQL.
type RemainderStore struct {
	pool *Pool
}

// NewRemainderStore creates a new RemainderStore.
func NewRemainderStore(pool *Pool) *RemainderStore {
	return &RemainderStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RemainderStore = (*RemainderStore)(nil)

// Get returns the carried amount, zero when no row exists.
func (s *RemainderStore) Get(ctx context.Context, rewardMint string) (amount decimal.Decimal, err error) {
	start := time.Now()
	defer func() { s.pool.track("remainder_get", start, err) }()

	var text string
	err = s.pool.QueryRow(ctx,
		`SELECT amount::text FROM reward_remainders WHERE reward_mint = $1`, rewardMint,
	).Scan(&text)
	if err != nil {
		if isNotFoundError(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get remainder: %w", err)
	}

	amount, err = decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse remainder %q: %w", text, err)
	}
	return amount, nil
}

// Set upserts the carried amount.
func (s *RemainderStore) Set(ctx context.Context, rewardMint string, amount decimal.Decimal, updatedAt int64) (err error) {
	if rewardMint == "" || amount.IsNegative() {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { s.pool.track("remainder_set", start, err) }()

	query := `
		INSERT INTO reward_remainders (reward_mint, amount, updated_at)
		VALUES ($1, $2::text::numeric, $3)
		ON CONFLICT (reward_mint) DO UPDATE SET
			amount = EXCLUDED.amount,
			updated_at = EXCLUDED.updated_at
	`
	if _, err = s.pool.Exec(ctx, query, rewardMint, amount.String(), updatedAt); err != nil {
		return fmt.Errorf("set remainder: %w", err)
	}
	return nil
}
