package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-reward-distributor/internal/storage"
	"solana-reward-distributor/internal/storage/postgres"
)

func TestLocker_ExcludesSecondHolder(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	a := postgres.NewLocker(pool)
	b := postgres.NewLocker(pool)

	unlock, err := a.TryLock(ctx, "distribution")
	require.NoError(t, err)

	_, err = b.TryLock(ctx, "distribution")
	assert.ErrorIs(t, err, storage.ErrLocked)

	unlock()
	unlock()

	again, err := b.TryLock(ctx, "distribution")
	require.NoError(t, err)
	again()
}
