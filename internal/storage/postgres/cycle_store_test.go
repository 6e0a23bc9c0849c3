package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/storage"
	"solana-reward-distributor/internal/storage/postgres"
)

func TestCycleStore_BeginAndFinish(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	var ops []string
	pool.SetObserver(func(op string, _ time.Duration, _ error) { ops = append(ops, op) })

	ctx := context.Background()
	store := postgres.NewCycleStore(pool)

	rec := &storage.CycleRecord{CycleID: "cycle-1", Status: domain.CycleRunning, StartedAt: 1000}
	require.NoError(t, store.Begin(ctx, rec))

	got, err := store.GetByID(ctx, "cycle-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CycleRunning, got.Status)
	assert.True(t, got.TotalReward.IsZero())

	done := &storage.CycleRecord{
		CycleID:          "cycle-1",
		CycleKey:         "abc123",
		Status:           domain.CyclePartial,
		StartedAt:        1000,
		FinishedAt:       5000,
		HoldersTotal:     10,
		HoldersQualified: 7,
		FeeAmount:        decimal.RequireFromString("150.5"),
		ConvertedAmount:  decimal.RequireFromString("12.345678"),
		TotalReward:      decimal.RequireFromString("12.345679"),
		CarriedIn:        decimal.RequireFromString("0.000001"),
		Remainder:        decimal.RequireFromString("0.000004"),
		BatchesTotal:     2,
		BatchesConfirmed: 1,
		BatchesFailed:    1,
		Error:            "partial distribution",
	}
	batches := []storage.BatchRecord{
		{BatchID: "b-1", Index: 1, State: domain.OutcomeFailed, Attempts: 6, Recipients: 3, Amount: decimal.RequireFromString("4.1"), Error: "retries exhausted"},
		{BatchID: "b-0", Index: 0, State: domain.OutcomeConfirmed, Signature: "sig0", Attempts: 1, Recipients: 4, Amount: decimal.RequireFromString("8.245675")},
	}
	require.NoError(t, store.Finish(ctx, done, batches))

	got, err = store.GetByID(ctx, "cycle-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CyclePartial, got.Status)
	assert.Equal(t, "abc123", got.CycleKey)
	assert.True(t, got.TotalReward.Equal(decimal.RequireFromString("12.345679")), got.TotalReward.String())
	assert.True(t, got.Remainder.Equal(decimal.RequireFromString("0.000004")), got.Remainder.String())
	assert.Equal(t, 1, got.BatchesFailed)
	assert.Equal(t, "partial distribution", got.Error)

	gotBatches, err := store.GetBatches(ctx, "cycle-1")
	require.NoError(t, err)
	require.Len(t, gotBatches, 2)
	assert.Equal(t, "b-0", gotBatches[0].BatchID)
	assert.Equal(t, domain.OutcomeConfirmed, gotBatches[0].State)
	assert.True(t, gotBatches[0].Amount.Equal(decimal.RequireFromString("8.245675")))
	assert.Equal(t, "retries exhausted", gotBatches[1].Error)

	assert.Contains(t, ops, "cycle_begin")
	assert.Contains(t, ops, "cycle_finish")
}

func TestCycleStore_Errors(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewCycleStore(pool)

	require.NoError(t, store.Begin(ctx, &storage.CycleRecord{CycleID: "dup", Status: domain.CycleRunning}))
	assert.ErrorIs(t, store.Begin(ctx, &storage.CycleRecord{CycleID: "dup"}), storage.ErrDuplicateKey)

	assert.ErrorIs(t, store.Finish(ctx, &storage.CycleRecord{CycleID: "missing"}, nil), storage.ErrNotFound)

	_, err := store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, store.Begin(ctx, &storage.CycleRecord{}), storage.ErrInvalidInput)
}

func TestCycleStore_FinishRollsBackOnDuplicateBatch(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewCycleStore(pool)

	require.NoError(t, store.Begin(ctx, &storage.CycleRecord{CycleID: "c", Status: domain.CycleRunning}))

	dup := []storage.BatchRecord{{BatchID: "x", State: domain.OutcomeConfirmed}, {BatchID: "x", Index: 1, State: domain.OutcomeFailed}}
	err := store.Finish(ctx, &storage.CycleRecord{CycleID: "c", Status: domain.CycleCompleted}, dup)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.GetByID(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, domain.CycleRunning, got.Status, "update must roll back with the failed insert")

	batches, err := store.GetBatches(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestCycleStore_ListRecent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewCycleStore(pool)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Begin(ctx, &storage.CycleRecord{CycleID: id, Status: domain.CycleRunning, StartedAt: int64(i)}))
	}

	got, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].CycleID)
	assert.Equal(t, "b", got[1].CycleID)
}
