package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/logging"
	"solana-reward-distributor/internal/solana"
	"solana-reward-distributor/internal/solana/stub"
)

var rewardMint = solanago.MustPublicKeyFromBase58("3NZ9JMVBmGAqocybic2c7LQCJScmgsAZ6vQqTDzcqmJh")

func testPlan(n int) domain.DistributionPlan {
	plan := domain.DistributionPlan{TotalRewardAmount: decimal.NewFromInt(int64(n)), Decimals: 8}
	for i := 0; i < n; i++ {
		plan.Entries = append(plan.Entries, domain.PlanEntry{
			Holder:        domain.Holder{Address: solanago.NewWallet().PublicKey().String(), Balance: decimal.NewFromInt(10)},
			RawShare:      decimal.RequireFromString("1.000000005"),
			PayableAmount: decimal.RequireFromString("1.00000001"),
		})
	}
	return plan
}

func testConfig() Config {
	return Config{
		RewardMint:              rewardMint.String(),
		Decimals:                8,
		MaxTransactionSizeBytes: 1232,
		ConcurrencyLimit:        4,
	}
}

func newBuilder(t *testing.T, rpc solana.RPCClient, cfg Config) (*Builder, solanago.PublicKey) {
	t.Helper()
	payer := solanago.NewWallet().PublicKey()
	b, err := NewBuilder(rpc, payer, cfg, logging.ForTest())
	require.NoError(t, err)
	return b, payer
}

func TestBuild_PacksUnderSizeCeiling(t *testing.T) {
	ledger := stub.NewLedger()
	b, _ := newBuilder(t, ledger, testConfig())
	plan := testPlan(60)

	res, err := b.Build(context.Background(), "cycle-1", plan)
	require.NoError(t, err)
	require.Greater(t, len(res.Batches), 1, "60 create+transfer units cannot fit one transaction")

	var owners []string
	for i, batch := range res.Batches {
		assert.Equal(t, i, batch.Index)
		assert.LessOrEqual(t, batch.EstimatedSizeBytes, 1232)
		assert.Len(t, batch.ID, 64)

		size, err := EstimateSize(batch.FeePayer, batch.Instructions)
		require.NoError(t, err)
		assert.Equal(t, size, batch.EstimatedSizeBytes)

		for _, r := range batch.Recipients {
			owners = append(owners, r.Owner)
			assert.True(t, r.CreatesATA)
		}
	}

	require.Len(t, owners, len(plan.Entries), "every entry appears exactly once")
	for i, e := range plan.Entries {
		assert.Equal(t, e.Holder.Address, owners[i], "plan order is preserved")
	}
}

func TestBuild_ExistingAccountsSkipCreate(t *testing.T) {
	ledger := stub.NewLedger()
	b, _ := newBuilder(t, ledger, testConfig())
	plan := testPlan(4)

	for _, e := range plan.Entries[:2] {
		ata, err := solana.FindAssociatedTokenAddress(e.Holder.Address, rewardMint.String())
		require.NoError(t, err)
		ledger.AddAccount(ata, &solana.AccountInfo{Owner: solana.TokenProgramID})
	}

	res, err := b.Build(context.Background(), "cycle-1", plan)
	require.NoError(t, err)
	require.Len(t, res.Batches, 1)

	recips := res.Batches[0].Recipients
	assert.False(t, recips[0].CreatesATA)
	assert.False(t, recips[1].CreatesATA)
	assert.True(t, recips[2].CreatesATA)
	assert.True(t, recips[3].CreatesATA)
	assert.Len(t, res.Batches[0].Instructions, 6)
	assert.Equal(t, 4, ledger.Calls("getAccountInfo"))
}

func TestBuild_LookupFailureFallsBackToCreate(t *testing.T) {
	ledger := stub.NewLedger()
	b, _ := newBuilder(t, ledger, testConfig())
	plan := testPlan(3)

	ata, err := solana.FindAssociatedTokenAddress(plan.Entries[1].Holder.Address, rewardMint.String())
	require.NoError(t, err)
	ledger.AccountErrors[ata] = solana.ErrUnavailable

	res, err := b.Build(context.Background(), "cycle-1", plan)
	require.NoError(t, err)
	assert.Equal(t, 1, res.LookupFailures)
	require.Len(t, res.Batches, 1)
	assert.True(t, res.Batches[0].Recipients[1].CreatesATA)
}

func TestBuild_BatchTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTransactionSizeBytes = 256
	b, _ := newBuilder(t, stub.NewLedger(), cfg)

	_, err := b.Build(context.Background(), "cycle-1", testPlan(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBatchTooLarge))
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestBuild_MaxTransfersPerBatch(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTransfersPerBatch = 2
	b, _ := newBuilder(t, stub.NewLedger(), cfg)

	res, err := b.Build(context.Background(), "cycle-1", testPlan(5))
	require.NoError(t, err)
	require.Len(t, res.Batches, 3)
	assert.Len(t, res.Batches[0].Recipients, 2)
	assert.Len(t, res.Batches[1].Recipients, 2)
	assert.Len(t, res.Batches[2].Recipients, 1)
}

func TestBuild_PriorityFeePrefix(t *testing.T) {
	cfg := testConfig()
	cfg.PriorityFeeMicroLamports = 5000
	b, _ := newBuilder(t, stub.NewLedger(), cfg)

	res, err := b.Build(context.Background(), "cycle-1", testPlan(1))
	require.NoError(t, err)
	require.Len(t, res.Batches, 1)

	first := res.Batches[0].Instructions[0]
	assert.True(t, first.ProgramID().Equals(computeBudgetProgramID))
	data, err := first.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 0x88, 0x13, 0, 0, 0, 0, 0, 0}, data)
}

func TestBuild_InvalidHolderIsSkipped(t *testing.T) {
	b, _ := newBuilder(t, stub.NewLedger(), testConfig())
	plan := testPlan(2)
	plan.Entries[0].Holder.Address = "not-a-key"

	res, err := b.Build(context.Background(), "cycle-1", plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"not-a-key"}, res.Invalid)
	require.Len(t, res.Batches, 1)
	assert.Len(t, res.Batches[0].Recipients, 1)
}

func TestBuild_DeterministicIDs(t *testing.T) {
	ledger := stub.NewLedger()
	b, _ := newBuilder(t, ledger, testConfig())
	plan := testPlan(30)

	first, err := b.Build(context.Background(), "cycle-1", plan)
	require.NoError(t, err)
	second, err := b.Build(context.Background(), "cycle-1", plan)
	require.NoError(t, err)

	require.Equal(t, len(first.Batches), len(second.Batches))
	for i := range first.Batches {
		assert.Equal(t, first.Batches[i].ID, second.Batches[i].ID)
	}
}

// slowLedger tracks the peak number of concurrent account lookups.
type slowLedger struct {
	*stub.Ledger
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowLedger) GetAccountInfo(ctx context.Context, pubkey string) (*solana.AccountInfo, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return s.Ledger.GetAccountInfo(ctx, pubkey)
}

func TestBuild_LookupConcurrencyIsBounded(t *testing.T) {
	ledger := &slowLedger{Ledger: stub.NewLedger()}
	cfg := testConfig()
	cfg.ConcurrencyLimit = 3
	b, _ := newBuilder(t, ledger, cfg)

	_, err := b.Build(context.Background(), "cycle-1", testPlan(24))
	require.NoError(t, err)
	assert.LessOrEqual(t, ledger.peak.Load(), int32(3))
	assert.Greater(t, ledger.peak.Load(), int32(1))
}

func TestEstimateSize_MatchesSignedTransaction(t *testing.T) {
	payerKey := solanago.NewWallet().PrivateKey
	payer := payerKey.PublicKey()
	owner := solanago.NewWallet().PublicKey()
	ata, err := associatedAccount(owner, rewardMint)
	require.NoError(t, err)
	source, err := associatedAccount(payer, rewardMint)
	require.NoError(t, err)

	ixs := []solanago.Instruction{
		createIdempotentATA(payer, ata, owner, rewardMint),
		transfer(source, ata, payer, 42),
	}
	want, err := EstimateSize(payer, ixs)
	require.NoError(t, err)

	tx, err := solanago.NewTransaction(ixs, solanago.Hash{1, 2, 3}, solanago.TransactionPayer(payer))
	require.NoError(t, err)
	_, err = tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(payer) {
			return &payerKey
		}
		return nil
	})
	require.NoError(t, err)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, want, len(raw))
}

func TestToBaseUnits(t *testing.T) {
	raw, err := ToBaseUnits(decimal.RequireFromString("1.5"), 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(150_000_000), raw)

	_, err = ToBaseUnits(decimal.RequireFromString("0.000000001"), 8)
	assert.Error(t, err)

	_, err = ToBaseUnits(decimal.RequireFromString("-1"), 0)
	assert.Error(t, err)

	assert.True(t, FromBaseUnits(150_000_000, 8).Equal(decimal.RequireFromString("1.5")))
}

func TestSingleTransfer(t *testing.T) {
	payer := solanago.NewWallet().PublicKey()
	collector := solanago.NewWallet().PublicKey()

	b, err := SingleTransfer(TransferSpec{
		ID:        "fees-1",
		FeePayer:  payer,
		Authority: collector,
		To:        payer,
		Mint:      rewardMint,
		Amount:    decimal.RequireFromString("12.5"),
		Decimals:  8,
	})
	require.NoError(t, err)
	assert.Equal(t, "fees-1", b.ID)
	assert.Len(t, b.Instructions, 2)
	assert.LessOrEqual(t, b.EstimatedSizeBytes, 1232)
}
