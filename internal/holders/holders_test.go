package holders

import (
	"context"
	"encoding/binary"
	"testing"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/logging"
	"solana-reward-distributor/internal/solana"
	"solana-reward-distributor/internal/solana/stub"
)

func tokenAccount(mint, owner solanago.PublicKey, amount uint64) []byte {
	data := make([]byte, solana.TokenAccountSize)
	copy(data[0:32], mint[:])
	copy(data[32:64], owner[:])
	binary.LittleEndian.PutUint64(data[64:72], amount)
	return data
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSnapshot_AggregatesAndExcludes(t *testing.T) {
	mint := solanago.NewWallet().PublicKey()
	other := solanago.NewWallet().PublicKey()
	alice := solanago.NewWallet().PublicKey()
	bob := solanago.NewWallet().PublicKey()
	pool := solanago.NewWallet().PublicKey()

	ledger := stub.NewLedger()
	ledger.ProgramAccounts = []solana.KeyedAccount{
		{Pubkey: "a1", Account: solana.AccountInfo{Data: tokenAccount(mint, alice, 1_500_000_000)}},
		{Pubkey: "a2", Account: solana.AccountInfo{Data: tokenAccount(mint, alice, 500_000_000)}},
		{Pubkey: "b1", Account: solana.AccountInfo{Data: tokenAccount(mint, bob, 0)}},
		{Pubkey: "p1", Account: solana.AccountInfo{Data: tokenAccount(mint, pool, 9_000_000_000)}},
		{Pubkey: "x1", Account: solana.AccountInfo{Data: tokenAccount(other, bob, 7)}},
	}

	e := NewEnumerator(ledger, mint.String(), 9, []string{pool.String()}, logging.ForTest())
	got, err := e.Snapshot(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, alice.String(), got[0].Address)
	assert.True(t, d("2").Equal(got[0].Balance), "got %s", got[0].Balance)
	assert.Equal(t, 1, ledger.Calls("getProgramAccounts"))
}

func TestSnapshot_SortedByAddress(t *testing.T) {
	mint := solanago.NewWallet().PublicKey()
	ledger := stub.NewLedger()
	for i := 0; i < 10; i++ {
		owner := solanago.NewWallet().PublicKey()
		ledger.ProgramAccounts = append(ledger.ProgramAccounts, solana.KeyedAccount{
			Pubkey:  owner.String(),
			Account: solana.AccountInfo{Data: tokenAccount(mint, owner, uint64(i+1))},
		})
	}

	e := NewEnumerator(ledger, mint.String(), 0, nil, logging.ForTest())
	got, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 10)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Address, got[i].Address)
	}
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name          string
		holders       []domain.Holder
		threshold     string
		wantQualified []string
		wantDisq      int
		wantRejected  int
	}{
		{
			name: "threshold boundary is inclusive",
			holders: []domain.Holder{
				{Address: "A", Balance: d("100")},
				{Address: "B", Balance: d("99.999")},
				{Address: "C", Balance: d("250")},
			},
			threshold:     "100",
			wantQualified: []string{"A", "C"},
			wantDisq:      1,
		},
		{
			name: "malformed holders are rejected",
			holders: []domain.Holder{
				{Address: "A", Balance: d("-5")},
				{Address: "", Balance: d("500")},
				{Address: "B", Balance: d("500")},
			},
			threshold:     "1",
			wantQualified: []string{"B"},
			wantDisq:      2,
			wantRejected:  2,
		},
		{
			name:      "empty input",
			threshold: "1",
		},
		{
			name: "zero threshold admits zero balances",
			holders: []domain.Holder{
				{Address: "A", Balance: decimal.Zero},
			},
			threshold:     "0",
			wantQualified: []string{"A"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Filter(tt.holders, d(tt.threshold), logging.ForTest())

			var got []string
			for _, h := range res.Qualified {
				got = append(got, h.Address)
			}
			assert.Equal(t, tt.wantQualified, got)
			assert.Equal(t, tt.wantDisq, res.DisqualifiedCount)
			assert.Equal(t, tt.wantRejected, res.Rejected)
			assert.Equal(t, len(tt.holders), res.Total())
		})
	}
}
