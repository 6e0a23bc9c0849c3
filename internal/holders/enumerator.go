// Package holders snapshots token holders and applies eligibility policy.
package holders

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/solana"
)

// Enumerator lists wallets holding the distributed token.
type Enumerator struct {
	rpc      solana.RPCClient
	mint     string
	decimals int32
	excluded map[string]bool
	log      *slog.Logger
}

// NewEnumerator creates an Enumerator. Owners in excluded never appear in snapshots.
func NewEnumerator(rpc solana.RPCClient, mint string, decimals int32, excluded []string, log *slog.Logger) *Enumerator {
	ex := make(map[string]bool, len(excluded))
	for _, o := range excluded {
		ex[o] = true
	}
	return &Enumerator{
		rpc:      rpc,
		mint:     mint,
		decimals: decimals,
		excluded: ex,
		log:      log.With("component", "holders"),
	}
}

// Snapshot reads every token account of the mint once and aggregates balances by owner.
// Zero balances and excluded owners are dropped. Output is sorted by address.
func (e *Enumerator) Snapshot(ctx context.Context) ([]domain.Holder, error) {
	accounts, err := e.rpc.GetProgramAccounts(ctx, solana.TokenProgramID,
		solana.DataSizeFilter(solana.TokenAccountSize),
		solana.MemcmpFilter(0, e.mint),
	)
	if err != nil {
		return nil, fmt.Errorf("list token accounts: %w", err)
	}

	raw := make(map[string]uint64)
	for _, acc := range accounts {
		ta, err := solana.DecodeTokenAccount(acc.Account.Data)
		if err != nil {
			e.log.Warn("skipping undecodable token account", "account", acc.Pubkey, "error", err)
			continue
		}
		if ta.Mint != e.mint {
			e.log.Warn("skipping token account of foreign mint", "account", acc.Pubkey, "mint", ta.Mint)
			continue
		}
		if ta.Amount == 0 || e.excluded[ta.Owner] {
			continue
		}
		raw[ta.Owner] += ta.Amount
	}

	holders := make([]domain.Holder, 0, len(raw))
	for owner, amount := range raw {
		holders = append(holders, domain.Holder{
			Address: owner,
			Balance: decimal.NewFromUint64(amount).Shift(-e.decimals),
		})
	}
	sort.Slice(holders, func(i, j int) bool {
		return holders[i].Address < holders[j].Address
	})

	e.log.Debug("holder snapshot", "token_accounts", len(accounts), "holders", len(holders))
	return holders, nil
}
