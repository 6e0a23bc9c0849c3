package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"solana-reward-distributor/internal/batch"
	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/solana"
)

// FeeConfig describes where collected fees sit and how much of them is distributed.
type FeeConfig struct {
	Mint     solanago.PublicKey
	Decimals int32
	// Rewards owns the account fees are converted from.
	Rewards solanago.PublicKey
	// TaxCollector, when set, holds the fees; Collect moves them to Rewards first.
	TaxCollector *solanago.PublicKey
	// RewardPercentage of the collected balance is distributed, 1..100.
	RewardPercentage int64
}

// FeeCollector sizes and gathers the fee amount converted each cycle.
type FeeCollector struct {
	rpc    solana.RPCClient
	submit Submitter
	cfg    FeeConfig
	log    *slog.Logger
}

// NewFeeCollector creates a FeeCollector. submit carries the tax-collector transfer.
func NewFeeCollector(rpc solana.RPCClient, submit Submitter, cfg FeeConfig, log *slog.Logger) *FeeCollector {
	return &FeeCollector{
		rpc:    rpc,
		submit: submit,
		cfg:    cfg,
		log:    log.With("component", "fees"),
	}
}

// Amount returns floor(balance × RewardPercentage / 100) at the mint's precision,
// where balance is the tax collector's when configured and the rewards wallet's otherwise.
func (f *FeeCollector) Amount(ctx context.Context) (decimal.Decimal, error) {
	holder := f.cfg.Rewards
	if f.cfg.TaxCollector != nil {
		holder = *f.cfg.TaxCollector
	}

	account, err := solana.FindAssociatedTokenAddress(holder.String(), f.cfg.Mint.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: fee account: %w", domain.ErrConfiguration, err)
	}

	bal, err := f.rpc.GetTokenAccountBalance(ctx, account)
	if errors.Is(err, solana.ErrAccountNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("fee balance: %w", err)
	}

	share := bal.UIAmount().
		Mul(decimal.NewFromInt(f.cfg.RewardPercentage)).
		Div(decimal.NewFromInt(100)).
		Truncate(f.cfg.Decimals)
	return share, nil
}

// Collect computes the fee amount and, with a tax collector configured, transfers it
// to the rewards wallet. The transfer must confirm before the amount is returned.
func (f *FeeCollector) Collect(ctx context.Context, cycleID string) (decimal.Decimal, error) {
	amount, err := f.Amount(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if f.cfg.TaxCollector == nil || !amount.IsPositive() {
		f.log.Info("fee amount", "cycle_id", cycleID, "amount", amount.String())
		return amount, nil
	}

	b, err := batch.SingleTransfer(batch.TransferSpec{
		ID:        "fees-" + cycleID,
		FeePayer:  f.cfg.Rewards,
		Authority: *f.cfg.TaxCollector,
		To:        f.cfg.Rewards,
		Mint:      f.cfg.Mint,
		Amount:    amount,
		Decimals:  f.cfg.Decimals,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: fee transfer: %w", domain.ErrConfiguration, err)
	}

	res := f.submit.Submit(ctx, b)
	if res.State != domain.OutcomeConfirmed {
		cause := res.LastErr
		if cause == nil {
			cause = context.Cause(ctx)
		}
		return decimal.Zero, fmt.Errorf("fee transfer %s: %w", res.State, cause)
	}

	f.log.Info("fees collected",
		"cycle_id", cycleID,
		"amount", amount.String(),
		"signature", res.Signature,
	)
	return amount, nil
}
