// Package converter sells collected fees for the reward asset through a liquidity pool.
package converter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/pool"
	"solana-reward-distributor/internal/solana"
)

// Config holds conversion policy.
type Config struct {
	SlippageToleranceBps int64
	// LiquidityMultiple is how many times the swap amount the source reserve must hold.
	LiquidityMultiple int64
	RewardDecimals    int32
	// RewardAccount is the rewards wallet's token account for the reward mint.
	RewardAccount string
}

// Quote is an advisory estimate off a live pool snapshot.
type Quote struct {
	Snapshot       domain.PoolSnapshot
	Output         decimal.Decimal
	EffectivePrice decimal.Decimal
}

// Converter runs check → quote → swap → reconcile.
type Converter struct {
	pool pool.Backend
	rpc  solana.RPCClient
	cfg  Config
	log  *slog.Logger
}

// New creates a Converter.
func New(backend pool.Backend, rpc solana.RPCClient, cfg Config, log *slog.Logger) *Converter {
	return &Converter{
		pool: backend,
		rpc:  rpc,
		cfg:  cfg,
		log:  log.With("component", "converter"),
	}
}

// CheckLiquidity loads the pool and fails with ErrInsufficientLiquidity when the
// source reserve is below LiquidityMultiple × amount.
func (c *Converter) CheckLiquidity(ctx context.Context, amount decimal.Decimal) (domain.PoolSnapshot, error) {
	snap, err := c.pool.LoadPool(ctx)
	if err != nil {
		return domain.PoolSnapshot{}, err
	}
	required := amount.Mul(decimal.NewFromInt(c.cfg.LiquidityMultiple))
	if snap.SourceReserve.LessThan(required) {
		return snap, fmt.Errorf("%w: reserve %s below %s (%dx %s)",
			domain.ErrInsufficientLiquidity, snap.SourceReserve, required, c.cfg.LiquidityMultiple, amount)
	}
	return snap, nil
}

// Quote estimates the output for amount.
func (c *Converter) Quote(ctx context.Context, amount decimal.Decimal) (Quote, error) {
	snap, err := c.pool.LoadPool(ctx)
	if err != nil {
		return Quote{}, err
	}
	return c.quote(snap, amount), nil
}

func (c *Converter) quote(snap domain.PoolSnapshot, amount decimal.Decimal) Quote {
	out := c.pool.Quote(snap, amount)
	q := Quote{Snapshot: snap, Output: out}
	if amount.IsPositive() {
		q.EffectivePrice = out.Div(amount)
	}
	return q
}

// MinimumOutput is quoted·(1 − bps/10000), unrounded.
func MinimumOutput(quoted decimal.Decimal, slippageBps int64) decimal.Decimal {
	return quoted.Mul(decimal.NewFromInt(10_000 - slippageBps)).Div(decimal.NewFromInt(10_000))
}

// Swap trades amount and reconciles the result against the reward account balance.
// A realized output below minOut is ErrSlippageExceeded even though the trade landed.
func (c *Converter) Swap(ctx context.Context, amount, minOut decimal.Decimal) (domain.ConversionResult, error) {
	before, err := c.rewardBalance(ctx)
	if err != nil {
		return domain.ConversionResult{}, fmt.Errorf("reward balance before swap: %w", err)
	}

	receipt, err := c.pool.Swap(ctx, amount, minOut)
	if err != nil {
		return domain.ConversionResult{}, err
	}

	after, err := c.rewardBalance(ctx)
	if err != nil {
		return domain.ConversionResult{}, fmt.Errorf("reward balance after swap %s: %w", receipt.Signature, err)
	}

	realized := after.Sub(before)
	result := domain.ConversionResult{
		InputAmount:  amount,
		OutputAmount: realized,
		QuotedOutput: receipt.QuotedOutput,
		Signature:    receipt.Signature,
	}
	if amount.IsPositive() {
		result.EffectivePrice = realized.Div(amount)
	}

	if realized.LessThan(minOut) {
		return result, fmt.Errorf("%w: realized %s below minimum %s (signature %s)",
			domain.ErrSlippageExceeded, realized, minOut, receipt.Signature)
	}
	return result, nil
}

// Convert runs the full conversion. A non-positive amount converts to nothing.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal) (domain.ConversionResult, error) {
	if !amount.IsPositive() {
		return domain.ConversionResult{InputAmount: decimal.Zero, OutputAmount: decimal.Zero}, nil
	}

	snap, err := c.CheckLiquidity(ctx, amount)
	if err != nil {
		return domain.ConversionResult{}, err
	}

	q := c.quote(snap, amount)
	minOut := MinimumOutput(q.Output, c.cfg.SlippageToleranceBps)
	c.log.Info("converting fees",
		"amount", amount.String(),
		"quoted", q.Output.String(),
		"min_out", minOut.String(),
		"price", q.EffectivePrice.String(),
	)

	result, err := c.Swap(ctx, amount, minOut)
	if err != nil {
		return result, err
	}
	if result.QuotedOutput.IsZero() {
		result.QuotedOutput = q.Output
	}

	c.log.Info("conversion complete",
		"signature", result.Signature,
		"output", result.OutputAmount.String(),
		"effective_price", result.EffectivePrice.String(),
	)
	return result, nil
}

// rewardBalance treats a missing account as empty; the swap creates it.
func (c *Converter) rewardBalance(ctx context.Context) (decimal.Decimal, error) {
	bal, err := c.rpc.GetTokenAccountBalance(ctx, c.cfg.RewardAccount)
	if errors.Is(err, solana.ErrAccountNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return bal.UIAmount(), nil
}
