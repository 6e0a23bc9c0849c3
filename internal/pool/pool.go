// Package pool reads constant-product liquidity pool state and trades through it.
package pool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"solana-reward-distributor/internal/batch"
	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/solana"
)

const bpsDenominator = 10_000

// Backend is a liquidity pool the converter sells fees through.
type Backend interface {
	// LoadPool reads live reserves. Failures wrap domain.ErrPoolUnavailable.
	LoadPool(ctx context.Context) (domain.PoolSnapshot, error)

	// Quote estimates the reward output for amountIn against snapshot.
	Quote(snapshot domain.PoolSnapshot, amountIn decimal.Decimal) decimal.Decimal

	// Swap sells amountIn and returns once the trade is confirmed. The trade
	// must not settle below minOut.
	Swap(ctx context.Context, amountIn, minOut decimal.Decimal) (domain.SwapReceipt, error)
}

// SwapRequest is a swap in raw base units.
type SwapRequest struct {
	InputMint  string
	OutputMint string
	AmountIn   uint64
	MinOut     uint64
}

// Executor builds, signs and lands a swap transaction.
type Executor interface {
	Execute(ctx context.Context, req SwapRequest) (domain.SwapReceipt, error)
}

// Config identifies the pool. The source side holds the fee token, the reward side
// the distributed asset.
type Config struct {
	PoolID         string
	SourceMint     string
	RewardMint     string
	SourceVault    string
	RewardVault    string
	SourceDecimals int32
	RewardDecimals int32
	FeeBps         int64
}

// Raydium is a constant-product pool whose reserves are its two vault token accounts.
type Raydium struct {
	rpc   solana.RPCClient
	exec  Executor
	cfg   Config
	clock clockwork.Clock
	log   *slog.Logger
}

var _ Backend = (*Raydium)(nil)

// NewRaydium creates a pool backend. exec may be nil for read-only use.
func NewRaydium(rpc solana.RPCClient, exec Executor, cfg Config, clock clockwork.Clock, log *slog.Logger) *Raydium {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Raydium{
		rpc:   rpc,
		exec:  exec,
		cfg:   cfg,
		clock: clock,
		log:   log.With("component", "pool", "pool_id", cfg.PoolID),
	}
}

// LoadPool reads both vault balances.
func (r *Raydium) LoadPool(ctx context.Context) (domain.PoolSnapshot, error) {
	source, err := r.rpc.GetTokenAccountBalance(ctx, r.cfg.SourceVault)
	if err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("%w: source vault %s: %w", domain.ErrPoolUnavailable, r.cfg.SourceVault, err)
	}
	reward, err := r.rpc.GetTokenAccountBalance(ctx, r.cfg.RewardVault)
	if err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("%w: reward vault %s: %w", domain.ErrPoolUnavailable, r.cfg.RewardVault, err)
	}

	snap := domain.PoolSnapshot{
		PoolID:        r.cfg.PoolID,
		SourceMint:    r.cfg.SourceMint,
		RewardMint:    r.cfg.RewardMint,
		SourceReserve: source.UIAmount(),
		RewardReserve: reward.UIAmount(),
		FeeBps:        r.cfg.FeeBps,
		LoadedAt:      r.clock.Now().UnixMilli(),
	}
	if snap.SourceReserve.IsZero() || snap.RewardReserve.IsZero() {
		return domain.PoolSnapshot{}, fmt.Errorf("%w: pool %s has an empty reserve", domain.ErrPoolUnavailable, r.cfg.PoolID)
	}

	r.log.Debug("pool loaded",
		"source_reserve", snap.SourceReserve.String(),
		"reward_reserve", snap.RewardReserve.String(),
		"price", snap.Price().String(),
	)
	return snap, nil
}

// Quote applies the pool fee to the input, then x·y=k, truncated to reward decimals.
func (r *Raydium) Quote(snapshot domain.PoolSnapshot, amountIn decimal.Decimal) decimal.Decimal {
	return ConstantProductOut(snapshot, amountIn).Truncate(r.cfg.RewardDecimals)
}

// ConstantProductOut is the exact output of a constant-product trade after fee.
func ConstantProductOut(snapshot domain.PoolSnapshot, amountIn decimal.Decimal) decimal.Decimal {
	if !amountIn.IsPositive() || snapshot.SourceReserve.IsZero() {
		return decimal.Zero
	}
	afterFee := amountIn.Mul(decimal.NewFromInt(bpsDenominator - snapshot.FeeBps)).Div(decimal.NewFromInt(bpsDenominator))
	return snapshot.RewardReserve.Mul(afterFee).Div(snapshot.SourceReserve.Add(afterFee))
}

// Swap converts to base units and delegates to the executor.
func (r *Raydium) Swap(ctx context.Context, amountIn, minOut decimal.Decimal) (domain.SwapReceipt, error) {
	if r.exec == nil {
		return domain.SwapReceipt{}, fmt.Errorf("%w: no swap executor configured", domain.ErrConfiguration)
	}
	in, err := batch.ToBaseUnits(amountIn.Truncate(r.cfg.SourceDecimals), r.cfg.SourceDecimals)
	if err != nil {
		return domain.SwapReceipt{}, fmt.Errorf("%w: swap input: %w", domain.ErrConfiguration, err)
	}
	// Round the floor up so a fractional minimum is never undercut.
	out, err := batch.ToBaseUnits(minOut.RoundCeil(r.cfg.RewardDecimals), r.cfg.RewardDecimals)
	if err != nil {
		return domain.SwapReceipt{}, fmt.Errorf("%w: swap minimum: %w", domain.ErrConfiguration, err)
	}

	r.log.Info("swapping", "amount_in", amountIn.String(), "min_out", minOut.String())
	return r.exec.Execute(ctx, SwapRequest{
		InputMint:  r.cfg.SourceMint,
		OutputMint: r.cfg.RewardMint,
		AmountIn:   in,
		MinOut:     out,
	})
}
