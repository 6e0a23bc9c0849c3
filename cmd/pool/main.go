// Command pool inspects the conversion pool: reserves, spot price, fee and
// whether it can absorb a swap of the given size.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"solana-reward-distributor/internal/app"
	"solana-reward-distributor/internal/config"
	"solana-reward-distributor/internal/converter"
	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/logging"
	"solana-reward-distributor/internal/pool"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pool: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.String("config", "config.json", "Path to the JSON configuration file")
	amountFlag := pflag.String("amount", "", "Source token amount to check liquidity and quote for")
	verbose := pflag.BoolP("verbose", "v", false, "Enable debug logging")
	pflag.Parse()

	log := logging.New(*verbose)
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rpc := app.NewRPC(cfg, nil)
	// Read-only: no executor, so Swap is never reachable from here.
	raydium := pool.NewRaydium(rpc, nil, app.PoolConfig(cfg), nil, log)
	conv := converter.New(raydium, rpc, converter.Config{
		SlippageToleranceBps: cfg.Distribution.SlippageToleranceBps,
		LiquidityMultiple:    cfg.Pool.LiquidityMultiple,
		RewardDecimals:       cfg.Reward.Decimals,
	}, log)

	snap, err := raydium.LoadPool(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Pool:            %s\n", snap.PoolID)
	fmt.Printf("Source reserve:  %s (%s)\n", snap.SourceReserve, snap.SourceMint)
	fmt.Printf("Reward reserve:  %s (%s)\n", snap.RewardReserve, snap.RewardMint)
	fmt.Printf("Price:           %s\n", snap.Price())
	fmt.Printf("Fee:             %d bps\n", snap.FeeBps)
	fmt.Printf("Loaded at:       %s\n", time.UnixMilli(snap.LoadedAt).UTC().Format(time.RFC3339))

	if *amountFlag == "" {
		return nil
	}
	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil || !amount.IsPositive() {
		return fmt.Errorf("--amount must be a positive number, got %q", *amountFlag)
	}

	fmt.Println()
	if _, err := conv.CheckLiquidity(ctx, amount); err != nil {
		if errors.Is(err, domain.ErrInsufficientLiquidity) {
			fmt.Printf("Liquidity:       insufficient (%v)\n", err)
			return nil
		}
		return err
	}
	fmt.Printf("Liquidity:       ok (%dx reserve requirement)\n", cfg.Pool.LiquidityMultiple)

	quote, err := conv.Quote(ctx, amount)
	if err != nil {
		return err
	}
	fmt.Printf("Quoted output:   %s\n", quote.Output)
	fmt.Printf("Minimum output:  %s (%d bps slippage)\n",
		converter.MinimumOutput(quote.Output, cfg.Distribution.SlippageToleranceBps), cfg.Distribution.SlippageToleranceBps)
	fmt.Printf("Effective price: %s\n", quote.EffectivePrice)
	return nil
}
