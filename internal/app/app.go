// Package app assembles the distributor from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	solanago "github.com/gagliardetto/solana-go"

	"solana-reward-distributor/internal/batch"
	"solana-reward-distributor/internal/config"
	"solana-reward-distributor/internal/converter"
	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/events"
	"solana-reward-distributor/internal/holders"
	"solana-reward-distributor/internal/observability"
	"solana-reward-distributor/internal/orchestrator"
	"solana-reward-distributor/internal/pool"
	"solana-reward-distributor/internal/solana"
	"solana-reward-distributor/internal/storage"
	"solana-reward-distributor/internal/storage/clickhouse"
	"solana-reward-distributor/internal/storage/memory"
	"solana-reward-distributor/internal/storage/migrations"
	"solana-reward-distributor/internal/storage/postgres"
	"solana-reward-distributor/internal/submission"
	"solana-reward-distributor/internal/wallet"
)

// App holds the wired components. Close releases connections.
type App struct {
	Config       config.Config
	Log          *slog.Logger
	Metrics      *observability.Metrics
	RPC          *solana.HTTPClient
	Engine       *submission.Engine
	Pool         *pool.Raydium
	Converter    *converter.Converter
	Orchestrator *orchestrator.Orchestrator
	Cycles       storage.CycleStore

	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// NewRPC creates the throttled RPC client. metrics may be nil.
func NewRPC(cfg config.Config, metrics *observability.Metrics) *solana.HTTPClient {
	opts := []solana.ClientOption{
		solana.WithCommitment(cfg.Network.Commitment),
		solana.WithTimeout(cfg.Network.CallTimeout()),
		solana.WithRateLimit(cfg.Network.RequestsPerSecond, cfg.Network.Burst),
	}
	if metrics != nil {
		opts = append(opts, solana.WithCallObserver(metrics.RecordRPCCall))
	}
	return solana.NewHTTPClient(cfg.Network.RPCEndpoint, opts...)
}

// PoolConfig maps configuration onto the pool backend. The base side of the pool
// holds the distributed token, the quote side the reward asset.
func PoolConfig(cfg config.Config) pool.Config {
	return pool.Config{
		PoolID:         cfg.Pool.PoolID,
		SourceMint:     cfg.Token.Mint,
		RewardMint:     cfg.Reward.Mint,
		SourceVault:    cfg.Pool.BaseVault,
		RewardVault:    cfg.Pool.QuoteVault,
		SourceDecimals: cfg.Token.Decimals,
		RewardDecimals: cfg.Reward.Decimals,
		FeeBps:         cfg.Pool.FeeBps,
	}
}

// Build wires the full distributor. hub may be nil when Sentry is disabled.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger, metrics *observability.Metrics, hub *sentry.Hub) (_ *App, err error) {
	a := &App{Config: cfg, Log: log, Metrics: metrics}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	rewardsKey, err := wallet.LoadKeypair(cfg.Wallets.RewardsKeypairPath, cfg.Wallets.RewardsPublicKey)
	if err != nil {
		return nil, fmt.Errorf("rewards keypair: %w", err)
	}
	keys := []solanago.PrivateKey{rewardsKey}
	rewards := rewardsKey.PublicKey()

	var taxCollector *solanago.PublicKey
	if cfg.Wallets.TaxCollectorKeypairPath != "" {
		taxKey, err := wallet.LoadKeypair(cfg.Wallets.TaxCollectorKeypairPath, cfg.Wallets.TaxCollectorPublicKey)
		if err != nil {
			return nil, fmt.Errorf("tax collector keypair: %w", err)
		}
		keys = append(keys, taxKey)
		pub := taxKey.PublicKey()
		taxCollector = &pub
	}
	keyring := wallet.NewKeyring(keys...)

	a.RPC = NewRPC(cfg, metrics)

	sinks := events.Fanout{events.NewLogSink(log)}
	if metrics != nil {
		sinks = append(sinks, metrics)
	}
	if cfg.Monitoring.WebhookURL != "" {
		sinks = append(sinks, events.NewWebhookSink(cfg.Monitoring.WebhookURL, log))
	}
	if cfg.Monitoring.SlackWebhookURL != "" {
		sinks = append(sinks, events.NewSlackSink(cfg.Monitoring.SlackWebhookURL, log))
	}
	if hub != nil {
		sinks = append(sinks, events.NewSentrySink(hub))
	}

	stores, err := a.openStores(ctx, cfg, log, metrics)
	if err != nil {
		return nil, err
	}
	if stores.events != nil {
		sinks = append(sinks, stores.events)
	}
	a.Cycles = stores.cycles
	relay := events.NewAttemptRelay(sinks)

	engineOpts := []submission.Option{
		submission.WithLogger(log),
		submission.WithObserver(relay.Observe),
	}
	if cfg.Network.WSEndpoint != "" {
		ws, err := solana.NewWSClient(ctx, cfg.Network.WSEndpoint, nil, log)
		if err != nil {
			// Polling still confirms; the websocket is only a fast path.
			log.Warn("websocket unavailable, confirming by polling", "error", err)
		} else {
			a.closers = append(a.closers, func() { _ = ws.Close() })
			engineOpts = append(engineOpts, submission.WithWSClient(ws))
		}
	}
	a.Engine = submission.New(a.RPC, keyring, submission.Config{
		MaxRetries:        cfg.Submission.MaxRetries,
		InitialBackoff:    cfg.Submission.InitialBackoff(),
		MaxBackoff:        cfg.Submission.MaxBackoff(),
		InterBatchSpacing: cfg.Submission.InterBatchSpacing(),
		CallTimeout:       cfg.Network.CallTimeout(),
		ConfirmTimeout:    cfg.Submission.ConfirmTimeout(),
		ConfirmPoll:       cfg.Submission.ConfirmPoll(),
	}, engineOpts...)

	jupiter := pool.NewJupiter(pool.JupiterConfig{
		BaseURL:        cfg.Pool.SwapAPIURL,
		User:           rewards,
		Dex:            cfg.Pool.Dex,
		SlippageBps:    cfg.Distribution.SlippageToleranceBps,
		RewardDecimals: cfg.Reward.Decimals,
		Timeout:        cfg.Network.CallTimeout(),
	}, &http.Client{Timeout: cfg.Network.CallTimeout()}, keyring, a.Engine, log)
	a.Pool = pool.NewRaydium(a.RPC, jupiter, PoolConfig(cfg), nil, log)

	rewardAccount, err := solana.FindAssociatedTokenAddress(rewards.String(), cfg.Reward.Mint)
	if err != nil {
		return nil, fmt.Errorf("reward account: %w", err)
	}
	a.Converter = converter.New(a.Pool, a.RPC, converter.Config{
		SlippageToleranceBps: cfg.Distribution.SlippageToleranceBps,
		LiquidityMultiple:    cfg.Pool.LiquidityMultiple,
		RewardDecimals:       cfg.Reward.Decimals,
		RewardAccount:        rewardAccount,
	}, log)

	builder, err := batch.NewBuilder(a.RPC, rewards, batch.Config{
		RewardMint:               cfg.Reward.Mint,
		Decimals:                 cfg.Reward.Decimals,
		MaxTransactionSizeBytes:  cfg.Submission.MaxTransactionSizeBytes,
		MaxTransfersPerBatch:     cfg.Submission.MaxTransfersPerBatch,
		ConcurrencyLimit:         cfg.ConcurrencyLimit,
		PriorityFeeMicroLamports: cfg.Submission.PriorityFeeMicroLamports,
	}, log)
	if err != nil {
		return nil, err
	}

	tokenMint, err := solanago.PublicKeyFromBase58(cfg.Token.Mint)
	if err != nil {
		return nil, fmt.Errorf("%w: token mint: %w", domain.ErrInvalidConfig, err)
	}
	own := []solanago.PublicKey{rewards}
	if taxCollector != nil {
		own = append(own, *taxCollector)
	}
	fees := orchestrator.NewFeeCollector(a.RPC, a.Engine, orchestrator.FeeConfig{
		Mint:             tokenMint,
		Decimals:         cfg.Token.Decimals,
		Rewards:          rewards,
		TaxCollector:     taxCollector,
		RewardPercentage: cfg.Distribution.RewardPercentage,
	}, log)

	a.Orchestrator = orchestrator.New(orchestrator.Options{
		Holders:    NewEnumerator(a.RPC, cfg, log, own...),
		Fees:       fees,
		Converter:  a.Converter,
		Builder:    builder,
		Submitter:  a.Engine,
		Cycles:     stores.cycles,
		Remainders: stores.remainders,
		Locker:     stores.locker,
		Sink:       sinks,
		Relay:      relay,
		Policy: orchestrator.Policy{
			Mint:                    cfg.Token.Mint,
			RewardMint:              cfg.Reward.Mint,
			RewardDecimals:          cfg.Reward.Decimals,
			MinimumHoldingThreshold: cfg.Distribution.MinimumHoldingThreshold,
			MinimumPayoutThreshold:  cfg.Distribution.MinimumPayoutThreshold,
			CarryForwardRemainder:   cfg.Distribution.CarryForwardRemainder,
		},
		Logger: log,
	})

	return a, nil
}

// NewEnumerator lists holders of the distributed token, never paying the
// distributor's own wallets.
func NewEnumerator(rpc solana.RPCClient, cfg config.Config, log *slog.Logger, own ...solanago.PublicKey) *holders.Enumerator {
	excluded := append([]string(nil), cfg.Distribution.ExcludedOwners...)
	for _, k := range own {
		excluded = append(excluded, k.String())
	}
	return holders.NewEnumerator(rpc, cfg.Token.Mint, cfg.Token.Decimals, excluded, log)
}

type storeSet struct {
	cycles     storage.CycleStore
	remainders storage.RemainderStore
	locker     storage.Locker
	events     *clickhouse.EventStore
}

// openStores uses Postgres when configured and in-memory stores otherwise.
// ClickHouse event analytics are optional.
func (a *App) openStores(ctx context.Context, cfg config.Config, log *slog.Logger, metrics *observability.Metrics) (storeSet, error) {
	var s storeSet

	if cfg.Storage.PostgresDSN == "" {
		log.Warn("no postgres configured, cycle history and remainders are kept in memory")
		s.cycles = memory.NewCycleStore()
		s.remainders = memory.NewRemainderStore()
		s.locker = memory.NewLocker()
	} else {
		pg, err := postgres.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return storeSet{}, err
		}
		a.closers = append(a.closers, pg.Close)
		if metrics != nil {
			pg.SetObserver(func(op string, d time.Duration, err error) {
				metrics.RecordDBQuery("postgres", op, d, err)
			})
		}
		if err := migrations.RunPostgresMigrations(ctx, pg); err != nil {
			return storeSet{}, err
		}
		s.cycles = postgres.NewCycleStore(pg)
		s.remainders = postgres.NewRemainderStore(pg)
		s.locker = postgres.NewLocker(pg)
	}

	if cfg.Storage.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickHouseDSN)
		if err != nil {
			return storeSet{}, err
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		var observe clickhouse.QueryObserver
		if metrics != nil {
			observe = func(op string, d time.Duration, err error) {
				metrics.RecordDBQuery("clickhouse", op, d, err)
			}
		}
		s.events = clickhouse.NewEventStore(conn, log, observe)
	}

	return s, nil
}
