// Package config loads the distributor's immutable runtime configuration.
//
// Sources are layered: a JSON file, then a .env file, then REWARDS_* environment
// variables. The merged result is validated before any component touches the network.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"solana-reward-distributor/internal/domain"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "rewards"

// Defaults.
const (
	DefaultCommitment              = "confirmed"
	DefaultRequestsPerSecond       = 10.0
	DefaultBurst                   = 5
	DefaultCallTimeoutMs           = 15_000
	DefaultMaxTransactionSizeBytes = 1232
	DefaultMaxRetries              = 5
	DefaultInitialBackoffMs        = 500
	DefaultMaxBackoffMs            = 8_000
	DefaultInterBatchSpacingMs     = 1_000
	DefaultConfirmTimeoutMs        = 90_000
	DefaultConfirmPollMs           = 2_000
	DefaultSlippageToleranceBps    = 100
	DefaultRewardPercentage        = 50
	DefaultPoolFeeBps              = 25
	DefaultLiquidityMultiple       = 2
	DefaultSwapAPIURL              = "https://lite-api.jup.ag/swap/v1"
	DefaultSwapDex                 = "Raydium"
)

// Config is passed by value once loaded and never mutated.
type Config struct {
	Network          NetworkConfig      `json:"network"`
	Token            MintConfig         `json:"token"`
	Reward           MintConfig         `json:"reward"`
	Wallets          WalletConfig       `json:"wallets"`
	Pool             PoolConfig         `json:"pool"`
	Distribution     DistributionConfig `json:"distribution"`
	Submission       SubmissionConfig   `json:"submission"`
	ConcurrencyLimit int                `json:"concurrencyLimit" envconfig:"CONCURRENCY_LIMIT"`
	Storage          StorageConfig      `json:"storage"`
	Monitoring       MonitoringConfig   `json:"monitoring"`
}

// NetworkConfig configures the ledger RPC.
type NetworkConfig struct {
	RPCEndpoint       string  `json:"rpcEndpoint" envconfig:"RPC_ENDPOINT"`
	WSEndpoint        string  `json:"wsEndpoint" envconfig:"WS_ENDPOINT"`
	Commitment        string  `json:"commitment" envconfig:"COMMITMENT"`
	RequestsPerSecond float64 `json:"requestsPerSecond" envconfig:"REQUESTS_PER_SECOND"`
	Burst             int     `json:"burst" envconfig:"BURST"`
	CallTimeoutMs     int64   `json:"callTimeoutMs" envconfig:"CALL_TIMEOUT_MS"`
}

// MintConfig identifies an SPL mint.
type MintConfig struct {
	Mint     string `json:"mint" envconfig:"MINT"`
	Decimals int32  `json:"decimals" envconfig:"DECIMALS"`
}

// WalletConfig points at keypair files. Public keys, when set, must match the files.
type WalletConfig struct {
	RewardsKeypairPath      string `json:"rewardsKeypairPath" envconfig:"REWARDS_KEYPAIR_PATH"`
	RewardsPublicKey        string `json:"rewardsPublicKey" envconfig:"REWARDS_PUBLIC_KEY"`
	TaxCollectorKeypairPath string `json:"taxCollectorKeypairPath" envconfig:"TAX_COLLECTOR_KEYPAIR_PATH"`
	TaxCollectorPublicKey   string `json:"taxCollectorPublicKey" envconfig:"TAX_COLLECTOR_PUBLIC_KEY"`
}

// PoolConfig describes the liquidity pool used for conversion.
// BaseVault holds the distributed token, QuoteVault the reward asset.
type PoolConfig struct {
	PoolID            string `json:"poolId" envconfig:"POOL_ID"`
	BaseVault         string `json:"baseVault" envconfig:"BASE_VAULT"`
	QuoteVault        string `json:"quoteVault" envconfig:"QUOTE_VAULT"`
	FeeBps            int64  `json:"feeBps" envconfig:"FEE_BPS"`
	LiquidityMultiple int64  `json:"liquidityMultiple" envconfig:"LIQUIDITY_MULTIPLE"`
	SwapAPIURL        string `json:"swapApiUrl" envconfig:"SWAP_API_URL"`
	Dex               string `json:"dex" envconfig:"DEX"`
}

// DistributionConfig holds payout policy.
type DistributionConfig struct {
	MinimumHoldingThreshold decimal.Decimal `json:"minimumHoldingThreshold" envconfig:"MINIMUM_HOLDING_THRESHOLD"`
	MinimumPayoutThreshold  decimal.Decimal `json:"minimumPayoutThreshold" envconfig:"MINIMUM_PAYOUT_THRESHOLD"`
	SlippageToleranceBps    int64           `json:"slippageToleranceBps" envconfig:"SLIPPAGE_TOLERANCE_BPS"`
	RewardPercentage        int64           `json:"rewardPercentage" envconfig:"REWARD_PERCENTAGE"`
	ExcludedOwners          []string        `json:"excludedOwners" envconfig:"EXCLUDED_OWNERS"`
	CarryForwardRemainder   bool            `json:"carryForwardRemainder" envconfig:"CARRY_FORWARD_REMAINDER"`
}

// SubmissionConfig tunes the submission engine.
type SubmissionConfig struct {
	MaxTransactionSizeBytes  int    `json:"maxTransactionSizeBytes" envconfig:"MAX_TRANSACTION_SIZE_BYTES"`
	MaxTransfersPerBatch     int    `json:"maxTransfersPerBatch" envconfig:"MAX_TRANSFERS_PER_BATCH"`
	MaxRetries               int    `json:"maxRetries" envconfig:"MAX_RETRIES"`
	InitialBackoffMs         int64  `json:"initialBackoffMs" envconfig:"INITIAL_BACKOFF_MS"`
	MaxBackoffMs             int64  `json:"maxBackoffMs" envconfig:"MAX_BACKOFF_MS"`
	InterBatchSpacingMs      int64  `json:"interBatchSpacingMs" envconfig:"INTER_BATCH_SPACING_MS"`
	ConfirmTimeoutMs         int64  `json:"confirmTimeoutMs" envconfig:"CONFIRM_TIMEOUT_MS"`
	ConfirmPollMs            int64  `json:"confirmPollMs" envconfig:"CONFIRM_POLL_MS"`
	PriorityFeeMicroLamports uint64 `json:"priorityFeeMicroLamports" envconfig:"PRIORITY_FEE_MICRO_LAMPORTS"`
}

// StorageConfig selects persistence. Empty DSNs fall back to in-memory stores.
type StorageConfig struct {
	PostgresDSN   string `json:"postgresDsn" envconfig:"POSTGRES_DSN"`
	ClickHouseDSN string `json:"clickhouseDsn" envconfig:"CLICKHOUSE_DSN"`
}

// MonitoringConfig configures event sinks. Every sink is optional.
type MonitoringConfig struct {
	WebhookURL      string `json:"webhookUrl" envconfig:"WEBHOOK_URL"`
	SlackWebhookURL string `json:"slackWebhookUrl" envconfig:"SLACK_WEBHOOK_URL"`
	SentryDSN       string `json:"sentryDsn" envconfig:"SENTRY_DSN"`
	MetricsAddr     string `json:"metricsAddr" envconfig:"METRICS_ADDR"`
	Environment     string `json:"environment" envconfig:"ENVIRONMENT"`
}

// Load reads path (skipped when it does not exist), applies .env and REWARDS_*
// overrides, fills defaults and validates. Validation failures wrap domain.ErrInvalidConfig.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("%w: read %s: %w", domain.ErrInvalidConfig, path, err)
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("%w: parse %s: %w", domain.ErrInvalidConfig, path, err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: load .env: %w", domain.ErrInvalidConfig, err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: environment: %w", domain.ErrInvalidConfig, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}

	return cfg, nil
}

// applyDefaults fills zero values. Decimal thresholds default to zero.
func (c *Config) applyDefaults() {
	if c.Network.Commitment == "" {
		c.Network.Commitment = DefaultCommitment
	}
	if c.Network.RequestsPerSecond == 0 {
		c.Network.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.Network.Burst == 0 {
		c.Network.Burst = DefaultBurst
	}
	if c.Network.CallTimeoutMs == 0 {
		c.Network.CallTimeoutMs = DefaultCallTimeoutMs
	}

	if c.Pool.FeeBps == 0 {
		c.Pool.FeeBps = DefaultPoolFeeBps
	}
	if c.Pool.LiquidityMultiple == 0 {
		c.Pool.LiquidityMultiple = DefaultLiquidityMultiple
	}
	if c.Pool.SwapAPIURL == "" {
		c.Pool.SwapAPIURL = DefaultSwapAPIURL
	}
	if c.Pool.Dex == "" {
		c.Pool.Dex = DefaultSwapDex
	}

	if c.Distribution.SlippageToleranceBps == 0 {
		c.Distribution.SlippageToleranceBps = DefaultSlippageToleranceBps
	}
	if c.Distribution.RewardPercentage == 0 {
		c.Distribution.RewardPercentage = DefaultRewardPercentage
	}

	s := &c.Submission
	if s.MaxTransactionSizeBytes == 0 {
		s.MaxTransactionSizeBytes = DefaultMaxTransactionSizeBytes
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	if s.InitialBackoffMs == 0 {
		s.InitialBackoffMs = DefaultInitialBackoffMs
	}
	if s.MaxBackoffMs == 0 {
		s.MaxBackoffMs = DefaultMaxBackoffMs
	}
	if s.InterBatchSpacingMs == 0 {
		s.InterBatchSpacingMs = DefaultInterBatchSpacingMs
	}
	if s.ConfirmTimeoutMs == 0 {
		s.ConfirmTimeoutMs = DefaultConfirmTimeoutMs
	}
	if s.ConfirmPollMs == 0 {
		s.ConfirmPollMs = DefaultConfirmPollMs
	}
}

// CallTimeout bounds every individual RPC call.
func (n NetworkConfig) CallTimeout() time.Duration {
	return time.Duration(n.CallTimeoutMs) * time.Millisecond
}

// InitialBackoff returns the first retry delay.
func (s SubmissionConfig) InitialBackoff() time.Duration {
	return time.Duration(s.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff returns the retry delay cap.
func (s SubmissionConfig) MaxBackoff() time.Duration {
	return time.Duration(s.MaxBackoffMs) * time.Millisecond
}

// InterBatchSpacing returns the pause between confirmed batches.
func (s SubmissionConfig) InterBatchSpacing() time.Duration {
	return time.Duration(s.InterBatchSpacingMs) * time.Millisecond
}

// ConfirmTimeout bounds confirmation of one attempt.
func (s SubmissionConfig) ConfirmTimeout() time.Duration {
	return time.Duration(s.ConfirmTimeoutMs) * time.Millisecond
}

// ConfirmPoll is the signature status polling interval.
func (s SubmissionConfig) ConfirmPoll() time.Duration {
	return time.Duration(s.ConfirmPollMs) * time.Millisecond
}

// SlippageFraction converts basis points to a fraction.
func (d DistributionConfig) SlippageFraction() decimal.Decimal {
	return decimal.NewFromInt(d.SlippageToleranceBps).Div(decimal.NewFromInt(10_000))
}

// RewardFraction converts the reward percentage to a fraction.
func (d DistributionConfig) RewardFraction() decimal.Decimal {
	return decimal.NewFromInt(d.RewardPercentage).Div(decimal.NewFromInt(100))
}
