package config

import (
	"errors"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Validate checks every section. Nested sections validate through their own Validate.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Network),
		validation.Field(&c.Token),
		validation.Field(&c.Reward),
		validation.Field(&c.Wallets),
		validation.Field(&c.Pool),
		validation.Field(&c.Distribution),
		validation.Field(&c.Submission),
		validation.Field(&c.ConcurrencyLimit, validation.Required, validation.Min(1), validation.Max(256)),
		validation.Field(&c.Monitoring),
	)
}

// Validate implements validation.Validatable.
func (n NetworkConfig) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.RPCEndpoint, validation.Required, validation.By(urlWithScheme("http", "https"))),
		validation.Field(&n.WSEndpoint, validation.By(urlWithScheme("ws", "wss"))),
		validation.Field(&n.Commitment, validation.In("processed", "confirmed", "finalized")),
		validation.Field(&n.RequestsPerSecond, validation.Min(0.0)),
		validation.Field(&n.Burst, validation.Min(1)),
		validation.Field(&n.CallTimeoutMs, validation.Min(int64(1))),
	)
}

// Validate implements validation.Validatable.
func (m MintConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Mint, validation.Required, validation.By(publicKey)),
		validation.Field(&m.Decimals, validation.Min(int32(0)), validation.Max(int32(18))),
	)
}

// Validate implements validation.Validatable.
func (w WalletConfig) Validate() error {
	return validation.ValidateStruct(&w,
		validation.Field(&w.RewardsKeypairPath, validation.Required),
		validation.Field(&w.RewardsPublicKey, validation.By(publicKey)),
		validation.Field(&w.TaxCollectorPublicKey, validation.By(publicKey)),
	)
}

// Validate implements validation.Validatable.
func (p PoolConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.PoolID, validation.Required, validation.By(publicKey)),
		validation.Field(&p.BaseVault, validation.Required, validation.By(publicKey)),
		validation.Field(&p.QuoteVault, validation.Required, validation.By(publicKey)),
		validation.Field(&p.FeeBps, validation.Min(int64(0)), validation.Max(int64(10_000))),
		validation.Field(&p.LiquidityMultiple, validation.Min(int64(1))),
		validation.Field(&p.SwapAPIURL, validation.By(urlWithScheme("http", "https"))),
	)
}

// Validate implements validation.Validatable.
func (d DistributionConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.MinimumHoldingThreshold, validation.By(nonNegative)),
		validation.Field(&d.MinimumPayoutThreshold, validation.By(nonNegative)),
		validation.Field(&d.SlippageToleranceBps, validation.Min(int64(0)), validation.Max(int64(10_000))),
		validation.Field(&d.RewardPercentage, validation.Min(int64(1)), validation.Max(int64(100))),
		validation.Field(&d.ExcludedOwners, validation.Each(validation.By(publicKey))),
	)
}

// Validate implements validation.Validatable.
func (s SubmissionConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.MaxTransactionSizeBytes, validation.Min(256), validation.Max(1232)),
		validation.Field(&s.MaxTransfersPerBatch, validation.Min(0)),
		validation.Field(&s.MaxRetries, validation.Min(0), validation.Max(100)),
		validation.Field(&s.InitialBackoffMs, validation.Min(int64(1))),
		validation.Field(&s.MaxBackoffMs, validation.Min(s.InitialBackoffMs)),
		validation.Field(&s.ConfirmTimeoutMs, validation.Min(int64(1))),
		validation.Field(&s.ConfirmPollMs, validation.Min(int64(1))),
	)
}

// Validate implements validation.Validatable.
func (m MonitoringConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.WebhookURL, validation.By(urlWithScheme("http", "https"))),
		validation.Field(&m.SlackWebhookURL, validation.By(urlWithScheme("https"))),
	)
}

func publicKey(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := solanago.PublicKeyFromBase58(s); err != nil {
		return errors.New("must be a base58 public key")
	}
	return nil
}

func nonNegative(value interface{}) error {
	d, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("must be a decimal")
	}
	if d.IsNegative() {
		return errors.New("must not be negative")
	}
	return nil
}

func urlWithScheme(schemes ...string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return errors.New("must be an absolute URL")
		}
		for _, scheme := range schemes {
			if u.Scheme == scheme {
				return nil
			}
		}
		return errors.New("unsupported URL scheme " + u.Scheme)
	}
}
