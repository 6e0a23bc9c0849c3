package domain

import "github.com/shopspring/decimal"

// ConversionResult describes a completed fee-to-reward swap.
// OutputAmount is the reconciled balance delta of the reward account, not the quote.
type ConversionResult struct {
	InputAmount    decimal.Decimal
	OutputAmount   decimal.Decimal
	QuotedOutput   decimal.Decimal
	EffectivePrice decimal.Decimal // OutputAmount / InputAmount
	Signature      string
}

// PoolSnapshot is a live view of a constant-product pool.
// Source is the side fees are sold from, Reward the side paid out.
type PoolSnapshot struct {
	PoolID        string
	SourceMint    string
	RewardMint    string
	SourceReserve decimal.Decimal
	RewardReserve decimal.Decimal
	FeeBps        int64
	LoadedAt      int64 // Unix ms
}

// Price returns reward units per source unit, or zero on an empty pool.
func (p PoolSnapshot) Price() decimal.Decimal {
	if p.SourceReserve.IsZero() {
		return decimal.Zero
	}
	return p.RewardReserve.Div(p.SourceReserve)
}

// SwapReceipt is returned by a pool backend once a swap transaction is confirmed.
type SwapReceipt struct {
	Signature    string
	QuotedOutput decimal.Decimal
}
