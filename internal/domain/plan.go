package domain

import "github.com/shopspring/decimal"

// PlanEntry is one holder's payout.
// PayableAmount is RawShare truncated to the reward asset's decimals.
type PlanEntry struct {
	Holder        Holder
	RawShare      decimal.Decimal
	PayableAmount decimal.Decimal
}

// DistributionPlan is produced once per cycle and never mutated afterwards.
type DistributionPlan struct {
	TotalRewardAmount      decimal.Decimal
	Decimals               int32
	Entries                []PlanEntry
	SkippedBelowMinHolding int
	SkippedBelowMinPayout  int
}

// TotalPayable sums payable amounts across entries.
func (p DistributionPlan) TotalPayable() decimal.Decimal {
	total := decimal.Zero
	for _, e := range p.Entries {
		total = total.Add(e.PayableAmount)
	}
	return total
}

// Remainder is the part of TotalRewardAmount left undistributed by truncation
// and the minimum-payout threshold.
func (p DistributionPlan) Remainder() decimal.Decimal {
	r := p.TotalRewardAmount.Sub(p.TotalPayable())
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// IsEmpty reports whether the plan pays nobody.
func (p DistributionPlan) IsEmpty() bool {
	return len(p.Entries) == 0
}
