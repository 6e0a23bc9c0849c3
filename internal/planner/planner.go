// Package planner computes proportional, dust-aware payout plans.
package planner

import (
	"github.com/shopspring/decimal"

	"solana-reward-distributor/internal/domain"
)

// Params is the payout policy for one plan.
type Params struct {
	// Decimals of the reward asset; payable amounts are truncated to this precision.
	Decimals int32
	// MinimumPayoutThreshold drops entries whose payable amount is below it.
	MinimumPayoutThreshold decimal.Decimal
	// SkippedBelowMinHolding is carried into the plan for reporting.
	SkippedBelowMinHolding int
}

// Plan splits totalReward across qualified holders in proportion to balance.
//
// For every holder the payable amount is floor(balance*totalReward/Σbalance) at
// Decimals precision, computed with a single exact division so the sum never
// exceeds totalReward. Entries keep input order. No holders, a zero total
// balance or a non-positive reward produce an empty plan.
func Plan(qualified []domain.Holder, totalReward decimal.Decimal, p Params) domain.DistributionPlan {
	plan := domain.DistributionPlan{
		TotalRewardAmount:      totalReward,
		Decimals:               p.Decimals,
		SkippedBelowMinHolding: p.SkippedBelowMinHolding,
	}
	if len(qualified) == 0 || !totalReward.IsPositive() {
		return plan
	}

	totalBalance := decimal.Zero
	for _, h := range qualified {
		totalBalance = totalBalance.Add(h.Balance)
	}
	if !totalBalance.IsPositive() {
		return plan
	}

	// Work in base units of the reward asset so truncation is an integer quotient.
	scale := decimal.New(1, p.Decimals)
	rewardUnits := totalReward.Mul(scale)

	for _, h := range qualified {
		numerator := h.Balance.Mul(rewardUnits)
		payableUnits, _ := numerator.QuoRem(totalBalance, 0)
		payable := payableUnits.Shift(-p.Decimals)

		if !payable.IsPositive() {
			if numerator.IsPositive() {
				plan.SkippedBelowMinPayout++
			}
			continue
		}
		if payable.LessThan(p.MinimumPayoutThreshold) {
			plan.SkippedBelowMinPayout++
			continue
		}

		plan.Entries = append(plan.Entries, domain.PlanEntry{
			Holder:        h,
			RawShare:      rawShare(h.Balance, totalBalance, totalReward),
			PayableAmount: payable,
		})
	}

	return plan
}

// rawShare is the untruncated share, reported for audit only.
func rawShare(balance, totalBalance, totalReward decimal.Decimal) decimal.Decimal {
	return balance.Mul(totalReward).DivRound(totalBalance, 18)
}
