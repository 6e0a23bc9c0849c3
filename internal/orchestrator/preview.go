package orchestrator

import (
	"context"

	"github.com/shopspring/decimal"

	"solana-reward-distributor/internal/domain"
)

// Preview is a dry-run view of the next cycle.
type Preview struct {
	HoldersTotal int
	Eligibility  domain.EligibilityResult
	FeeAmount    decimal.Decimal
	// QuotedReward is the pool quote for FeeAmount; the real cycle distributes the
	// realized output instead.
	QuotedReward decimal.Decimal
	CarriedIn    decimal.Decimal
	Plan         domain.DistributionPlan
}

// Preview runs the cycle up to planning without collecting, swapping or sending.
// It takes no lock and records nothing.
func (o *Orchestrator) Preview(ctx context.Context) (Preview, error) {
	carried, err := o.carriedIn(ctx)
	if err != nil {
		return Preview{}, err
	}

	in, err := o.gather(ctx, "preview", false)
	if err != nil {
		return Preview{}, err
	}

	p := Preview{
		HoldersTotal: in.holdersTotal,
		Eligibility:  in.eligibility,
		FeeAmount:    in.fee,
		QuotedReward: decimal.Zero,
		CarriedIn:    carried,
	}
	if in.quote != nil {
		p.QuotedReward = in.quote.Output
	}
	p.Plan = o.plan(in, p.QuotedReward.Add(carried))

	o.log.Info("preview ready",
		"holders", p.HoldersTotal,
		"qualified", len(p.Eligibility.Qualified),
		"fee_amount", p.FeeAmount.String(),
		"quoted_reward", p.QuotedReward.String(),
		"payouts", len(p.Plan.Entries),
	)
	return p, nil
}
