package holders

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"solana-reward-distributor/internal/domain"
)

// Filter partitions holders by minimumHoldingThreshold, preserving input order.
// Malformed holders are logged, excluded and counted as disqualified.
func Filter(holders []domain.Holder, minimumHoldingThreshold decimal.Decimal, log *slog.Logger) domain.EligibilityResult {
	var res domain.EligibilityResult
	for _, h := range holders {
		if h.Address == "" || h.Balance.IsNegative() {
			log.Warn("holder anomaly, excluded",
				"address", h.Address,
				"balance", h.Balance.String(),
			)
			res.DisqualifiedCount++
			res.Rejected++
			continue
		}
		if h.Balance.GreaterThanOrEqual(minimumHoldingThreshold) {
			res.Qualified = append(res.Qualified, h)
			continue
		}
		res.DisqualifiedCount++
	}
	return res
}
