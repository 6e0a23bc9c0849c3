package domain

import "github.com/shopspring/decimal"

// Holder is a point-in-time snapshot of one wallet's balance of the distributed token.
// Balance is expressed in UI units (raw amount scaled by token decimals).
type Holder struct {
	Address string          // owner wallet, base58
	Balance decimal.Decimal // UI units, never negative once filtered
}

// EligibilityResult partitions a holder snapshot by the minimum-holding threshold.
// DisqualifiedCount + len(Qualified) always equals the number of holders filtered.
type EligibilityResult struct {
	Qualified         []Holder
	DisqualifiedCount int
	// Rejected counts malformed holders (negative balance, empty address).
	// They are included in DisqualifiedCount.
	Rejected int
}

// Total returns the number of holders that went through the filter.
func (r EligibilityResult) Total() int {
	return len(r.Qualified) + r.DisqualifiedCount
}

// TotalBalance sums qualified balances.
func (r EligibilityResult) TotalBalance() decimal.Decimal {
	total := decimal.Zero
	for _, h := range r.Qualified {
		total = total.Add(h.Balance)
	}
	return total
}
