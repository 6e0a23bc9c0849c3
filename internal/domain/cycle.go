package domain

import "github.com/shopspring/decimal"

// CycleStatus is the lifecycle state of a distribution cycle.
type CycleStatus string

// Cycle statuses.
const (
	CycleRunning   CycleStatus = "RUNNING"
	CycleCompleted CycleStatus = "COMPLETED"
	CyclePartial   CycleStatus = "PARTIAL"
	CycleAborted   CycleStatus = "ABORTED"
	CycleEmpty     CycleStatus = "EMPTY"
)

// CycleSummary reports everything a cycle did, including failures.
type CycleSummary struct {
	CycleID                string
	Status                 CycleStatus
	StartedAt              int64 // Unix ms
	FinishedAt             int64 // Unix ms
	HoldersTotal           int
	HoldersQualified       int
	Disqualified           int
	FeeAmount              decimal.Decimal
	Conversion             *ConversionResult
	TotalReward            decimal.Decimal
	CarriedIn              decimal.Decimal
	Remainder              decimal.Decimal
	SkippedBelowMinHolding int
	SkippedBelowMinPayout  int
	// SkippedInvalid counts payouts dropped at build time because the holder
	// address or amount could not be encoded. Their share stays undelivered.
	SkippedInvalid int
	// LookupFailures counts destination account lookups that failed; those
	// holders were still paid through an idempotent account creation.
	LookupFailures int
	Results        []BatchResult
}

// BatchesTotal returns the number of batches built for the cycle.
func (s CycleSummary) BatchesTotal() int {
	return len(s.Results)
}

// Count returns the number of batches that ended in the given state.
func (s CycleSummary) Count(state Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.State == state {
			n++
		}
	}
	return n
}

// Signatures lists signatures of confirmed batches in batch order.
func (s CycleSummary) Signatures() []string {
	var sigs []string
	for _, r := range s.Results {
		if r.State == OutcomeConfirmed && r.Signature != "" {
			sigs = append(sigs, r.Signature)
		}
	}
	return sigs
}
