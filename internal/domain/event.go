package domain

import "github.com/shopspring/decimal"

// CyclePhase marks which side of a cycle an event describes.
type CyclePhase string

// Cycle phases.
const (
	PhaseStart CyclePhase = "start"
	PhaseEnd   CyclePhase = "end"
)

// CycleEvent is emitted at cycle start and end. Counters are zero at start.
type CycleEvent struct {
	Phase                  CyclePhase      `json:"phase"`
	CycleID                string          `json:"cycleId"`
	Status                 CycleStatus     `json:"status,omitempty"`
	HoldersTotal           int             `json:"holdersTotal"`
	HoldersQualified       int             `json:"holdersQualified"`
	TotalReward            decimal.Decimal `json:"totalReward"`
	BatchesTotal           int             `json:"batchesTotal"`
	BatchesConfirmed       int             `json:"batchesConfirmed"`
	BatchesFailed          int             `json:"batchesFailed"`
	SkippedBelowMinHolding int             `json:"skippedBelowMinHolding"`
	SkippedBelowMinPayout  int             `json:"skippedBelowMinPayout"`
	SkippedInvalid         int             `json:"skippedInvalid"`
	LookupFailures         int             `json:"lookupFailures"`
	Error                  string          `json:"error,omitempty"`
	At                     int64           `json:"at"`
}

// AttemptEvent is emitted for every submission attempt.
type AttemptEvent struct {
	CycleID   string  `json:"cycleId"`
	BatchID   string  `json:"batchId"`
	Attempt   int     `json:"attempt"`
	Outcome   Outcome `json:"outcome"`
	BackoffMs int64   `json:"backoffMs"`
	Signature string  `json:"signature,omitempty"`
	Error     string  `json:"error,omitempty"`
	At        int64   `json:"at"`
}

// EndEvent builds the end-of-cycle event from a summary.
func EndEvent(s CycleSummary, err error) CycleEvent {
	ev := CycleEvent{
		Phase:                  PhaseEnd,
		CycleID:                s.CycleID,
		Status:                 s.Status,
		HoldersTotal:           s.HoldersTotal,
		HoldersQualified:       s.HoldersQualified,
		TotalReward:            s.TotalReward,
		BatchesTotal:           s.BatchesTotal(),
		BatchesConfirmed:       s.Count(OutcomeConfirmed),
		BatchesFailed:          s.Count(OutcomeFailed),
		SkippedBelowMinHolding: s.SkippedBelowMinHolding,
		SkippedBelowMinPayout:  s.SkippedBelowMinPayout,
		SkippedInvalid:         s.SkippedInvalid,
		LookupFailures:         s.LookupFailures,
		At:                     s.FinishedAt,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
