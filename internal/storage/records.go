package storage

import (
	"github.com/shopspring/decimal"

	"solana-reward-distributor/internal/domain"
)

// CycleRecord is the persisted row of a cycle.
type CycleRecord struct {
	CycleID                string
	CycleKey               string
	Status                 domain.CycleStatus
	StartedAt              int64
	FinishedAt             int64
	HoldersTotal           int
	HoldersQualified       int
	FeeAmount              decimal.Decimal
	ConvertedAmount        decimal.Decimal
	ConversionSignature    string
	TotalReward            decimal.Decimal
	CarriedIn              decimal.Decimal
	Remainder              decimal.Decimal
	SkippedBelowMinHolding int
	SkippedBelowMinPayout  int
	BatchesTotal           int
	BatchesConfirmed       int
	BatchesFailed          int
	Error                  string
}

// BatchRecord is the persisted outcome of one batch.
type BatchRecord struct {
	CycleID    string
	BatchID    string
	Index      int
	State      domain.Outcome
	Signature  string
	Attempts   int
	Recipients int
	Amount     decimal.Decimal
	Error      string
}

// NewCycleRecord flattens a summary. cycleErr is the error the cycle ended with, if any.
func NewCycleRecord(s domain.CycleSummary, cycleKey string, cycleErr error) *CycleRecord {
	rec := &CycleRecord{
		CycleID:                s.CycleID,
		CycleKey:               cycleKey,
		Status:                 s.Status,
		StartedAt:              s.StartedAt,
		FinishedAt:             s.FinishedAt,
		HoldersTotal:           s.HoldersTotal,
		HoldersQualified:       s.HoldersQualified,
		FeeAmount:              s.FeeAmount,
		TotalReward:            s.TotalReward,
		CarriedIn:              s.CarriedIn,
		Remainder:              s.Remainder,
		SkippedBelowMinHolding: s.SkippedBelowMinHolding,
		SkippedBelowMinPayout:  s.SkippedBelowMinPayout,
		BatchesTotal:           s.BatchesTotal(),
		BatchesConfirmed:       s.Count(domain.OutcomeConfirmed),
		BatchesFailed:          s.Count(domain.OutcomeFailed),
	}
	if s.Conversion != nil {
		rec.ConvertedAmount = s.Conversion.OutputAmount
		rec.ConversionSignature = s.Conversion.Signature
	}
	if cycleErr != nil {
		rec.Error = cycleErr.Error()
	}
	return rec
}

// NewBatchRecords pairs results with the batches they came from, matched by ID.
func NewBatchRecords(cycleID string, results []domain.BatchResult, batches []domain.TransactionBatch) []BatchRecord {
	byID := make(map[string]domain.TransactionBatch, len(batches))
	for _, b := range batches {
		byID[b.ID] = b
	}

	out := make([]BatchRecord, 0, len(results))
	for _, r := range results {
		rec := BatchRecord{
			CycleID:   cycleID,
			BatchID:   r.BatchID,
			Index:     r.Index,
			State:     r.State,
			Signature: r.Signature,
			Attempts:  r.Attempts,
			Amount:    decimal.Zero,
		}
		if b, ok := byID[r.BatchID]; ok {
			rec.Recipients = len(b.Recipients)
			rec.Amount = b.TotalAmount()
		}
		if r.LastErr != nil && r.State != domain.OutcomeConfirmed {
			rec.Error = r.LastErr.Error()
		}
		out = append(out, rec)
	}
	return out
}
