// Package events delivers cycle and attempt events to logs, webhooks and alerting.
//
// Delivery is best effort: a failing sink is logged and never fails the cycle.
package events

import (
	"context"
	"log/slog"

	"solana-reward-distributor/internal/domain"
)

// Sink receives cycle events.
type Sink interface {
	Cycle(ctx context.Context, ev domain.CycleEvent)
	Attempt(ctx context.Context, ev domain.AttemptEvent)
}

// Fanout forwards every event to each sink in order.
type Fanout []Sink

var _ Sink = Fanout(nil)

// Cycle implements Sink.
func (f Fanout) Cycle(ctx context.Context, ev domain.CycleEvent) {
	for _, s := range f {
		s.Cycle(ctx, ev)
	}
}

// Attempt implements Sink.
func (f Fanout) Attempt(ctx context.Context, ev domain.AttemptEvent) {
	for _, s := range f {
		s.Attempt(ctx, ev)
	}
}

// LogSink writes events to a structured logger.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log.With("component", "events")}
}

// Cycle implements Sink.
func (s *LogSink) Cycle(ctx context.Context, ev domain.CycleEvent) {
	level := slog.LevelInfo
	if ev.Error != "" || ev.BatchesFailed > 0 {
		level = slog.LevelWarn
	}
	s.log.Log(ctx, level, "cycle "+string(ev.Phase),
		"cycle_id", ev.CycleID,
		"status", string(ev.Status),
		"holders_total", ev.HoldersTotal,
		"holders_qualified", ev.HoldersQualified,
		"total_reward", ev.TotalReward.String(),
		"batches_total", ev.BatchesTotal,
		"batches_confirmed", ev.BatchesConfirmed,
		"batches_failed", ev.BatchesFailed,
		"skipped_below_min_holding", ev.SkippedBelowMinHolding,
		"skipped_below_min_payout", ev.SkippedBelowMinPayout,
		"skipped_invalid", ev.SkippedInvalid,
		"lookup_failures", ev.LookupFailures,
		"error", ev.Error,
	)
}

// Attempt implements Sink.
func (s *LogSink) Attempt(ctx context.Context, ev domain.AttemptEvent) {
	level := slog.LevelDebug
	switch ev.Outcome {
	case domain.OutcomeFailed:
		level = slog.LevelError
	case domain.OutcomeRateLimited, domain.OutcomeExpired, domain.OutcomeTransient:
		level = slog.LevelWarn
	}
	s.log.Log(ctx, level, "submission attempt",
		"cycle_id", ev.CycleID,
		"batch_id", ev.BatchID,
		"attempt", ev.Attempt,
		"outcome", string(ev.Outcome),
		"backoff_ms", ev.BackoffMs,
		"signature", ev.Signature,
		"error", ev.Error,
	)
}
