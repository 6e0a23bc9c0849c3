package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/getsentry/sentry-go"

	"solana-reward-distributor/internal/domain"
)

// SentrySink reports aborted cycles and failed batches to Sentry.
type SentrySink struct {
	hub *sentry.Hub
}

// NewSentrySink wraps hub. Use sentry.CurrentHub() after sentry.Init.
func NewSentrySink(hub *sentry.Hub) *SentrySink {
	return &SentrySink{hub: hub}
}

// Cycle implements Sink.
func (s *SentrySink) Cycle(_ context.Context, ev domain.CycleEvent) {
	if ev.Phase != domain.PhaseEnd || (ev.Error == "" && ev.BatchesFailed == 0) {
		return
	}
	msg := ev.Error
	if msg == "" {
		msg = fmt.Sprintf("%d of %d batches failed", ev.BatchesFailed, ev.BatchesTotal)
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("cycle_id", ev.CycleID)
		scope.SetTag("status", string(ev.Status))
		scope.SetContext("cycle", sentry.Context{
			"holders_total":     ev.HoldersTotal,
			"holders_qualified": ev.HoldersQualified,
			"total_reward":      ev.TotalReward.String(),
			"batches_total":     ev.BatchesTotal,
			"batches_confirmed": ev.BatchesConfirmed,
			"batches_failed":    ev.BatchesFailed,
		})
		s.hub.CaptureException(errors.New(msg))
	})
}

// Attempt implements Sink.
func (s *SentrySink) Attempt(_ context.Context, ev domain.AttemptEvent) {
	if ev.Outcome != domain.OutcomeFailed {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("cycle_id", ev.CycleID)
		scope.SetTag("batch_id", ev.BatchID)
		scope.SetContext("attempt", sentry.Context{
			"attempt":   ev.Attempt,
			"signature": ev.Signature,
		})
		s.hub.CaptureException(fmt.Errorf("batch %s failed: %s", ev.BatchID, ev.Error))
	})
}
