package events

import (
	"context"
	"sync"

	"solana-reward-distributor/internal/domain"
)

// AttemptRelay turns submission attempts into attempt events tagged with the
// running cycle. Register Observe with the submission engine.
type AttemptRelay struct {
	sink Sink

	mu      sync.RWMutex
	ctx     context.Context
	cycleID string
}

// NewAttemptRelay creates a relay forwarding to sink.
func NewAttemptRelay(sink Sink) *AttemptRelay {
	return &AttemptRelay{sink: sink, ctx: context.Background()}
}

// Begin tags subsequent attempts with cycleID; ctx is passed to the sink.
func (r *AttemptRelay) Begin(ctx context.Context, cycleID string) {
	r.mu.Lock()
	r.ctx = context.WithoutCancel(ctx)
	r.cycleID = cycleID
	r.mu.Unlock()
}

// End clears the cycle tag.
func (r *AttemptRelay) End() {
	r.mu.Lock()
	r.ctx = context.Background()
	r.cycleID = ""
	r.mu.Unlock()
}

// Observe forwards one attempt.
func (r *AttemptRelay) Observe(a domain.SubmissionAttempt) {
	r.mu.RLock()
	ctx, cycleID := r.ctx, r.cycleID
	r.mu.RUnlock()

	ev := domain.AttemptEvent{
		CycleID:   cycleID,
		BatchID:   a.BatchID,
		Attempt:   a.AttemptNumber,
		Outcome:   a.Outcome,
		BackoffMs: a.BackoffMs,
		Signature: a.Signature,
		At:        a.At,
	}
	if a.Err != nil {
		ev.Error = a.Err.Error()
	}
	r.sink.Attempt(ctx, ev)
}
