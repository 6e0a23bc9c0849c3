package submission

import (
	"context"
	"fmt"

	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/solana"
)

// statusCheckAttempts bounds retries of the pre-resign landing check.
const statusCheckAttempts = 3

// confirm polls until tx lands, its blockhash expires or ConfirmTimeout elapses.
// It does not observe ctx cancellation: an in-flight attempt always resolves.
func (e *Engine) confirm(ctx context.Context, tx *signedTx) attemptResult {
	deadline := e.clock.Now().Add(e.cfg.ConfirmTimeout)
	notify, unsubscribe := e.subscribe(ctx, tx.signature)
	defer unsubscribe()

	for {
		if ar, done := e.checkLanded(ctx, tx); done {
			return ar
		}

		if height, err := e.blockHeight(ctx); err == nil && height > tx.lastValid {
			// A late landing can only be at or below lastValid; look once more.
			if ar, done := e.checkLanded(ctx, tx); done {
				return ar
			}
			tx.ambiguous = false
			return attemptResult{domain.OutcomeExpired, fmt.Errorf("%w: height %d past last valid %d",
				domain.ErrStateExpired, height, tx.lastValid)}
		}

		if !e.clock.Now().Before(deadline) {
			tx.ambiguous = true
			return attemptResult{domain.OutcomeTransient, fmt.Errorf("%w: confirmation of %s timed out after %s",
				domain.ErrTransientNetwork, tx.signature, e.cfg.ConfirmTimeout)}
		}

		select {
		case <-e.clock.After(e.cfg.ConfirmPoll):
		case n, ok := <-notify:
			if !ok {
				notify = nil
				continue
			}
			if n.Err != nil {
				return attemptResult{domain.OutcomeFailed, &domain.ExecutionError{
					Signature: tx.signature,
					Reason:    fmt.Sprint(n.Err),
				}}
			}
			return attemptResult{domain.OutcomeConfirmed, nil}
		}
	}
}

// checkLanded reports a terminal outcome when tx reached confirmed commitment.
func (e *Engine) checkLanded(ctx context.Context, tx *signedTx) (attemptResult, bool) {
	cctx, cancel := e.callCtx(ctx)
	statuses, err := e.rpc.GetSignatureStatuses(cctx, tx.signature)
	cancel()
	if err != nil {
		e.log.Debug("signature status poll failed", "signature", tx.signature, "error", err)
		return attemptResult{}, false
	}
	if len(statuses) == 0 || !statuses[0].Landed() {
		return attemptResult{}, false
	}
	if statuses[0].Err != nil {
		return attemptResult{domain.OutcomeFailed, &domain.ExecutionError{
			Signature: tx.signature,
			Reason:    fmt.Sprint(statuses[0].Err),
		}}, true
	}
	return attemptResult{domain.OutcomeConfirmed, nil}, true
}

func (e *Engine) blockHeight(ctx context.Context) (uint64, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.rpc.GetBlockHeight(cctx)
}

// subscribe opens a websocket notification for sig, or returns a nil channel to
// poll only. The returned func must run once confirmation is resolved.
func (e *Engine) subscribe(ctx context.Context, sig string) (<-chan solana.SignatureNotification, func()) {
	noop := func() {}
	if e.ws == nil {
		return nil, noop
	}
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	ch, unsubscribe, err := e.ws.SubscribeSignature(cctx, sig)
	if err != nil {
		e.log.Debug("signature subscription unavailable, polling", "signature", sig, "error", err)
		return nil, noop
	}
	return ch, unsubscribe
}

// anyLanded reports the first of sigs that landed without error.
func (e *Engine) anyLanded(ctx context.Context, sigs []string) (string, bool) {
	for i := 0; i < statusCheckAttempts; i++ {
		cctx, cancel := e.callCtx(ctx)
		statuses, err := e.rpc.GetSignatureStatuses(cctx, sigs...)
		cancel()
		if err != nil {
			e.log.Warn("status check before re-sign failed", "attempt", i+1, "error", err)
			if !e.wait(context.WithoutCancel(ctx), e.cfg.ConfirmPoll) {
				break
			}
			continue
		}
		for j, st := range statuses {
			if j < len(sigs) && st.Landed() && st.Err == nil {
				return sigs[j], true
			}
		}
		return "", false
	}
	return "", false
}
