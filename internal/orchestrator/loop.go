package orchestrator

import (
	"context"
	"errors"
	"time"

	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/storage"
)

// RunEvery runs a cycle immediately and then once per interval until ctx is done.
// A cycle that is still locked elsewhere is skipped; other failures are logged
// and the loop continues. Configuration errors stop the loop.
func (o *Orchestrator) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := o.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, err := o.Run(ctx)
		switch {
		case err == nil:
		case errors.Is(err, storage.ErrLocked):
			o.log.Warn("cycle skipped, another run holds the lock")
		case errors.Is(err, domain.ErrConfiguration):
			return err
		default:
			// Already logged by the cycle.
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
	}
}
