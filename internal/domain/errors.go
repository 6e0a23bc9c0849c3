package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Callers classify with errors.Is.
var (
	// ErrTransientNetwork covers timeouts, rate limits and 5xx responses. Retryable.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrStateExpired means the transaction's blockhash is past its validity window.
	ErrStateExpired = errors.New("blockhash expired")

	// ErrConfiguration is fatal; reported before any network call where possible.
	ErrConfiguration = errors.New("configuration error")

	// ErrLiquidity aborts conversion and the cycle.
	ErrLiquidity = errors.New("liquidity error")

	// ErrPartialDistribution is returned alongside a summary when some batches failed.
	ErrPartialDistribution = errors.New("partial distribution")
)

// Specific errors.
var (
	ErrInsufficientLiquidity = fmt.Errorf("%w: insufficient liquidity", ErrLiquidity)
	ErrSlippageExceeded      = fmt.Errorf("%w: slippage exceeded", ErrLiquidity)
	ErrPoolUnavailable       = fmt.Errorf("%w: pool unavailable", ErrLiquidity)
	ErrBatchTooLarge         = fmt.Errorf("%w: batch too large", ErrConfiguration)
	ErrInvalidConfig         = fmt.Errorf("%w: invalid config", ErrConfiguration)
)

// ExecutionError is an on-chain failure of a landed transaction. Not retryable.
type ExecutionError struct {
	Signature string
	Reason    string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("transaction %s failed on-chain: %s", e.Signature, e.Reason)
}
