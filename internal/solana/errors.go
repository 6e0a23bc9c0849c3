package solana

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Client errors. RPC failures are wrapped so callers classify with errors.Is.
var (
	// ErrRateLimited is returned on HTTP 429 or a JSON-RPC throttling error.
	ErrRateLimited = errors.New("rate limited")

	// ErrBlockhashNotFound is returned when the node rejects a transaction whose
	// blockhash is unknown or past its validity window.
	ErrBlockhashNotFound = errors.New("blockhash not found")

	// ErrAccountNotFound is returned by balance lookups on missing accounts.
	ErrAccountNotFound = errors.New("account not found")

	// ErrUnavailable covers transport failures and 5xx responses.
	ErrUnavailable = errors.New("rpc unavailable")

	// ErrSimulationFailed is a preflight failure for reasons other than the blockhash.
	ErrSimulationFailed = errors.New("transaction simulation failed")
)

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// JSON-RPC error codes used by Solana nodes.
const (
	codeInvalidParams          = -32602
	codeSendTxPreflightFailure = -32002
	codeBlockhashNotFound      = -32003 // legacy "blockhash not found" on send
	codeNodeUnhealthy          = -32005
	codeTooManyRequests        = 429
)

// classify wraps an RPC error with the matching client sentinel.
func classify(e *RPCError) error {
	msg := strings.ToLower(e.Message)
	switch {
	case e.Code == codeTooManyRequests || strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit"):
		return fmt.Errorf("%w: %w", ErrRateLimited, e)
	case e.Code == codeBlockhashNotFound || strings.Contains(msg, "blockhash not found"):
		return fmt.Errorf("%w: %w", ErrBlockhashNotFound, e)
	case e.Code == codeSendTxPreflightFailure:
		if preflightBlockhashMissing(e.Data) {
			return fmt.Errorf("%w: %w", ErrBlockhashNotFound, e)
		}
		return fmt.Errorf("%w: %w", ErrSimulationFailed, e)
	case e.Code == codeNodeUnhealthy:
		return fmt.Errorf("%w: %w", ErrUnavailable, e)
	case e.Code == codeInvalidParams && strings.Contains(msg, "could not find account"):
		return fmt.Errorf("%w: %w", ErrAccountNotFound, e)
	}
	return e
}

// preflightBlockhashMissing inspects the simulation result attached to a preflight failure.
func preflightBlockhashMissing(data json.RawMessage) bool {
	if len(data) == 0 {
		return false
	}
	var sim struct {
		Err json.RawMessage `json:"err"`
	}
	if err := json.Unmarshal(data, &sim); err != nil {
		return false
	}
	return strings.Contains(string(sim.Err), "BlockhashNotFound")
}
