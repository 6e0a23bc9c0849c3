package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
	DefaultCommitment  = CommitmentConfirmed
)

// HTTPClient implements RPCClient using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	commitment  string
	limiter     *rate.Limiter
	observer    CallObserver
	requestID   atomic.Uint64
}

// CallObserver is notified after every RPC call, retries included.
type CallObserver func(method string, d time.Duration, err error)

var _ RPCClient = (*HTTPClient)(nil)

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts for idempotent reads.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithCommitment sets the commitment used for reads.
func WithCommitment(commitment string) ClientOption {
	return func(c *HTTPClient) {
		c.commitment = commitment
	}
}

// WithRateLimit throttles outgoing requests to rps with the given burst.
// Non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCallObserver registers a per-call hook, typically for latency metrics.
func WithCallObserver(o CallObserver) ClientOption {
	return func(c *HTTPClient) {
		c.observer = o
	}
}

// NewHTTPClient creates a new Solana RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		commitment:  DefaultCommitment,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// call performs a JSON-RPC call with retries and exponential backoff.
// Only transport failures, 429 and 5xx are retried; RPC errors are returned as is.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	return c.do(ctx, method, params, result, c.maxRetries)
}

// callOnce performs a single JSON-RPC call. Used for non-idempotent methods.
func (c *HTTPClient) callOnce(ctx context.Context, method string, params []interface{}, result interface{}) error {
	return c.do(ctx, method, params, result, 0)
}

func (c *HTTPClient) do(ctx context.Context, method string, params []interface{}, result interface{}, maxRetries int) (err error) {
	if c.observer != nil {
		start := time.Now()
		defer func() {
			c.observer(method, time.Since(start), err)
		}()
	}

	reqID := c.requestID.Add(1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s: rate limiter: %w", method, err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%s: %w", method, ctx.Err())
			}
			lastErr = fmt.Errorf("%w: http request: %w", ErrUnavailable, err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("%w: %s returned 429", ErrRateLimited, method)
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("%w: unexpected status %d: %s", ErrUnavailable, resp.StatusCode, string(respBody))
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("%w: unmarshal response: %w", ErrUnavailable, err)
			continue
		}

		if rpcResp.Error != nil {
			return classify(rpcResp.Error)
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	if maxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetAccountInfo retrieves account info by public key.
// Returns nil if account not found.
func (c *HTTPClient) GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error) {
	params := []interface{}{
		pubkey,
		map[string]interface{}{
			"encoding":   "base64",
			"commitment": c.commitment,
		},
	}

	var result struct {
		Value *rawAccount `json:"value"`
	}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}

	if result.Value == nil {
		return nil, nil
	}

	return result.Value.decode()
}

// rawAccount is the wire form of an account with base64 data.
type rawAccount struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Data       []string `json:"data"` // [base64_data, encoding]
	Executable bool     `json:"executable"`
}

func (r *rawAccount) decode() (*AccountInfo, error) {
	info := &AccountInfo{
		Lamports:   r.Lamports,
		Owner:      r.Owner,
		Executable: r.Executable,
	}
	if len(r.Data) >= 1 && r.Data[0] != "" {
		data, err := base64.StdEncoding.DecodeString(r.Data[0])
		if err != nil {
			return nil, fmt.Errorf("decode account data: %w", err)
		}
		info.Data = data
	}
	return info, nil
}

// GetTokenAccountBalance retrieves the balance of an SPL token account.
func (c *HTTPClient) GetTokenAccountBalance(ctx context.Context, account string) (*TokenAmount, error) {
	params := []interface{}{
		account,
		map[string]interface{}{"commitment": c.commitment},
	}

	var result struct {
		Value struct {
			Amount   string `json:"amount"`
			Decimals uint8  `json:"decimals"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getTokenAccountBalance", params, &result); err != nil {
		return nil, err
	}

	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse token amount %q: %w", result.Value.Amount, err)
	}

	return &TokenAmount{Amount: amount, Decimals: result.Value.Decimals}, nil
}

// GetProgramAccounts lists accounts owned by programID matching all filters.
func (c *HTTPClient) GetProgramAccounts(ctx context.Context, programID string, filters ...AccountFilter) ([]KeyedAccount, error) {
	wireFilters := make([]map[string]interface{}, 0, len(filters))
	for _, f := range filters {
		switch {
		case f.Memcmp != nil:
			wireFilters = append(wireFilters, map[string]interface{}{
				"memcmp": map[string]interface{}{
					"offset": f.Memcmp.Offset,
					"bytes":  f.Memcmp.Bytes,
				},
			})
		case f.DataSize > 0:
			wireFilters = append(wireFilters, map[string]interface{}{"dataSize": f.DataSize})
		}
	}

	config := map[string]interface{}{
		"encoding":   "base64",
		"commitment": c.commitment,
	}
	if len(wireFilters) > 0 {
		config["filters"] = wireFilters
	}

	var result []struct {
		Pubkey  string     `json:"pubkey"`
		Account rawAccount `json:"account"`
	}
	if err := c.call(ctx, "getProgramAccounts", []interface{}{programID, config}, &result); err != nil {
		return nil, err
	}

	accounts := make([]KeyedAccount, 0, len(result))
	for _, r := range result {
		info, err := r.Account.decode()
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", r.Pubkey, err)
		}
		accounts = append(accounts, KeyedAccount{Pubkey: r.Pubkey, Account: *info})
	}
	return accounts, nil
}

// GetLatestBlockhash retrieves a recent blockhash.
func (c *HTTPClient) GetLatestBlockhash(ctx context.Context) (*Blockhash, error) {
	params := []interface{}{map[string]interface{}{"commitment": c.commitment}}

	var result struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getLatestBlockhash", params, &result); err != nil {
		return nil, err
	}

	return &Blockhash{
		Hash:                 result.Value.Blockhash,
		LastValidBlockHeight: result.Value.LastValidBlockHeight,
	}, nil
}

// GetBlockHeight retrieves the current block height.
func (c *HTTPClient) GetBlockHeight(ctx context.Context) (uint64, error) {
	params := []interface{}{map[string]interface{}{"commitment": c.commitment}}
	var result uint64
	if err := c.call(ctx, "getBlockHeight", params, &result); err != nil {
		return 0, err
	}
	return result, nil
}

// SendTransaction submits a serialized transaction exactly once.
// Node-side rebroadcast is disabled; the caller owns retries.
func (c *HTTPClient) SendTransaction(ctx context.Context, tx []byte) (string, error) {
	params := []interface{}{
		base64.StdEncoding.EncodeToString(tx),
		map[string]interface{}{
			"encoding":            "base64",
			"preflightCommitment": c.commitment,
			"maxRetries":          0,
		},
	}

	var signature string
	if err := c.callOnce(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// GetSignatureStatuses retrieves statuses for up to 256 signatures.
func (c *HTTPClient) GetSignatureStatuses(ctx context.Context, signatures ...string) ([]*SignatureStatus, error) {
	params := []interface{}{
		signatures,
		map[string]interface{}{"searchTransactionHistory": false},
	}

	var result struct {
		Value []*struct {
			Slot               uint64      `json:"slot"`
			Confirmations      *uint64     `json:"confirmations"`
			Err                interface{} `json:"err"`
			ConfirmationStatus string      `json:"confirmationStatus"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, err
	}

	statuses := make([]*SignatureStatus, len(signatures))
	for i := range signatures {
		if i >= len(result.Value) || result.Value[i] == nil {
			continue
		}
		v := result.Value[i]
		statuses[i] = &SignatureStatus{
			Slot:               v.Slot,
			Confirmations:      v.Confirmations,
			Err:                v.Err,
			ConfirmationStatus: v.ConfirmationStatus,
		}
	}
	return statuses, nil
}
