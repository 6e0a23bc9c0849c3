package pool

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"solana-reward-distributor/internal/batch"
	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/submission"
)

// Submitter lands a prepared transaction.
type Submitter interface {
	SubmitPrepared(ctx context.Context, id string, prepare submission.PrepareFunc) domain.BatchResult
}

// JupiterConfig configures the swap API client.
type JupiterConfig struct {
	BaseURL        string
	User           solanago.PublicKey
	Dex            string // restricts routing to the configured pool's DEX
	SlippageBps    int64
	RewardDecimals int32
	Timeout        time.Duration
}

// Jupiter executes swaps through the Jupiter swap API. Each preparation fetches a
// fresh quote and transaction, so an expired swap is re-quoted rather than re-signed.
type Jupiter struct {
	cfg    JupiterConfig
	http   *http.Client
	signer submission.Signer
	submit Submitter
	log    *slog.Logger
}

var _ Executor = (*Jupiter)(nil)

// NewJupiter creates a swap executor.
func NewJupiter(cfg JupiterConfig, httpClient *http.Client, signer submission.Signer, submit Submitter, log *slog.Logger) *Jupiter {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Jupiter{
		cfg:    cfg,
		http:   httpClient,
		signer: signer,
		submit: submit,
		log:    log.With("component", "jupiter"),
	}
}

type quoteResponse struct {
	raw       json.RawMessage
	OutAmount uint64
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// Execute quotes, builds, signs and lands the swap.
func (j *Jupiter) Execute(ctx context.Context, req SwapRequest) (domain.SwapReceipt, error) {
	var quoted uint64
	prepare := func(ctx context.Context) (submission.Prepared, error) {
		q, err := j.quote(ctx, req)
		if err != nil {
			return submission.Prepared{}, err
		}
		if q.OutAmount < req.MinOut {
			return submission.Prepared{}, fmt.Errorf("%w: quoted %d below minimum %d",
				domain.ErrSlippageExceeded, q.OutAmount, req.MinOut)
		}
		quoted = q.OutAmount
		return j.build(ctx, q)
	}

	// Every Execute is a new trade; equal amounts in later cycles must not hit
	// the engine's confirmed cache.
	id := "swap-" + uuid.NewString()
	res := j.submit.SubmitPrepared(ctx, id, prepare)
	if res.State != domain.OutcomeConfirmed {
		return domain.SwapReceipt{}, fmt.Errorf("swap %s: %w", res.State, res.LastErr)
	}

	j.log.Info("swap confirmed", "signature", res.Signature, "quoted_out", quoted)
	return domain.SwapReceipt{
		Signature:    res.Signature,
		QuotedOutput: batch.FromBaseUnits(quoted, j.cfg.RewardDecimals),
	}, nil
}

func (j *Jupiter) quote(ctx context.Context, req SwapRequest) (*quoteResponse, error) {
	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", strconv.FormatUint(req.AmountIn, 10))
	q.Set("slippageBps", strconv.FormatInt(j.cfg.SlippageBps, 10))
	q.Set("onlyDirectRoutes", "true")
	if j.cfg.Dex != "" {
		q.Set("dexes", j.cfg.Dex)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, j.cfg.BaseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create quote request: %w", err)
	}
	body, err := j.do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}

	var parsed struct {
		OutAmount string `json:"outAmount"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	out, err := strconv.ParseUint(parsed.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: quote outAmount %q", domain.ErrPoolUnavailable, parsed.OutAmount)
	}
	return &quoteResponse{raw: body, OutAmount: out}, nil
}

func (j *Jupiter) build(ctx context.Context, q *quoteResponse) (submission.Prepared, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"quoteResponse":           q.raw,
		"userPublicKey":           j.cfg.User.String(),
		"wrapAndUnwrapSol":        true,
		"dynamicComputeUnitLimit": true,
	})
	if err != nil {
		return submission.Prepared{}, fmt.Errorf("marshal swap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.cfg.BaseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return submission.Prepared{}, fmt.Errorf("create swap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	body, err := j.do(httpReq)
	if err != nil {
		return submission.Prepared{}, fmt.Errorf("swap: %w", err)
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return submission.Prepared{}, fmt.Errorf("decode swap response: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil {
		return submission.Prepared{}, fmt.Errorf("decode swap transaction: %w", err)
	}
	tx, err := solanago.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return submission.Prepared{}, fmt.Errorf("decode swap transaction: %w", err)
	}
	if len(tx.Message.AccountKeys) == 0 || tx.Message.AccountKeys[0] != j.cfg.User {
		return submission.Prepared{}, fmt.Errorf("%w: swap transaction not payable by %s",
			domain.ErrConfiguration, j.cfg.User)
	}

	// The API returns placeholder signatures.
	tx.Signatures = nil
	if err := j.signer.Sign(tx); err != nil {
		return submission.Prepared{}, fmt.Errorf("%w: sign swap: %w", domain.ErrConfiguration, err)
	}
	signed, err := tx.MarshalBinary()
	if err != nil {
		return submission.Prepared{}, fmt.Errorf("%w: serialize swap: %w", domain.ErrConfiguration, err)
	}

	return submission.Prepared{
		Raw:                  signed,
		Signature:            tx.Signatures[0].String(),
		LastValidBlockHeight: resp.LastValidBlockHeight,
	}, nil
}

func (j *Jupiter) do(req *http.Request) ([]byte, error) {
	resp, err := j.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: HTTP 429", domain.ErrTransientNetwork)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d", domain.ErrTransientNetwork, resp.StatusCode)
	case resp.StatusCode == http.StatusBadRequest:
		// No route through the configured DEX.
		return nil, fmt.Errorf("%w: HTTP 400: %s", domain.ErrPoolUnavailable, strings.TrimSpace(string(body)))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
