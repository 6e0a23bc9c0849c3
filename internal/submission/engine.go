// Package submission sends transaction batches under rate limits, blockhash
// expiry and flaky networks.
//
// Each batch runs through Pending → Sending → {Confirmed | RateLimited | Expired |
// Transient | Failed}. A transaction whose fate is unknown is re-broadcast
// unchanged until its blockhash expires; one the node rejected outright is
// re-signed on a fresh blockhash. A batch is re-signed only after its previous
// signatures are known not to have landed, so a batch pays out at most once.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/solana"
)

// Signer signs a transaction with every key it requires.
type Signer interface {
	Sign(tx *solanago.Transaction) error
}

// AttemptObserver receives every finished attempt.
type AttemptObserver func(domain.SubmissionAttempt)

// Config tunes retries and pacing.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	InterBatchSpacing time.Duration
	// CallTimeout bounds each individual RPC call.
	CallTimeout time.Duration
	// ConfirmTimeout bounds confirmation of one attempt.
	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration
}

// Engine submits batches sequentially. Safe for use by one cycle at a time.
type Engine struct {
	rpc      solana.RPCClient
	ws       solana.WSClient
	signer   Signer
	cfg      Config
	clock    clockwork.Clock
	observer AttemptObserver
	log      *slog.Logger

	mu      sync.Mutex
	settled map[string]domain.BatchResult
}

// Option configures Engine.
type Option func(*Engine)

// WithClock replaces the real clock.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithWSClient enables signatureSubscribe as a confirmation fast path.
func WithWSClient(ws solana.WSClient) Option {
	return func(e *Engine) {
		e.ws = ws
	}
}

// WithObserver registers a per-attempt callback.
func WithObserver(o AttemptObserver) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// New creates an Engine.
func New(rpc solana.RPCClient, signer Signer, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		rpc:     rpc,
		signer:  signer,
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		log:     slog.Default(),
		settled: make(map[string]domain.BatchResult),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "submission")
	return e
}

// SubmitAll submits batches one at a time in order. After cancellation no new
// batch starts; the remaining ones are reported as not attempted.
//
// Remembered results are narrowed to this batch set first, so a long-running
// process only keeps the current cycle's outcomes.
func (e *Engine) SubmitAll(ctx context.Context, batches []domain.TransactionBatch) []domain.BatchResult {
	e.retain(batches)

	results := make([]domain.BatchResult, 0, len(batches))
	for i, b := range batches {
		if ctx.Err() != nil {
			results = append(results, notAttempted(batches[i:])...)
			break
		}

		res := e.Submit(ctx, b)
		results = append(results, res)

		if res.State == domain.OutcomeConfirmed && i < len(batches)-1 && e.cfg.InterBatchSpacing > 0 {
			select {
			case <-ctx.Done():
			case <-e.clock.After(e.cfg.InterBatchSpacing):
			}
		}
	}
	return results
}

// retain forgets settled results of batches outside keep.
func (e *Engine) retain(keep []domain.TransactionBatch) {
	ids := make(map[string]struct{}, len(keep))
	for _, b := range keep {
		ids[b.ID] = struct{}{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.settled {
		if _, ok := ids[id]; !ok {
			delete(e.settled, id)
		}
	}
}

func notAttempted(batches []domain.TransactionBatch) []domain.BatchResult {
	out := make([]domain.BatchResult, len(batches))
	for i, b := range batches {
		out[i] = domain.BatchResult{BatchID: b.ID, Index: b.Index, State: domain.OutcomeNotAttempted}
	}
	return out
}

// signedTx is one signed rendition of a batch.
type signedTx struct {
	raw       []byte
	signature string
	lastValid uint64
	// ambiguous is set once a send or confirmation of this transaction ended
	// without a definite answer; it may still land until lastValid.
	ambiguous bool
}

// Prepared is a signed transaction ready to broadcast.
type Prepared struct {
	Raw                  []byte
	Signature            string
	LastValidBlockHeight uint64
}

// PrepareFunc produces a freshly signed transaction. It is called once per
// blockhash: at the start and again after every expiry.
type PrepareFunc func(ctx context.Context) (Prepared, error)

// attemptResult is the outcome of a single send plus confirmation.
type attemptResult struct {
	outcome domain.Outcome
	err     error
}

// Submit drives one batch to a terminal state. A batch already confirmed by this
// engine is returned from memory without touching the network.
func (e *Engine) Submit(ctx context.Context, batch domain.TransactionBatch) domain.BatchResult {
	return e.submit(ctx, batch.ID, batch.Index, func(ctx context.Context) (Prepared, error) {
		return e.sign(ctx, batch)
	})
}

// SubmitPrepared drives an externally built transaction, such as a swap, through
// the same retry and confirmation rules as a batch.
func (e *Engine) SubmitPrepared(ctx context.Context, id string, prepare PrepareFunc) domain.BatchResult {
	return e.submit(ctx, id, 0, prepare)
}

func (e *Engine) submit(ctx context.Context, id string, index int, prepare PrepareFunc) domain.BatchResult {
	if res, ok := e.confirmed(id); ok {
		e.log.Debug("batch already confirmed, skipping", "batch_id", id)
		return res
	}

	res := e.run(ctx, id, index, prepare)

	e.mu.Lock()
	e.settled[id] = res
	e.mu.Unlock()

	return res
}

func (e *Engine) confirmed(id string) (domain.BatchResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, ok := e.settled[id]
	if !ok || res.State != domain.OutcomeConfirmed {
		return domain.BatchResult{}, false
	}
	return res, true
}

// batchRun carries one batch through the retry loop.
type batchRun struct {
	e    *Engine
	log  *slog.Logger
	res  domain.BatchResult
	last domain.Outcome
}

func (r *batchRun) observe(backoff time.Duration, outcome domain.Outcome, sig string, err error) {
	r.last = outcome
	r.e.observe(r.res.BatchID, r.res.Index, r.res.Attempts, backoff, outcome, sig, err)
}

// finish settles the batch. The terminal state is always the last observed outcome.
func (r *batchRun) finish(state domain.Outcome, sig string, err error) domain.BatchResult {
	if r.last != state {
		r.observe(0, state, sig, err)
	}
	r.res.State = state
	r.res.Signature = sig
	r.res.LastErr = err
	if state == domain.OutcomeConfirmed {
		r.log.Info("batch confirmed", "signature", sig, "attempts", r.res.Attempts)
	} else {
		r.log.Error("batch failed", "attempts", r.res.Attempts, "error", err)
	}
	return r.res
}

func (e *Engine) run(ctx context.Context, id string, index int, prepare PrepareFunc) domain.BatchResult {
	r := &batchRun{
		e:   e,
		log: e.log.With("batch_id", id, "batch_index", index),
		res: domain.BatchResult{BatchID: id, Index: index, State: domain.OutcomePending},
	}

	var current *signedTx
	var sent []string
	backoffStep := 0

	for attempt := 1; ; attempt++ {
		r.res.Attempts = attempt

		if current == nil {
			if len(sent) > 0 {
				if sig, landed := e.anyLanded(ctx, sent); landed {
					return r.finish(domain.OutcomeConfirmed, sig, nil)
				}
			}
			p, err := prepare(ctx)
			if err != nil {
				ar := classifyPrepare(err)
				if ar.outcome == domain.OutcomeFailed {
					return r.finish(domain.OutcomeFailed, "", ar.err)
				}
				if !e.retryAllowed(attempt) {
					r.observe(0, ar.outcome, "", ar.err)
					return r.finish(domain.OutcomeFailed, "", exhausted(ar.err))
				}
				backoff := e.backoff(backoffStep)
				backoffStep++
				r.observe(backoff, ar.outcome, "", ar.err)
				if !e.wait(ctx, backoff) {
					return r.finish(domain.OutcomeFailed, "", ctx.Err())
				}
				continue
			}
			current = &signedTx{raw: p.Raw, signature: p.Signature, lastValid: p.LastValidBlockHeight}
			sent = append(sent, p.Signature)
		}

		r.log.Debug("sending batch", "attempt", attempt, "signature", current.signature)
		ar := e.attempt(ctx, current)
		r.res.LastErr = ar.err

		switch ar.outcome {
		case domain.OutcomeConfirmed:
			return r.finish(domain.OutcomeConfirmed, current.signature, nil)

		case domain.OutcomeFailed:
			return r.finish(domain.OutcomeFailed, current.signature, ar.err)

		case domain.OutcomeExpired:
			// Refresh immediately; the old signature is checked before re-signing.
			r.observe(0, ar.outcome, current.signature, ar.err)
			current = nil
			if !e.retryAllowed(attempt) {
				return e.giveUp(ctx, r, sent, exhausted(ar.err))
			}
			if ctx.Err() != nil {
				return e.giveUp(ctx, r, sent, ctx.Err())
			}

		case domain.OutcomeRateLimited, domain.OutcomeTransient:
			if !e.retryAllowed(attempt) {
				r.observe(0, ar.outcome, current.signature, ar.err)
				return e.giveUp(ctx, r, sent, exhausted(ar.err), current)
			}
			backoff := e.backoff(backoffStep)
			backoffStep++
			r.observe(backoff, ar.outcome, current.signature, ar.err)
			if !e.wait(ctx, backoff) {
				return e.giveUp(ctx, r, sent, ctx.Err(), current)
			}
			if ar.outcome == domain.OutcomeRateLimited && !current.ambiguous {
				// The node refused it outright; re-sign on a fresh blockhash so a
				// long backoff does not end on an expired one.
				current = nil
			}
		}
	}
}

func (e *Engine) retryAllowed(attempt int) bool {
	return attempt <= e.cfg.MaxRetries
}

func exhausted(err error) error {
	return fmt.Errorf("retries exhausted: %w", err)
}

// giveUp resolves any transaction that may still land before reporting failure.
func (e *Engine) giveUp(ctx context.Context, r *batchRun, sent []string, cause error, pending ...*signedTx) domain.BatchResult {
	for _, p := range pending {
		if p == nil || !p.ambiguous {
			continue
		}
		r.log.Info("waiting for in-flight transaction before failing batch", "signature", p.signature)
		if ar := e.confirm(ctx, p); ar.outcome == domain.OutcomeConfirmed {
			return r.finish(domain.OutcomeConfirmed, p.signature, nil)
		}
	}
	if sig, landed := e.anyLanded(ctx, sent); landed {
		return r.finish(domain.OutcomeConfirmed, sig, nil)
	}
	return r.finish(domain.OutcomeFailed, "", cause)
}

// backoff returns min(InitialBackoff * 2^step, MaxBackoff).
func (e *Engine) backoff(step int) time.Duration {
	d := e.cfg.InitialBackoff
	for i := 0; i < step; i++ {
		d *= 2
		if d >= e.cfg.MaxBackoff {
			return e.cfg.MaxBackoff
		}
	}
	if d > e.cfg.MaxBackoff {
		return e.cfg.MaxBackoff
	}
	return d
}

// wait sleeps d on the engine clock; false means ctx was cancelled first.
func (e *Engine) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-e.clock.After(d):
		return true
	}
}

func (e *Engine) observe(id string, index int, attempt int, backoff time.Duration, outcome domain.Outcome, sig string, err error) {
	if e.observer == nil {
		return
	}
	e.observer(domain.SubmissionAttempt{
		BatchID:       id,
		BatchIndex:    index,
		AttemptNumber: attempt,
		BackoffMs:     backoff.Milliseconds(),
		Outcome:       outcome,
		Signature:     sig,
		Err:           err,
		At:            e.clock.Now().UnixMilli(),
	})
}

// callCtx detaches a single RPC call from cancellation and bounds it by CallTimeout.
func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
}

// sign fetches a fresh blockhash and signs the batch with it.
func (e *Engine) sign(ctx context.Context, batch domain.TransactionBatch) (Prepared, error) {
	cctx, cancel := e.callCtx(ctx)
	bh, err := e.rpc.GetLatestBlockhash(cctx)
	cancel()
	if err != nil {
		return Prepared{}, fmt.Errorf("latest blockhash: %w", err)
	}

	hash, err := solanago.HashFromBase58(bh.Hash)
	if err != nil {
		return Prepared{}, fmt.Errorf("%w: blockhash %q: %w", domain.ErrConfiguration, bh.Hash, err)
	}

	tx, err := solanago.NewTransaction(batch.Instructions, hash, solanago.TransactionPayer(batch.FeePayer))
	if err != nil {
		return Prepared{}, fmt.Errorf("%w: assemble transaction: %w", domain.ErrConfiguration, err)
	}
	if err := e.signer.Sign(tx); err != nil {
		return Prepared{}, fmt.Errorf("%w: sign transaction: %w", domain.ErrConfiguration, err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return Prepared{}, fmt.Errorf("%w: serialize transaction: %w", domain.ErrConfiguration, err)
	}
	if len(tx.Signatures) == 0 {
		return Prepared{}, fmt.Errorf("%w: transaction has no signatures", domain.ErrConfiguration)
	}

	return Prepared{
		Raw:                  raw,
		Signature:            tx.Signatures[0].String(),
		LastValidBlockHeight: bh.LastValidBlockHeight,
	}, nil
}

// attempt sends tx once and, if accepted, waits for its confirmation.
func (e *Engine) attempt(ctx context.Context, tx *signedTx) attemptResult {
	cctx, cancel := e.callCtx(ctx)
	_, err := e.rpc.SendTransaction(cctx, tx.raw)
	cancel()

	if err != nil {
		ar := classifySend(err)
		switch {
		case ar.outcome == domain.OutcomeTransient:
			tx.ambiguous = true
		case errors.Is(ar.err, errAlreadyProcessed):
			// An earlier broadcast of this exact transaction landed.
			return e.confirm(ctx, tx)
		}
		return ar
	}

	return e.confirm(ctx, tx)
}

var errAlreadyProcessed = errors.New("transaction already processed")

// classifySend maps a sendTransaction error to the next state.
func classifySend(err error) attemptResult {
	var rpcErr *solana.RPCError
	switch {
	case errors.Is(err, solana.ErrRateLimited):
		return attemptResult{domain.OutcomeRateLimited, fmt.Errorf("%w: %w", domain.ErrTransientNetwork, err)}
	case errors.Is(err, solana.ErrBlockhashNotFound):
		return attemptResult{domain.OutcomeExpired, fmt.Errorf("%w: %w", domain.ErrStateExpired, err)}
	case errors.As(err, &rpcErr) && strings.Contains(strings.ToLower(rpcErr.Message), "already been processed"):
		return attemptResult{domain.OutcomeConfirmed, fmt.Errorf("%w: %w", errAlreadyProcessed, err)}
	case errors.Is(err, solana.ErrSimulationFailed):
		return attemptResult{domain.OutcomeFailed, err}
	case errors.Is(err, solana.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return attemptResult{domain.OutcomeTransient, fmt.Errorf("%w: %w", domain.ErrTransientNetwork, err)}
	case errors.As(err, &rpcErr):
		return attemptResult{domain.OutcomeFailed, err}
	}
	return attemptResult{domain.OutcomeTransient, fmt.Errorf("%w: %w", domain.ErrTransientNetwork, err)}
}

// classifyPrepare maps a signing-time error. Blockhash fetch failures are retryable.
func classifyPrepare(err error) attemptResult {
	if errors.Is(err, domain.ErrConfiguration) || errors.Is(err, domain.ErrLiquidity) {
		return attemptResult{domain.OutcomeFailed, err}
	}
	if errors.Is(err, solana.ErrRateLimited) {
		return attemptResult{domain.OutcomeRateLimited, fmt.Errorf("%w: %w", domain.ErrTransientNetwork, err)}
	}
	return attemptResult{domain.OutcomeTransient, fmt.Errorf("%w: %w", domain.ErrTransientNetwork, err)}
}
