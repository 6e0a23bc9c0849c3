package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/logging"
	"solana-reward-distributor/internal/solana"
	"solana-reward-distributor/internal/solana/stub"
	"solana-reward-distributor/internal/wallet"
)

var testConfig = Config{
	MaxRetries:        5,
	InitialBackoff:    500 * time.Millisecond,
	MaxBackoff:        8 * time.Second,
	InterBatchSpacing: time.Second,
	CallTimeout:       time.Second,
	ConfirmTimeout:    30 * time.Second,
	ConfirmPoll:       2 * time.Second,
}

// autoAdvance moves the fake clock forward whenever the engine is waiting on it.
func autoAdvance(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for {
			if err := clock.BlockUntilContext(ctx, 1); err != nil {
				return
			}
			clock.Advance(10 * time.Millisecond)
		}
	}()
}

type recorder struct {
	mu       sync.Mutex
	attempts []domain.SubmissionAttempt
	hook     func(domain.SubmissionAttempt)
}

func (r *recorder) observe(a domain.SubmissionAttempt) {
	r.mu.Lock()
	r.attempts = append(r.attempts, a)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(a)
	}
}

func (r *recorder) outcomes() []domain.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Outcome, len(r.attempts))
	for i, a := range r.attempts {
		out[i] = a.Outcome
	}
	return out
}

func (r *recorder) backoffs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.attempts))
	for i, a := range r.attempts {
		out[i] = a.BackoffMs
	}
	return out
}

type harness struct {
	ledger *stub.Ledger
	clock  *clockwork.FakeClock
	rec    *recorder
	engine *Engine
	payer  solanago.PrivateKey
	start  time.Time
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		ledger: stub.NewLedger(),
		clock:  clockwork.NewFakeClock(),
		rec:    &recorder{},
		payer:  solanago.NewWallet().PrivateKey,
	}
	h.start = h.clock.Now()
	autoAdvance(t, h.clock)
	opts = append([]Option{
		WithClock(h.clock),
		WithObserver(h.rec.observe),
		WithLogger(logging.ForTest()),
	}, opts...)
	h.engine = New(h.ledger, wallet.NewKeyring(h.payer), cfg, opts...)
	return h
}

func (h *harness) batch(index int) domain.TransactionBatch {
	ix := solanago.NewInstruction(solanago.SystemProgramID, solanago.AccountMetaSlice{
		solanago.Meta(h.payer.PublicKey()).WRITE().SIGNER(),
	}, []byte{2, byte(index)})
	return domain.TransactionBatch{
		ID:           fmt.Sprintf("batch-%d", index),
		Index:        index,
		FeePayer:     h.payer.PublicKey(),
		Instructions: []solanago.Instruction{ix},
	}
}

func (h *harness) batches(n int) []domain.TransactionBatch {
	out := make([]domain.TransactionBatch, n)
	for i := range out {
		out[i] = h.batch(i)
	}
	return out
}

func (h *harness) elapsed() time.Duration {
	return h.clock.Since(h.start)
}

func TestSubmitAll_ConfirmsInOrderWithSpacing(t *testing.T) {
	h := newHarness(t, testConfig)

	results := h.engine.SubmitAll(context.Background(), h.batches(3))

	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, i, res.Index)
		assert.Equal(t, domain.OutcomeConfirmed, res.State)
		assert.Equal(t, 1, res.Attempts)
		assert.NotEmpty(t, res.Signature)
	}
	assert.Len(t, h.ledger.Landed(), 3)
	assert.Equal(t, 2*testConfig.InterBatchSpacing, h.elapsed(), "spacing applies between batches only")
}

func TestSubmit_RateLimitedThenConfirmed(t *testing.T) {
	h := newHarness(t, testConfig)
	h.ledger.SendScript = []stub.SendStep{
		{Err: fmt.Errorf("%w: 429", solana.ErrRateLimited), Behavior: stub.Drop},
		{Err: fmt.Errorf("%w: 429", solana.ErrRateLimited), Behavior: stub.Drop},
	}

	res := h.engine.Submit(context.Background(), h.batch(0))

	assert.Equal(t, domain.OutcomeConfirmed, res.State)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []domain.Outcome{domain.OutcomeRateLimited, domain.OutcomeRateLimited, domain.OutcomeConfirmed}, h.rec.outcomes())
	assert.Equal(t, []int64{500, 1000, 0}, h.rec.backoffs())
	assert.Equal(t, 3, h.ledger.Calls("getLatestBlockhash"), "a rejected send is re-signed on a fresh blockhash")
	assert.Equal(t, 1500*time.Millisecond, h.elapsed())

	sent := h.ledger.Sent()
	require.Len(t, sent, 3)
	hashes := map[solanago.Hash]bool{}
	for _, tx := range sent {
		hashes[tx.Message.RecentBlockhash] = true
	}
	assert.Len(t, hashes, 3)
	assert.Equal(t, res.Signature, sent[2].Signatures[0].String())
	require.Len(t, h.ledger.Landed(), 1)
}

func TestSubmit_TransientSendKeepsSignedTransaction(t *testing.T) {
	h := newHarness(t, testConfig)
	h.ledger.SendScript = []stub.SendStep{
		{Err: fmt.Errorf("%w: connection reset", solana.ErrUnavailable), Behavior: stub.Drop},
	}

	res := h.engine.Submit(context.Background(), h.batch(0))

	assert.Equal(t, domain.OutcomeConfirmed, res.State)
	assert.Equal(t, 1, h.ledger.Calls("getLatestBlockhash"), "an ambiguous send may still land, so it is re-broadcast unchanged")
	sent := h.ledger.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0].Signatures[0], sent[1].Signatures[0])
}

func TestSubmit_BackoffIsCapped(t *testing.T) {
	cfg := testConfig
	cfg.MaxBackoff = 1500 * time.Millisecond
	h := newHarness(t, cfg)
	for i := 0; i < 4; i++ {
		h.ledger.SendScript = append(h.ledger.SendScript, stub.SendStep{Err: solana.ErrRateLimited, Behavior: stub.Drop})
	}

	res := h.engine.Submit(context.Background(), h.batch(0))

	assert.Equal(t, domain.OutcomeConfirmed, res.State)
	assert.Equal(t, []int64{500, 1000, 1500, 1500, 0}, h.rec.backoffs())
}

func TestSubmit_ExpiredBlockhashRefreshesImmediately(t *testing.T) {
	h := newHarness(t, testConfig)
	h.ledger.SendScript = []stub.SendStep{
		{Err: fmt.Errorf("%w: -32002", solana.ErrBlockhashNotFound)},
	}

	res := h.engine.Submit(context.Background(), h.batch(0))

	assert.Equal(t, domain.OutcomeConfirmed, res.State)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []domain.Outcome{domain.OutcomeExpired, domain.OutcomeConfirmed}, h.rec.outcomes())
	assert.Equal(t, []int64{0, 0}, h.rec.backoffs())
	assert.Equal(t, 2, h.ledger.Calls("getLatestBlockhash"))
	assert.Zero(t, h.elapsed(), "no backoff before refresh")

	sent := h.ledger.Sent()
	require.Len(t, sent, 2)
	assert.NotEqual(t, sent[0].Message.RecentBlockhash, sent[1].Message.RecentBlockhash)
}

func TestSubmit_DroppedTransactionExpiresAndIsResigned(t *testing.T) {
	h := newHarness(t, testConfig)
	h.ledger.HeightPerPoll = 200
	h.ledger.SendScript = []stub.SendStep{{Behavior: stub.Drop}}

	res := h.engine.Submit(context.Background(), h.batch(0))

	assert.Equal(t, domain.OutcomeConfirmed, res.State)
	assert.Equal(t, []domain.Outcome{domain.OutcomeExpired, domain.OutcomeConfirmed}, h.rec.outcomes())
	assert.Len(t, h.ledger.Landed(), 1)
	assert.Equal(t, h.ledger.Landed()[0], res.Signature)
}

func TestSubmit_TimeoutThatLandedPaysOnce(t *testing.T) {
	h := newHarness(t, testConfig)
	h.ledger.SendScript = []stub.SendStep{
		{Err: fmt.Errorf("%w: %w", solana.ErrUnavailable, context.DeadlineExceeded), Behavior: stub.Land},
	}

	res := h.engine.Submit(context.Background(), h.batch(0))

	assert.Equal(t, domain.OutcomeConfirmed, res.State)
	assert.Equal(t, []domain.Outcome{domain.OutcomeTransient, domain.OutcomeConfirmed}, h.rec.outcomes())
	assert.Equal(t, 1, h.ledger.Calls("getLatestBlockhash"))
	require.Len(t, h.ledger.Landed(), 1, "batch must not pay twice")
	assert.Equal(t, h.ledger.Landed()[0], res.Signature)
}

func TestSubmit_OnChainFailureIsTerminal(t *testing.T) {
	h := newHarness(t, testConfig)
	h.ledger.SendScript = []stub.SendStep{{Behavior: stub.FailOnChain}}

	res := h.engine.Submit(context.Background(), h.batch(0))

	assert.Equal(t, domain.OutcomeFailed, res.State)
	assert.Equal(t, 1, res.Attempts)
	var execErr *domain.ExecutionError
	require.ErrorAs(t, res.LastErr, &execErr)
	assert.NotEmpty(t, execErr.Signature)
	assert.Equal(t, 1, h.ledger.Calls("sendTransaction"))
}

func TestSubmit_SimulationFailureIsTerminal(t *testing.T) {
	h := newHarness(t, testConfig)
	h.ledger.SendScript = []stub.SendStep{
		{Err: fmt.Errorf("%w: insufficient funds", solana.ErrSimulationFailed), Behavior: stub.Drop},
	}

	res := h.engine.Submit(context.Background(), h.batch(0))

	assert.Equal(t, domain.OutcomeFailed, res.State)
	assert.Equal(t, 1, res.Attempts)
	assert.ErrorIs(t, res.LastErr, solana.ErrSimulationFailed)
}

func TestSubmit_RetriesExhausted(t *testing.T) {
	cfg := testConfig
	cfg.MaxRetries = 2
	h := newHarness(t, cfg)
	for i := 0; i < 3; i++ {
		h.ledger.SendScript = append(h.ledger.SendScript, stub.SendStep{Err: solana.ErrRateLimited, Behavior: stub.Drop})
	}

	res := h.engine.Submit(context.Background(), h.batch(0))

	assert.Equal(t, domain.OutcomeFailed, res.State)
	assert.Equal(t, 3, res.Attempts, "first attempt plus two retries")
	assert.ErrorIs(t, res.LastErr, domain.ErrTransientNetwork)
	assert.Equal(t, []int64{500, 1000, 0, 0}, h.rec.backoffs())
	assert.Equal(t, domain.OutcomeFailed, h.rec.outcomes()[3], "terminal state is observed")
	assert.Equal(t, 3, h.ledger.Calls("sendTransaction"))
	assert.Empty(t, h.ledger.Landed())
}

func TestSubmit_ConfirmedBatchIsNotResent(t *testing.T) {
	h := newHarness(t, testConfig)
	b := h.batch(0)

	first := h.engine.Submit(context.Background(), b)
	second := h.engine.Submit(context.Background(), b)

	assert.Equal(t, domain.OutcomeConfirmed, first.State)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.ledger.Calls("sendTransaction"))
}

func TestSubmit_FailedBatchMayBeRetried(t *testing.T) {
	h := newHarness(t, testConfig)
	h.ledger.SendScript = []stub.SendStep{{Behavior: stub.FailOnChain}}
	b := h.batch(0)

	first := h.engine.Submit(context.Background(), b)
	second := h.engine.Submit(context.Background(), b)

	assert.Equal(t, domain.OutcomeFailed, first.State)
	assert.Equal(t, domain.OutcomeConfirmed, second.State)
}

func TestSubmitAll_FailureDoesNotStopLaterBatches(t *testing.T) {
	h := newHarness(t, testConfig)
	h.ledger.SendScript = []stub.SendStep{
		{Behavior: stub.Land},
		{Behavior: stub.FailOnChain},
	}

	results := h.engine.SubmitAll(context.Background(), h.batches(3))

	require.Len(t, results, 3)
	assert.Equal(t, domain.OutcomeConfirmed, results[0].State)
	assert.Equal(t, domain.OutcomeFailed, results[1].State)
	assert.Equal(t, domain.OutcomeConfirmed, results[2].State)
	assert.Equal(t, testConfig.InterBatchSpacing, h.elapsed(), "no spacing after a failed batch")
}

func TestSubmitAll_CancellationLeavesRemainingNotAttempted(t *testing.T) {
	h := newHarness(t, testConfig)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.rec.hook = func(a domain.SubmissionAttempt) {
		if a.Outcome == domain.OutcomeConfirmed {
			cancel()
		}
	}

	results := h.engine.SubmitAll(ctx, h.batches(3))

	require.Len(t, results, 3)
	assert.Equal(t, domain.OutcomeConfirmed, results[0].State)
	for _, res := range results[1:] {
		assert.Equal(t, domain.OutcomeNotAttempted, res.State)
		assert.Zero(t, res.Attempts)
	}
	assert.Equal(t, 1, h.ledger.Calls("sendTransaction"))
}

func TestSubmit_CancelledDuringBackoff(t *testing.T) {
	h := newHarness(t, testConfig)
	h.ledger.SendScript = []stub.SendStep{{Err: solana.ErrRateLimited, Behavior: stub.Drop}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.rec.hook = func(domain.SubmissionAttempt) { cancel() }

	results := h.engine.SubmitAll(ctx, h.batches(2))

	require.Len(t, results, 2)
	assert.Equal(t, domain.OutcomeFailed, results[0].State)
	assert.True(t, errors.Is(results[0].LastErr, context.Canceled))
	assert.Equal(t, domain.OutcomeNotAttempted, results[1].State)
}

type fakeWS struct {
	notify       chan solana.SignatureNotification
	silent       bool
	unsubscribed atomic.Int32
}

func (f *fakeWS) SubscribeSignature(_ context.Context, sig string) (<-chan solana.SignatureNotification, func(), error) {
	if !f.silent {
		f.notify <- solana.SignatureNotification{Signature: sig, Slot: 42}
		close(f.notify)
	}
	return f.notify, func() { f.unsubscribed.Add(1) }, nil
}

func (f *fakeWS) Close() error { return nil }

func TestSubmit_WebsocketNotificationConfirms(t *testing.T) {
	ws := &fakeWS{notify: make(chan solana.SignatureNotification, 1)}
	h := newHarness(t, testConfig, WithWSClient(ws))
	h.ledger.SendScript = []stub.SendStep{{Behavior: stub.Drop}}

	res := h.engine.Submit(context.Background(), h.batch(0))

	assert.Equal(t, domain.OutcomeConfirmed, res.State)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, h.ledger.Landed(), "confirmed from the notification, not from polling")
}

func TestSubmit_SilentSubscriptionIsReleased(t *testing.T) {
	ws := &fakeWS{notify: make(chan solana.SignatureNotification), silent: true}
	h := newHarness(t, testConfig, WithWSClient(ws))

	res := h.engine.Submit(context.Background(), h.batch(0))

	assert.Equal(t, domain.OutcomeConfirmed, res.State)
	assert.Equal(t, int32(1), ws.unsubscribed.Load(), "confirmed by polling, subscription dropped")
}

func TestSubmitAll_ForgetsEarlierCycles(t *testing.T) {
	h := newHarness(t, testConfig)
	earlier := h.batch(0)
	earlier.ID = "earlier-cycle"
	require.Equal(t, domain.OutcomeConfirmed, h.engine.Submit(context.Background(), earlier).State)

	results := h.engine.SubmitAll(context.Background(), h.batches(2))
	require.Len(t, results, 2)

	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	assert.Len(t, h.engine.settled, 2)
	assert.NotContains(t, h.engine.settled, "earlier-cycle")
}

func TestBackoff(t *testing.T) {
	e := &Engine{cfg: Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}}
	want := []time.Duration{100, 200, 400, 800, 1000, 1000}
	for step, w := range want {
		assert.Equal(t, w*time.Millisecond, e.backoff(step), "step %d", step)
	}
}

func TestClassifySend(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.Outcome
	}{
		{"rate limited", fmt.Errorf("%w: x", solana.ErrRateLimited), domain.OutcomeRateLimited},
		{"blockhash", fmt.Errorf("%w: x", solana.ErrBlockhashNotFound), domain.OutcomeExpired},
		{"simulation", fmt.Errorf("%w: x", solana.ErrSimulationFailed), domain.OutcomeFailed},
		{"unavailable", fmt.Errorf("%w: x", solana.ErrUnavailable), domain.OutcomeTransient},
		{"timeout", context.DeadlineExceeded, domain.OutcomeTransient},
		{"unknown rpc error", &solana.RPCError{Code: -32600, Message: "invalid request"}, domain.OutcomeFailed},
		{"unknown error", errors.New("connection reset"), domain.OutcomeTransient},
		{"already processed", &solana.RPCError{Code: -32002, Message: "This transaction has already been processed"}, domain.OutcomeConfirmed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifySend(tt.err).outcome)
		})
	}
}

func TestSubmitPrepared_RepreparesAfterExpiry(t *testing.T) {
	h := newHarness(t, testConfig)
	h.ledger.SendScript = []stub.SendStep{{Err: solana.ErrBlockhashNotFound}}

	calls := 0
	prepare := func(ctx context.Context) (Prepared, error) {
		calls++
		return h.engine.sign(ctx, h.batch(7))
	}

	res := h.engine.SubmitPrepared(context.Background(), "swap-1", prepare)

	assert.Equal(t, domain.OutcomeConfirmed, res.State)
	assert.Equal(t, "swap-1", res.BatchID)
	assert.Equal(t, 2, calls)
}

func TestSubmitPrepared_LiquidityErrorIsTerminal(t *testing.T) {
	h := newHarness(t, testConfig)
	prepare := func(context.Context) (Prepared, error) {
		return Prepared{}, fmt.Errorf("quote: %w", domain.ErrSlippageExceeded)
	}

	res := h.engine.SubmitPrepared(context.Background(), "swap-2", prepare)

	assert.Equal(t, domain.OutcomeFailed, res.State)
	assert.Equal(t, 1, res.Attempts)
	assert.ErrorIs(t, res.LastErr, domain.ErrSlippageExceeded)
	assert.Zero(t, h.ledger.Calls("sendTransaction"))
}
