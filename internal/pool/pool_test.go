package pool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/jarcoal/httpmock"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/logging"
	"solana-reward-distributor/internal/solana/stub"
	"solana-reward-distributor/internal/submission"
	"solana-reward-distributor/internal/wallet"
)

const (
	sourceMint  = "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R"
	rewardMint  = "3NZ9JMVBmGAqocybic2c7LQCJScmgsAZ6vQqTDzcqmJh"
	sourceVault = "DQyrAcCrDXQ7NeoqGgDCZwBvWDcYmFCjSb9JtteuvPpz"
	rewardVault = "HLmqeL62xR1QoZ1HKKbXRrdN1p3phKpxRMb2VVopvBBz"
	jupiterURL  = "https://swap.test/v1"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testPoolConfig() Config {
	return Config{
		PoolID:         "58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2",
		SourceMint:     sourceMint,
		RewardMint:     rewardMint,
		SourceVault:    sourceVault,
		RewardVault:    rewardVault,
		SourceDecimals: 6,
		RewardDecimals: 8,
		FeeBps:         25,
	}
}

func TestLoadPool(t *testing.T) {
	ledger := stub.NewLedger()
	ledger.SetTokenBalance(sourceVault, 1_000_000_000_000, 6) // 1,000,000
	ledger.SetTokenBalance(rewardVault, 500_000_000, 8)       // 5
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))

	r := NewRaydium(ledger, nil, testPoolConfig(), clock, logging.ForTest())
	snap, err := r.LoadPool(context.Background())
	require.NoError(t, err)

	assert.True(t, d("1000000").Equal(snap.SourceReserve))
	assert.True(t, d("5").Equal(snap.RewardReserve))
	assert.Equal(t, int64(25), snap.FeeBps)
	assert.Equal(t, int64(1_700_000_000_000), snap.LoadedAt)
	assert.True(t, d("0.000005").Equal(snap.Price()))
}

func TestLoadPool_Unavailable(t *testing.T) {
	ledger := stub.NewLedger()
	ledger.SetTokenBalance(sourceVault, 1, 6)

	r := NewRaydium(ledger, nil, testPoolConfig(), nil, logging.ForTest())
	_, err := r.LoadPool(context.Background())
	assert.ErrorIs(t, err, domain.ErrPoolUnavailable)
	assert.ErrorIs(t, err, domain.ErrLiquidity)

	ledger.SetTokenBalance(rewardVault, 0, 8)
	_, err = r.LoadPool(context.Background())
	assert.ErrorIs(t, err, domain.ErrPoolUnavailable, "empty reserve")
}

func TestQuote_ConstantProduct(t *testing.T) {
	snap := domain.PoolSnapshot{SourceReserve: d("1000"), RewardReserve: d("1000")}
	// No fee: 1000*100/(1000+100)
	assert.Equal(t, "90.9090909", ConstantProductOut(snap, d("100")).StringFixed(7))

	snap.FeeBps = 25
	r := NewRaydium(stub.NewLedger(), nil, testPoolConfig(), nil, logging.ForTest())
	// afterFee = 99.75; out = 1000*99.75/1099.75 = 90.70243237...
	assert.Equal(t, "90.70243237", r.Quote(snap, d("100")).String())

	assert.True(t, r.Quote(snap, decimal.Zero).IsZero())
	assert.True(t, r.Quote(snap, d("-1")).IsZero())
}

func TestSwap_WithoutExecutor(t *testing.T) {
	r := NewRaydium(stub.NewLedger(), nil, testPoolConfig(), nil, logging.ForTest())
	_, err := r.Swap(context.Background(), d("1"), d("0.1"))
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

type capturingExecutor struct {
	req SwapRequest
}

func (c *capturingExecutor) Execute(_ context.Context, req SwapRequest) (domain.SwapReceipt, error) {
	c.req = req
	return domain.SwapReceipt{Signature: "sig"}, nil
}

func TestSwap_ConvertsToBaseUnits(t *testing.T) {
	exec := &capturingExecutor{}
	r := NewRaydium(stub.NewLedger(), exec, testPoolConfig(), nil, logging.ForTest())

	_, err := r.Swap(context.Background(), d("12.3456789"), d("0.000000015"))
	require.NoError(t, err)

	assert.Equal(t, uint64(12_345_678), exec.req.AmountIn, "input truncated to source decimals")
	assert.Equal(t, uint64(2), exec.req.MinOut, "minimum rounded up to reward decimals")
	assert.Equal(t, sourceMint, exec.req.InputMint)
	assert.Equal(t, rewardMint, exec.req.OutputMint)
}

// swapFixture returns a base64 unsigned transaction payable by user.
func swapFixture(t *testing.T, user solanago.PublicKey, nonce byte) string {
	t.Helper()
	ix := solanago.NewInstruction(solanago.SystemProgramID, solanago.AccountMetaSlice{
		solanago.Meta(user).WRITE().SIGNER(),
	}, []byte{9, nonce})
	tx, err := solanago.NewTransaction([]solanago.Instruction{ix}, solanago.Hash{1}, solanago.TransactionPayer(user))
	require.NoError(t, err)
	tx.Signatures = []solanago.Signature{{}}
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func newJupiter(t *testing.T, ledger *stub.Ledger, user solanago.PrivateKey) (*Jupiter, *http.Client) {
	t.Helper()
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)

	signer := wallet.NewKeyring(user)
	engine := submission.New(ledger, signer, submission.Config{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		CallTimeout:    time.Second,
		ConfirmTimeout: time.Second,
		ConfirmPoll:    time.Millisecond,
	}, submission.WithLogger(logging.ForTest()))

	j := NewJupiter(JupiterConfig{
		BaseURL:        jupiterURL + "/",
		User:           user.PublicKey(),
		Dex:            "Raydium",
		SlippageBps:    100,
		RewardDecimals: 8,
	}, client, signer, engine, logging.ForTest())
	return j, client
}

func TestJupiter_Execute(t *testing.T) {
	user := solanago.NewWallet().PrivateKey
	ledger := stub.NewLedger()
	j, _ := newJupiter(t, ledger, user)

	httpmock.RegisterResponder(http.MethodGet, jupiterURL+"/quote",
		func(req *http.Request) (*http.Response, error) {
			q := req.URL.Query()
			assert.Equal(t, sourceMint, q.Get("inputMint"))
			assert.Equal(t, rewardMint, q.Get("outputMint"))
			assert.Equal(t, "5000000", q.Get("amount"))
			assert.Equal(t, "100", q.Get("slippageBps"))
			assert.Equal(t, "Raydium", q.Get("dexes"))
			return httpmock.NewStringResponse(200, `{"inAmount":"5000000","outAmount":"1200","otherAmountThreshold":"1188","routePlan":[]}`), nil
		})
	httpmock.RegisterResponder(http.MethodPost, jupiterURL+"/swap",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]interface{}
			require.NoError(t, jsonDecode(req, &body))
			assert.Equal(t, user.PublicKey().String(), body["userPublicKey"])
			quote, ok := body["quoteResponse"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, "1200", quote["outAmount"])
			return httpmock.NewJsonResponse(200, map[string]interface{}{
				"swapTransaction":      swapFixture(t, user.PublicKey(), 0),
				"lastValidBlockHeight": 2000,
			})
		})

	receipt, err := j.Execute(context.Background(), SwapRequest{
		InputMint: sourceMint, OutputMint: rewardMint, AmountIn: 5_000_000, MinOut: 1100,
	})
	require.NoError(t, err)

	assert.True(t, d("0.000012").Equal(receipt.QuotedOutput))
	require.Len(t, ledger.Sent(), 1)
	sent := ledger.Sent()[0]
	require.Len(t, sent.Signatures, 1)
	assert.NoError(t, sent.VerifySignatures())
	assert.Equal(t, sent.Signatures[0].String(), receipt.Signature)
}

func TestJupiter_RepeatedSwapsEachLand(t *testing.T) {
	user := solanago.NewWallet().PrivateKey
	ledger := stub.NewLedger()
	j, _ := newJupiter(t, ledger, user)

	httpmock.RegisterResponder(http.MethodGet, jupiterURL+"/quote",
		httpmock.NewStringResponder(200, `{"outAmount":"1200"}`))
	builds := 0
	httpmock.RegisterResponder(http.MethodPost, jupiterURL+"/swap",
		func(*http.Request) (*http.Response, error) {
			builds++
			return httpmock.NewJsonResponse(200, map[string]interface{}{
				"swapTransaction":      swapFixture(t, user.PublicKey(), byte(builds)),
				"lastValidBlockHeight": 2000,
			})
		})

	// Same amount in two consecutive cycles on one engine.
	req := SwapRequest{InputMint: sourceMint, OutputMint: rewardMint, AmountIn: 5_000_000, MinOut: 1100}
	first, err := j.Execute(context.Background(), req)
	require.NoError(t, err)
	second, err := j.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, builds)
	assert.Len(t, ledger.Sent(), 2)
	assert.NotEqual(t, first.Signature, second.Signature)
}

func TestJupiter_QuoteBelowMinimum(t *testing.T) {
	user := solanago.NewWallet().PrivateKey
	ledger := stub.NewLedger()
	j, _ := newJupiter(t, ledger, user)

	httpmock.RegisterResponder(http.MethodGet, jupiterURL+"/quote",
		httpmock.NewStringResponder(200, `{"outAmount":"900"}`))

	_, err := j.Execute(context.Background(), SwapRequest{InputMint: sourceMint, OutputMint: rewardMint, AmountIn: 1, MinOut: 1000})
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
	assert.Zero(t, ledger.Calls("sendTransaction"))
	assert.Zero(t, httpmock.GetCallCountInfo()["POST "+jupiterURL+"/swap"])
}

func TestJupiter_NoRoute(t *testing.T) {
	user := solanago.NewWallet().PrivateKey
	j, _ := newJupiter(t, stub.NewLedger(), user)

	httpmock.RegisterResponder(http.MethodGet, jupiterURL+"/quote",
		httpmock.NewStringResponder(400, `{"error":"No routes found"}`))

	_, err := j.Execute(context.Background(), SwapRequest{InputMint: sourceMint, OutputMint: rewardMint, AmountIn: 1})
	assert.ErrorIs(t, err, domain.ErrPoolUnavailable)
}

func TestJupiter_ForeignFeePayer(t *testing.T) {
	user := solanago.NewWallet().PrivateKey
	ledger := stub.NewLedger()
	j, _ := newJupiter(t, ledger, user)

	httpmock.RegisterResponder(http.MethodGet, jupiterURL+"/quote",
		httpmock.NewStringResponder(200, `{"outAmount":"10"}`))
	httpmock.RegisterResponder(http.MethodPost, jupiterURL+"/swap",
		func(*http.Request) (*http.Response, error) {
			return httpmock.NewJsonResponse(200, map[string]interface{}{
				"swapTransaction":      swapFixture(t, solanago.NewWallet().PublicKey(), 0),
				"lastValidBlockHeight": 2000,
			})
		})

	_, err := j.Execute(context.Background(), SwapRequest{InputMint: sourceMint, OutputMint: rewardMint, AmountIn: 1})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Zero(t, ledger.Calls("sendTransaction"))
}

func jsonDecode(req *http.Request, v interface{}) error {
	return json.NewDecoder(req.Body).Decode(v)
}
