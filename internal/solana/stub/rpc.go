package stub

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"solana-reward-distributor/internal/solana"
)

// SendBehavior decides what happens on-chain to a transaction the stub received.
type SendBehavior int

const (
	// Land confirms the transaction.
	Land SendBehavior = iota
	// Drop accepts the transaction but never confirms it.
	Drop
	// FailOnChain confirms the transaction with an execution error.
	FailOnChain
)

// SendStep scripts one SendTransaction call. When Err is set it is returned to
// the caller; Behavior still applies, so a timeout can hide a landed transaction.
type SendStep struct {
	Err      error
	Behavior SendBehavior
}

// Ledger implements solana.RPCClient in memory for testing.
// Safe for concurrent use.
type Ledger struct {
	mu sync.Mutex

	Accounts        map[string]*solana.AccountInfo
	AccountErrors   map[string]error
	TokenBalances   map[string]*solana.TokenAmount
	ProgramAccounts []solana.KeyedAccount

	// BlockHeight advances by HeightPerPoll on every GetBlockHeight call.
	BlockHeight   uint64
	HeightPerPoll uint64
	// BlockhashTTL is the number of blocks a fresh blockhash stays valid.
	BlockhashTTL uint64

	// SendScript is consumed one step per SendTransaction; afterwards every send lands.
	SendScript []SendStep
	// OnLand runs under the ledger lock when a transaction lands successfully.
	OnLand func(tx *solanago.Transaction)

	statuses  map[string]*solana.SignatureStatus
	sent      []*solanago.Transaction
	blockhash int
	calls     map[string]int
}

var _ solana.RPCClient = (*Ledger)(nil)

// NewLedger creates an empty stub ledger.
func NewLedger() *Ledger {
	return &Ledger{
		Accounts:      make(map[string]*solana.AccountInfo),
		AccountErrors: make(map[string]error),
		TokenBalances: make(map[string]*solana.TokenAmount),
		BlockHeight:   1000,
		BlockhashTTL:  150,
		statuses:      make(map[string]*solana.SignatureStatus),
		calls:         make(map[string]int),
	}
}

func (l *Ledger) record(method string) {
	l.calls[method]++
}

// Calls returns how many times method was invoked.
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

// TotalCalls returns the number of RPC calls of any kind.
func (l *Ledger) TotalCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		n += c
	}
	return n
}

// Sent returns every transaction received, in order, including rejected ones.
func (l *Ledger) Sent() []*solanago.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*solanago.Transaction, len(l.sent))
	copy(out, l.sent)
	return out
}

// Landed returns signatures that confirmed without error.
func (l *Ledger) Landed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sigs []string
	for _, tx := range l.sent {
		sig := tx.Signatures[0].String()
		if st, ok := l.statuses[sig]; ok && st.Err == nil {
			sigs = append(sigs, sig)
		}
	}
	return dedupe(sigs)
}

// SetTokenBalance sets the raw balance of a token account.
func (l *Ledger) SetTokenBalance(account string, amount uint64, decimals uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.TokenBalances[account] = &solana.TokenAmount{Amount: amount, Decimals: decimals}
}

// AddAccount registers an existing account.
func (l *Ledger) AddAccount(pubkey string, info *solana.AccountInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Accounts[pubkey] = info
}

// GetAccountInfo returns the registered account or nil.
func (l *Ledger) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("getAccountInfo")
	if err, ok := l.AccountErrors[pubkey]; ok {
		return nil, err
	}
	info, ok := l.Accounts[pubkey]
	if !ok {
		return nil, nil
	}
	cp := *info
	return &cp, nil
}

// GetTokenAccountBalance returns the registered balance or ErrAccountNotFound.
func (l *Ledger) GetTokenAccountBalance(_ context.Context, account string) (*solana.TokenAmount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("getTokenAccountBalance")
	if err, ok := l.AccountErrors[account]; ok {
		return nil, err
	}
	bal, ok := l.TokenBalances[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", solana.ErrAccountNotFound, account)
	}
	cp := *bal
	return &cp, nil
}

// GetProgramAccounts returns ProgramAccounts, applying dataSize and memcmp filters.
func (l *Ledger) GetProgramAccounts(_ context.Context, _ string, filters ...solana.AccountFilter) ([]solana.KeyedAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("getProgramAccounts")

	var out []solana.KeyedAccount
	for _, acc := range l.ProgramAccounts {
		if matches(acc.Account.Data, filters) {
			out = append(out, acc)
		}
	}
	return out, nil
}

func matches(data []byte, filters []solana.AccountFilter) bool {
	for _, f := range filters {
		if f.DataSize > 0 && uint64(len(data)) != f.DataSize {
			return false
		}
		if f.Memcmp != nil {
			want, err := base58.Decode(f.Memcmp.Bytes)
			if err != nil {
				return false
			}
			end := f.Memcmp.Offset + uint64(len(want))
			if end > uint64(len(data)) || string(data[f.Memcmp.Offset:end]) != string(want) {
				return false
			}
		}
	}
	return true
}

// GetLatestBlockhash returns a fresh deterministic blockhash on every call.
func (l *Ledger) GetLatestBlockhash(_ context.Context) (*solana.Blockhash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("getLatestBlockhash")
	l.blockhash++
	h := sha256.Sum256([]byte(fmt.Sprintf("blockhash-%d", l.blockhash)))
	return &solana.Blockhash{
		Hash:                 base58.Encode(h[:]),
		LastValidBlockHeight: l.BlockHeight + l.BlockhashTTL,
	}, nil
}

// GetBlockHeight returns the current height and advances it by HeightPerPoll.
func (l *Ledger) GetBlockHeight(_ context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("getBlockHeight")
	h := l.BlockHeight
	l.BlockHeight += l.HeightPerPoll
	return h, nil
}

// SendTransaction decodes the transaction and applies the next scripted step.
func (l *Ledger) SendTransaction(_ context.Context, raw []byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("sendTransaction")

	tx, err := solanago.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return "", fmt.Errorf("decode transaction: %w", err)
	}
	if len(tx.Signatures) == 0 {
		return "", errors.New("unsigned transaction")
	}
	l.sent = append(l.sent, tx)
	sig := tx.Signatures[0].String()

	if st, ok := l.statuses[sig]; ok && st.Landed() {
		return "", &solana.RPCError{Code: -32002, Message: "Transaction simulation failed: This transaction has already been processed"}
	}

	step := SendStep{Behavior: Land}
	if len(l.SendScript) > 0 {
		step = l.SendScript[0]
		l.SendScript = l.SendScript[1:]
	}

	if step.Err == nil || !errors.Is(step.Err, solana.ErrBlockhashNotFound) {
		switch step.Behavior {
		case Land:
			l.statuses[sig] = &solana.SignatureStatus{Slot: l.BlockHeight, ConfirmationStatus: solana.CommitmentConfirmed}
			if l.OnLand != nil {
				l.OnLand(tx)
			}
		case FailOnChain:
			l.statuses[sig] = &solana.SignatureStatus{
				Slot:               l.BlockHeight,
				ConfirmationStatus: solana.CommitmentConfirmed,
				Err:                map[string]interface{}{"InstructionError": []interface{}{0, "InsufficientFunds"}},
			}
		}
	}

	if step.Err != nil {
		return "", step.Err
	}
	return sig, nil
}

// GetSignatureStatuses reports statuses of landed transactions; unknown ones are nil.
func (l *Ledger) GetSignatureStatuses(_ context.Context, signatures ...string) ([]*solana.SignatureStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("getSignatureStatuses")
	out := make([]*solana.SignatureStatus, len(signatures))
	for i, sig := range signatures {
		if st, ok := l.statuses[sig]; ok {
			cp := *st
			out[i] = &cp
		}
	}
	return out, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
