package solana

import (
	"context"

	"github.com/shopspring/decimal"
)

// RPCClient is the subset of the Solana JSON-RPC API the distributor needs.
type RPCClient interface {
	// GetAccountInfo returns nil, nil when the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetTokenAccountBalance returns ErrAccountNotFound for missing accounts.
	GetTokenAccountBalance(ctx context.Context, account string) (*TokenAmount, error)

	// GetProgramAccounts lists accounts owned by programID matching all filters.
	GetProgramAccounts(ctx context.Context, programID string, filters ...AccountFilter) ([]KeyedAccount, error)

	// GetLatestBlockhash returns a recent blockhash and the last block height it is valid for.
	GetLatestBlockhash(ctx context.Context) (*Blockhash, error)

	// GetBlockHeight returns the current block height.
	GetBlockHeight(ctx context.Context) (uint64, error)

	// SendTransaction submits a signed, serialized transaction once and returns its signature.
	SendTransaction(ctx context.Context, tx []byte) (string, error)

	// GetSignatureStatuses returns one entry per signature; nil when unknown to the node.
	GetSignatureStatuses(ctx context.Context, signatures ...string) ([]*SignatureStatus, error)
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64
	Owner      string
	Data       []byte
	Executable bool
}

// KeyedAccount pairs an account with its address.
type KeyedAccount struct {
	Pubkey  string
	Account AccountInfo
}

// AccountFilter is a getProgramAccounts filter. Exactly one of DataSize or Memcmp is set.
type AccountFilter struct {
	DataSize uint64
	Memcmp   *Memcmp
}

// Memcmp matches Bytes (base58) at Offset.
type Memcmp struct {
	Offset uint64
	Bytes  string
}

// DataSizeFilter matches accounts of an exact data length.
func DataSizeFilter(n uint64) AccountFilter {
	return AccountFilter{DataSize: n}
}

// MemcmpFilter matches accounts with base58 bytes at offset.
func MemcmpFilter(offset uint64, bytes string) AccountFilter {
	return AccountFilter{Memcmp: &Memcmp{Offset: offset, Bytes: bytes}}
}

// TokenAmount is an SPL token balance.
type TokenAmount struct {
	Amount   uint64 // raw base units
	Decimals uint8
}

// UIAmount scales the raw amount by decimals.
func (t TokenAmount) UIAmount() decimal.Decimal {
	return decimal.NewFromUint64(t.Amount).Shift(-int32(t.Decimals))
}

// Blockhash is a recent blockhash with its validity bound.
type Blockhash struct {
	Hash                 string
	LastValidBlockHeight uint64
}

// Confirmation levels reported by getSignatureStatuses.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// SignatureStatus is a transaction's status as seen by the node.
type SignatureStatus struct {
	Slot               uint64
	Confirmations      *uint64
	Err                interface{}
	ConfirmationStatus string
}

// Landed reports whether the transaction reached at least confirmed commitment.
func (s *SignatureStatus) Landed() bool {
	return s != nil && (s.ConfirmationStatus == CommitmentConfirmed || s.ConfirmationStatus == CommitmentFinalized)
}
