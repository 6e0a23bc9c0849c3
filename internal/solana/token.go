package solana

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/mr-tron/base58"
)

// Well-known program addresses.
const (
	TokenProgramID                  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenProgramID        = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	ComputeBudgetProgramID          = "ComputeBudget111111111111111111111111111111"
	TokenAccountSize         uint64 = 165
)

// TokenAccount is the decoded prefix of an SPL token account.
// Layout: mint (32) | owner (32) | amount (u64 LE) | ...
type TokenAccount struct {
	Mint   string
	Owner  string
	Amount uint64
}

// DecodeTokenAccount parses raw SPL token account data.
func DecodeTokenAccount(data []byte) (*TokenAccount, error) {
	if uint64(len(data)) < 72 {
		return nil, fmt.Errorf("token account data too short: %d bytes", len(data))
	}

	dec := bin.NewBinDecoder(data)
	mint, err := dec.ReadNBytes(32)
	if err != nil {
		return nil, fmt.Errorf("read mint: %w", err)
	}
	owner, err := dec.ReadNBytes(32)
	if err != nil {
		return nil, fmt.Errorf("read owner: %w", err)
	}
	amount, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("read amount: %w", err)
	}

	return &TokenAccount{
		Mint:   base58.Encode(mint),
		Owner:  base58.Encode(owner),
		Amount: amount,
	}, nil
}
