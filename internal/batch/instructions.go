package batch

import (
	"bytes"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/shopspring/decimal"
)

var computeBudgetProgramID = solanago.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

// Instruction discriminators.
const (
	ataCreateIdempotent   byte = 1
	setComputeUnitPriceIx byte = 3
)

// createIdempotentATA creates owner's associated token account for mint unless it
// already exists. Succeeds either way, so it is safe when existence is unknown.
func createIdempotentATA(payer, ata, owner, mint solanago.PublicKey) solanago.Instruction {
	return solanago.NewInstruction(
		solanago.SPLAssociatedTokenAccountProgramID,
		solanago.AccountMetaSlice{
			solanago.Meta(payer).WRITE().SIGNER(),
			solanago.Meta(ata).WRITE(),
			solanago.Meta(owner),
			solanago.Meta(mint),
			solanago.Meta(solanago.SystemProgramID),
			solanago.Meta(solanago.TokenProgramID),
		},
		[]byte{ataCreateIdempotent},
	)
}

// transfer moves raw token units between token accounts.
func transfer(source, destination, authority solanago.PublicKey, amount uint64) solanago.Instruction {
	return token.NewTransferInstruction(amount, source, destination, authority, nil).Build()
}

// setComputeUnitPrice sets the priority fee in micro-lamports per compute unit.
func setComputeUnitPrice(microLamports uint64) (solanago.Instruction, error) {
	var buf bytes.Buffer
	enc := bin.NewBinEncoder(&buf)
	if err := enc.WriteUint8(setComputeUnitPriceIx); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(microLamports, bin.LE); err != nil {
		return nil, err
	}
	return solanago.NewInstruction(computeBudgetProgramID, solanago.AccountMetaSlice{}, buf.Bytes()), nil
}

// ToBaseUnits converts a UI amount to raw units. The amount must be exact at decimals.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (uint64, error) {
	scaled := amount.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimals", amount, decimals)
	}
	if scaled.IsNegative() {
		return 0, fmt.Errorf("amount %s is negative", amount)
	}
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows u64", amount)
	}
	return bi.Uint64(), nil
}

// FromBaseUnits converts raw units to a UI amount.
func FromBaseUnits(raw uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -decimals)
}
