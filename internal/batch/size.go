package batch

import (
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
)

const signatureLength = 64

// EstimateSize returns the exact wire size of a legacy transaction carrying
// instructions, paid by payer: shortvec(signature count) + signatures + message.
// The blockhash does not affect size, so a zero hash is used.
func EstimateSize(payer solanago.PublicKey, instructions []solanago.Instruction) (int, error) {
	tx, err := solanago.NewTransaction(instructions, solanago.Hash{}, solanago.TransactionPayer(payer))
	if err != nil {
		return 0, fmt.Errorf("assemble transaction: %w", err)
	}
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("marshal message: %w", err)
	}
	n := int(tx.Message.Header.NumRequiredSignatures)
	return shortVecLen(n) + n*signatureLength + len(msg), nil
}

// shortVecLen is the length of a compact-u16 encoding of n.
func shortVecLen(n int) int {
	switch {
	case n < 0x80:
		return 1
	case n < 0x4000:
		return 2
	default:
		return 3
	}
}
