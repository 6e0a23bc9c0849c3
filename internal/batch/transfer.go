package batch

import (
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"solana-reward-distributor/internal/domain"
)

// TransferSpec describes a single token movement between two wallets' associated accounts.
type TransferSpec struct {
	ID        string
	FeePayer  solanago.PublicKey
	Authority solanago.PublicKey // owner of the source account
	To        solanago.PublicKey // owner of the destination account
	Mint      solanago.PublicKey
	Amount    decimal.Decimal
	Decimals  int32
}

// SingleTransfer builds a one-recipient batch that creates the destination
// account idempotently and transfers Amount to it.
func SingleTransfer(spec TransferSpec) (domain.TransactionBatch, error) {
	raw, err := ToBaseUnits(spec.Amount, spec.Decimals)
	if err != nil {
		return domain.TransactionBatch{}, err
	}
	source, err := associatedAccount(spec.Authority, spec.Mint)
	if err != nil {
		return domain.TransactionBatch{}, err
	}
	dest, err := associatedAccount(spec.To, spec.Mint)
	if err != nil {
		return domain.TransactionBatch{}, err
	}

	instructions := []solanago.Instruction{
		createIdempotentATA(spec.FeePayer, dest, spec.To, spec.Mint),
		transfer(source, dest, spec.Authority, raw),
	}
	size, err := EstimateSize(spec.FeePayer, instructions)
	if err != nil {
		return domain.TransactionBatch{}, fmt.Errorf("estimate transfer size: %w", err)
	}

	return domain.TransactionBatch{
		ID:           spec.ID,
		FeePayer:     spec.FeePayer,
		Instructions: instructions,
		Recipients: []domain.Recipient{{
			Owner:        spec.To.String(),
			TokenAccount: dest.String(),
			Amount:       spec.Amount,
			CreatesATA:   true,
		}},
		EstimatedSizeBytes: size,
	}, nil
}
