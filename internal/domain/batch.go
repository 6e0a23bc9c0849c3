package domain

import (
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Recipient identifies one transfer inside a batch.
type Recipient struct {
	Owner        string
	TokenAccount string
	Amount       decimal.Decimal
	CreatesATA   bool
}

// TransactionBatch is a size-bounded group of instructions submitted as one transaction.
// The blockhash is not part of the batch; the submission engine stamps it per attempt.
type TransactionBatch struct {
	ID                 string
	Index              int
	FeePayer           solanago.PublicKey
	Instructions       []solanago.Instruction
	Recipients         []Recipient
	EstimatedSizeBytes int
}

// TotalAmount sums the transfer amounts carried by the batch.
func (b TransactionBatch) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, r := range b.Recipients {
		total = total.Add(r.Amount)
	}
	return total
}
