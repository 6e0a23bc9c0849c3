package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"solana-reward-distributor/internal/domain"
)

// ComputeBatchID computes a deterministic batch_id using SHA256.
// Formula: SHA256(cycle_id|batch_index|owner:amount,owner:amount,...)
// Returns hex-encoded hash (64 characters).
//
// Rebuilding the same plan in the same cycle yields the same ids, which lets the
// submission engine and the ledger store recognize already-confirmed batches.
func ComputeBatchID(cycleID string, index int, recipients []domain.Recipient) string {
	parts := make([]string, len(recipients))
	for i, r := range recipients {
		parts[i] = r.Owner + ":" + r.Amount.String()
	}

	data := fmt.Sprintf("%s|%d|%s",
		cycleID,
		index,
		strings.Join(parts, ","),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeCycleKey computes a deterministic key for a cycle's inputs.
// Formula: SHA256(mint|reward_mint|total_reward|holder_count)
// Used to tag ledger rows so reruns of an identical cycle can be detected.
func ComputeCycleKey(mint, rewardMint, totalReward string, holderCount int) string {
	data := fmt.Sprintf("%s|%s|%s|%d", mint, rewardMint, totalReward, holderCount)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
