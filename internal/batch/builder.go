// Package batch turns a distribution plan into size-bounded transactions.
package batch

import (
	"context"
	"fmt"
	"log/slog"

	solanago "github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/idhash"
	"solana-reward-distributor/internal/solana"
)

// Config controls batch packing.
type Config struct {
	RewardMint               string
	Decimals                 int32
	MaxTransactionSizeBytes  int
	MaxTransfersPerBatch     int // 0 means no cap
	ConcurrencyLimit         int
	PriorityFeeMicroLamports uint64
}

// Result is the output of Build.
type Result struct {
	Batches []domain.TransactionBatch
	// Invalid lists holder addresses that could not be turned into a transfer.
	Invalid []string
	// LookupFailures counts existence lookups that failed; those holders got an
	// idempotent create instruction.
	LookupFailures int
}

// Builder packs transfers from the rewards wallet.
type Builder struct {
	rpc    solana.RPCClient
	cfg    Config
	payer  solanago.PublicKey
	mint   solanago.PublicKey
	source solanago.PublicKey
	log    *slog.Logger
}

// NewBuilder creates a Builder paying from payer's associated account of the reward mint.
func NewBuilder(rpc solana.RPCClient, payer solanago.PublicKey, cfg Config, log *slog.Logger) (*Builder, error) {
	if cfg.MaxTransactionSizeBytes <= 0 {
		return nil, fmt.Errorf("%w: maxTransactionSizeBytes must be positive", domain.ErrInvalidConfig)
	}
	if cfg.ConcurrencyLimit <= 0 {
		return nil, fmt.Errorf("%w: concurrencyLimit must be positive", domain.ErrInvalidConfig)
	}
	mint, err := solanago.PublicKeyFromBase58(cfg.RewardMint)
	if err != nil {
		return nil, fmt.Errorf("%w: reward mint: %w", domain.ErrInvalidConfig, err)
	}
	source, err := associatedAccount(payer, mint)
	if err != nil {
		return nil, err
	}
	return &Builder{
		rpc:    rpc,
		cfg:    cfg,
		payer:  payer,
		mint:   mint,
		source: source,
		log:    log.With("component", "batch"),
	}, nil
}

// unit is an atomic group of instructions for one recipient.
type unit struct {
	recipient    domain.Recipient
	instructions []solanago.Instruction
}

// Build resolves destination accounts and packs units greedily in plan order.
// A unit is never split across batches.
func (b *Builder) Build(ctx context.Context, cycleID string, plan domain.DistributionPlan) (Result, error) {
	var res Result
	if plan.IsEmpty() {
		return res, nil
	}

	type target struct {
		owner  solanago.PublicKey
		ata    solanago.PublicKey
		amount uint64
	}
	targets := make([]*target, len(plan.Entries))
	for i, e := range plan.Entries {
		owner, err := solanago.PublicKeyFromBase58(e.Holder.Address)
		if err != nil {
			b.log.Warn("skipping holder with invalid address", "address", e.Holder.Address, "error", err)
			res.Invalid = append(res.Invalid, e.Holder.Address)
			continue
		}
		amount, err := ToBaseUnits(e.PayableAmount, b.cfg.Decimals)
		if err != nil {
			b.log.Warn("skipping holder with unpayable amount", "address", e.Holder.Address, "error", err)
			res.Invalid = append(res.Invalid, e.Holder.Address)
			continue
		}
		ata, err := associatedAccount(owner, b.mint)
		if err != nil {
			b.log.Warn("skipping holder without derivable account", "address", e.Holder.Address, "error", err)
			res.Invalid = append(res.Invalid, e.Holder.Address)
			continue
		}
		targets[i] = &target{owner: owner, ata: ata, amount: amount}
	}

	exists, failures, err := b.lookupExisting(ctx, func(i int) (solanago.PublicKey, bool) {
		if targets[i] == nil {
			return solanago.PublicKey{}, false
		}
		return targets[i].ata, true
	}, len(targets))
	if err != nil {
		return Result{}, err
	}
	res.LookupFailures = failures

	units := make([]unit, 0, len(targets))
	for i, t := range targets {
		if t == nil {
			continue
		}
		u := unit{recipient: domain.Recipient{
			Owner:        t.owner.String(),
			TokenAccount: t.ata.String(),
			Amount:       plan.Entries[i].PayableAmount,
			CreatesATA:   !exists[i],
		}}
		if !exists[i] {
			u.instructions = append(u.instructions, createIdempotentATA(b.payer, t.ata, t.owner, b.mint))
		}
		u.instructions = append(u.instructions, transfer(b.source, t.ata, b.payer, t.amount))
		units = append(units, u)
	}

	batches, err := b.pack(cycleID, units)
	if err != nil {
		return Result{}, err
	}
	res.Batches = batches

	b.log.Info("batches built",
		"cycle_id", cycleID,
		"transfers", len(units),
		"batches", len(batches),
		"creates", countCreates(units),
		"lookup_failures", failures,
	)
	return res, nil
}

// lookupExisting checks account existence with at most ConcurrencyLimit calls in flight.
// A failed lookup is logged and reported as missing. Only cancellation aborts.
func (b *Builder) lookupExisting(ctx context.Context, key func(i int) (solanago.PublicKey, bool), n int) ([]bool, int, error) {
	exists := make([]bool, n)
	failed := make([]bool, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.ConcurrencyLimit)
	for i := 0; i < n; i++ {
		addr, ok := key(i)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			info, err := b.rpc.GetAccountInfo(gctx, addr.String())
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				b.log.Warn("account lookup failed, adding idempotent create", "account", addr.String(), "error", err)
				failed[i] = true
				return nil
			}
			exists[i] = info != nil
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("account lookups: %w", err)
	}

	failures := 0
	for _, f := range failed {
		if f {
			failures++
		}
	}
	return exists, failures, nil
}

// pack greedily fills batches under the size ceiling and transfer cap.
func (b *Builder) pack(cycleID string, units []unit) ([]domain.TransactionBatch, error) {
	prefix, err := b.prefix()
	if err != nil {
		return nil, err
	}

	var batches []domain.TransactionBatch
	var current []unit
	currentSize := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		batches = append(batches, b.assemble(cycleID, len(batches), prefix, current, currentSize))
		current = nil
		currentSize = 0
	}

	for _, u := range units {
		if b.cfg.MaxTransfersPerBatch > 0 && len(current) >= b.cfg.MaxTransfersPerBatch {
			flush()
		}

		candidate := append(append([]unit(nil), current...), u)
		size, err := EstimateSize(b.payer, flatten(prefix, candidate))
		if err != nil {
			return nil, err
		}
		if size <= b.cfg.MaxTransactionSizeBytes {
			current = candidate
			currentSize = size
			continue
		}

		if len(current) == 0 {
			return nil, fmt.Errorf("%w: transfer to %s needs %d bytes, limit %d",
				domain.ErrBatchTooLarge, u.recipient.Owner, size, b.cfg.MaxTransactionSizeBytes)
		}
		flush()

		size, err = EstimateSize(b.payer, flatten(prefix, []unit{u}))
		if err != nil {
			return nil, err
		}
		if size > b.cfg.MaxTransactionSizeBytes {
			return nil, fmt.Errorf("%w: transfer to %s needs %d bytes, limit %d",
				domain.ErrBatchTooLarge, u.recipient.Owner, size, b.cfg.MaxTransactionSizeBytes)
		}
		current = []unit{u}
		currentSize = size
	}
	flush()

	return batches, nil
}

func (b *Builder) prefix() ([]solanago.Instruction, error) {
	if b.cfg.PriorityFeeMicroLamports == 0 {
		return nil, nil
	}
	ix, err := setComputeUnitPrice(b.cfg.PriorityFeeMicroLamports)
	if err != nil {
		return nil, fmt.Errorf("compute unit price: %w", err)
	}
	return []solanago.Instruction{ix}, nil
}

func (b *Builder) assemble(cycleID string, index int, prefix []solanago.Instruction, units []unit, size int) domain.TransactionBatch {
	recipients := make([]domain.Recipient, len(units))
	for i, u := range units {
		recipients[i] = u.recipient
	}
	return domain.TransactionBatch{
		ID:                 idhash.ComputeBatchID(cycleID, index, recipients),
		Index:              index,
		FeePayer:           b.payer,
		Instructions:       flatten(prefix, units),
		Recipients:         recipients,
		EstimatedSizeBytes: size,
	}
}

func flatten(prefix []solanago.Instruction, units []unit) []solanago.Instruction {
	out := append([]solanago.Instruction(nil), prefix...)
	for _, u := range units {
		out = append(out, u.instructions...)
	}
	return out
}

func countCreates(units []unit) int {
	n := 0
	for _, u := range units {
		if u.recipient.CreatesATA {
			n++
		}
	}
	return n
}

func associatedAccount(owner, mint solanago.PublicKey) (solanago.PublicKey, error) {
	addr, err := solana.FindAssociatedTokenAddress(owner.String(), mint.String())
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("derive associated account: %w", err)
	}
	return solanago.MustPublicKeyFromBase58(addr), nil
}
