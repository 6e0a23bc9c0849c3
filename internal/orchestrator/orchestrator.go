// Package orchestrator drives one distribution cycle end to end.
//
// Flow: (holder snapshot → eligibility) ∥ (fee collection → conversion) →
// planning → batch building → sequential submission → persistence and events.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"solana-reward-distributor/internal/batch"
	"solana-reward-distributor/internal/converter"
	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/events"
	"solana-reward-distributor/internal/holders"
	"solana-reward-distributor/internal/idhash"
	"solana-reward-distributor/internal/planner"
	"solana-reward-distributor/internal/storage"
)

// LockName is the advisory lock held for the duration of a cycle.
const LockName = "reward-distribution-cycle"

// HolderSource snapshots token holders.
type HolderSource interface {
	Snapshot(ctx context.Context) ([]domain.Holder, error)
}

// FeeSource sizes and collects the fee amount of a cycle.
type FeeSource interface {
	Amount(ctx context.Context) (decimal.Decimal, error)
	Collect(ctx context.Context, cycleID string) (decimal.Decimal, error)
}

// Converter turns fees into the reward asset.
type Converter interface {
	Quote(ctx context.Context, amount decimal.Decimal) (converter.Quote, error)
	Convert(ctx context.Context, amount decimal.Decimal) (domain.ConversionResult, error)
}

// BatchBuilder packs a plan into transactions.
type BatchBuilder interface {
	Build(ctx context.Context, cycleID string, plan domain.DistributionPlan) (batch.Result, error)
}

// Submitter sends batches.
type Submitter interface {
	Submit(ctx context.Context, b domain.TransactionBatch) domain.BatchResult
	SubmitAll(ctx context.Context, batches []domain.TransactionBatch) []domain.BatchResult
}

// Policy is the per-cycle payout policy.
type Policy struct {
	Mint                    string
	RewardMint              string
	RewardDecimals          int32
	MinimumHoldingThreshold decimal.Decimal
	MinimumPayoutThreshold  decimal.Decimal
	CarryForwardRemainder   bool
}

// Options for creating Orchestrator. Locker, Cycles and Remainders are optional.
type Options struct {
	Holders   HolderSource
	Fees      FeeSource
	Converter Converter
	Builder   BatchBuilder
	Submitter Submitter

	Cycles     storage.CycleStore
	Remainders storage.RemainderStore
	Locker     storage.Locker

	Sink  events.Sink
	Relay *events.AttemptRelay

	Policy Policy
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Orchestrator runs distribution cycles. Cycles must not overlap; Locker enforces
// that across processes.
type Orchestrator struct {
	holders    HolderSource
	fees       FeeSource
	converter  Converter
	builder    BatchBuilder
	submitter  Submitter
	cycles     storage.CycleStore
	remainders storage.RemainderStore
	locker     storage.Locker
	sink       events.Sink
	relay      *events.AttemptRelay
	policy     Policy
	clock      clockwork.Clock
	log        *slog.Logger
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		holders:    opts.Holders,
		fees:       opts.Fees,
		converter:  opts.Converter,
		builder:    opts.Builder,
		submitter:  opts.Submitter,
		cycles:     opts.Cycles,
		remainders: opts.Remainders,
		locker:     opts.Locker,
		sink:       opts.Sink,
		relay:      opts.Relay,
		policy:     opts.Policy,
		clock:      opts.Clock,
		log:        opts.Logger,
	}
	if o.sink == nil {
		o.sink = events.Fanout(nil)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	o.log = o.log.With("component", "orchestrator")
	return o
}

// inputs is what the parallel first phase produces.
type inputs struct {
	holdersTotal int
	eligibility  domain.EligibilityResult
	fee          decimal.Decimal
	conversion   *domain.ConversionResult
	quote        *converter.Quote
}

// gather snapshots holders and, in parallel, obtains the reward amount.
// With execute unset nothing moves on chain: fees are sized and quoted only.
func (o *Orchestrator) gather(ctx context.Context, cycleID string, execute bool) (inputs, error) {
	var in inputs
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		snapshot, err := o.holders.Snapshot(gctx)
		if err != nil {
			return fmt.Errorf("holder snapshot: %w", err)
		}
		in.holdersTotal = len(snapshot)
		in.eligibility = holders.Filter(snapshot, o.policy.MinimumHoldingThreshold, o.log)
		return nil
	})

	g.Go(func() error {
		if !execute {
			fee, err := o.fees.Amount(gctx)
			if err != nil {
				return fmt.Errorf("fee amount: %w", err)
			}
			in.fee = fee
			if !fee.IsPositive() {
				return nil
			}
			q, err := o.converter.Quote(gctx, fee)
			if err != nil {
				return fmt.Errorf("quote: %w", err)
			}
			in.quote = &q
			return nil
		}

		fee, err := o.fees.Collect(gctx, cycleID)
		if err != nil {
			return fmt.Errorf("collect fees: %w", err)
		}
		in.fee = fee
		conv, err := o.converter.Convert(gctx, fee)
		if err != nil {
			return fmt.Errorf("convert fees: %w", err)
		}
		in.conversion = &conv
		return nil
	})

	// On failure in still holds whatever finished, notably a completed conversion.
	err := g.Wait()
	return in, err
}

// carriedIn reads the stored remainder when carry-forward is enabled.
func (o *Orchestrator) carriedIn(ctx context.Context) (decimal.Decimal, error) {
	if !o.policy.CarryForwardRemainder || o.remainders == nil {
		return decimal.Zero, nil
	}
	amount, err := o.remainders.Get(ctx, o.policy.RewardMint)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load remainder: %w", err)
	}
	return amount, nil
}

func (o *Orchestrator) plan(in inputs, total decimal.Decimal) domain.DistributionPlan {
	return planner.Plan(in.eligibility.Qualified, total, planner.Params{
		Decimals:               o.policy.RewardDecimals,
		MinimumPayoutThreshold: o.policy.MinimumPayoutThreshold,
		SkippedBelowMinHolding: in.eligibility.DisqualifiedCount,
	})
}

// Run executes one cycle. The summary is always returned, populated as far as the
// cycle got. ErrPartialDistribution accompanies a summary with failed batches;
// storage.ErrLocked means another cycle is running and nothing was done.
func (o *Orchestrator) Run(ctx context.Context) (domain.CycleSummary, error) {
	if o.locker != nil {
		unlock, err := o.locker.TryLock(ctx, LockName)
		if err != nil {
			return domain.CycleSummary{}, fmt.Errorf("cycle lock: %w", err)
		}
		defer unlock()
	}

	c := &cycle{
		o: o,
		summary: domain.CycleSummary{
			CycleID:   uuid.NewString(),
			Status:    domain.CycleRunning,
			StartedAt: o.clock.Now().UnixMilli(),
		},
	}
	log := o.log.With("cycle_id", c.summary.CycleID)

	if o.relay != nil {
		o.relay.Begin(ctx, c.summary.CycleID)
		defer o.relay.End()
	}

	o.sink.Cycle(ctx, domain.CycleEvent{
		Phase:   domain.PhaseStart,
		CycleID: c.summary.CycleID,
		Status:  domain.CycleRunning,
		At:      c.summary.StartedAt,
	})
	if o.cycles != nil {
		rec := storage.NewCycleRecord(c.summary, "", nil)
		if err := o.cycles.Begin(ctx, rec); err != nil {
			return c.abort(ctx, fmt.Errorf("record cycle start: %w", err))
		}
	}
	log.Info("cycle started")

	carried, err := o.carriedIn(ctx)
	if err != nil {
		return c.abort(ctx, err)
	}
	c.summary.CarriedIn = carried

	in, err := o.gather(ctx, c.summary.CycleID, true)
	c.summary.FeeAmount = in.fee
	if in.conversion != nil {
		c.summary.Conversion = in.conversion
		c.summary.TotalReward = in.conversion.OutputAmount.Add(carried)
	}
	if err != nil {
		return c.abort(ctx, err)
	}
	c.summary.HoldersTotal = in.holdersTotal
	c.summary.HoldersQualified = len(in.eligibility.Qualified)
	c.summary.Disqualified = in.eligibility.DisqualifiedCount

	total := c.summary.TotalReward
	c.key = idhash.ComputeCycleKey(o.policy.Mint, o.policy.RewardMint, total.String(), c.summary.HoldersQualified)

	plan := o.plan(in, total)
	c.summary.SkippedBelowMinHolding = plan.SkippedBelowMinHolding
	c.summary.SkippedBelowMinPayout = plan.SkippedBelowMinPayout
	c.summary.Remainder = plan.Remainder()
	c.undelivered = total

	log.Info("plan ready",
		"holders", c.summary.HoldersTotal,
		"qualified", c.summary.HoldersQualified,
		"total_reward", total.String(),
		"carried_in", carried.String(),
		"payouts", len(plan.Entries),
		"skipped_below_min_payout", plan.SkippedBelowMinPayout,
	)

	if plan.IsEmpty() {
		c.summary.Status = domain.CycleEmpty
		return c.finish(ctx, nil, nil)
	}

	built, err := o.builder.Build(ctx, c.summary.CycleID, plan)
	if err != nil {
		return c.abort(ctx, fmt.Errorf("build batches: %w", err))
	}
	c.summary.SkippedInvalid = len(built.Invalid)
	c.summary.LookupFailures = built.LookupFailures
	if len(built.Invalid) > 0 {
		log.Warn("payouts skipped, recipient could not be encoded",
			"count", len(built.Invalid),
			"holders", built.Invalid,
		)
	}
	if len(built.Batches) == 0 {
		c.summary.Status = domain.CycleEmpty
		return c.finish(ctx, nil, nil)
	}

	results := o.submitter.SubmitAll(ctx, built.Batches)
	c.summary.Results = results
	for _, r := range results {
		if r.State != domain.OutcomeConfirmed {
			continue
		}
		for _, b := range built.Batches {
			if b.ID == r.BatchID {
				c.undelivered = c.undelivered.Sub(b.TotalAmount())
			}
		}
	}

	var cycleErr error
	switch {
	case c.summary.Count(domain.OutcomeFailed) > 0:
		c.summary.Status = domain.CyclePartial
		cycleErr = fmt.Errorf("%w: %d of %d batches failed",
			domain.ErrPartialDistribution, c.summary.Count(domain.OutcomeFailed), len(results))
	case c.summary.Count(domain.OutcomeNotAttempted) > 0:
		c.summary.Status = domain.CyclePartial
		cycleErr = fmt.Errorf("cycle interrupted with %d batches not attempted",
			c.summary.Count(domain.OutcomeNotAttempted))
		if cause := context.Cause(ctx); cause != nil {
			cycleErr = fmt.Errorf("%w: %w", cycleErr, cause)
		}
	default:
		c.summary.Status = domain.CycleCompleted
	}

	return c.finish(ctx, built.Batches, cycleErr)
}

// cycle carries the state of one Run between its exit paths.
type cycle struct {
	o       *Orchestrator
	summary domain.CycleSummary
	key     string
	// undelivered is the reward still in the wallet at the end of the cycle.
	undelivered decimal.Decimal
}

func (c *cycle) abort(ctx context.Context, err error) (domain.CycleSummary, error) {
	c.summary.Status = domain.CycleAborted
	c.undelivered = c.summary.TotalReward
	return c.finish(ctx, nil, err)
}

// finish persists the outcome, carries the remainder and emits the end event.
// Persistence runs on an uncancellable context so an interrupted cycle is still recorded.
func (c *cycle) finish(ctx context.Context, batches []domain.TransactionBatch, cycleErr error) (domain.CycleSummary, error) {
	o := c.o
	c.summary.FinishedAt = o.clock.Now().UnixMilli()
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	log := o.log.With("cycle_id", c.summary.CycleID)

	// Once conversion ran, the carry-in is part of TotalReward and the stored
	// value is replaced by whatever stayed in the wallet.
	if o.policy.CarryForwardRemainder && o.remainders != nil && c.summary.Conversion != nil {
		if err := o.remainders.Set(pctx, o.policy.RewardMint, c.undelivered, c.summary.FinishedAt); err != nil {
			log.Error("remainder not stored", "amount", c.undelivered.String(), "error", err)
		}
	}

	if o.cycles != nil {
		rec := storage.NewCycleRecord(c.summary, c.key, cycleErr)
		recs := storage.NewBatchRecords(c.summary.CycleID, c.summary.Results, batches)
		if err := o.cycles.Finish(pctx, rec, recs); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Error("cycle not recorded", "error", err)
		}
	}

	o.sink.Cycle(pctx, domain.EndEvent(c.summary, cycleErr))

	attrs := []any{
		"status", c.summary.Status,
		"batches", c.summary.BatchesTotal(),
		"confirmed", c.summary.Count(domain.OutcomeConfirmed),
		"failed", c.summary.Count(domain.OutcomeFailed),
		"duration_ms", c.summary.FinishedAt - c.summary.StartedAt,
	}
	if cycleErr != nil {
		log.Error("cycle finished", append(attrs, "error", cycleErr)...)
	} else {
		log.Info("cycle finished", attrs...)
	}
	return c.summary, cycleErr
}
