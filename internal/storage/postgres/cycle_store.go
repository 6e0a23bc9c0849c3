package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/storage"
)

// CycleStore implements storage.CycleStore using PostgreSQL.
// Decimal columns travel as text so no precision is lost to float conversion.
type CycleStore struct {
	pool *Pool
}

// NewCycleStore creates a new CycleStore.
func NewCycleStore(pool *Pool) *CycleStore {
	return &CycleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CycleStore = (*CycleStore)(nil)

const cycleColumns = `
	cycle_id, cycle_key, status, started_at, finished_at,
	holders_total, holders_qualified,
	fee_amount::text, converted_amount::text, conversion_signature,
	total_reward::text, carried_in::text, remainder::text,
	skipped_below_min_holding, skipped_below_min_payout,
	batches_total, batches_confirmed, batches_failed, error
`

// Begin inserts a RUNNING cycle. Returns ErrDuplicateKey if cycle_id exists.
func (s *CycleStore) Begin(ctx context.Context, rec *storage.CycleRecord) (err error) {
	if rec == nil || rec.CycleID == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { s.pool.track("cycle_begin", start, err) }()

	query := `
		INSERT INTO distribution_cycles (cycle_id, cycle_key, status, started_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = s.pool.Exec(ctx, query, rec.CycleID, rec.CycleKey, string(rec.Status), rec.StartedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// Finish updates the cycle and inserts its batches in one transaction.
func (s *CycleStore) Finish(ctx context.Context, rec *storage.CycleRecord, batches []storage.BatchRecord) (err error) {
	if rec == nil || rec.CycleID == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { s.pool.track("cycle_finish", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	update := `
		UPDATE distribution_cycles SET
			cycle_key = $2, status = $3, finished_at = $4,
			holders_total = $5, holders_qualified = $6,
			fee_amount = $7::text::numeric, converted_amount = $8::text::numeric,
			conversion_signature = $9,
			total_reward = $10::text::numeric, carried_in = $11::text::numeric,
			remainder = $12::text::numeric,
			skipped_below_min_holding = $13, skipped_below_min_payout = $14,
			batches_total = $15, batches_confirmed = $16, batches_failed = $17,
			error = $18
		WHERE cycle_id = $1
	`
	tag, err := tx.Exec(ctx, update,
		rec.CycleID, rec.CycleKey, string(rec.Status), rec.FinishedAt,
		rec.HoldersTotal, rec.HoldersQualified,
		rec.FeeAmount.String(), rec.ConvertedAmount.String(),
		rec.ConversionSignature,
		rec.TotalReward.String(), rec.CarriedIn.String(),
		rec.Remainder.String(),
		rec.SkippedBelowMinHolding, rec.SkippedBelowMinPayout,
		rec.BatchesTotal, rec.BatchesConfirmed, rec.BatchesFailed,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("update cycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	insert := `
		INSERT INTO distribution_batches (
			cycle_id, batch_id, batch_index, state, signature,
			attempts, recipients, amount, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text::numeric, $9)
	`
	for _, b := range batches {
		_, err := tx.Exec(ctx, insert,
			rec.CycleID, b.BatchID, b.Index, string(b.State), b.Signature,
			b.Attempts, b.Recipients, b.Amount.String(), b.Error,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert batch %s: %w", b.BatchID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID retrieves a cycle. Returns ErrNotFound if not exists.
func (s *CycleStore) GetByID(ctx context.Context, cycleID string) (*storage.CycleRecord, error) {
	query := `SELECT ` + cycleColumns + ` FROM distribution_cycles WHERE cycle_id = $1`

	rec, err := scanCycle(s.pool.QueryRow(ctx, query, cycleID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get cycle: %w", err)
	}
	return rec, nil
}

// GetBatches retrieves a cycle's batches ordered by index.
func (s *CycleStore) GetBatches(ctx context.Context, cycleID string) ([]storage.BatchRecord, error) {
	query := `
		SELECT cycle_id, batch_id, batch_index, state, signature,
			attempts, recipients, amount::text, error
		FROM distribution_batches
		WHERE cycle_id = $1
		ORDER BY batch_index ASC
	`
	rows, err := s.pool.Query(ctx, query, cycleID)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var result []storage.BatchRecord
	for rows.Next() {
		var (
			b      storage.BatchRecord
			state  string
			amount string
		)
		if err := rows.Scan(
			&b.CycleID, &b.BatchID, &b.Index, &state, &b.Signature,
			&b.Attempts, &b.Recipients, &amount, &b.Error,
		); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.State = domain.Outcome(state)
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse batch amount: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// ListRecent retrieves up to limit cycles, newest first.
func (s *CycleStore) ListRecent(ctx context.Context, limit int) ([]*storage.CycleRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + cycleColumns + `
		FROM distribution_cycles
		ORDER BY started_at DESC, cycle_id ASC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var result []*storage.CycleRecord
	for rows.Next() {
		rec, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func scanCycle(row pgx.Row) (*storage.CycleRecord, error) {
	var rec storage.CycleRecord
	var status string
	var fee, converted, reward, carried, remainder string
	err := row.Scan(
		&rec.CycleID, &rec.CycleKey, &status, &rec.StartedAt, &rec.FinishedAt,
		&rec.HoldersTotal, &rec.HoldersQualified,
		&fee, &converted, &rec.ConversionSignature,
		&reward, &carried, &remainder,
		&rec.SkippedBelowMinHolding, &rec.SkippedBelowMinPayout,
		&rec.BatchesTotal, &rec.BatchesConfirmed, &rec.BatchesFailed, &rec.Error,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = domain.CycleStatus(status)

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&rec.FeeAmount, fee},
		{&rec.ConvertedAmount, converted},
		{&rec.TotalReward, reward},
		{&rec.CarriedIn, carried},
		{&rec.Remainder, remainder},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("parse decimal %q: %w", f.src, err)
		}
	}
	return &rec, nil
}
