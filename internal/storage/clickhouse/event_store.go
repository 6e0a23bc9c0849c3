package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"solana-reward-distributor/internal/domain"
)

// QueryObserver receives the latency and result of every flush.
type QueryObserver func(operation string, d time.Duration, err error)

// EventStore appends cycle and attempt events to ClickHouse.
// Attempts are buffered and written in one batch when their cycle ends.
// Write failures are logged, never returned, so analytics cannot stall a cycle.
type EventStore struct {
	conn    *Conn
	log     *slog.Logger
	observe QueryObserver

	mu       sync.Mutex
	attempts []domain.AttemptEvent
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn, log *slog.Logger, observe QueryObserver) *EventStore {
	return &EventStore{
		conn:    conn,
		log:     log.With("component", "clickhouse_events"),
		observe: observe,
	}
}

// Attempt buffers one attempt.
func (s *EventStore) Attempt(_ context.Context, ev domain.AttemptEvent) {
	s.mu.Lock()
	s.attempts = append(s.attempts, ev)
	s.mu.Unlock()
}

// Cycle records the event; an end event also flushes buffered attempts.
func (s *EventStore) Cycle(ctx context.Context, ev domain.CycleEvent) {
	if err := s.insertCycle(ctx, ev); err != nil {
		s.log.Warn("cycle event not stored", "cycle_id", ev.CycleID, "error", err)
	}
	if ev.Phase != domain.PhaseEnd {
		return
	}
	if err := s.Flush(ctx); err != nil {
		s.log.Warn("attempts not stored", "cycle_id", ev.CycleID, "error", err)
	}
}

// Flush writes all buffered attempts. On failure the buffer is kept for the next flush.
func (s *EventStore) Flush(ctx context.Context) (err error) {
	s.mu.Lock()
	pending := s.attempts
	s.attempts = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	defer func() {
		if err != nil {
			s.mu.Lock()
			s.attempts = append(pending, s.attempts...)
			s.mu.Unlock()
		}
	}()

	start := time.Now()
	defer func() { s.track("insert_attempts", start, err) }()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO submission_attempts (
			cycle_id, batch_id, attempt_number, outcome,
			backoff_ms, signature, error, at_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, a := range pending {
		err = batch.Append(
			a.CycleID, a.BatchID, uint32(a.Attempt), string(a.Outcome),
			uint64(a.BackoffMs), a.Signature, a.Error, uint64(a.At),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func (s *EventStore) insertCycle(ctx context.Context, ev domain.CycleEvent) (err error) {
	start := time.Now()
	defer func() { s.track("insert_cycle", start, err) }()

	return s.conn.Exec(ctx, `
		INSERT INTO cycle_events (
			cycle_id, phase, status, holders_total, holders_qualified,
			total_reward, batches_total, batches_confirmed, batches_failed,
			skipped_below_min_holding, skipped_below_min_payout,
			skipped_invalid, lookup_failures, error, at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.CycleID, string(ev.Phase), string(ev.Status),
		uint32(ev.HoldersTotal), uint32(ev.HoldersQualified),
		ev.TotalReward.String(),
		uint32(ev.BatchesTotal), uint32(ev.BatchesConfirmed), uint32(ev.BatchesFailed),
		uint32(ev.SkippedBelowMinHolding), uint32(ev.SkippedBelowMinPayout),
		uint32(ev.SkippedInvalid), uint32(ev.LookupFailures),
		ev.Error, uint64(ev.At),
	)
}

// GetAttempts retrieves a cycle's attempts ordered by batch then attempt number.
func (s *EventStore) GetAttempts(ctx context.Context, cycleID string) ([]domain.AttemptEvent, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT cycle_id, batch_id, attempt_number, outcome,
			backoff_ms, signature, error, at_ms
		FROM submission_attempts
		WHERE cycle_id = ?
		ORDER BY batch_id, attempt_number
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var result []domain.AttemptEvent
	for rows.Next() {
		var (
			a               domain.AttemptEvent
			attempt         uint32
			outcome         string
			backoffMs, atMs uint64
		)
		if err := rows.Scan(&a.CycleID, &a.BatchID, &attempt, &outcome, &backoffMs, &a.Signature, &a.Error, &atMs); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Attempt = int(attempt)
		a.Outcome = domain.Outcome(outcome)
		a.BackoffMs = int64(backoffMs)
		a.At = int64(atMs)
		result = append(result, a)
	}
	return result, rows.Err()
}

// CountCycleEvents returns how many events were stored for a cycle.
func (s *EventStore) CountCycleEvents(ctx context.Context, cycleID string) (uint64, error) {
	var n uint64
	err := s.conn.QueryRow(ctx, `SELECT count() FROM cycle_events WHERE cycle_id = ?`, cycleID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count cycle events: %w", err)
	}
	return n, nil
}

func (s *EventStore) track(operation string, start time.Time, err error) {
	if s.observe != nil {
		s.observe(operation, time.Since(start), err)
	}
}
