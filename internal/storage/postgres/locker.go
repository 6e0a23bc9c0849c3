package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"solana-reward-distributor/internal/storage"
)

// Locker implements storage.Locker with session-level advisory locks.
// Each held lock pins one pooled connection until released.
type Locker struct {
	pool *Pool
}

// NewLocker creates a new Locker.
func NewLocker(pool *Pool) *Locker {
	return &Locker{pool: pool}
}

// Compile-time interface check.
var _ storage.Locker = (*Locker)(nil)

// TryLock takes pg_try_advisory_lock on hashtext(name). Returns ErrLocked if held.
func (l *Locker) TryLock(ctx context.Context, name string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, storage.ErrLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() { release(conn, name) })
	}, nil
}

func release(conn *pgxpool.Conn, name string) {
	// Unlock on a fresh context so a cancelled cycle still releases.
	if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, name); err != nil {
		// Closing the session drops every advisory lock it holds.
		conn.Conn().Close(context.Background())
	}
	conn.Release()
}
