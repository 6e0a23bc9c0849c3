package memory

import (
	"context"
	"sync"

	"solana-reward-distributor/internal/storage"
)

// Locker is an in-process implementation of storage.Locker.
type Locker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocker creates a new in-process locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]bool)}
}

var _ storage.Locker = (*Locker)(nil)

// TryLock acquires name. Returns ErrLocked if already held.
func (l *Locker) TryLock(_ context.Context, name string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[name] {
		return nil, storage.ErrLocked
	}
	l.held[name] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, nil
}
