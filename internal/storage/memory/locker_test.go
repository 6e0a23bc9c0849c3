package memory

import (
	"context"
	"errors"
	"testing"

	"solana-reward-distributor/internal/storage"
)

func TestLocker_TryLock(t *testing.T) {
	l := NewLocker()
	ctx := context.Background()

	unlock, err := l.TryLock(ctx, "cycle")
	if err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}

	if _, err := l.TryLock(ctx, "cycle"); !errors.Is(err, storage.ErrLocked) {
		t.Errorf("Expected ErrLocked, got %v", err)
	}
	if _, err := l.TryLock(ctx, "other"); err != nil {
		t.Errorf("Independent name should lock: %v", err)
	}

	unlock()
	unlock()

	again, err := l.TryLock(ctx, "cycle")
	if err != nil {
		t.Fatalf("TryLock after unlock failed: %v", err)
	}
	again()
}
