package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

func TestLockManager(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "signer", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := lm.Acquire(ctx, "signer", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second Acquire err = %v, want ErrLockHeld", err)
	}
	if _, err := lm.Acquire(ctx, "other", time.Minute); err != nil {
		t.Fatalf("independent key: %v", err)
	}

	unlock()
	next, err := lm.Acquire(ctx, "signer", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after unlock: %v", err)
	}
	// A repeated release from the earlier holder must not free the new one.
	unlock()
	if _, err := lm.Acquire(ctx, "signer", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatal("stale unlock released the current holder")
	}
	next()
}

func TestLockManagerHoldsPastTTL(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "signer", time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer unlock()
	time.Sleep(5 * time.Millisecond)
	if _, err := lm.Acquire(ctx, "signer", time.Millisecond); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("Acquire after ttl err = %v, want ErrLockHeld while the holder runs", err)
	}
}
