package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewLocker(rdb), mr
}

func TestAcquire_Conflict(t *testing.T) {
	l, _ := testLocker(t)
	ctx := context.Background()

	h, err := l.Acquire(ctx, "subject:1", 30*time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if _, err := l.Acquire(ctx, "subject:1", 30*time.Second); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("Expected ErrNotAcquired, got %v", err)
	}

	// A different subject is unaffected.
	if _, err := l.Acquire(ctx, "subject:2", 30*time.Second); err != nil {
		t.Errorf("Different key should acquire, got %v", err)
	}

	h.Release(ctx)
	if _, err := l.Acquire(ctx, "subject:1", 30*time.Second); err != nil {
		t.Errorf("Expected reacquire after release, got %v", err)
	}
}

func TestAcquire_TTLExpiry(t *testing.T) {
	l, mr := testLocker(t)
	ctx := context.Background()

	if _, err := l.Acquire(ctx, "subject:1", 30*time.Second); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	mr.FastForward(31 * time.Second)

	if _, err := l.Acquire(ctx, "subject:1", 30*time.Second); err != nil {
		t.Errorf("Expected acquire after TTL lapse, got %v", err)
	}
}

func TestRelease_OnlyOwnToken(t *testing.T) {
	l, mr := testLocker(t)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "subject:1", 30*time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// TTL lapses and a second worker takes the lock.
	mr.FastForward(31 * time.Second)
	if _, err := l.Acquire(ctx, "subject:1", 30*time.Second); err != nil {
		t.Fatalf("Second acquire failed: %v", err)
	}

	// The stale holder's release must not free the new holder's lock.
	stale.Release(ctx)
	if _, err := l.Acquire(ctx, "subject:1", 30*time.Second); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("Stale release must not free the lock, got %v", err)
	}
}
