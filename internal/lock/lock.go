package lock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired means another holder owns the lock.
var ErrNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the lock only when the caller still holds it, so a
// slow worker cannot release a lock the TTL already handed to someone else.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Handle is a held lock.
type Handle interface {
	Release(ctx context.Context)
}

// Locker hands out advisory TTL-bounded locks backed by redis. The TTL keeps
// a crashed holder from wedging its subject forever.
type Locker struct {
	rdb *redis.Client
}

func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (Handle, error) {
	token := uuid.New().String()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}
	return &lock{rdb: l.rdb, key: key, token: token}, nil
}

type lock struct {
	rdb   *redis.Client
	key   string
	token string
}

// Release is best-effort: the TTL is the backstop if redis is unreachable.
func (lk *lock) Release(ctx context.Context) {
	if err := lk.rdb.Eval(ctx, releaseScript, []string{lk.key}, lk.token).Err(); err != nil && err != redis.Nil {
		log.Printf("lock: release of %s failed: %v", lk.key, err)
	}
}
