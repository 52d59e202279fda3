// Package lock provides the distributed try-lock used by the idempotency
// guard. The acquire is non-blocking by design: a caller that loses the
// race is told so immediately and must not wait.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker is the distributed-lock port. TryAcquire returns false without
// blocking when the key is held by someone else. Release is a no-op for a
// lock the caller does not hold.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// releaseScript deletes the key only when it still carries this locker's
// owner value, so an expired lock re-acquired by another process is never
// released from under it.
var releaseScript = redis.NewScript(`
    if redis.call('GET', KEYS[1]) == ARGV[1] then
        return redis.call('DEL', KEYS[1])
    end
    return 0
`)

// RedisLocker implements Locker with SET NX and a TTL. The TTL bounds how
// long a crashed holder can block others.
type RedisLocker struct {
	rdb   *redis.Client
	owner string
	ttl   time.Duration
}

// NewRedisLocker constructs a locker with a random owner value. All locks
// taken through one instance share the owner; keys keep them distinct.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{rdb: rdb, owner: uuid.NewString(), ttl: ttl}
}

// TryAcquire attempts to take the lock without blocking.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string) (bool, error) {
	return l.rdb.SetNX(ctx, key, l.owner, l.ttl).Result()
}

// Release frees the lock if this locker still holds it.
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, l.rdb, []string{key}, l.owner).Err()
}
