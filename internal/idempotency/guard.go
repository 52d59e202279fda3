// Package idempotency collapses retried client requests onto a single
// execution. A completed result is stored under a key derived from the
// client-supplied Idempotency-Key and the operation, and replayed verbatim
// for the TTL window; concurrent duplicates fail fast with ErrInFlight
// while exactly one executor holds the lock.
package idempotency

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/concert-ticket-booking/internal/lock"
)

// ErrInFlight signals that another request with the same keys is being
// executed right now. Callers should answer 202 Accepted with Retry-After
// rather than wait.
var ErrInFlight = errors.New("idempotent request in flight")

// Store persists encoded results with a TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// RedisStore keeps idempotency records in Redis.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore constructs a RedisStore on the given client.
func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

// Get fetches a record; the second return is false on a miss.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	bs, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return bs, true, nil
}

// Set stores a record with the given TTL.
func (s *RedisStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return s.rdb.SetEx(ctx, key, payload, ttl).Err()
}

// Guard wraps operations keyed by (Idempotency-Key, operation key).
type Guard struct {
	store  Store
	locker lock.Locker
	ttl    time.Duration
}

// NewGuard constructs a Guard. ttl bounds how long completed results are
// replayed.
func NewGuard(store Store, locker lock.Locker, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Guard{store: store, locker: locker, ttl: ttl}
}

// keys hashes the pair into a fixed-size record key and lock key.
func keys(operationKey, idemKey string) (cacheKey, lockKey string) {
	sum := sha1.Sum([]byte(operationKey + "\x00" + idemKey))
	return fmt.Sprintf("idem:rec:%x", sum), fmt.Sprintf("idem:lock:%x", sum)
}

// Wrap executes fn at most once per (operationKey, idemKey) within the
// TTL window. The second return reports whether the result was replayed
// from the store. The lock is released on every exit path, including when
// fn panics, so a failed execution never wedges the key; a failed fn is
// not recorded and a later retry executes again.
func (g *Guard) Wrap(ctx context.Context, operationKey, idemKey string, fn func(ctx context.Context) (*Result, error)) (*Result, bool, error) {
	cacheKey, lockKey := keys(operationKey, idemKey)

	if res, ok, err := g.lookup(ctx, cacheKey); err != nil {
		return nil, false, err
	} else if ok {
		return res, true, nil
	}

	acquired, err := g.locker.TryAcquire(ctx, lockKey)
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		return nil, false, ErrInFlight
	}
	defer func() {
		_ = g.locker.Release(context.WithoutCancel(ctx), lockKey)
	}()

	// The first check raced an executor that has since completed.
	if res, ok, err := g.lookup(ctx, cacheKey); err != nil {
		return nil, false, err
	} else if ok {
		return res, true, nil
	}

	res, err := fn(ctx)
	if err != nil {
		return nil, false, err
	}
	payload, err := encodeResult(res)
	if err != nil {
		return nil, false, err
	}
	if err := g.store.Set(ctx, cacheKey, payload, g.ttl); err != nil {
		return nil, false, err
	}
	return res, false, nil
}

func (g *Guard) lookup(ctx context.Context, cacheKey string) (*Result, bool, error) {
	bs, ok, err := g.store.Get(ctx, cacheKey)
	if err != nil || !ok {
		return nil, false, err
	}
	res, valid := decodeResult(bs)
	if !valid {
		return nil, false, nil
	}
	return res, true, nil
}
