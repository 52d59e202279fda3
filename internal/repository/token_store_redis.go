package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/concert-ticket-booking/internal/model"
)

// RedisTokenStore is the key-value backing of the admission queue. It must
// be observationally identical to TokenRepo:
//
//	queue:seq                    – global INCR sequence assigning token ids
//	queue:schedules              – set of schedules with at least one token
//	queue:{sid}:token:{id}       – hash with the token fields
//	queue:{sid}:waiting          – sorted set of WAIT ids, scored by id (FIFO)
//	queue:{sid}:active           – sorted set of ACTIVE ids, scored by deadline
//
// Because ids come from one sequence, scoring the waiting set by id gives
// the same (created_at, id) order the relational backing sorts by. The
// promote and expire paths run as Lua scripts so a token can only be
// claimed once under concurrent sweeps.
type RedisTokenStore struct {
	rdb *redis.Client
}

// NewRedisTokenStore constructs a RedisTokenStore on the given client.
func NewRedisTokenStore(rdb *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{rdb: rdb}
}

func tokenKey(scheduleID, tokenID uint64) string {
	return fmt.Sprintf("queue:%d:token:%d", scheduleID, tokenID)
}

func waitingKey(scheduleID uint64) string { return fmt.Sprintf("queue:%d:waiting", scheduleID) }
func activeKey(scheduleID uint64) string  { return fmt.Sprintf("queue:%d:active", scheduleID) }

// promoteScript pops up to ARGV[2] ids from the waiting set and marks each
// ACTIVE with deadline ARGV[3] (unix nanos). A member whose hash no longer
// reads WAIT was claimed elsewhere and is skipped. Returns the promoted ids.
var promoteScript = redis.NewScript(`
    local waiting = KEYS[1]
    local active = KEYS[2]
    local prefix = ARGV[1]
    local k = tonumber(ARGV[2])
    local deadline = ARGV[3]

    local ids = redis.call('ZRANGE', waiting, 0, k - 1)
    local promoted = {}
    for _, id in ipairs(ids) do
        if redis.call('ZREM', waiting, id) == 1 then
            local hkey = prefix .. id
            if redis.call('HGET', hkey, 'status') == 'WAIT' then
                redis.call('HSET', hkey, 'status', 'ACTIVE', 'expired_at', deadline)
                redis.call('ZADD', active, deadline, id)
                promoted[#promoted + 1] = id
            end
        end
    end
    return promoted
`)

// expireScript expires a token. Returns 1 on success, 0 when the token is
// already EXPIRED, -1 when it does not exist.
var expireScript = redis.NewScript(`
    local hkey = KEYS[1]
    local waiting = KEYS[2]
    local active = KEYS[3]
    local id = ARGV[1]

    local status = redis.call('HGET', hkey, 'status')
    if not status then return -1 end
    if status == 'EXPIRED' then return 0 end
    redis.call('HSET', hkey, 'status', 'EXPIRED')
    redis.call('ZREM', waiting, id)
    redis.call('ZREM', active, id)
    return 1
`)

// Create assigns the next sequence id, stores the token hash and indexes
// it in the waiting or active set depending on its initial status.
func (s *RedisTokenStore) Create(ctx context.Context, t *model.Token) error {
	id, err := s.rdb.Incr(ctx, "queue:seq").Result()
	if err != nil {
		return err
	}
	t.ID = uint64(id)

	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, "queue:schedules", t.ScheduleID)
	pipe.HSet(ctx, tokenKey(t.ScheduleID, t.ID),
		"user_id", t.UserID,
		"schedule_id", t.ScheduleID,
		"status", t.Status,
		"created_at", t.CreatedAt.UTC().UnixNano(),
		"expired_at", t.ExpiredAt.UTC().UnixNano(),
	)
	switch t.Status {
	case model.TokenStatusWait:
		pipe.ZAdd(ctx, waitingKey(t.ScheduleID), redis.Z{Score: float64(id), Member: id})
	case model.TokenStatusActive:
		pipe.ZAdd(ctx, activeKey(t.ScheduleID), redis.Z{Score: float64(t.ExpiredAt.UTC().UnixNano()), Member: id})
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Get retrieves one token of a schedule by its id.
func (s *RedisTokenStore) Get(ctx context.Context, scheduleID, tokenID uint64) (*model.Token, error) {
	vals, err := s.rdb.HGetAll(ctx, tokenKey(scheduleID, tokenID)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	return tokenFromHash(scheduleID, tokenID, vals)
}

func tokenFromHash(scheduleID, tokenID uint64, vals map[string]string) (*model.Token, error) {
	userID, err := strconv.ParseUint(vals["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("token %d: bad user_id %q", tokenID, vals["user_id"])
	}
	createdAt, err := strconv.ParseInt(vals["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("token %d: bad created_at %q", tokenID, vals["created_at"])
	}
	expiredAt, err := strconv.ParseInt(vals["expired_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("token %d: bad expired_at %q", tokenID, vals["expired_at"])
	}
	return &model.Token{
		ID:         tokenID,
		UserID:     userID,
		ScheduleID: scheduleID,
		Status:     vals["status"],
		CreatedAt:  time.Unix(0, createdAt).UTC(),
		ExpiredAt:  time.Unix(0, expiredAt).UTC(),
	}, nil
}

// CountActive returns the size of the active set.
func (s *RedisTokenStore) CountActive(ctx context.Context, scheduleID uint64) (int, error) {
	n, err := s.rdb.ZCard(ctx, activeKey(scheduleID)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// PromoteOldest atomically pops up to k of the oldest WAIT tokens and
// promotes them to ACTIVE with the given deadline, returning their ids.
func (s *RedisTokenStore) PromoteOldest(ctx context.Context, scheduleID uint64, k int, expiredAt time.Time) ([]uint64, error) {
	if k <= 0 {
		return nil, nil
	}
	prefix := fmt.Sprintf("queue:%d:token:", scheduleID)
	res, err := promoteScript.Run(ctx, s.rdb,
		[]string{waitingKey(scheduleID), activeKey(scheduleID)},
		prefix, k, expiredAt.UTC().UnixNano(),
	).Result()
	if err != nil {
		return nil, err
	}
	arr, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("promote script: unexpected result %#v", res)
	}
	promoted := make([]uint64, 0, len(arr))
	for _, v := range arr {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("promote script: unexpected element %#v", v)
		}
		id, err := strconv.ParseUint(str, 10, 64)
		if err != nil {
			return nil, err
		}
		promoted = append(promoted, id)
	}
	return promoted, nil
}

// Expire moves a WAIT or ACTIVE token to EXPIRED, mirroring the guarded
// UPDATE of the relational backing.
func (s *RedisTokenStore) Expire(ctx context.Context, scheduleID, tokenID uint64) error {
	res, err := expireScript.Run(ctx, s.rdb,
		[]string{tokenKey(scheduleID, tokenID), waitingKey(scheduleID), activeKey(scheduleID)},
		tokenID,
	).Int()
	if err != nil {
		return err
	}
	switch res {
	case 1:
		return nil
	case 0:
		return ErrBusinessRule
	default:
		return ErrNotFound
	}
}

// WaitingAhead returns the token's rank in the waiting set. A token that
// was promoted between the caller's status check and this call has no
// rank; it is no longer waiting, so zero is the right answer.
func (s *RedisTokenStore) WaitingAhead(ctx context.Context, scheduleID, tokenID uint64) (int, error) {
	rank, err := s.rdb.ZRank(ctx, waitingKey(scheduleID), strconv.FormatUint(tokenID, 10)).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return int(rank), nil
}

// ExpiredActive scans every known schedule's active set for members whose
// deadline score has passed.
func (s *RedisTokenStore) ExpiredActive(ctx context.Context, now time.Time, limit int) ([]model.Token, error) {
	schedules, err := s.rdb.SMembers(ctx, "queue:schedules").Result()
	if err != nil {
		return nil, err
	}
	deadline := strconv.FormatInt(now.UTC().UnixNano(), 10)
	var result []model.Token
	for _, sidStr := range schedules {
		if len(result) >= limit {
			break
		}
		sid, err := strconv.ParseUint(sidStr, 10, 64)
		if err != nil {
			continue
		}
		ids, err := s.rdb.ZRangeByScore(ctx, activeKey(sid), &redis.ZRangeBy{
			Min: "-inf", Max: deadline,
			Offset: 0, Count: int64(limit - len(result)),
		}).Result()
		if err != nil {
			return nil, err
		}
		for _, idStr := range ids {
			id, err := strconv.ParseUint(idStr, 10, 64)
			if err != nil {
				continue
			}
			tok, err := s.Get(ctx, sid, id)
			if err != nil {
				if err == ErrNotFound {
					continue
				}
				return nil, err
			}
			result = append(result, *tok)
		}
	}
	return result, nil
}
