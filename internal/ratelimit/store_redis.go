package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	failuresSuffix = ":failures"
	lockSuffix     = ":locked"
)

// RedisStore keeps each key's failures in a sorted set scored by unix
// milliseconds and the lock deadline in a string key that expires with it.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit:"}
}

func (s *RedisStore) RecordFailure(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	setKey := s.prefix + key + failuresSuffix
	cutoff := now.Add(-window).UnixMilli()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, setKey, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, setKey, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
	card := pipe.ZCard(ctx, setKey)
	pipe.PExpire(ctx, setKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("record failure: %w", err)
	}
	return int(card.Val()), nil
}

func (s *RedisStore) LockedUntil(ctx context.Context, key string, now time.Time) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key+lockSuffix).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read lock: %w", err)
	}
	until := time.UnixMilli(raw).UTC()
	if !until.After(now) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

// Lock stores the deadline and resets the failure window.
func (s *RedisStore) Lock(ctx context.Context, key string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.prefix+key+lockSuffix, until.UnixMilli(), ttl)
	pipe.Del(ctx, s.prefix+key+failuresSuffix)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key+failuresSuffix, s.prefix+key+lockSuffix).Err(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}
