//go:build integration

package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"checkline/internal/ratelimit"
	"checkline/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *ratelimit.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = ratelimit.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestSlidingWindow() {
	ctx := context.Background()
	now := time.Now().UTC()

	n, err := s.store.RecordFailure(ctx, "k", now.Add(-2*time.Minute), time.Minute)
	s.Require().NoError(err)
	s.Equal(1, n)

	n, err = s.store.RecordFailure(ctx, "k", now, time.Minute)
	s.Require().NoError(err)
	s.Equal(1, n, "the older failure fell out of the window")

	n, err = s.store.RecordFailure(ctx, "k", now, time.Minute)
	s.Require().NoError(err)
	s.Equal(2, n, "same-millisecond failures are distinct members")
}

func (s *RedisStoreSuite) TestLockAndClear() {
	ctx := context.Background()
	now := time.Now().UTC()
	until := now.Add(time.Minute).Truncate(time.Millisecond)

	_, locked, err := s.store.LockedUntil(ctx, "k", now)
	s.Require().NoError(err)
	s.False(locked)

	_, err = s.store.RecordFailure(ctx, "k", now, time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Lock(ctx, "k", until))

	got, locked, err := s.store.LockedUntil(ctx, "k", now)
	s.Require().NoError(err)
	s.True(locked)
	s.True(until.Equal(got))

	n, err := s.store.RecordFailure(ctx, "k", now, time.Minute)
	s.Require().NoError(err)
	s.Equal(1, n, "locking resets the window")

	s.Require().NoError(s.store.Clear(ctx, "k"))
	_, locked, err = s.store.LockedUntil(ctx, "k", now)
	s.Require().NoError(err)
	s.False(locked)
}

func (s *RedisStoreSuite) TestLockInThePastIsIgnored() {
	ctx := context.Background()
	now := time.Now().UTC()
	s.Require().NoError(s.store.Lock(ctx, "k", now.Add(time.Minute)))

	_, locked, err := s.store.LockedUntil(ctx, "k", now.Add(2*time.Minute))
	s.Require().NoError(err)
	s.False(locked)
}
