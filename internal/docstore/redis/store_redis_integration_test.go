//go:build integration

package redis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"checkline/internal/docstore"
	redisstore "checkline/internal/docstore/redis"
	"checkline/pkg/platform/sentinel"
	"checkline/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *redisstore.Store
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = redisstore.New(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	stamp := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	id, err := s.store.Add(ctx, docstore.Users, docstore.Fields{
		"name":      "Ana",
		"active":    true,
		"managerId": docstore.Unset,
		"createdAt": stamp,
	})
	s.Require().NoError(err)

	doc, err := s.store.Get(ctx, docstore.Users, id)
	s.Require().NoError(err)
	s.Equal("Ana", doc.Fields["name"])
	s.Equal(true, doc.Fields["active"])
	s.NotContains(doc.Fields, "managerId")
	s.True(stamp.Equal(doc.CreatedAt()))

	s.Require().NoError(s.store.Update(ctx, docstore.Users, id, docstore.Fields{"active": false, "name": docstore.Unset}))
	doc, err = s.store.Get(ctx, docstore.Users, id)
	s.Require().NoError(err)
	s.Equal("Ana", doc.Fields["name"])
	s.Equal(false, doc.Fields["active"])

	s.Require().NoError(s.store.Delete(ctx, docstore.Users, id))
	_, err = s.store.Get(ctx, docstore.Users, id)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *RedisStoreSuite) TestConcurrentUpdatesKeepAllKeys() {
	ctx := context.Background()
	id, err := s.store.Add(ctx, docstore.Units, docstore.Fields{"name": "North"})
	s.Require().NoError(err)

	fields := []string{"a", "b", "c", "d", "e", "f"}
	var wg sync.WaitGroup
	for _, f := range fields {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NoError(s.store.Update(ctx, docstore.Units, id, docstore.Fields{f: f}))
		}()
	}
	wg.Wait()

	doc, err := s.store.Get(ctx, docstore.Units, id)
	s.Require().NoError(err)
	for _, f := range fields {
		s.Equal(f, doc.Fields[f])
	}
}

func (s *RedisStoreSuite) TestSubscribeRedeliversOnChange() {
	ctx := context.Background()
	snapshots := make(chan []docstore.Document, 16)

	unsubscribe, err := s.store.Subscribe(ctx, docstore.Notifications,
		docstore.Query{}.Where("userId", "u-1").Ordered("timestamp", true),
		func(docs []docstore.Document) { snapshots <- docs },
		func(err error) { s.T().Logf("subscription error: %v", err) },
	)
	s.Require().NoError(err)
	defer unsubscribe()

	s.Empty(s.next(snapshots))

	_, err = s.store.Add(ctx, docstore.Notifications, docstore.Fields{
		"userId":    "u-1",
		"timestamp": time.Now().UTC(),
	})
	s.Require().NoError(err)

	s.Eventually(func() bool {
		select {
		case docs := <-snapshots:
			return len(docs) == 1
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)
}

func (s *RedisStoreSuite) next(ch <-chan []docstore.Document) []docstore.Document {
	select {
	case docs := <-ch:
		return docs
	case <-time.After(5 * time.Second):
		s.FailNow("no snapshot delivered")
		return nil
	}
}
