package livecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"checkline/internal/compliance/models"
	"checkline/internal/docstore"
	"checkline/internal/docstore/memory"
	"checkline/internal/gateway"
	"checkline/internal/remote"
	dErrors "checkline/pkg/domain-errors"
)

// =============================================================================
// Live Cache Test Suite
// =============================================================================
// Justification: subscription coalescing, the state machine and the
// no-optimistic-write rule are the cache's whole contract. The in-memory
// backend delivers asynchronously like the real ones.

type CacheSuite struct {
	suite.Suite
	store *memory.Store
	units *Hub[models.Unit]
	notes *Hub[models.Notification]
	seq   atomic.Int64
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}

func (s *CacheSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.seq.Store(0)
	s.store = memory.New(memory.WithIDGenerator(func() string {
		return fmt.Sprintf("id-%02d", s.seq.Add(1))
	}))

	unitColl := remote.NewCollection[models.Unit](s.store, docstore.Units, models.UnitCodec{}, remote.WithLogger(logger))
	s.units = NewHub[models.Unit](docstore.Units, unitColl, gateway.New[models.Unit](docstore.Units, unitColl), WithLogger(logger))

	noteColl := remote.NewCollection[models.Notification](s.store, docstore.Notifications, models.NotificationCodec{}, remote.WithLogger(logger))
	s.notes = NewHub[models.Notification](docstore.Notifications, noteColl, gateway.New[models.Notification](docstore.Notifications, noteColl), WithLogger(logger))
}

func (s *CacheSuite) TestSubscriptionsAreCoalesced() {
	ctx := context.Background()

	first, err := s.units.All(ctx)
	s.Require().NoError(err)
	second, err := s.units.Open(ctx, docstore.Query{})
	s.Require().NoError(err)
	filtered, err := s.units.Open(ctx, docstore.Query{}.Where("managerId", "m-1"))
	s.Require().NoError(err)

	s.Equal(2, s.units.Subscriptions())
	s.Equal(2, s.store.Subscriptions(docstore.Units))

	first.Close()
	first.Close()
	s.Equal(StateUnsubscribed, first.State())
	s.Equal(2, s.store.Subscriptions(docstore.Units))

	second.Close()
	filtered.Close()
	s.Equal(0, s.units.Subscriptions())
	s.Equal(0, s.store.Subscriptions(docstore.Units))
}

func (s *CacheSuite) TestReadNeverBlocksAndMutationsAreNotOptimistic() {
	ctx := context.Background()
	cache, err := s.units.All(ctx)
	s.Require().NoError(err)
	defer cache.Close()

	s.NotNil(cache.Read())
	_, err = cache.Await(ctx, func([]models.Unit) bool { return true })
	s.Require().NoError(err)
	s.Equal(StateLive, cache.State())
	s.Empty(cache.Read())

	id, err := cache.Create(ctx, models.Unit{Name: "North", ManagerID: "m-1"})
	s.Require().NoError(err)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	snap, err := cache.Await(waitCtx, func(units []models.Unit) bool { return len(units) == 1 })
	s.Require().NoError(err)
	s.Equal(id, snap[0].ID)

	found, ok := cache.Find(func(u models.Unit) bool { return u.ID == id })
	s.True(ok)
	s.Equal("North", found.Name)
}

func (s *CacheSuite) TestFailedMutationLeavesSnapshotUntouched() {
	ctx := context.Background()
	cache, err := s.units.All(ctx)
	s.Require().NoError(err)
	defer cache.Close()

	_, err = cache.Create(ctx, models.Unit{Name: "North"})
	s.Require().NoError(err)
	before, err := cache.Await(ctx, func(u []models.Unit) bool { return len(u) == 1 })
	s.Require().NoError(err)

	err = cache.Patch(ctx, "missing", models.UnitPatch{Name: models.Set("x")}.Fields())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Equal(before, cache.Read())
	s.Equal(StateLive, cache.State())
}

func (s *CacheSuite) TestRedeliveryOfSameStateIsInvisible() {
	ctx := context.Background()
	_, err := s.store.Add(ctx, docstore.Units, docstore.Fields{"name": "North", "managerId": "m-1"})
	s.Require().NoError(err)

	cache, err := s.units.All(ctx)
	s.Require().NoError(err)
	defer cache.Close()

	var calls atomic.Int32
	cancel := cache.Observe(func([]models.Unit) { calls.Add(1) })
	defer cancel()

	first, err := cache.Await(ctx, func(u []models.Unit) bool { return len(u) == 1 })
	s.Require().NoError(err)
	s.Eventually(func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	version := cache.Version()

	s.store.Touch(docstore.Units)
	s.store.Touch(docstore.Units)

	s.Never(func() bool { return calls.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	s.Equal(version, cache.Version())
	s.Equal(first, cache.Read())
}

func (s *CacheSuite) TestViewPreservesDeclaredOrder() {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	for i, minute := range []int{5, 1, 9, 3} {
		_, err := s.store.Add(ctx, docstore.Notifications, models.NotificationCodec{}.Encode(models.Notification{
			UserID:               "u-1",
			CompletedChecklistID: fmt.Sprintf("cl-%d", i),
			Timestamp:            base.Add(time.Duration(minute) * time.Minute),
		}))
		s.Require().NoError(err)
	}
	_, err := s.store.Add(ctx, docstore.Notifications, models.NotificationCodec{}.Encode(models.Notification{
		UserID:               "u-2",
		CompletedChecklistID: "cl-x",
		Timestamp:            base,
	}))
	s.Require().NoError(err)

	view, err := s.notes.Open(ctx, docstore.Query{}.Where("userId", "u-1").Ordered("timestamp", true))
	s.Require().NoError(err)
	defer view.Close()

	snap, err := view.Await(ctx, func(n []models.Notification) bool { return len(n) == 4 })
	s.Require().NoError(err)
	for i := 1; i < len(snap); i++ {
		s.True(snap[i-1].Timestamp.After(snap[i].Timestamp))
	}
}

func (s *CacheSuite) TestObserveCancel() {
	ctx := context.Background()
	cache, err := s.units.All(ctx)
	s.Require().NoError(err)
	defer cache.Close()
	_, err = cache.Await(ctx, func([]models.Unit) bool { return true })
	s.Require().NoError(err)

	var calls atomic.Int32
	cancel := cache.Observe(func([]models.Unit) { calls.Add(1) })
	s.Equal(int32(1), calls.Load())
	cancel()

	_, err = cache.Create(ctx, models.Unit{Name: "late"})
	s.Require().NoError(err)
	_, err = cache.Await(ctx, func(u []models.Unit) bool { return len(u) == 1 })
	s.Require().NoError(err)
	s.Equal(int32(1), calls.Load())
}

func (s *CacheSuite) TestAwaitHonoursContext() {
	cache, err := s.units.All(context.Background())
	s.Require().NoError(err)
	defer cache.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = cache.Await(ctx, func([]models.Unit) bool { return false })
	s.True(dErrors.HasCode(err, dErrors.CodeNetwork))
}

// =============================================================================
// State machine with a scripted source
// =============================================================================

type scriptedSource struct {
	mu          sync.Mutex
	subscribeFn func() error
	onChange    func([]string)
	onError     func(error)
	unsubscribe atomic.Int32
}

func (f *scriptedSource) Subscribe(_ context.Context, _ docstore.Query, onChange func([]string), onError func(error)) (docstore.Unsubscribe, error) {
	if f.subscribeFn != nil {
		if err := f.subscribeFn(); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	f.onChange, f.onError = onChange, onError
	f.mu.Unlock()
	return func() { f.unsubscribe.Add(1) }, nil
}

func (f *scriptedSource) push(items ...string) {
	f.mu.Lock()
	fn := f.onChange
	f.mu.Unlock()
	fn(items)
}

func (f *scriptedSource) fail(err error) {
	f.mu.Lock()
	fn := f.onError
	f.mu.Unlock()
	fn(err)
}

func (s *CacheSuite) TestStateMachine() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.Run("subscribe failure surfaces and releases the feed", func() {
		src := &scriptedSource{subscribeFn: func() error {
			return dErrors.New(dErrors.CodePermission, "denied")
		}}
		hub := NewHub[string]("things", src, nil, WithLogger(logger))

		_, err := hub.All(ctx)
		s.True(dErrors.HasCode(err, dErrors.CodePermission))
		s.Equal(0, hub.Subscriptions())
	})

	s.Run("subscribing to live to error and back, then teardown", func() {
		src := &scriptedSource{}
		hub := NewHub[string]("things", src, nil, WithLogger(logger))

		cache, err := hub.All(ctx)
		s.Require().NoError(err)
		s.Equal(StateSubscribing, cache.State())
		s.False(cache.Ready())

		src.push("a", "b")
		s.Equal(StateLive, cache.State())
		s.Equal([]string{"a", "b"}, cache.Read())

		boom := errors.New("stream reset")
		src.fail(boom)
		s.Equal(StateError, cache.State())
		s.ErrorIs(cache.Err(), boom)
		s.Equal([]string{"a", "b"}, cache.Read())

		src.push("a", "b")
		s.Equal(StateLive, cache.State())
		s.NoError(cache.Err())

		cache.Close()
		s.Equal(int32(1), src.unsubscribe.Load())
		s.Equal(StateUnsubscribed, cache.State())

		src.push("late")
		s.Equal([]string{"a", "b"}, cache.Read())
	})
}

func (s *CacheSuite) TestStoppedFeedStaysUnsubscribed() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for i := 0; i < 200; i++ {
		src := &scriptedSource{}
		f := newFeed[string]("things", "all", docstore.Query{}, logger, nil)
		f.start(ctx, src)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			src.push("a")
		}()
		go func() {
			defer wg.Done()
			src.fail(errors.New("stream reset"))
		}()
		go func() {
			defer wg.Done()
			f.stop()
		}()
		wg.Wait()

		s.Require().Equal(StateUnsubscribed, f.State(), "iteration %d", i)
		src.push("late")
		s.Require().Equal(StateUnsubscribed, f.State())
	}
}

func (s *CacheSuite) TestNumericFiltersCoalesceByValue() {
	ctx := context.Background()

	small, err := s.notes.Open(ctx, docstore.Query{}.Where("priority", 1))
	s.Require().NoError(err)
	wide, err := s.notes.Open(ctx, docstore.Query{}.Where("priority", int64(1)))
	s.Require().NoError(err)

	s.Equal(1, s.notes.Subscriptions())
	s.Equal(1, s.store.Subscriptions(docstore.Notifications))

	small.Close()
	wide.Close()
	s.Equal(0, s.store.Subscriptions(docstore.Notifications))
}
