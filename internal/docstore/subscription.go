package docstore

import (
	"context"
	"sync"
	"sync/atomic"
)

// QueryFunc loads the current result set of a subscription.
type QueryFunc func(ctx context.Context) ([]Document, error)

// Subscription re-runs its query each time it is woken and hands the full
// result set to the snapshot callback. Wakes arriving while a query is in
// flight coalesce into one follow-up run. Backends use it to turn a change
// signal (pub/sub message, NOTIFY, in-process write) into full snapshots.
type Subscription struct {
	query      QueryFunc
	onSnapshot SnapshotFunc
	onError    ErrorFunc

	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

// NewSubscription creates a stopped subscription. Call Start to begin delivery.
func NewSubscription(query QueryFunc, onSnapshot SnapshotFunc, onError ErrorFunc) *Subscription {
	return &Subscription{
		query:      query,
		onSnapshot: onSnapshot,
		onError:    onError,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the delivery loop and schedules the initial snapshot.
func (s *Subscription) Start() {
	s.Wake()
	go s.run()
}

// Wake schedules a redelivery. It never blocks.
func (s *Subscription) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Fail reports an out-of-band error to the consumer without stopping.
func (s *Subscription) Fail(err error) {
	if s.closed.Load() || s.onError == nil {
		return
	}
	s.onError(err)
}

// Stop ends delivery. It is idempotent and safe to call from a callback.
func (s *Subscription) Stop() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.stop)
	})
}

// Done is closed once the delivery loop has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Closed reports whether Stop has been called.
func (s *Subscription) Closed() bool {
	return s.closed.Load()
}

func (s *Subscription) run() {
	defer close(s.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
			docs, err := s.query(ctx)
			if s.closed.Load() {
				return
			}
			if err != nil {
				s.Fail(err)
				continue
			}
			s.onSnapshot(docs)
		}
	}
}
