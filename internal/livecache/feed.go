package livecache

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"checkline/internal/docstore"
)

// feed is one backend subscription shared by every handle on the same query.
type feed[T any] struct {
	collection string
	key        string
	query      docstore.Query
	logger     *slog.Logger
	metrics    *Metrics

	// refs is guarded by the owning Hub's mutex.
	refs int

	started     chan struct{}
	startErr    error
	unsubscribe docstore.Unsubscribe

	state    atomic.Int32
	snapshot atomic.Pointer[[]T]

	// deliverMu serialises snapshot application with observer registration
	// so a new observer never sees an older snapshot after a newer one.
	deliverMu sync.Mutex

	mu        sync.Mutex
	observers map[uint64]*observer[T]
	nextObsID uint64
	version   uint64
	lastErr   error
	changed   chan struct{}
	closed    bool
}

type observer[T any] struct {
	fn     func([]T)
	active atomic.Bool
}

func newFeed[T any](collection, key string, q docstore.Query, logger *slog.Logger, metrics *Metrics) *feed[T] {
	f := &feed[T]{
		collection: collection,
		key:        key,
		query:      q,
		logger:     logger,
		metrics:    metrics,
		started:    make(chan struct{}),
		observers:  make(map[uint64]*observer[T]),
		changed:    make(chan struct{}),
	}
	f.state.Store(int32(StateUnsubscribed))
	return f
}

func (f *feed[T]) State() State {
	return State(f.state.Load())
}

func (f *feed[T]) start(ctx context.Context, source Source[T]) {
	defer close(f.started)

	f.mu.Lock()
	if !f.closed {
		f.state.Store(int32(StateSubscribing))
	}
	f.mu.Unlock()
	unsubscribe, err := source.Subscribe(ctx, f.query, f.deliver, f.fail)
	if err != nil {
		f.markError(err)
		f.startErr = err
		f.logger.ErrorContext(ctx, "cache subscription failed",
			"collection", f.collection,
			"query", f.key,
			"error", err,
		)
		return
	}

	f.mu.Lock()
	closed := f.closed
	f.unsubscribe = unsubscribe
	f.mu.Unlock()
	if closed {
		unsubscribe()
		return
	}
	f.metrics.subscriptionOpened(f.collection)
	f.logger.DebugContext(ctx, "cache subscription opened", "collection", f.collection, "query", f.key)
}

// deliver replaces the snapshot wholesale. A redelivery equal to the current
// snapshot changes nothing visible to consumers. State changes happen under
// f.mu after the closed check so a stopped feed stays UNSUBSCRIBED.
func (f *feed[T]) deliver(items []T) {
	if items == nil {
		items = []T{}
	}

	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.state.Store(int32(StateLive))
	f.lastErr = nil
	if prev := f.snapshot.Load(); prev != nil && reflect.DeepEqual(*prev, items) {
		f.mu.Unlock()
		f.metrics.IncDelivery(f.collection, true)
		return
	}
	f.snapshot.Store(&items)
	f.version++
	observers := make([]*observer[T], 0, len(f.observers))
	for _, o := range f.observers {
		observers = append(observers, o)
	}
	changed := f.changed
	f.changed = make(chan struct{})
	f.mu.Unlock()

	f.metrics.IncDelivery(f.collection, false)
	close(changed)
	for _, o := range observers {
		if o.active.Load() {
			o.fn(items)
		}
	}
}

// fail records a subscription error. The last good snapshot stays readable
// and the subscription keeps running, so a later delivery returns to LIVE.
func (f *feed[T]) fail(err error) {
	if !f.markError(err) {
		return
	}
	f.metrics.IncError(f.collection)
	f.logger.Error("cache subscription error",
		"collection", f.collection,
		"query", f.key,
		"error", err,
	)
}

// markError moves an open feed to ERROR. It reports false once stopped.
func (f *feed[T]) markError(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.state.Store(int32(StateError))
	f.lastErr = err
	return true
}

func (f *feed[T]) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *feed[T]) read() ([]T, bool) {
	snap := f.snapshot.Load()
	if snap == nil {
		return []T{}, false
	}
	return *snap, true
}

// observe registers fn and replays the current snapshot to it, if any.
func (f *feed[T]) observe(fn func([]T)) (uint64, bool) {
	o := &observer[T]{fn: fn}
	o.active.Store(true)

	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, false
	}
	f.nextObsID++
	id := f.nextObsID
	f.observers[id] = o
	f.mu.Unlock()

	if snap := f.snapshot.Load(); snap != nil {
		fn(*snap)
	}
	return id, true
}

func (f *feed[T]) unobserve(id uint64) {
	f.mu.Lock()
	o, ok := f.observers[id]
	delete(f.observers, id)
	f.mu.Unlock()
	if ok {
		o.active.Store(false)
	}
}

func (f *feed[T]) waitHandle() (<-chan struct{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changed, f.closed
}

func (f *feed[T]) currentVersion() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}

// stop tears the subscription down and drops every observer.
func (f *feed[T]) stop() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.state.Store(int32(StateUnsubscribed))
	unsubscribe := f.unsubscribe
	for id, o := range f.observers {
		o.active.Store(false)
		delete(f.observers, id)
	}
	close(f.changed)
	f.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
		f.metrics.subscriptionClosed(f.collection)
	}
	f.logger.Debug("cache subscription closed", "collection", f.collection, "query", f.key)
}
