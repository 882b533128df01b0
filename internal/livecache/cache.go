package livecache

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"checkline/internal/docstore"
	dErrors "checkline/pkg/domain-errors"
)

// Cache is one consumer's handle on a shared subscription.
type Cache[T any] struct {
	hub    *Hub[T]
	feed   *feed[T]
	closed atomic.Bool

	mu        sync.Mutex
	observers map[uint64]struct{}
}

func (c *Cache[T]) Collection() string {
	return c.hub.collection
}

func (c *Cache[T]) Query() docstore.Query {
	return c.feed.query
}

// State of the underlying subscription; UNSUBSCRIBED once this handle is closed.
func (c *Cache[T]) State() State {
	if c.closed.Load() {
		return StateUnsubscribed
	}
	return c.feed.State()
}

// Read returns the last delivered snapshot, empty before the first delivery.
// It never blocks. The returned slice is a copy.
func (c *Cache[T]) Read() []T {
	snap, _ := c.feed.read()
	return slices.Clone(snap)
}

// Ready reports whether at least one snapshot has been delivered.
func (c *Cache[T]) Ready() bool {
	_, ok := c.feed.read()
	return ok
}

// Find returns the first entity in the current snapshot matching pred.
func (c *Cache[T]) Find(pred func(T) bool) (T, bool) {
	snap, _ := c.feed.read()
	for _, item := range snap {
		if pred(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Filter returns every entity in the current snapshot matching pred.
func (c *Cache[T]) Filter(pred func(T) bool) []T {
	snap, _ := c.feed.read()
	var out []T
	for _, item := range snap {
		if pred(item) {
			out = append(out, item)
		}
	}
	return out
}

// Err returns the last subscription error, nil once a snapshot arrives after it.
func (c *Cache[T]) Err() error {
	return c.feed.err()
}

// Version increases each time a changed snapshot is applied.
func (c *Cache[T]) Version() uint64 {
	return c.feed.currentVersion()
}

// Observe calls fn with every changed snapshot, starting with the current
// one when a snapshot has already been delivered. Callbacks for one
// subscription run sequentially; fn must not call Observe itself. After
// cancel returns no new callback starts.
func (c *Cache[T]) Observe(fn func([]T)) (cancel func()) {
	if c.closed.Load() {
		return func() {}
	}
	id, ok := c.feed.observe(fn)
	if !ok {
		return func() {}
	}

	c.mu.Lock()
	c.observers[id] = struct{}{}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
		c.feed.unobserve(id)
	}
}

// Await blocks until a delivered snapshot satisfies pred, the handle is
// closed, or ctx ends. It gives callers read-your-write behaviour bounded by
// their own deadline.
func (c *Cache[T]) Await(ctx context.Context, pred func([]T) bool) ([]T, error) {
	for {
		changed, closed := c.feed.waitHandle()
		if snap, ready := c.feed.read(); ready && pred(snap) {
			return slices.Clone(snap), nil
		}
		if closed || c.closed.Load() {
			return nil, dErrors.New(dErrors.CodeInternal, c.hub.collection+" cache is closed")
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeNetwork, "waiting for "+c.hub.collection+" snapshot")
		}
	}
}

// Create, Patch and Remove write through the store. The snapshot is not
// touched; it changes when the subscription redelivers.
func (c *Cache[T]) Create(ctx context.Context, entity T) (string, error) {
	return c.hub.mutator.Create(ctx, entity)
}

func (c *Cache[T]) Patch(ctx context.Context, id string, patch docstore.Fields) error {
	return c.hub.mutator.Patch(ctx, id, patch)
}

func (c *Cache[T]) Remove(ctx context.Context, id string) error {
	return c.hub.mutator.Remove(ctx, id)
}

// Close releases this handle and its observers. The subscription is torn
// down when the last handle closes. Close is idempotent.
func (c *Cache[T]) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	ids := make([]uint64, 0, len(c.observers))
	for id := range c.observers {
		ids = append(ids, id)
	}
	c.observers = map[uint64]struct{}{}
	c.mu.Unlock()

	for _, id := range ids {
		c.feed.unobserve(id)
	}
	c.hub.release(c.feed)
}
