// Package livecache mirrors remote collections into in-memory snapshots kept
// current by standing subscriptions.
//
// A Hub owns the subscriptions of one collection. Every distinct query gets
// exactly one backend subscription (a feed); each consumer holds a
// reference-counted Cache handle on it, and closing the last handle tears the
// subscription down. Only the subscription callback writes a feed's
// snapshot: mutations issued through a Cache go to the store and show up
// once the subscription redelivers.
package livecache

import (
	"context"
	"log/slog"
	"sync"

	"checkline/internal/docstore"
	dErrors "checkline/pkg/domain-errors"
)

// Source opens subscriptions; remote.Collection satisfies it.
type Source[T any] interface {
	Subscribe(ctx context.Context, q docstore.Query, onChange func([]T), onError func(error)) (docstore.Unsubscribe, error)
}

// Mutator writes to the store; gateway.Gateway satisfies it.
type Mutator[T any] interface {
	Create(ctx context.Context, entity T) (string, error)
	Patch(ctx context.Context, id string, patch docstore.Fields) error
	Remove(ctx context.Context, id string) error
}

// Hub coalesces subscriptions for one collection.
type Hub[T any] struct {
	collection string
	source     Source[T]
	mutator    Mutator[T]
	logger     *slog.Logger
	metrics    *Metrics

	mu    sync.Mutex
	feeds map[string]*feed[T]
}

// Option configures a Hub.
type Option func(*hubOptions)

type hubOptions struct {
	logger  *slog.Logger
	metrics *Metrics
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *hubOptions) {
		o.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *hubOptions) {
		o.metrics = m
	}
}

// NewHub creates a hub for collection.
func NewHub[T any](collection string, source Source[T], mutator Mutator[T], opts ...Option) *Hub[T] {
	o := hubOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Hub[T]{
		collection: collection,
		source:     source,
		mutator:    mutator,
		logger:     o.logger,
		metrics:    o.metrics,
		feeds:      make(map[string]*feed[T]),
	}
}

func (h *Hub[T]) Collection() string {
	return h.collection
}

// All opens a handle on the unfiltered collection.
func (h *Hub[T]) All(ctx context.Context) (*Cache[T], error) {
	return h.Open(ctx, docstore.Query{})
}

// Open returns a new handle on the subscription for q, starting it if no
// other handle holds it. Open returns once the backend accepted the
// subscription; the first snapshot arrives asynchronously.
func (h *Hub[T]) Open(ctx context.Context, q docstore.Query) (*Cache[T], error) {
	key := q.Key()

	h.mu.Lock()
	f, exists := h.feeds[key]
	if !exists {
		f = newFeed[T](h.collection, key, q, h.logger, h.metrics)
		h.feeds[key] = f
	}
	f.refs++
	h.mu.Unlock()
	h.metrics.handleAcquired(h.collection)

	if !exists {
		f.start(ctx, h.source)
	}

	select {
	case <-f.started:
	case <-ctx.Done():
		h.release(f)
		return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeNetwork, "waiting for "+h.collection+" subscription")
	}
	if f.startErr != nil {
		h.release(f)
		return nil, f.startErr
	}

	return &Cache[T]{hub: h, feed: f, observers: make(map[uint64]struct{})}, nil
}

// Subscriptions returns the number of open feeds.
func (h *Hub[T]) Subscriptions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.feeds)
}

// States reports the state of every open feed by query key.
func (h *Hub[T]) States() map[string]State {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]State, len(h.feeds))
	for key, f := range h.feeds {
		out[key] = f.State()
	}
	return out
}

func (h *Hub[T]) release(f *feed[T]) {
	h.mu.Lock()
	f.refs--
	last := f.refs == 0
	if last && h.feeds[f.key] == f {
		delete(h.feeds, f.key)
	}
	h.mu.Unlock()
	h.metrics.handleReleased(h.collection)

	if last {
		f.stop()
	}
}
