// Package memory is an in-process document store backend with live
// subscriptions. It backs development mode and unit tests.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"checkline/internal/docstore"
	"checkline/pkg/platform/sentinel"
)

// Store keeps collections in maps and fans changes out to subscriptions.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]docstore.Fields
	subs        map[string]map[uint64]*docstore.Subscription
	nextSubID   uint64
	newID       func() string
	logger      *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithIDGenerator overrides uuid ids (tests).
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]docstore.Fields),
		subs:        make(map[string]map[uint64]*docstore.Subscription),
		newID:       uuid.NewString,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Add(_ context.Context, collection string, fields docstore.Fields) (string, error) {
	id := s.newID()

	s.mu.Lock()
	coll := s.collectionLocked(collection)
	if _, exists := coll[id]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("add %s/%s: %w", collection, id, sentinel.ErrConflict)
	}
	coll[id] = cloneFields(fields.Stripped())
	s.mu.Unlock()

	s.notify(collection)
	return id, nil
}

func (s *Store) Get(_ context.Context, collection, id string) (docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, ok := s.collections[collection][id]
	if !ok {
		return docstore.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, sentinel.ErrNotFound)
	}
	return docstore.Document{ID: id, Fields: cloneFields(fields)}, nil
}

func (s *Store) Update(_ context.Context, collection, id string, fields docstore.Fields) error {
	s.mu.Lock()
	current, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update %s/%s: %w", collection, id, sentinel.ErrNotFound)
	}
	s.collections[collection][id] = current.Merge(cloneFields(fields))
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	if _, ok := s.collections[collection][id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("delete %s/%s: %w", collection, id, sentinel.ErrNotFound)
	}
	delete(s.collections[collection], id)
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *Store) Query(_ context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	return s.snapshot(collection, q), nil
}

// Subscribe delivers the current result set asynchronously, then again after
// every write to the collection. Rapid writes may coalesce into one delivery.
func (s *Store) Subscribe(
	_ context.Context,
	collection string,
	q docstore.Query,
	onSnapshot docstore.SnapshotFunc,
	onError docstore.ErrorFunc,
) (docstore.Unsubscribe, error) {
	if onSnapshot == nil {
		return nil, fmt.Errorf("subscribe %s: snapshot callback is required", collection)
	}

	sub := docstore.NewSubscription(func(context.Context) ([]docstore.Document, error) {
		return s.snapshot(collection, q), nil
	}, onSnapshot, onError)

	s.mu.Lock()
	s.nextSubID++
	subID := s.nextSubID
	if s.subs[collection] == nil {
		s.subs[collection] = make(map[uint64]*docstore.Subscription)
	}
	s.subs[collection][subID] = sub
	s.mu.Unlock()

	sub.Start()
	s.logger.Debug("memory subscription started", "collection", collection, "query", q.Key())

	return func() {
		s.mu.Lock()
		delete(s.subs[collection], subID)
		s.mu.Unlock()
		sub.Stop()
	}, nil
}

// Len returns the number of documents in a collection.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

// Subscriptions returns the number of live subscriptions on a collection.
func (s *Store) Subscriptions(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[collection])
}

// Touch redelivers the current state to every subscription on collection
// without changing it.
func (s *Store) Touch(collection string) {
	s.notify(collection)
}

func (s *Store) collectionLocked(name string) map[string]docstore.Fields {
	coll, ok := s.collections[name]
	if !ok {
		coll = make(map[string]docstore.Fields)
		s.collections[name] = coll
	}
	return coll
}

func (s *Store) snapshot(collection string, q docstore.Query) []docstore.Document {
	s.mu.RLock()
	docs := make([]docstore.Document, 0, len(s.collections[collection]))
	for id, fields := range s.collections[collection] {
		docs = append(docs, docstore.Document{ID: id, Fields: cloneFields(fields)})
	}
	s.mu.RUnlock()
	return q.Apply(docs)
}

func (s *Store) notify(collection string) {
	s.mu.RLock()
	subs := slices.Collect(maps.Values(s.subs[collection]))
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.Wake()
	}
}

func cloneFields(f docstore.Fields) docstore.Fields {
	out := make(docstore.Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(cloneFields(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
