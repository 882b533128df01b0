// Package redis stores documents as JSON values in one Redis hash per
// collection and announces writes on a per-collection pub/sub channel.
// Subscriptions re-query the hash on every announcement, so a missed or
// duplicated message only costs an extra full snapshot.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"checkline/internal/docstore"
	"checkline/pkg/platform/sentinel"
)

const (
	keyPrefix     = "docstore:"
	channelPrefix = "docstore:changes:"

	maxUpdateRetries = 8
)

// Store is a Redis-backed docstore.Backend.
type Store struct {
	client *redis.Client
	newID  func() string
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithIDGenerator overrides uuid ids (tests).
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// New creates a Store on an existing client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func collectionKey(collection string) string {
	return keyPrefix + collection
}

func changeChannel(collection string) string {
	return channelPrefix + collection
}

func (s *Store) Add(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	data, err := docstore.Encode(fields.Stripped())
	if err != nil {
		return "", err
	}

	id := s.newID()
	created, err := s.client.HSetNX(ctx, collectionKey(collection), id, data).Result()
	if err != nil {
		return "", unavailable("hsetnx", collection, err)
	}
	if !created {
		return "", fmt.Errorf("add %s/%s: %w", collection, id, sentinel.ErrConflict)
	}

	s.publish(ctx, collection, id)
	return id, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	data, err := s.client.HGet(ctx, collectionKey(collection), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return docstore.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, sentinel.ErrNotFound)
	}
	if err != nil {
		return docstore.Document{}, unavailable("hget", collection, err)
	}

	fields, err := docstore.Decode(data)
	if err != nil {
		return docstore.Document{}, err
	}
	return docstore.Document{ID: id, Fields: fields}, nil
}

// Update merges fields into the stored document. The read-modify-write runs
// under WATCH so concurrent writers never lose each other's keys.
func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	key := collectionKey(collection)

	txf := func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, key, id).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("update %s/%s: %w", collection, id, sentinel.ErrNotFound)
		}
		if err != nil {
			return unavailable("hget", collection, err)
		}

		current, err := docstore.Decode(data)
		if err != nil {
			return err
		}
		merged, err := docstore.Encode(current.Merge(fields))
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, merged)
			return nil
		})
		return err
	}

	for range maxUpdateRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return err
			}
			return unavailable("update", collection, err)
		}
		s.publish(ctx, collection, id)
		return nil
	}
	return fmt.Errorf("update %s/%s: %w", collection, id, sentinel.ErrConflict)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	removed, err := s.client.HDel(ctx, collectionKey(collection), id).Result()
	if err != nil {
		return unavailable("hdel", collection, err)
	}
	if removed == 0 {
		return fmt.Errorf("delete %s/%s: %w", collection, id, sentinel.ErrNotFound)
	}

	s.publish(ctx, collection, id)
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	raw, err := s.client.HGetAll(ctx, collectionKey(collection)).Result()
	if err != nil {
		return nil, unavailable("hgetall", collection, err)
	}

	docs := make([]docstore.Document, 0, len(raw))
	for id, data := range raw {
		fields, err := docstore.Decode([]byte(data))
		if err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable document",
				"collection", collection,
				"id", id,
				"error", err,
			)
			continue
		}
		docs = append(docs, docstore.Document{ID: id, Fields: fields})
	}
	return q.Apply(docs), nil
}

// Subscribe listens on the collection's change channel. A full snapshot is
// delivered once the channel subscription is confirmed, after each change
// message and after every reconnect.
func (s *Store) Subscribe(
	ctx context.Context,
	collection string,
	q docstore.Query,
	onSnapshot docstore.SnapshotFunc,
	onError docstore.ErrorFunc,
) (docstore.Unsubscribe, error) {
	if onSnapshot == nil {
		return nil, fmt.Errorf("subscribe %s: snapshot callback is required", collection)
	}

	pubsub := s.client.Subscribe(ctx, changeChannel(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, unavailable("subscribe", collection, err)
	}

	sub := docstore.NewSubscription(func(ctx context.Context) ([]docstore.Document, error) {
		return s.Query(ctx, collection, q)
	}, onSnapshot, onError)
	sub.Start()

	go func() {
		// ChannelWithSubscriptions also yields *redis.Subscription after a
		// reconnect; messages published while disconnected are lost, so
		// redeliver on resubscribe too.
		for msg := range pubsub.ChannelWithSubscriptions() {
			switch m := msg.(type) {
			case *redis.Message, *redis.Subscription:
				sub.Wake()
			case error:
				sub.Fail(unavailable("pubsub", collection, m))
			}
		}
	}()

	return func() {
		sub.Stop()
		if err := pubsub.Close(); err != nil {
			s.logger.Warn("closing redis subscription", "collection", collection, "error", err)
		}
	}, nil
}

func (s *Store) publish(ctx context.Context, collection, id string) {
	if err := s.client.Publish(ctx, changeChannel(collection), id).Err(); err != nil {
		// The write itself succeeded; subscribers catch up on their next wake.
		s.logger.WarnContext(ctx, "publishing change notification failed",
			"collection", collection,
			"id", id,
			"error", err,
		)
	}
}

func unavailable(op, collection string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("redis %s %s: %w", op, collection, err)
	}
	return fmt.Errorf("redis %s %s: %w: %w", op, collection, sentinel.ErrUnavailable, err)
}
