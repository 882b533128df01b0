// Package postgres stores documents as JSONB rows keyed by (collection, id).
// Every write issues pg_notify in the same transaction; subscriptions share a
// single LISTEN connection and re-query their collection on each notification.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"checkline/internal/docstore"
	"checkline/pkg/platform/sentinel"
)

// ChangeChannel is the NOTIFY channel; the payload is the collection name.
const ChangeChannel = "docstore_changes"

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_data_gin ON documents USING GIN (data jsonb_path_ops);
`

// Store is a Postgres-backed docstore.Backend.
type Store struct {
	pool   *pgxpool.Pool
	dsn    string
	newID  func() string
	logger *slog.Logger

	minReconnect time.Duration
	maxReconnect time.Duration

	mu        sync.Mutex
	listener  *pq.Listener
	subs      map[string]map[uint64]*docstore.Subscription
	nextSubID uint64
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

// WithReconnectInterval bounds the listener's reconnect backoff.
func WithReconnectInterval(minInterval, maxInterval time.Duration) Option {
	return func(s *Store) {
		s.minReconnect = minInterval
		s.maxReconnect = maxInterval
	}
}

// New creates a Store. dsn is used for the dedicated LISTEN connection.
func New(pool *pgxpool.Pool, dsn string, opts ...Option) *Store {
	s := &Store{
		pool:         pool,
		dsn:          dsn,
		newID:        uuid.NewString,
		logger:       slog.Default(),
		minReconnect: 100 * time.Millisecond,
		maxReconnect: 10 * time.Second,
		subs:         make(map[string]map[uint64]*docstore.Subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the documents table if needed.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate documents: %w", err)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	data, err := docstore.Encode(fields.Stripped())
	if err != nil {
		return "", err
	}

	id := s.newID()
	err = s.write(ctx, collection, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO documents (collection, id, data)
			VALUES ($1, $2, $3::jsonb)
		`, collection, id, data)
		return err
	})
	if err != nil {
		return "", mapError("add", collection, err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM documents WHERE collection = $1 AND id = $2
	`, collection, id).Scan(&data)
	if err != nil {
		return docstore.Document{}, mapError("get", collection, err)
	}

	fields, err := docstore.Decode(data)
	if err != nil {
		return docstore.Document{}, err
	}
	return docstore.Document{ID: id, Fields: fields}, nil
}

// Update merges top-level keys with the JSONB concatenation operator, which
// is atomic per row.
func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	data, err := docstore.Encode(fields.Stripped())
	if err != nil {
		return err
	}

	err = s.write(ctx, collection, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE documents SET data = data || $3::jsonb, updated_at = now()
			WHERE collection = $1 AND id = $2
		`, collection, id, data)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
	return mapError("update", collection, err)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	err := s.write(ctx, collection, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM documents WHERE collection = $1 AND id = $2
		`, collection, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
	return mapError("delete", collection, err)
}

// Query pushes non-null equality filters down as JSONB containment; null
// filters, ordering and limits are applied by docstore.Query so ordering is
// identical across backends.
func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	containment := docstore.Fields{}
	for _, f := range q.Filters {
		if f.Value != nil {
			containment[f.Field] = f.Value
		}
	}
	filter, err := docstore.Encode(containment)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, data FROM documents
		WHERE collection = $1 AND data @> $2::jsonb
	`, collection, filter)
	if err != nil {
		return nil, mapError("query", collection, err)
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, mapError("query", collection, err)
		}
		fields, err := docstore.Decode(data)
		if err != nil {
			return nil, err
		}
		docs = append(docs, docstore.Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("query", collection, err)
	}
	return q.Apply(docs), nil
}

// Subscribe registers a subscription woken by NOTIFY on ChangeChannel.
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
	if err := s.ensureListener(); err != nil {
		return nil, err
	}

	sub := docstore.NewSubscription(func(ctx context.Context) ([]docstore.Document, error) {
		return s.Query(ctx, collection, q)
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

	return func() {
		s.mu.Lock()
		delete(s.subs[collection], subID)
		s.mu.Unlock()
		sub.Stop()
	}, nil
}

// Close stops the LISTEN connection and every subscription.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, subs := range s.subs {
		for _, sub := range subs {
			sub.Stop()
		}
	}
	s.subs = make(map[string]map[uint64]*docstore.Subscription)

	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.listener = nil
	return err
}

func (s *Store) write(ctx context.Context, collection string, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, ChangeChannel, collection)
		return err
	})
}

func (s *Store) ensureListener() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	listener := pq.NewListener(s.dsn, s.minReconnect, s.maxReconnect, s.onListenerEvent)
	if err := listener.Listen(ChangeChannel); err != nil {
		_ = listener.Close()
		return fmt.Errorf("listen %s: %w: %w", ChangeChannel, sentinel.ErrUnavailable, err)
	}
	s.listener = listener
	go s.dispatch(listener)
	return nil
}

func (s *Store) dispatch(listener *pq.Listener) {
	for n := range listener.Notify {
		if n == nil {
			// pq sends nil after re-establishing the connection; anything
			// published meanwhile was missed.
			s.wake("")
			continue
		}
		s.wake(n.Extra)
	}
}

// wake redelivers to subscriptions on collection, or to all of them when
// collection is empty.
func (s *Store) wake(collection string) {
	s.mu.Lock()
	var targets []*docstore.Subscription
	for name, subs := range s.subs {
		if collection != "" && name != collection {
			continue
		}
		for _, sub := range subs {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range targets {
		sub.Wake()
	}
}

func (s *Store) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		s.logger.Warn("docstore listener disconnected", "error", err)
		s.fail(fmt.Errorf("listener disconnected: %w: %w", sentinel.ErrUnavailable, err))
	case pq.ListenerEventConnectionAttemptFailed:
		s.logger.Warn("docstore listener reconnect failed", "error", err)
	case pq.ListenerEventReconnected:
		s.logger.Info("docstore listener reconnected")
	}
}

func (s *Store) fail(err error) {
	s.mu.Lock()
	var targets []*docstore.Subscription
	for _, subs := range s.subs {
		for _, sub := range subs {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range targets {
		sub.Fail(err)
	}
}

// mapError converts pgx errors into sentinel errors.
func mapError(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", op, collection, sentinel.ErrNotFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", op, collection, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s %s: %w", op, collection, sentinel.ErrConflict)
		case "42501":
			return fmt.Errorf("%s %s: %w", op, collection, sentinel.ErrPermission)
		}
		return fmt.Errorf("%s %s: %w", op, collection, err)
	}
	return fmt.Errorf("%s %s: %w: %w", op, collection, sentinel.ErrUnavailable, err)
}
