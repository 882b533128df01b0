// Package remote is the typed, per-collection adapter over a docstore.Backend.
//
// It strips Unset fields before every write, stamps createdAt/updatedAt,
// decodes documents through an explicit entity codec and translates backend
// sentinel errors into domain error codes.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"checkline/internal/docstore"
	dErrors "checkline/pkg/domain-errors"
	"checkline/pkg/platform/sentinel"
	"checkline/pkg/requestcontext"
)

// Codec converts between an entity and its document fields.
type Codec[T any] interface {
	Encode(entity T) docstore.Fields
	Decode(id string, fields docstore.Fields) (T, error)
}

// Collection is the adapter for one collection of entity T.
type Collection[T any] struct {
	name    string
	backend docstore.Backend
	codec   Codec[T]
	logger  *slog.Logger
}

// Option configures a Collection.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// NewCollection binds a collection name and codec to a backend.
func NewCollection[T any](backend docstore.Backend, name string, codec Codec[T], opts ...Option) *Collection[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Collection[T]{
		name:    name,
		backend: backend,
		codec:   codec,
		logger:  o.logger,
	}
}

func (c *Collection[T]) Name() string {
	return c.name
}

// Add writes a new entity and returns the store-assigned id.
func (c *Collection[T]) Add(ctx context.Context, entity T) (string, error) {
	return c.AddFields(ctx, c.codec.Encode(entity))
}

// AddFields writes raw fields. Unset entries are dropped and both
// timestamps are stamped.
func (c *Collection[T]) AddFields(ctx context.Context, fields docstore.Fields) (string, error) {
	now := requestcontext.Now(ctx).UTC()
	out := fields.Stripped()
	out[docstore.FieldCreatedAt] = now
	out[docstore.FieldUpdatedAt] = now

	id, err := c.backend.Add(ctx, c.name, out)
	if err != nil {
		return "", translate(err, "add to "+c.name)
	}
	return id, nil
}

// GetByID returns the entity, or nil when no document has that id.
func (c *Collection[T]) GetByID(ctx context.Context, id string) (*T, error) {
	if id == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "id is required")
	}
	doc, err := c.backend.Get(ctx, c.name, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err, "get from "+c.name)
	}

	entity, err := c.codec.Decode(doc.ID, doc.Fields)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// Update merges a partial document. Unset entries are dropped and updatedAt
// is stamped; an update with nothing left to write is a no-op.
func (c *Collection[T]) Update(ctx context.Context, id string, patch docstore.Fields) error {
	if id == "" {
		return dErrors.New(dErrors.CodeValidation, "id is required")
	}
	out := patch.Stripped()
	if len(out) == 0 {
		return nil
	}
	delete(out, docstore.FieldCreatedAt)
	out[docstore.FieldUpdatedAt] = requestcontext.Now(ctx).UTC()

	if err := c.backend.Update(ctx, c.name, id, out); err != nil {
		return translate(err, "update "+c.name+"/"+id)
	}
	return nil
}

func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dErrors.New(dErrors.CodeValidation, "id is required")
	}
	if err := c.backend.Delete(ctx, c.name, id); err != nil {
		return translate(err, "delete "+c.name+"/"+id)
	}
	return nil
}

// Query returns decoded matches. Documents that fail to decode are logged
// and skipped.
func (c *Collection[T]) Query(ctx context.Context, q docstore.Query) ([]T, error) {
	docs, err := c.backend.Query(ctx, c.name, q)
	if err != nil {
		return nil, translate(err, "query "+c.name)
	}
	entities, decodeErr := c.decodeAll(docs)
	if decodeErr != nil {
		c.logger.WarnContext(ctx, "skipping malformed documents",
			"collection", c.name,
			"error", decodeErr,
		)
	}
	return entities, nil
}

// Subscribe delivers decoded snapshots. Malformed documents are left out of
// the snapshot and reported on onError alongside backend failures.
func (c *Collection[T]) Subscribe(
	ctx context.Context,
	q docstore.Query,
	onChange func([]T),
	onError func(error),
) (docstore.Unsubscribe, error) {
	report := func(err error) {
		if onError != nil {
			onError(err)
		}
	}

	unsubscribe, err := c.backend.Subscribe(ctx, c.name, q,
		func(docs []docstore.Document) {
			entities, decodeErr := c.decodeAll(docs)
			onChange(entities)
			if decodeErr != nil {
				report(decodeErr)
			}
		},
		func(err error) {
			report(translate(err, "subscription on "+c.name))
		},
	)
	if err != nil {
		return nil, translate(err, "subscribe to "+c.name)
	}
	return unsubscribe, nil
}

func (c *Collection[T]) decodeAll(docs []docstore.Document) ([]T, error) {
	entities := make([]T, 0, len(docs))
	var errs []error
	for _, doc := range docs {
		entity, err := c.codec.Decode(doc.ID, doc.Fields)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entities = append(entities, entity)
	}
	if len(errs) > 0 {
		return entities, dErrors.Wrap(errors.Join(errs...), dErrors.CodeValidation,
			fmt.Sprintf("%d malformed documents in %s", len(errs), c.name))
	}
	return entities, nil
}

// translate maps backend failures onto the domain taxonomy. Anything else,
// write races included, is a transient transport failure the caller may retry.
func translate(err error, msg string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	case errors.Is(err, sentinel.ErrPermission):
		return dErrors.Wrap(err, dErrors.CodePermission, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeNetwork, msg)
	}
}
