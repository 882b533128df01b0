// Package gateway is the single write path for a collection. It removes
// Unset fields, runs the optional entity validator and guarantees every
// failure reaches the caller as a typed domain error.
package gateway

//go:generate mockgen -source=gateway.go -destination=mocks/mocks.go -package=mocks Writer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"checkline/internal/docstore"
	dErrors "checkline/pkg/domain-errors"
)

// Writer is the remote side of the gateway; remote.Collection satisfies it.
type Writer[T any] interface {
	Add(ctx context.Context, entity T) (string, error)
	Update(ctx context.Context, id string, patch docstore.Fields) error
	Delete(ctx context.Context, id string) error
}

// Gateway writes entities of type T to one collection.
type Gateway[T any] struct {
	collection string
	writer     Writer[T]
	validate   func(T) error
	tracer     trace.Tracer
	metrics    *Metrics
	logger     *slog.Logger
}

// Option configures a Gateway.
type Option[T any] func(*Gateway[T])

// WithValidator rejects entities before they reach the store.
func WithValidator[T any](fn func(T) error) Option[T] {
	return func(g *Gateway[T]) {
		g.validate = fn
	}
}

func WithMetrics[T any](m *Metrics) Option[T] {
	return func(g *Gateway[T]) {
		g.metrics = m
	}
}

func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(g *Gateway[T]) {
		g.logger = logger
	}
}

func WithTracer[T any](tracer trace.Tracer) Option[T] {
	return func(g *Gateway[T]) {
		g.tracer = tracer
	}
}

// New creates a Gateway over writer.
func New[T any](collection string, writer Writer[T], opts ...Option[T]) *Gateway[T] {
	g := &Gateway[T]{
		collection: collection,
		writer:     writer,
		tracer:     otel.Tracer("checkline/gateway"),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Create validates and writes a new entity, returning its id.
func (g *Gateway[T]) Create(ctx context.Context, entity T) (id string, err error) {
	ctx, done := g.begin(ctx, "create")
	defer func() { done(err) }()

	if g.validate != nil {
		if verr := g.validate(entity); verr != nil {
			return "", typed(verr, dErrors.CodeValidation, "invalid "+g.collection+" entity")
		}
	}
	id, err = g.writer.Add(ctx, entity)
	if err != nil {
		return "", typed(err, dErrors.CodeNetwork, "create in "+g.collection)
	}
	return id, nil
}

// Patch applies a partial update. Keys holding docstore.Unset are dropped;
// a patch with nothing left is a no-op.
func (g *Gateway[T]) Patch(ctx context.Context, id string, patch docstore.Fields) (err error) {
	ctx, done := g.begin(ctx, "patch")
	defer func() { done(err) }()

	stripped := patch.Stripped()
	if len(stripped) == 0 {
		return nil
	}
	if err = g.writer.Update(ctx, id, stripped); err != nil {
		return typed(err, dErrors.CodeNetwork, "patch "+g.collection+"/"+id)
	}
	return nil
}

func (g *Gateway[T]) Remove(ctx context.Context, id string) (err error) {
	ctx, done := g.begin(ctx, "remove")
	defer func() { done(err) }()

	if err = g.writer.Delete(ctx, id); err != nil {
		return typed(err, dErrors.CodeNetwork, "remove "+g.collection+"/"+id)
	}
	return nil
}

func (g *Gateway[T]) begin(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "gateway."+op, trace.WithAttributes(
		attribute.String("collection", g.collection),
	))
	return ctx, func(err error) {
		code := "ok"
		if err != nil {
			code = string(dErrors.CodeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
			g.logger.WarnContext(ctx, "mutation failed",
				"collection", g.collection,
				"op", op,
				"code", code,
				"error", err,
			)
		}
		span.End()
		g.metrics.ObserveMutation(g.collection, op, code, start)
	}
}

// typed keeps an existing domain code and assigns fallback otherwise.
func typed(err error, fallback dErrors.Code, msg string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, fallback, msg)
}
