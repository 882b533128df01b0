// Package audit appends audit log entries for privileged and compliance
// actions. Entries are append-only; the publisher never updates or deletes.
package audit

//go:generate mockgen -source=publisher.go -destination=mocks/mocks.go -package=mocks Store

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"checkline/internal/compliance/models"
	"checkline/pkg/requestcontext"
)

// ErrBufferFull is returned by Emit in async mode when the entry was dropped.
var ErrBufferFull = errors.New("audit buffer full")

// Store persists one entry; the audit log gateway satisfies it.
type Store interface {
	Create(ctx context.Context, entry models.AuditLogEntry) (string, error)
}

// Publisher writes audit entries synchronously, or through a buffered worker
// when configured with WithAsyncBuffer.
type Publisher struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics

	inbox     chan models.AuditLogEntry
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

type Option func(*Publisher)

// WithAsyncBuffer makes Emit non-blocking with a buffer of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.inbox = make(chan models.AuditLogEntry, n)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		w := newWorker(p.store, p.inbox, p.logger, p.metrics)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run()
		}()
	}
	return p
}

// Emit records an entry. Missing timestamp and performing user are taken
// from the request context.
func (p *Publisher) Emit(ctx context.Context, entry models.AuditLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = requestcontext.Now(ctx).UTC()
	}
	if entry.PerformingUserID == "" {
		entry.PerformingUserID = requestcontext.ActorID(ctx)
	}

	if p.inbox == nil {
		_, err := p.store.Create(ctx, entry)
		p.metrics.observe(entry.Action, err)
		if err != nil {
			p.logger.ErrorContext(ctx, "audit append failed",
				"action", string(entry.Action),
				"error", err,
			)
		}
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrBufferFull
	}
	select {
	case p.inbox <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.metrics.incDropped()
		p.logger.WarnContext(ctx, "audit entry dropped",
			"action", string(entry.Action),
			"performing_user_id", entry.PerformingUserID,
		)
		return ErrBufferFull
	}
}

// Record is Emit for callers that only log audit failures.
func (p *Publisher) Record(ctx context.Context, action models.AuditAction, details string) {
	_ = p.Emit(ctx, models.AuditLogEntry{Action: action, Details: details})
}

// Close stops accepting entries and drains the buffer.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.inbox == nil {
			return
		}
		p.mu.Lock()
		p.closed = true
		close(p.inbox)
		p.mu.Unlock()
		p.wg.Wait()
	})
}
