// Package ratelimit locks out sign-in attempts for an email and client IP
// pair after repeated credential failures.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	dErrors "checkline/pkg/domain-errors"
	"checkline/pkg/email"
	"checkline/pkg/requestcontext"
)

// Store keeps failure timestamps and lock deadlines per key. Stores hold no
// policy; thresholds live in the Lockout.
type Store interface {
	// RecordFailure appends a failure at now and returns how many failures
	// fall within window, the new one included.
	RecordFailure(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
	// LockedUntil returns the lock deadline when one is set and later than now.
	LockedUntil(ctx context.Context, key string, now time.Time) (time.Time, bool, error)
	Lock(ctx context.Context, key string, until time.Time) error
	Clear(ctx context.Context, key string) error
}

type Config struct {
	Attempts     int
	Window       time.Duration
	LockDuration time.Duration
}

// DefaultConfig allows five failures per fifteen minutes, then locks for fifteen.
func DefaultConfig() Config {
	return Config{Attempts: 5, Window: 15 * time.Minute, LockDuration: 15 * time.Minute}
}

// LockedError carries the lock deadline for a Retry-After header.
type LockedError struct {
	Until time.Time
	Now   time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("sign-in locked until %s", e.Until.Format(time.RFC3339))
}

// RetryAfter rounds the remaining lock time up to whole seconds.
func (e *LockedError) RetryAfter() int {
	d := e.Until.Sub(e.Now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// Lockout applies Config to a Store.
type Lockout struct {
	store   Store
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Lockout)

func WithConfig(cfg Config) Option {
	return func(l *Lockout) {
		if cfg.Attempts > 0 {
			l.cfg.Attempts = cfg.Attempts
		}
		if cfg.Window > 0 {
			l.cfg.Window = cfg.Window
		}
		if cfg.LockDuration > 0 {
			l.cfg.LockDuration = cfg.LockDuration
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Lockout) {
		l.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(l *Lockout) {
		l.metrics = m
	}
}

func New(store Store, opts ...Option) (*Lockout, error) {
	if store == nil {
		return nil, errors.New("lockout store is required")
	}
	l := &Lockout{
		store:  store,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Key identifies one email and client IP pair.
func Key(address, ip string) string {
	return "signin:" + email.Normalize(address) + "|" + strings.TrimSpace(ip)
}

// Check fails with CodeRateLimited wrapping a *LockedError while the pair
// is locked.
func (l *Lockout) Check(ctx context.Context, address, ip string) error {
	now := requestcontext.Now(ctx)
	until, locked, err := l.store.LockedUntil(ctx, Key(address, ip), now)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read sign-in lockout")
	}
	if !locked {
		return nil
	}
	l.metrics.incRejected()
	return dErrors.Wrap(&LockedError{Until: until, Now: now}, dErrors.CodeRateLimited, "too many failed sign-in attempts")
}

// RecordFailure counts a credential failure and locks the pair once the
// window holds Attempts failures.
func (l *Lockout) RecordFailure(ctx context.Context, address, ip string) error {
	key := Key(address, ip)
	now := requestcontext.Now(ctx)
	count, err := l.store.RecordFailure(ctx, key, now, l.cfg.Window)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record sign-in failure")
	}
	if count < l.cfg.Attempts {
		return nil
	}

	until := now.Add(l.cfg.LockDuration)
	if err := l.store.Lock(ctx, key, until); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock sign-in")
	}
	l.metrics.incLocked()
	l.logger.WarnContext(ctx, "sign-in lockout triggered",
		"email", email.Normalize(address),
		"client_ip", ip,
		"failures", count,
		"locked_until", until,
	)
	return nil
}

// Clear forgets failures after a successful sign-in.
func (l *Lockout) Clear(ctx context.Context, address, ip string) error {
	if err := l.store.Clear(ctx, Key(address, ip)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear sign-in failures")
	}
	return nil
}
