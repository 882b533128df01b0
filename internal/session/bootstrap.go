package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"checkline/internal/identity"
	dErrors "checkline/pkg/domain-errors"
)

const (
	msgInvalidCredentials = "invalid email or password"
	msgSignInFailed       = "sign-in failed, try again later"
)

// Bootstrap drives the session state machine from the provider's identity
// stream. Identity changes are coalesced: only the latest pending identity
// is processed, on a single goroutine, and a result is discarded if a newer
// identity arrived while it was being resolved.
type Bootstrap struct {
	provider identity.Provider
	resolver *Resolver
	logger   *slog.Logger
	metrics  *Metrics

	current atomic.Pointer[AppContext]

	pendingMu  sync.Mutex
	pending    *identity.Identity
	hasPending bool
	wake       chan struct{}

	obsMu     sync.Mutex
	observers map[uint64]func(AppContext)
	nextObs   uint64
	changed   chan struct{}

	startOnce   sync.Once
	started     atomic.Bool
	closeOnce   sync.Once
	cancelWatch func()
	stop        chan struct{}
	done        chan struct{}
}

type Option func(*Bootstrap)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bootstrap) {
		b.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(b *Bootstrap) {
		b.metrics = m
	}
}

// NewBootstrap creates a bootstrap in LOADING.
func NewBootstrap(provider identity.Provider, resolver *Resolver, opts ...Option) *Bootstrap {
	b := &Bootstrap{
		provider:  provider,
		resolver:  resolver,
		logger:    slog.Default(),
		wake:      make(chan struct{}, 1),
		observers: make(map[uint64]func(AppContext)),
		changed:   make(chan struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.current.Store(&AppContext{State: StateLoading})
	return b
}

// Start subscribes to the provider and processes identity changes until
// ctx ends or Close is called.
func (b *Bootstrap) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		b.started.Store(true)
		go b.loop(ctx)
		cancel := b.provider.Watch(b.enqueue)
		b.pendingMu.Lock()
		b.cancelWatch = cancel
		b.pendingMu.Unlock()
	})
}

// Close stops processing. The last context stays readable.
func (b *Bootstrap) Close() {
	b.closeOnce.Do(func() {
		b.pendingMu.Lock()
		cancel := b.cancelWatch
		b.pendingMu.Unlock()
		if cancel != nil {
			cancel()
		}
		close(b.stop)
		if b.started.Load() {
			<-b.done
		}
	})
}

// Context returns the current application context.
func (b *Bootstrap) Context() AppContext {
	return *b.current.Load()
}

// Observe calls fn with every published context until cancel is called.
func (b *Bootstrap) Observe(fn func(AppContext)) (cancel func()) {
	b.obsMu.Lock()
	b.nextObs++
	id := b.nextObs
	b.observers[id] = fn
	b.obsMu.Unlock()

	return func() {
		b.obsMu.Lock()
		delete(b.observers, id)
		b.obsMu.Unlock()
	}
}

// Await blocks until the context satisfies pred or ctx ends.
func (b *Bootstrap) Await(ctx context.Context, pred func(AppContext) bool) (AppContext, error) {
	for {
		b.obsMu.Lock()
		changed := b.changed
		b.obsMu.Unlock()

		c := b.Context()
		if pred(c) {
			return c, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return c, dErrors.Wrap(ctx.Err(), dErrors.CodeNetwork, "waiting for session")
		}
	}
}

// SignIn authenticates with the provider and waits for the resulting
// context. Provider failures are AUTH errors whose message only says
// whether the credentials were rejected.
func (b *Bootstrap) SignIn(ctx context.Context, address, password string) (AppContext, error) {
	before := b.Context().Seq

	id, err := b.provider.SignIn(ctx, address, password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredential) {
			b.metrics.incSignIn("invalid_credentials")
		} else {
			b.metrics.incSignIn("error")
			b.logger.WarnContext(ctx, "identity provider sign-in failed", "error", err)
		}
		return b.Context(), credentialError(err)
	}

	c, err := b.Await(ctx, func(c AppContext) bool {
		if c.Seq <= before {
			return false
		}
		if c.State == StateUnauthenticated {
			return c.Err != nil
		}
		return c.State == StateAuthenticated && c.Identity != nil && c.Identity.UID == id.UID
	})
	if err != nil {
		b.metrics.incSignIn("error")
		return c, err
	}
	if c.State != StateAuthenticated {
		b.metrics.incSignIn("refused")
		if c.Err != nil {
			return c, c.Err
		}
		return c, dErrors.New(dErrors.CodeAuth, msgSignInFailed)
	}
	b.metrics.incSignIn("ok")
	return c, nil
}

// SignOut ends the provider session; the context follows via the stream.
func (b *Bootstrap) SignOut(ctx context.Context) error {
	if err := b.provider.SignOut(ctx); err != nil {
		return dErrors.Wrap(err, dErrors.CodeNetwork, "sign out")
	}
	return nil
}

func (b *Bootstrap) enqueue(id *identity.Identity) {
	b.pendingMu.Lock()
	b.pending = id
	b.hasPending = true
	b.pendingMu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bootstrap) take() (*identity.Identity, bool) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	if !b.hasPending {
		return nil, false
	}
	id := b.pending
	b.pending, b.hasPending = nil, false
	return id, true
}

func (b *Bootstrap) superseded() bool {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	return b.hasPending
}

func (b *Bootstrap) loop(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		case <-b.wake:
		}
		for {
			id, ok := b.take()
			if !ok {
				break
			}
			b.handle(ctx, id)
		}
	}
}

func (b *Bootstrap) handle(ctx context.Context, id *identity.Identity) {
	if id == nil {
		// A forced sign-out already published UNAUTHENTICATED with its reason.
		if b.Context().State != StateUnauthenticated {
			b.publish(AppContext{State: StateUnauthenticated})
		}
		return
	}

	b.publish(AppContext{State: StateLoading, Identity: id})

	user, err := b.resolver.Resolve(ctx, *id)
	if b.superseded() {
		return
	}
	if err != nil {
		b.logger.WarnContext(ctx, "session refused, forcing sign-out",
			"uid", id.UID,
			"code", string(dErrors.CodeOf(err)),
			"error", err,
		)
		b.publish(AppContext{State: StateUnauthenticated, Err: signInError(err)})
		if serr := b.provider.SignOut(ctx); serr != nil {
			b.logger.ErrorContext(ctx, "forced sign-out failed", "uid", id.UID, "error", serr)
		}
		return
	}

	b.publish(AppContext{State: StateAuthenticated, Identity: id, Profile: &user})
}

// signInError keeps AUTH errors as they are and turns anything else into the
// generic retry message.
func signInError(err error) error {
	if dErrors.HasCode(err, dErrors.CodeAuth) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeAuth, msgSignInFailed)
}

func (b *Bootstrap) publish(c AppContext) {
	prev := b.current.Load()
	c.Seq = prev.Seq + 1
	b.current.Store(&c)

	b.obsMu.Lock()
	close(b.changed)
	b.changed = make(chan struct{})
	fns := make([]func(AppContext), 0, len(b.observers))
	for _, fn := range b.observers {
		fns = append(fns, fn)
	}
	b.obsMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
