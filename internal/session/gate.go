package session

import (
	"context"
	"errors"
	"log/slog"

	"checkline/internal/compliance/models"
	"checkline/internal/identity"
	dErrors "checkline/pkg/domain-errors"
)

// Authenticator checks credentials without changing any client session.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (identity.Identity, error)
}

// TokenVerifier turns an ID token back into an identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (identity.Identity, error)
}

// Gate is the request-scoped counterpart of Bootstrap: every call yields a
// complete AppContext or an AUTH error, with the same profile gate and
// provisioning rules.
type Gate struct {
	auth     Authenticator
	verifier TokenVerifier
	resolver *Resolver
	logger   *slog.Logger
	metrics  *Metrics
}

type GateOption func(*Gate)

func WithGateLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

func WithGateMetrics(m *Metrics) GateOption {
	return func(g *Gate) {
		g.metrics = m
	}
}

func NewGate(auth Authenticator, verifier TokenVerifier, resolver *Resolver, opts ...GateOption) *Gate {
	g := &Gate{
		auth:     auth,
		verifier: verifier,
		resolver: resolver,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SignIn checks credentials and resolves the profile. The returned context
// carries the ID token in Identity.Token.
func (g *Gate) SignIn(ctx context.Context, address, password string) (AppContext, error) {
	id, err := g.auth.Authenticate(ctx, address, password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredential) {
			g.metrics.incSignIn("invalid_credentials")
		} else {
			g.metrics.incSignIn("error")
			g.logger.WarnContext(ctx, "identity provider sign-in failed", "error", err)
		}
		return AppContext{State: StateUnauthenticated}, credentialError(err)
	}

	c, err := g.resolve(ctx, id, g.resolver.Resolve)
	if err != nil {
		g.metrics.incSignIn("refused")
		return c, err
	}
	g.metrics.incSignIn("ok")
	return c, nil
}

// Authenticate resolves the session behind a bearer ID token. Profiles are
// only looked up here; provisioning happens at sign-in.
func (g *Gate) Authenticate(ctx context.Context, token string) (AppContext, error) {
	if token == "" {
		return AppContext{State: StateUnauthenticated}, dErrors.New(dErrors.CodeAuth, "sign-in required")
	}
	id, err := g.verifier.Verify(ctx, token)
	if err != nil {
		return AppContext{State: StateUnauthenticated}, dErrors.Wrap(err, dErrors.CodeAuth, "session expired, sign in again")
	}
	return g.resolve(ctx, id, g.resolver.Lookup)
}

type resolveFunc func(context.Context, identity.Identity) (models.User, error)

func (g *Gate) resolve(ctx context.Context, id identity.Identity, fn resolveFunc) (AppContext, error) {
	user, err := fn(ctx, id)
	if err != nil {
		return AppContext{State: StateUnauthenticated}, signInError(err)
	}
	return AppContext{State: StateAuthenticated, Identity: &id, Profile: &user}, nil
}

// credentialError maps provider sign-in failures to the two user-facing
// AUTH messages.
func credentialError(err error) error {
	if errors.Is(err, identity.ErrInvalidCredential) {
		return dErrors.Wrap(err, dErrors.CodeAuth, msgInvalidCredentials)
	}
	return dErrors.Wrap(err, dErrors.CodeAuth, msgSignInFailed)
}
