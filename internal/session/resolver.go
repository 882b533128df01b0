// Package session reconciles provider identities with domain profiles and
// owns the application context lifecycle.
package session

//go:generate mockgen -source=resolver.go -destination=mocks/mocks.go -package=mocks Profiles,Auditor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"checkline/internal/compliance/models"
	"checkline/internal/identity"
	dErrors "checkline/pkg/domain-errors"
	"checkline/pkg/email"
)

const (
	defaultProvisionAttempts = 3
	defaultProvisionBackoff  = 200 * time.Millisecond

	provisioningActor = "system:provisioning"
)

// Profiles reads and creates domain user profiles.
type Profiles interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user models.User) (string, error)
}

// Auditor records audit entries.
type Auditor interface {
	Emit(ctx context.Context, entry models.AuditLogEntry) error
}

// Resolver maps an identity to an active domain profile, provisioning one
// when allowed.
type Resolver struct {
	profiles     Profiles
	auditor      Auditor
	provisioning bool
	defaultRole  models.Role
	attempts     int
	backoff      time.Duration
	logger       *slog.Logger
	metrics      *Metrics
	tracer       trace.Tracer
}

type ResolverOption func(*Resolver)

// WithProvisioning enables auto-provisioning with role for unknown emails.
func WithProvisioning(enabled bool, role models.Role) ResolverOption {
	return func(r *Resolver) {
		r.provisioning = enabled
		if role.IsValid() {
			r.defaultRole = role
		}
	}
}

// WithProvisionRetry sets how many create attempts are made and the pause
// between them.
func WithProvisionRetry(attempts int, backoff time.Duration) ResolverOption {
	return func(r *Resolver) {
		if attempts > 0 {
			r.attempts = attempts
		}
		r.backoff = backoff
	}
}

func WithAuditor(a Auditor) ResolverOption {
	return func(r *Resolver) {
		r.auditor = a
	}
}

func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithResolverMetrics(m *Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
	}
}

func NewResolver(profiles Profiles, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		profiles:     profiles,
		provisioning: true,
		defaultRole:  models.RoleManager,
		attempts:     defaultProvisionAttempts,
		backoff:      defaultProvisionBackoff,
		logger:       slog.Default(),
		tracer:       otel.Tracer("checkline/session"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the active profile for id. A deactivated profile is an
// AUTH error. When no profile exists and provisioning is on, a minimal one
// is created; before every retry the email is looked up again so a create
// that landed despite reporting failure is not duplicated.
func (r *Resolver) Resolve(ctx context.Context, id identity.Identity) (models.User, error) {
	return r.resolve(ctx, id, r.provisioning)
}

// Lookup is Resolve without provisioning: a missing profile is an AUTH
// error. Token-authenticated requests use it so a deleted profile is never
// recreated from a still-valid token.
func (r *Resolver) Lookup(ctx context.Context, id identity.Identity) (models.User, error) {
	return r.resolve(ctx, id, false)
}

func (r *Resolver) resolve(ctx context.Context, id identity.Identity, provision bool) (user models.User, err error) {
	ctx, span := r.tracer.Start(ctx, "session.resolve", trace.WithAttributes(
		attribute.String("uid", id.UID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		}
		span.End()
	}()

	address := email.Normalize(id.Email)
	if address == "" {
		r.metrics.inc(outcomeRejected)
		return models.User{}, dErrors.New(dErrors.CodeAuth, "identity has no email")
	}

	found, err := r.profiles.FindByEmail(ctx, address)
	if err != nil {
		return models.User{}, dErrors.Wrap(err, dErrors.CodeOf(err), "look up profile")
	}
	if found != nil {
		return r.gate(ctx, *found)
	}

	if !provision {
		r.metrics.inc(outcomeRejected)
		return models.User{}, dErrors.New(dErrors.CodeAuth, "no profile exists for this account")
	}
	return r.provision(ctx, id, address)
}

func (r *Resolver) gate(ctx context.Context, u models.User) (models.User, error) {
	if !u.IsActive() {
		r.metrics.inc(outcomeDeactivated)
		r.logger.InfoContext(ctx, "sign-in refused for deactivated profile", "user_id", u.ID)
		return models.User{}, dErrors.New(dErrors.CodeAuth, "this account has been deactivated")
	}
	r.metrics.inc(outcomeAuthenticated)
	return u, nil
}

func (r *Resolver) provision(ctx context.Context, id identity.Identity, address string) (models.User, error) {
	name := id.DisplayName
	if name == "" {
		name = email.DisplayName(address)
	}
	user := models.User{
		Name:           name,
		Email:          address,
		Role:           r.defaultRole,
		ExternalAuthID: id.UID,
	}

	var lastErr error
	for attempt := range r.attempts {
		if attempt > 0 {
			if err := sleep(ctx, r.backoff); err != nil {
				lastErr = err
				break
			}
			existing, err := r.profiles.FindByEmail(ctx, address)
			if err != nil {
				lastErr = err
				continue
			}
			if existing != nil {
				r.logger.InfoContext(ctx, "profile found on provisioning retry", "user_id", existing.ID)
				return r.gate(ctx, *existing)
			}
		}

		userID, err := r.profiles.Create(ctx, user)
		if err == nil {
			user.ID = userID
			r.provisioned(ctx, user)
			return user, nil
		}
		lastErr = err
		r.logger.WarnContext(ctx, "profile provisioning attempt failed",
			"attempt", attempt+1,
			"email", address,
			"error", err,
		)
		if !dErrors.HasCode(err, dErrors.CodeNetwork) {
			break
		}
	}

	r.metrics.inc(outcomeProvisionFailed)
	return models.User{}, dErrors.Wrap(lastErr, dErrors.CodeOf(lastErr), "provision profile")
}

func (r *Resolver) provisioned(ctx context.Context, u models.User) {
	r.metrics.inc(outcomeProvisioned)
	r.logger.WarnContext(ctx, "profile auto-provisioned",
		"user_id", u.ID,
		"email", u.Email,
		"role", string(u.Role),
	)
	if r.auditor == nil {
		return
	}
	if err := r.auditor.Emit(ctx, models.AuditLogEntry{
		PerformingUserID: provisioningActor,
		Action:           models.ActionProfileProvisioned,
		Details:          fmt.Sprintf("profile %s provisioned for %s with role %s", u.ID, u.Email, u.Role),
	}); err != nil {
		r.logger.WarnContext(ctx, "provisioning audit failed", "user_id", u.ID, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
