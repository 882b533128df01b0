// Package httptransport is the JSON API. Handlers translate requests into
// service calls and coded errors into statuses; rules live in the services.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"checkline/internal/compliance/models"
	"checkline/pkg/platform/middleware/auth"
	"checkline/pkg/platform/middleware/metadata"
	"checkline/pkg/platform/middleware/request"
	"checkline/pkg/platform/middleware/requesttime"
)

const requestTimeout = 30 * time.Second

// Handler carries the services behind the API.
type Handler struct {
	sessions   SessionService
	checklists ChecklistService
	inbox      InboxService
	accounts   AccountService
	health     HealthReporter
	logger     *slog.Logger

	metrics http.Handler
	limiter SignInLimiter
	mounts  []func(chi.Router)
}

type Option func(*Handler)

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(hd *Handler) {
		hd.metrics = h
	}
}

// WithSignInLimiter enables sign-in lockout.
func WithSignInLimiter(l SignInLimiter) Option {
	return func(hd *Handler) {
		hd.limiter = l
	}
}

// WithMount registers extra routes at the root, outside session auth.
func WithMount(register func(chi.Router)) Option {
	return func(hd *Handler) {
		hd.mounts = append(hd.mounts, register)
	}
}

func NewHandler(
	sessions SessionService,
	checklists ChecklistService,
	inbox InboxService,
	accounts AccountService,
	health HealthReporter,
	logger *slog.Logger,
	opts ...Option,
) *Handler {
	h := &Handler{
		sessions:   sessions,
		checklists: checklists,
		inbox:      inbox,
		accounts:   accounts,
		health:     health,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter wires every route.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(metadata.ClientMetadata)
	r.Use(request.RequestID)
	r.Use(request.Logger(h.logger))
	r.Use(request.Recovery(h.logger))
	r.Use(requesttime.Middleware)

	r.Get("/healthz", h.handleLiveness)
	r.Get("/readyz", h.handleReadiness)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	for _, mount := range h.mounts {
		mount(r)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout))
		r.Post("/session", h.handleSignIn)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(gateVerifier{h.sessions}, h.logger))
			r.Get("/me", h.handleMe)

			r.Get("/notifications", h.handleListNotifications)
			r.Get("/notifications/unread-count", h.handleUnreadCount)
			r.Post("/notifications/read-all", h.handleMarkAllRead)
			r.Post("/notifications/{id}/read", h.handleMarkRead)

			r.With(requireRoles(h.logger, models.RoleTechnician)).
				Post("/checklists", h.handleSubmitChecklist)
			r.With(requireRoles(h.logger, models.RoleManager, models.RoleCoordinator)).
				Post("/checklists/{id}/validate", h.handleValidateChecklist)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRoles(h.logger, models.RoleCoordinator))
				r.Post("/users", h.handleCreateUser)
				r.Patch("/users/{id}", h.handleUpdateUser)
				r.Delete("/users/{id}", h.handleDeleteUser)
				r.Post("/users/{id}/deactivate", h.handleDeactivateUser)
				r.Post("/users/{id}/password", h.handleResetPassword)
				r.Post("/units", h.handleCreateUnit)
				r.Patch("/units/{id}", h.handleUpdateUnit)
				r.Post("/templates", h.handleCreateTemplate)
				r.Put("/templates/{id}", h.handleReplaceTemplate)
			})
		})
	})
	return r
}

// gateVerifier adapts the session gate to the bearer middleware.
type gateVerifier struct {
	sessions SessionService
}

func (v gateVerifier) VerifySession(ctx context.Context, token string) (auth.Principal, error) {
	c, err := v.sessions.Authenticate(ctx, token)
	if err != nil {
		return auth.Principal{}, err
	}
	return principalOf(c.Profile), nil
}

func principalOf(u *models.User) auth.Principal {
	if u == nil {
		return auth.Principal{}
	}
	return auth.Principal{UserID: u.ID, Name: u.Name, Role: string(u.Role), Email: u.Email}
}

func requireRoles(logger *slog.Logger, roles ...models.Role) func(http.Handler) http.Handler {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return auth.RequireRole(logger, names...)
}

// principal is set by RequireAuth on every route that calls it.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}
