// Package auth guards routes with a bearer ID token.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	dErrors "checkline/pkg/domain-errors"
	"checkline/pkg/platform/httputil"
	"checkline/pkg/requestcontext"
)

// Principal is the signed-in caller.
type Principal struct {
	UserID string
	Name   string
	Role   string
	Email  string
}

// SessionVerifier turns a bearer token into a principal. Errors should carry
// a dErrors code; uncoded errors are answered as 401.
type SessionVerifier interface {
	VerifySession(ctx context.Context, token string) (Principal, error)
}

type contextKeyPrincipal struct{}

// PrincipalFrom returns the principal stored by RequireAuth.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKeyPrincipal{}).(Principal)
	return p, ok
}

// WithPrincipal stores p and sets the request actor to p.UserID.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, contextKeyPrincipal{}, p)
	return requestcontext.WithActorID(ctx, p.UserID)
}

func RequireAuth(verifier SessionVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := bearerToken(r)
			if token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeAuth, "missing or invalid Authorization header"))
				return
			}

			p, err := verifier.VerifySession(ctx, token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - session rejected",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				if dErrors.CodeOf(err) == dErrors.CodeInternal {
					err = dErrors.Wrap(err, dErrors.CodeAuth, "invalid or expired token")
				}
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, p)))
		})
	}
}

// RequireRole admits principals whose role is one of roles. It must run
// after RequireAuth.
func RequireRole(logger *slog.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			p, ok := PrincipalFrom(ctx)
			if !ok || !slices.Contains(roles, p.Role) {
				logger.WarnContext(ctx, "forbidden - role not allowed",
					"request_id", requestcontext.RequestID(ctx),
					"user_id", p.UserID,
					"role", p.Role,
					"path", r.URL.Path,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodePermission, "not allowed for this role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
