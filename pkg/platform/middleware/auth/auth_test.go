package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "checkline/pkg/domain-errors"
	"checkline/pkg/requestcontext"
)

type verifierFunc func(ctx context.Context, token string) (Principal, error)

func (f verifierFunc) VerifySession(ctx context.Context, token string) (Principal, error) {
	return f(ctx, token)
}

func TestRequireAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier := verifierFunc(func(_ context.Context, token string) (Principal, error) {
		switch token {
		case "good":
			return Principal{UserID: "u-1", Role: "MANAGER"}, nil
		case "gone":
			return Principal{}, dErrors.New(dErrors.CodeAuth, "account deactivated")
		case "down":
			return Principal{}, dErrors.New(dErrors.CodeNetwork, "profile store unavailable")
		default:
			return Principal{}, errors.New("signature mismatch")
		}
	})

	var seen Principal
	var actor string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFrom(r.Context())
		actor = requestcontext.ActorID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"valid bearer", "Bearer good", http.StatusNoContent},
		{"lowercase scheme", "bearer good", http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"basic scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"deactivated profile", "Bearer gone", http.StatusUnauthorized},
		{"uncoded failure", "Bearer forged", http.StatusUnauthorized},
		{"store outage", "Bearer down", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen, actor = Principal{}, ""
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			RequireAuth(verifier, logger)(next).ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusNoContent {
				assert.Equal(t, "u-1", seen.UserID)
				assert.Equal(t, "u-1", actor)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	guard := RequireRole(logger, "COORDINATOR")(next)

	t.Run("allowed role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/users", nil)
		req = req.WithContext(WithPrincipal(req.Context(), Principal{UserID: "c-1", Role: "COORDINATOR"}))
		w := httptest.NewRecorder()
		guard.ServeHTTP(w, req)
		require.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("other role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/users", nil)
		req = req.WithContext(WithPrincipal(req.Context(), Principal{UserID: "t-1", Role: "TECHNICIAN"}))
		w := httptest.NewRecorder()
		guard.ServeHTTP(w, req)
		require.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), `"permission"`)
	})

	t.Run("no principal", func(t *testing.T) {
		w := httptest.NewRecorder()
		guard.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/users", nil))
		require.Equal(t, http.StatusForbidden, w.Code)
	})
}
