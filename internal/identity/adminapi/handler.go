// Package adminapi exposes the local identity provider over HTTP for
// trusted services and provides the matching client: account operations,
// password sign-in and ID token verification.
package adminapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"checkline/internal/identity"
	dErrors "checkline/pkg/domain-errors"
	"checkline/pkg/platform/httputil"
	"checkline/pkg/platform/middleware/admin"
)

// Error names carried in the JSON envelope.
const (
	errEmailInUse      = "email_in_use"
	errWeakPassword    = "weak_password"
	errUnknownIdentity = "unknown_identity"
	errBadCredential   = "invalid_credential"
	errInvalidToken    = "invalid_token"
	errBadRequest      = "bad_request"
	errInternal        = "internal_error"
)

type createRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

type createResponse struct {
	UID string `json:"uid"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

type identityResponse struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	Token       string `json:"token"`
}

func toIdentityResponse(id identity.Identity) identityResponse {
	return identityResponse{UID: id.UID, Email: id.Email, DisplayName: id.DisplayName, Token: id.Token}
}

func (r identityResponse) identity() identity.Identity {
	return identity.Identity{UID: r.UID, Email: r.Email, DisplayName: r.DisplayName, Token: r.Token}
}

// Authority is the provider behind the handler.
type Authority interface {
	identity.Accounts
	Authenticate(ctx context.Context, email, password string) (identity.Identity, error)
	Verify(ctx context.Context, token string) (identity.Identity, error)
}

// Handler serves the privileged account and session operations.
type Handler struct {
	authority Authority
	token     string
	logger    *slog.Logger
}

func NewHandler(authority Authority, token string, logger *slog.Logger) *Handler {
	return &Handler{authority: authority, token: token, logger: logger}
}

// Register mounts /accounts and /sessions, guarded by the service token.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireServiceToken(h.token, h.logger))
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.handleCreate)
			r.Delete("/{uid}", h.handleDelete)
			r.Put("/{uid}/password", h.handleSetPassword)
		})
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.handleSignIn)
			r.Post("/verify", h.handleVerify)
		})
	})
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, errBadRequest)
		return
	}
	id, err := h.authority.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, "authenticate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toIdentityResponse(id))
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, errBadRequest)
		return
	}
	id, err := h.authority.Verify(r.Context(), req.Token)
	if err != nil {
		h.fail(w, r, "verify token", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toIdentityResponse(id))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, errBadRequest)
		return
	}
	uid, err := h.authority.CreateIdentity(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		h.fail(w, r, "create identity", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, createResponse{UID: uid})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.authority.DeleteIdentity(r.Context(), chi.URLParam(r, "uid")); err != nil {
		h.fail(w, r, "delete identity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, errBadRequest)
		return
	}
	if err := h.authority.SetPassword(r.Context(), chi.URLParam(r, "uid"), req.Password); err != nil {
		h.fail(w, r, "set password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, identity.ErrEmailInUse):
		writeFailure(w, http.StatusConflict, errEmailInUse)
	case errors.Is(err, identity.ErrWeakPassword):
		writeFailure(w, http.StatusBadRequest, errWeakPassword)
	case errors.Is(err, identity.ErrUnknownIdentity):
		writeFailure(w, http.StatusNotFound, errUnknownIdentity)
	case errors.Is(err, identity.ErrInvalidCredential):
		writeFailure(w, http.StatusUnauthorized, errBadCredential)
	case dErrors.HasCode(err, dErrors.CodeAuth):
		writeFailure(w, http.StatusUnauthorized, errInvalidToken)
	default:
		h.logger.ErrorContext(r.Context(), "account operation failed", "op", op, "error", err)
		writeFailure(w, http.StatusInternalServerError, errInternal)
	}
}

func writeFailure(w http.ResponseWriter, status int, name string) {
	httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: name})
}
