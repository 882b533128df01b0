package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"checkline/internal/identity"
	dErrors "checkline/pkg/domain-errors"
	"checkline/pkg/platform/httputil"
	"checkline/pkg/platform/middleware/admin"
)

// Client implements identity.Accounts against a remote Handler and doubles
// as the sign-in authenticator and token verifier for it.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(cl *Client) {
		cl.logger = logger
	}
}

func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) CreateIdentity(ctx context.Context, email, password, displayName string) (string, error) {
	var out createResponse
	err := c.do(ctx, http.MethodPost, "/accounts", createRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.UID, nil
}

func (c *Client) DeleteIdentity(ctx context.Context, uid string) error {
	return c.do(ctx, http.MethodDelete, "/accounts/"+url.PathEscape(uid), nil, nil)
}

func (c *Client) SetPassword(ctx context.Context, uid, password string) error {
	return c.do(ctx, http.MethodPut, "/accounts/"+url.PathEscape(uid)+"/password", passwordRequest{Password: password}, nil)
}

// Authenticate checks a password on the remote provider and returns the
// identity with a fresh ID token.
func (c *Client) Authenticate(ctx context.Context, email, password string) (identity.Identity, error) {
	var out identityResponse
	if err := c.do(ctx, http.MethodPost, "/sessions", signInRequest{Email: email, Password: password}, &out); err != nil {
		return identity.Identity{}, err
	}
	return out.identity(), nil
}

// Verify asks the remote provider whether token is valid and still names an
// existing identity.
func (c *Client) Verify(ctx context.Context, token string) (identity.Identity, error) {
	var out identityResponse
	if err := c.do(ctx, http.MethodPost, "/sessions/verify", verifyRequest{Token: token}, &out); err != nil {
		return identity.Identity{}, err
	}
	return out.identity(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "encode request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build request")
	}
	req.Header.Set(admin.TokenHeader, c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "account service unreachable", "method", method, "path", path, "error", err)
		return dErrors.Wrap(err, dErrors.CodeNetwork, "account service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return c.failure(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeNetwork, "decode account service response")
	}
	return nil
}

func (c *Client) failure(resp *http.Response) error {
	var envelope httputil.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&envelope)

	switch envelope.Error {
	case errEmailInUse:
		return identity.ErrEmailInUse
	case errWeakPassword:
		return identity.ErrWeakPassword
	case errUnknownIdentity:
		return identity.ErrUnknownIdentity
	case errBadCredential:
		return identity.ErrInvalidCredential
	case errInvalidToken:
		return dErrors.New(dErrors.CodeAuth, "token rejected by account service")
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return dErrors.New(dErrors.CodePermission, "account service rejected credentials")
	case resp.StatusCode >= 500:
		return dErrors.New(dErrors.CodeNetwork, fmt.Sprintf("account service returned %d", resp.StatusCode))
	default:
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("account service returned %d", resp.StatusCode))
	}
}
