// Package identity defines the boundary to the authentication provider and
// the privileged account operations that manage provider identities.
package identity

//go:generate mockgen -source=identity.go -destination=mocks/mocks.go -package=mocks Provider,Accounts

import (
	"context"
	"errors"
)

var (
	// ErrInvalidCredential covers unknown email and wrong password alike.
	ErrInvalidCredential = errors.New("invalid credential")
	ErrEmailInUse        = errors.New("email already in use")
	ErrUnknownIdentity   = errors.New("unknown identity")
	ErrWeakPassword      = errors.New("password too short")
)

// MinPasswordLength is enforced on create and set-password.
const MinPasswordLength = 6

// Identity is an authenticated principal as seen by the provider.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
	Token       string
}

// Provider signs a single client in and out and reports identity changes.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (Identity, error)
	SignOut(ctx context.Context) error
	// Watch calls fn with the current identity (nil when signed out) and
	// again on every change until cancel is called.
	Watch(fn func(*Identity)) (cancel func())
}

// Accounts is the privileged side: creating, deleting and re-keying identities.
type Accounts interface {
	CreateIdentity(ctx context.Context, email, password, displayName string) (uid string, err error)
	DeleteIdentity(ctx context.Context, uid string) error
	SetPassword(ctx context.Context, uid, password string) error
}
