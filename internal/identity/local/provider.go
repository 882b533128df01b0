// Package local is an in-process identity provider: bcrypt password hashes,
// HS256 ID tokens and a single signed-in client identity with a watch stream.
package local

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"checkline/internal/identity"
	"checkline/pkg/email"
)

// Provider implements identity.Provider and identity.Accounts.
type Provider struct {
	signer      *Signer
	credentials Credentials
	cost        int
	logger      *slog.Logger
	dummy       []byte

	mu       sync.Mutex
	current  *identity.Identity
	watchers map[uint64]func(*identity.Identity)
	nextID   uint64
}

type Option func(*Provider)

func WithBcryptCost(cost int) Option {
	return func(p *Provider) {
		p.cost = cost
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithCredentials replaces the in-process credential store.
func WithCredentials(c Credentials) Option {
	return func(p *Provider) {
		p.credentials = c
	}
}

func New(signer *Signer, opts ...Option) *Provider {
	p := &Provider{
		signer:      signer,
		credentials: NewMemoryCredentials(),
		cost:        bcrypt.DefaultCost,
		logger:      slog.Default(),
		watchers:    make(map[uint64]func(*identity.Identity)),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.dummy, _ = bcrypt.GenerateFromPassword([]byte(uuid.NewString()), p.cost)
	return p
}

// CreateIdentity registers a new credential.
func (p *Provider) CreateIdentity(ctx context.Context, address, password, displayName string) (string, error) {
	if len(password) < identity.MinPasswordLength {
		return "", identity.ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", err
	}
	return p.credentials.Create(ctx, Credential{
		Email:       email.Normalize(address),
		DisplayName: displayName,
		Hash:        hash,
	})
}

// DeleteIdentity removes a credential; a signed-in session for it ends.
func (p *Provider) DeleteIdentity(ctx context.Context, uid string) error {
	if err := p.credentials.Delete(ctx, uid); err != nil {
		return err
	}
	p.mu.Lock()
	endSession := p.current != nil && p.current.UID == uid
	p.mu.Unlock()

	if endSession {
		p.setCurrent(nil)
	}
	return nil
}

func (p *Provider) SetPassword(ctx context.Context, uid, password string) error {
	if len(password) < identity.MinPasswordLength {
		return identity.ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return err
	}
	return p.credentials.SetHash(ctx, uid, hash)
}

// Authenticate checks the password and issues an ID token without touching
// the signed-in identity. Unknown email and wrong password both yield
// ErrInvalidCredential.
func (p *Provider) Authenticate(ctx context.Context, address, password string) (identity.Identity, error) {
	cred, err := p.credentials.ByEmail(ctx, email.Normalize(address))
	if err != nil {
		return identity.Identity{}, err
	}
	if cred == nil {
		// Unknown emails take as long as wrong passwords.
		_ = bcrypt.CompareHashAndPassword(p.dummy, []byte(password))
		return identity.Identity{}, identity.ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword(cred.Hash, []byte(password)); err != nil {
		return identity.Identity{}, identity.ErrInvalidCredential
	}

	id := identity.Identity{UID: cred.UID, Email: cred.Email, DisplayName: cred.DisplayName}
	token, err := p.signer.Issue(id.UID, id.Email, id.DisplayName)
	if err != nil {
		return identity.Identity{}, err
	}
	id.Token = token
	return id, nil
}

// SignIn authenticates and makes the identity current.
func (p *Provider) SignIn(ctx context.Context, address, password string) (identity.Identity, error) {
	id, err := p.Authenticate(ctx, address, password)
	if err != nil {
		return identity.Identity{}, err
	}
	p.logger.InfoContext(ctx, "identity signed in", "uid", id.UID)
	p.setCurrent(&id)
	return id, nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	signedIn := p.current != nil
	p.mu.Unlock()
	if signedIn {
		p.logger.InfoContext(ctx, "identity signed out")
		p.setCurrent(nil)
	}
	return nil
}

// Watch delivers the current identity immediately and then every change.
func (p *Provider) Watch(fn func(*identity.Identity)) func() {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.watchers[id] = fn
	current := cloneIdentity(p.current)
	p.mu.Unlock()

	fn(current)

	return func() {
		p.mu.Lock()
		delete(p.watchers, id)
		p.mu.Unlock()
	}
}

// Verify validates an ID token and returns the identity it names.
func (p *Provider) Verify(ctx context.Context, token string) (identity.Identity, error) {
	claims, err := p.signer.Verify(token)
	if err != nil {
		return identity.Identity{}, err
	}
	cred, err := p.credentials.ByUID(ctx, claims.Subject)
	if err != nil {
		return identity.Identity{}, err
	}
	if cred == nil {
		return identity.Identity{}, identity.ErrUnknownIdentity
	}
	return identity.Identity{UID: claims.Subject, Email: claims.Email, DisplayName: claims.Name, Token: token}, nil
}

func (p *Provider) setCurrent(id *identity.Identity) {
	p.mu.Lock()
	p.current = cloneIdentity(id)
	fns := make([]func(*identity.Identity), 0, len(p.watchers))
	for _, fn := range p.watchers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(cloneIdentity(id))
	}
}

func cloneIdentity(id *identity.Identity) *identity.Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
