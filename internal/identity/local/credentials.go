package local

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"checkline/internal/docstore"
	"checkline/internal/identity"
	"checkline/pkg/platform/sentinel"
)

// IdentitiesCollection holds password credentials when they are kept in the
// document store.
const IdentitiesCollection = "identities"

// Credential is a stored password credential. Email is normalised.
type Credential struct {
	UID         string
	Email       string
	DisplayName string
	Hash        []byte
}

// Credentials persists password credentials. Lookups return nil, nil when
// nothing matches.
type Credentials interface {
	// Create stores c under a new uid. A taken email is identity.ErrEmailInUse.
	Create(ctx context.Context, c Credential) (string, error)
	ByEmail(ctx context.Context, email string) (*Credential, error)
	ByUID(ctx context.Context, uid string) (*Credential, error)
	// SetHash and Delete return identity.ErrUnknownIdentity for a missing uid.
	SetHash(ctx context.Context, uid string, hash []byte) error
	Delete(ctx context.Context, uid string) error
}

// MemoryCredentials keeps credentials for the life of the process.
type MemoryCredentials struct {
	mu      sync.RWMutex
	byUID   map[string]Credential
	byEmail map[string]string
}

func NewMemoryCredentials() *MemoryCredentials {
	return &MemoryCredentials{
		byUID:   make(map[string]Credential),
		byEmail: make(map[string]string),
	}
}

func (m *MemoryCredentials) Create(_ context.Context, c Credential) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.byEmail[c.Email]; taken {
		return "", identity.ErrEmailInUse
	}
	c.UID = uuid.NewString()
	m.byUID[c.UID] = c
	m.byEmail[c.Email] = c.UID
	return c.UID, nil
}

func (m *MemoryCredentials) ByEmail(_ context.Context, email string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uid, ok := m.byEmail[email]
	if !ok {
		return nil, nil
	}
	c := m.byUID[uid]
	return &c, nil
}

func (m *MemoryCredentials) ByUID(_ context.Context, uid string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byUID[uid]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *MemoryCredentials) SetHash(_ context.Context, uid string, hash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byUID[uid]
	if !ok {
		return identity.ErrUnknownIdentity
	}
	c.Hash = hash
	m.byUID[uid] = c
	return nil
}

func (m *MemoryCredentials) Delete(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byUID[uid]
	if !ok {
		return identity.ErrUnknownIdentity
	}
	delete(m.byUID, uid)
	delete(m.byEmail, c.Email)
	return nil
}

// DocumentCredentials keeps credentials in the identities collection of a
// document store backend, so they live as long as the profiles do. The
// document id is the uid.
type DocumentCredentials struct {
	backend docstore.Backend
	// serialises the email check with the insert within this process
	mu sync.Mutex
}

func NewDocumentCredentials(backend docstore.Backend) *DocumentCredentials {
	return &DocumentCredentials{backend: backend}
}

func (d *DocumentCredentials) Create(ctx context.Context, c Credential) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, err := d.ByEmail(ctx, c.Email)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", identity.ErrEmailInUse
	}
	uid, err := d.backend.Add(ctx, IdentitiesCollection, docstore.Fields{
		"email":       c.Email,
		"displayName": c.DisplayName,
		"hash":        string(c.Hash),
	})
	if err != nil {
		return "", fmt.Errorf("store credential: %w", err)
	}
	return uid, nil
}

func (d *DocumentCredentials) ByEmail(ctx context.Context, email string) (*Credential, error) {
	docs, err := d.backend.Query(ctx, IdentitiesCollection, docstore.Query{}.Where("email", email))
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	c := credentialFromDocument(docs[0])
	return &c, nil
}

func (d *DocumentCredentials) ByUID(ctx context.Context, uid string) (*Credential, error) {
	doc, err := d.backend.Get(ctx, IdentitiesCollection, uid)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	c := credentialFromDocument(doc)
	return &c, nil
}

func (d *DocumentCredentials) SetHash(ctx context.Context, uid string, hash []byte) error {
	err := d.backend.Update(ctx, IdentitiesCollection, uid, docstore.Fields{"hash": string(hash)})
	if errors.Is(err, sentinel.ErrNotFound) {
		return identity.ErrUnknownIdentity
	}
	return err
}

func (d *DocumentCredentials) Delete(ctx context.Context, uid string) error {
	err := d.backend.Delete(ctx, IdentitiesCollection, uid)
	if errors.Is(err, sentinel.ErrNotFound) {
		return identity.ErrUnknownIdentity
	}
	return err
}

func credentialFromDocument(doc docstore.Document) Credential {
	c := Credential{UID: doc.ID}
	c.Email, _ = doc.Fields["email"].(string)
	c.DisplayName, _ = doc.Fields["displayName"].(string)
	if hash, ok := doc.Fields["hash"].(string); ok {
		c.Hash = []byte(hash)
	}
	return c
}
