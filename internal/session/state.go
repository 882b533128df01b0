package session

import (
	"checkline/internal/compliance/models"
	"checkline/internal/identity"
)

// State of the application session.
type State int

const (
	StateLoading State = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "LOADING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	default:
		return "UNKNOWN"
	}
}

// AppContext is the explicit application context. It is immutable; every
// transition publishes a new value. Seq increases with each publication.
type AppContext struct {
	Seq      uint64
	State    State
	Identity *identity.Identity
	Profile  *models.User
	// Err explains the last transition to UNAUTHENTICATED, if it was forced.
	Err error
}

func (c AppContext) Authenticated() bool {
	return c.State == StateAuthenticated && c.Profile != nil
}

// UserID is the signed-in profile id, or "".
func (c AppContext) UserID() string {
	if c.Profile == nil {
		return ""
	}
	return c.Profile.ID
}

// Role is the signed-in profile role, or "".
func (c AppContext) Role() models.Role {
	if c.Profile == nil {
		return ""
	}
	return c.Profile.Role
}
