package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"checkline/internal/compliance/models"
	"checkline/internal/identity/local"
	dErrors "checkline/pkg/domain-errors"
)

// =============================================================================
// Session Gate Test Suite
// =============================================================================
// Justification: the gate authenticates API requests and must apply the
// same deactivation and provisioning rules as the client bootstrap.

type GateSuite struct {
	suite.Suite
	ctx      context.Context
	provider *local.Provider
	profiles *fakeProfiles
	gate     *Gate
}

func TestGateSuite(t *testing.T) {
	suite.Run(t, new(GateSuite))
}

func (s *GateSuite) SetupTest() {
	s.ctx = context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.provider = local.New(
		local.NewSigner("test-signing-key", "checkline-test", time.Hour),
		local.WithBcryptCost(bcrypt.MinCost),
		local.WithLogger(logger),
	)
	s.profiles = newFakeProfiles()
	resolver := NewResolver(s.profiles, WithProvisionRetry(1, 0), WithResolverLogger(logger))
	s.gate = NewGate(s.provider, s.provider, resolver, WithGateLogger(logger))
}

func (s *GateSuite) TestSignInThenAuthenticate() {
	_, err := s.provider.CreateIdentity(s.ctx, "carla@example.com", "secret-pass", "Carla")
	s.Require().NoError(err)
	s.profiles.add(models.User{ID: "u-7", Name: "Carla", Email: "carla@example.com", Role: models.RoleCoordinator})

	signedIn, err := s.gate.SignIn(s.ctx, "carla@example.com", "secret-pass")
	s.Require().NoError(err)
	s.True(signedIn.Authenticated())
	s.Require().NotNil(signedIn.Identity)
	s.NotEmpty(signedIn.Identity.Token)

	c, err := s.gate.Authenticate(s.ctx, signedIn.Identity.Token)
	s.Require().NoError(err)
	s.Equal("u-7", c.UserID())
	s.Equal(models.RoleCoordinator, c.Role())
}

func (s *GateSuite) TestRefusals() {
	s.Run("wrong password", func() {
		_, err := s.provider.CreateIdentity(s.ctx, "tom@example.com", "secret-pass", "")
		s.Require().NoError(err)
		_, err = s.gate.SignIn(s.ctx, "tom@example.com", "nope-nope")
		s.True(dErrors.HasCode(err, dErrors.CodeAuth))
		s.Contains(err.Error(), msgInvalidCredentials)
	})

	s.Run("deactivated profile", func() {
		inactive := false
		_, err := s.provider.CreateIdentity(s.ctx, "old@example.com", "secret-pass", "")
		s.Require().NoError(err)
		s.profiles.add(models.User{ID: "u-8", Name: "Old", Email: "old@example.com", Role: models.RoleManager, Active: &inactive})

		c, err := s.gate.SignIn(s.ctx, "old@example.com", "secret-pass")
		s.True(dErrors.HasCode(err, dErrors.CodeAuth))
		s.Contains(err.Error(), "deactivated")
		s.False(c.Authenticated())
	})

	s.Run("missing token", func() {
		_, err := s.gate.Authenticate(s.ctx, "")
		s.True(dErrors.HasCode(err, dErrors.CodeAuth))
	})

	s.Run("garbage token", func() {
		_, err := s.gate.Authenticate(s.ctx, "not.a.token")
		s.True(dErrors.HasCode(err, dErrors.CodeAuth))
	})
}

func (s *GateSuite) TestTokenNeverProvisions() {
	_, err := s.provider.CreateIdentity(s.ctx, "tess@example.com", "secret-pass", "Tess")
	s.Require().NoError(err)
	s.profiles.add(models.User{ID: "u-9", Name: "Tess", Email: "tess@example.com", Role: models.RoleTechnician, ManagerID: "m-1"})

	signedIn, err := s.gate.SignIn(s.ctx, "tess@example.com", "secret-pass")
	s.Require().NoError(err)
	s.Equal(models.RoleTechnician, signedIn.Role())

	s.profiles.remove("tess@example.com")
	created := s.profiles.creates()

	c, err := s.gate.Authenticate(s.ctx, signedIn.Identity.Token)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeAuth))
	s.False(c.Authenticated())
	s.Equal(created, s.profiles.creates(), "a token must not recreate a removed profile")

	s.Run("sign-in still provisions", func() {
		c, err := s.gate.SignIn(s.ctx, "tess@example.com", "secret-pass")
		s.Require().NoError(err)
		s.Equal(models.RoleManager, c.Role())
		s.Equal(created+1, s.profiles.creates())
	})
}
