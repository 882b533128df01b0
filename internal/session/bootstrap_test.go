package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"checkline/internal/compliance/models"
	"checkline/internal/identity"
	"checkline/internal/identity/local"
	idmocks "checkline/internal/identity/mocks"
	dErrors "checkline/pkg/domain-errors"
)

// =============================================================================
// Session Bootstrap Test Suite
// =============================================================================
// Justification: the bootstrap is the only gate between a provider session
// and the app. Refusals must end the provider session and say why.

type BootstrapSuite struct {
	suite.Suite
	ctx      context.Context
	logger   *slog.Logger
	provider *local.Provider
	profiles *fakeProfiles
	boot     *Bootstrap
}

func TestBootstrapSuite(t *testing.T) {
	suite.Run(t, new(BootstrapSuite))
}

func (s *BootstrapSuite) SetupTest() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.provider = local.New(
		local.NewSigner("test-signing-key", "checkline-test", time.Hour),
		local.WithBcryptCost(bcrypt.MinCost),
		local.WithLogger(s.logger),
	)
	s.profiles = newFakeProfiles()
	resolver := NewResolver(s.profiles,
		WithProvisionRetry(2, 0),
		WithResolverLogger(s.logger),
	)
	s.boot = NewBootstrap(s.provider, resolver, WithLogger(s.logger))
	s.boot.Start(s.ctx)

	_, err := s.boot.Await(s.awaitCtx(), func(c AppContext) bool {
		return c.State == StateUnauthenticated
	})
	s.Require().NoError(err)
}

func (s *BootstrapSuite) TearDownTest() {
	s.boot.Close()
}

func (s *BootstrapSuite) awaitCtx() context.Context {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	s.T().Cleanup(cancel)
	return ctx
}

func (s *BootstrapSuite) register(address string) string {
	uid, err := s.provider.CreateIdentity(s.ctx, address, "secret-pass", "")
	s.Require().NoError(err)
	return uid
}

func (s *BootstrapSuite) providerSignedIn() bool {
	var current *identity.Identity
	cancel := s.provider.Watch(func(id *identity.Identity) { current = id })
	cancel()
	return current != nil
}

func (s *BootstrapSuite) TestStartsLoading() {
	b := NewBootstrap(s.provider, NewResolver(s.profiles))
	s.Equal(StateLoading, b.Context().State)
	b.Close()
}

func (s *BootstrapSuite) TestActiveProfileAuthenticates() {
	s.register("tech@example.com")
	s.profiles.add(models.User{ID: "u-1", Name: "Tech", Email: "tech@example.com", Role: models.RoleTechnician})

	c, err := s.boot.SignIn(s.awaitCtx(), "Tech@Example.com", "secret-pass")
	s.Require().NoError(err)
	s.Equal(StateAuthenticated, c.State)
	s.Equal("u-1", c.UserID())
	s.Equal(models.RoleTechnician, c.Role())
	s.True(c.Authenticated())
	s.Equal(0, s.profiles.creates())
}

func (s *BootstrapSuite) TestDeactivatedProfileIsSignedOut() {
	inactive := false
	s.register("gone@example.com")
	s.profiles.add(models.User{ID: "u-2", Name: "Gone", Email: "gone@example.com", Role: models.RoleManager, Active: &inactive})

	c, err := s.boot.SignIn(s.awaitCtx(), "gone@example.com", "secret-pass")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeAuth))
	s.Contains(err.Error(), "deactivated")
	s.Equal(StateUnauthenticated, c.State)
	s.Nil(c.Profile)

	s.Eventually(func() bool { return !s.providerSignedIn() }, time.Second, 5*time.Millisecond)
	s.Eventually(func() bool {
		cur := s.boot.Context()
		return cur.State == StateUnauthenticated && cur.Err != nil
	}, time.Second, 5*time.Millisecond, "forced sign-out keeps the refusal reason")
}

func (s *BootstrapSuite) TestFirstSignInProvisionsOnce() {
	uid := s.register("new.manager@example.com")

	c, err := s.boot.SignIn(s.awaitCtx(), "new.manager@example.com", "secret-pass")
	s.Require().NoError(err)
	s.Equal(StateAuthenticated, c.State)
	s.Equal(models.RoleManager, c.Role())
	s.Equal("New Manager", c.Profile.Name)
	s.Equal(uid, c.Profile.ExternalAuthID)

	s.Require().NoError(s.boot.SignOut(s.ctx))
	_, err = s.boot.Await(s.awaitCtx(), func(c AppContext) bool { return c.State == StateUnauthenticated })
	s.Require().NoError(err)

	_, err = s.boot.SignIn(s.awaitCtx(), "new.manager@example.com", "secret-pass")
	s.Require().NoError(err)
	s.Equal(1, s.profiles.creates())
}

func (s *BootstrapSuite) TestProvisioningFailureSignsOut() {
	s.register("flaky@example.com")
	s.profiles.failCreates(dErrors.New(dErrors.CodeNetwork, "store unreachable"))

	c, err := s.boot.SignIn(s.awaitCtx(), "flaky@example.com", "secret-pass")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeAuth))
	s.Contains(err.Error(), msgSignInFailed)
	s.Equal(StateUnauthenticated, c.State)
	s.Eventually(func() bool { return !s.providerSignedIn() }, time.Second, 5*time.Millisecond)
}

func (s *BootstrapSuite) TestSignInFailures() {
	s.Run("wrong password", func() {
		s.register("user@example.com")
		_, err := s.boot.SignIn(s.ctx, "user@example.com", "wrong-pass")
		s.True(dErrors.HasCode(err, dErrors.CodeAuth))
		s.Contains(err.Error(), msgInvalidCredentials)
	})

	s.Run("unknown email reads the same", func() {
		_, err := s.boot.SignIn(s.ctx, "nobody@example.com", "secret-pass")
		s.True(dErrors.HasCode(err, dErrors.CodeAuth))
		s.Contains(err.Error(), msgInvalidCredentials)
	})

	s.Run("provider outage", func() {
		ctrl := gomock.NewController(s.T())
		provider := idmocks.NewMockProvider(ctrl)
		provider.EXPECT().SignIn(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(identity.Identity{}, errors.New("connection reset"))

		b := NewBootstrap(provider, NewResolver(s.profiles), WithLogger(s.logger))
		_, err := b.SignIn(s.ctx, "user@example.com", "secret-pass")
		s.True(dErrors.HasCode(err, dErrors.CodeAuth))
		s.Contains(err.Error(), msgSignInFailed)
		s.NotContains(err.Error(), msgInvalidCredentials)
	})
}

func (s *BootstrapSuite) TestSignOutClearsProfile() {
	s.register("tech@example.com")
	s.profiles.add(models.User{ID: "u-1", Name: "Tech", Email: "tech@example.com", Role: models.RoleTechnician})
	_, err := s.boot.SignIn(s.awaitCtx(), "tech@example.com", "secret-pass")
	s.Require().NoError(err)

	var (
		mu     sync.Mutex
		states []State
	)
	cancel := s.boot.Observe(func(c AppContext) {
		mu.Lock()
		states = append(states, c.State)
		mu.Unlock()
	})
	defer cancel()

	s.Require().NoError(s.boot.SignOut(s.ctx))
	c, err := s.boot.Await(s.awaitCtx(), func(c AppContext) bool { return c.State == StateUnauthenticated })
	s.Require().NoError(err)
	s.Nil(c.Profile)
	s.Nil(c.Err)
	s.Empty(c.UserID())

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]State{StateUnauthenticated}, states)
}

func (s *BootstrapSuite) TestAwaitTimesOut() {
	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer cancel()

	_, err := s.boot.Await(ctx, func(c AppContext) bool { return c.State == StateAuthenticated })
	s.True(dErrors.HasCode(err, dErrors.CodeNetwork))
}

type fakeProfiles struct {
	mu         sync.Mutex
	byEmail    map[string]models.User
	createErr  error
	createCnt  int
	nextUserID int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{byEmail: make(map[string]models.User)}
}

func (f *fakeProfiles) add(u models.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byEmail[u.Email] = u
}

func (f *fakeProfiles) remove(address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byEmail, address)
}

func (f *fakeProfiles) failCreates(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

func (f *fakeProfiles) creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCnt
}

func (f *fakeProfiles) FindByEmail(_ context.Context, address string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byEmail[address]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *fakeProfiles) Create(_ context.Context, u models.User) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.createCnt++
	f.nextUserID++
	u.ID = fmt.Sprintf("p-%d", f.nextUserID)
	f.byEmail[u.Email] = u
	return u.ID, nil
}
