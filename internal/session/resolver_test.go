package session

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"checkline/internal/compliance/models"
	"checkline/internal/identity"
	"checkline/internal/session/mocks"
	dErrors "checkline/pkg/domain-errors"
)

// =============================================================================
// Profile Resolver Test Suite
// =============================================================================
// Justification: the resolver decides who gets a session. The deactivated
// gate and duplicate-free provisioning are checked against exact store calls.

type ResolverSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	profiles *mocks.MockProfiles
	auditor  *mocks.MockAuditor
	ctx      context.Context
	id       identity.Identity
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.profiles = mocks.NewMockProfiles(s.ctrl)
	s.auditor = mocks.NewMockAuditor(s.ctrl)
	s.ctx = context.Background()
	s.id = identity.Identity{UID: "uid-1", Email: "Ana.Silva@Example.com"}
}

func (s *ResolverSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ResolverSuite) resolver(opts ...ResolverOption) *Resolver {
	base := []ResolverOption{
		WithAuditor(s.auditor),
		WithProvisionRetry(3, 0),
		WithResolverLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return NewResolver(s.profiles, append(base, opts...)...)
}

func (s *ResolverSuite) TestExistingProfile() {
	inactive := false

	s.Run("active profile is returned", func() {
		s.profiles.EXPECT().FindByEmail(gomock.Any(), "ana.silva@example.com").
			Return(&models.User{ID: "u-1", Email: "ana.silva@example.com", Role: models.RoleTechnician}, nil)

		u, err := s.resolver().Resolve(s.ctx, s.id)
		s.Require().NoError(err)
		s.Equal("u-1", u.ID)
	})

	s.Run("deactivated profile is refused", func() {
		s.profiles.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).
			Return(&models.User{ID: "u-1", Active: &inactive}, nil)

		_, err := s.resolver().Resolve(s.ctx, s.id)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeAuth))
	})

	s.Run("lookup failure is returned typed", func() {
		s.profiles.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeNetwork, "unreachable"))

		_, err := s.resolver().Resolve(s.ctx, s.id)
		s.True(dErrors.HasCode(err, dErrors.CodeNetwork))
	})
}

func (s *ResolverSuite) TestProvisioning() {
	s.Run("first sign-in creates one manager profile and audits it", func() {
		s.profiles.EXPECT().FindByEmail(gomock.Any(), "ana.silva@example.com").Return(nil, nil)
		s.profiles.EXPECT().Create(gomock.Any(), models.User{
			Name:           "Ana Silva",
			Email:          "ana.silva@example.com",
			Role:           models.RoleManager,
			ExternalAuthID: "uid-1",
		}).Return("u-new", nil).Times(1)
		s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, e models.AuditLogEntry) error {
				s.Equal(models.ActionProfileProvisioned, e.Action)
				s.Contains(e.Details, "u-new")
				return nil
			})

		u, err := s.resolver().Resolve(s.ctx, s.id)
		s.Require().NoError(err)
		s.Equal("u-new", u.ID)
		s.Equal(models.RoleManager, u.Role)
	})

	s.Run("retry after transient failure finds the landed profile", func() {
		gomock.InOrder(
			s.profiles.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(nil, nil),
			s.profiles.EXPECT().Create(gomock.Any(), gomock.Any()).
				Return("", dErrors.New(dErrors.CodeNetwork, "deadline exceeded")),
			s.profiles.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).
				Return(&models.User{ID: "u-landed", Email: "ana.silva@example.com", Role: models.RoleManager}, nil),
		)

		u, err := s.resolver().Resolve(s.ctx, s.id)
		s.Require().NoError(err)
		s.Equal("u-landed", u.ID)
	})

	s.Run("retry after transient failure creates when nothing landed", func() {
		gomock.InOrder(
			s.profiles.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(nil, nil),
			s.profiles.EXPECT().Create(gomock.Any(), gomock.Any()).
				Return("", dErrors.New(dErrors.CodeNetwork, "unreachable")),
			s.profiles.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(nil, nil),
			s.profiles.EXPECT().Create(gomock.Any(), gomock.Any()).Return("u-2", nil),
		)
		s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

		u, err := s.resolver().Resolve(s.ctx, s.id)
		s.Require().NoError(err)
		s.Equal("u-2", u.ID)
	})

	s.Run("permanent failure is not retried", func() {
		s.profiles.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(nil, nil)
		s.profiles.EXPECT().Create(gomock.Any(), gomock.Any()).
			Return("", dErrors.New(dErrors.CodePermission, "rules rejected write")).Times(1)

		_, err := s.resolver().Resolve(s.ctx, s.id)
		s.True(dErrors.HasCode(err, dErrors.CodePermission))
	})

	s.Run("exhausted retries report the last failure", func() {
		s.profiles.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(nil, nil).Times(3)
		s.profiles.EXPECT().Create(gomock.Any(), gomock.Any()).
			Return("", dErrors.New(dErrors.CodeNetwork, "unreachable")).Times(3)

		_, err := s.resolver().Resolve(s.ctx, s.id)
		s.True(dErrors.HasCode(err, dErrors.CodeNetwork))
	})

	s.Run("configured role is used", func() {
		s.profiles.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(nil, nil)
		s.profiles.EXPECT().Create(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, u models.User) (string, error) {
				s.Equal(models.RoleTechnician, u.Role)
				return "u-3", nil
			})
		s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

		_, err := s.resolver(WithProvisioning(true, models.RoleTechnician)).Resolve(s.ctx, s.id)
		s.Require().NoError(err)
	})

	s.Run("disabled provisioning refuses unknown emails", func() {
		s.profiles.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(nil, nil)

		_, err := s.resolver(WithProvisioning(false, "")).Resolve(s.ctx, s.id)
		s.True(dErrors.HasCode(err, dErrors.CodeAuth))
	})

	s.Run("identity without email is refused", func() {
		_, err := s.resolver().Resolve(s.ctx, identity.Identity{UID: "uid-x"})
		s.True(dErrors.HasCode(err, dErrors.CodeAuth))
	})
}
