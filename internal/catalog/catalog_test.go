package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"checkline/internal/compliance/models"
	"checkline/internal/docstore"
	"checkline/internal/docstore/memory"
	"checkline/internal/livecache"
	dErrors "checkline/pkg/domain-errors"
	"checkline/pkg/requestcontext"
)

// =============================================================================
// Catalog Test Suite
// =============================================================================
// Justification: the catalog owns the per-user and per-role views and the
// profile lookups the session gate relies on. Runs over the in-memory store.

type CatalogSuite struct {
	suite.Suite
	ctx     context.Context
	store   *memory.Store
	catalog *Catalog
	seq     atomic.Int64
}

func TestCatalogSuite(t *testing.T) {
	suite.Run(t, new(CatalogSuite))
}

func (s *CatalogSuite) SetupTest() {
	s.ctx = context.Background()
	s.seq.Store(0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = memory.New(memory.WithIDGenerator(func() string {
		return fmt.Sprintf("doc-%02d", s.seq.Add(1))
	}))
	s.catalog = New(s.store, WithLogger(logger))
}

func (s *CatalogSuite) waitCtx() context.Context {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	s.T().Cleanup(cancel)
	return ctx
}

func (s *CatalogSuite) addUser(u models.User) string {
	id, err := s.catalog.Users.Gateway.Create(s.ctx, u)
	s.Require().NoError(err)
	return id
}

func (s *CatalogSuite) TestValidationRejectsBadEntities() {
	s.Run("user without role", func() {
		_, err := s.catalog.Users.Gateway.Create(s.ctx, models.User{Name: "A", Email: "a@example.com"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("template with duplicate item ids", func() {
		_, err := s.catalog.Templates.Gateway.Create(s.ctx, models.ChecklistTemplate{
			Name:  "Daily",
			Items: []models.TemplateItem{{ID: "i1", Text: "a"}, {ID: "i1", Text: "b"}},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("audit entry with unknown action", func() {
		_, err := s.catalog.AuditLog.Gateway.Create(s.ctx, models.AuditLogEntry{
			Action:    "EXPLODED",
			Timestamp: time.Now(),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Equal(0, s.store.Len(docstore.Users))
	s.Equal(0, s.store.Len(docstore.Templates))
}

func (s *CatalogSuite) TestNotificationFeedIsPerUserNewestFirst() {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, n := range []models.Notification{
		{UserID: "m-1", CompletedChecklistID: "c-1", Message: "old", Timestamp: base},
		{UserID: "m-2", CompletedChecklistID: "c-1", Message: "other", Timestamp: base.Add(time.Minute)},
		{UserID: "m-1", CompletedChecklistID: "c-2", Message: "new", Timestamp: base.Add(time.Hour)},
	} {
		_, err := s.catalog.Notifications.Gateway.Create(s.ctx, n)
		s.Require().NoError(err, "notification %d", i)
	}

	feed, err := s.catalog.NotificationFeed(s.ctx, "m-1")
	s.Require().NoError(err)
	defer feed.Close()

	items, err := feed.Await(s.waitCtx(), func(ns []models.Notification) bool { return len(ns) == 2 })
	s.Require().NoError(err)
	s.Equal("new", items[0].Message)
	s.Equal("old", items[1].Message)

	_, err = s.catalog.NotificationFeed(s.ctx, "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *CatalogSuite) TestUsersByRole() {
	s.addUser(models.User{Name: "Zoe", Email: "zoe@example.com", Role: models.RoleCoordinator})
	s.addUser(models.User{Name: "Ana", Email: "ana@example.com", Role: models.RoleCoordinator})
	s.addUser(models.User{Name: "Tom", Email: "tom@example.com", Role: models.RoleTechnician})

	view, err := s.catalog.UsersByRole(s.ctx, models.RoleCoordinator)
	s.Require().NoError(err)
	defer view.Close()

	users, err := view.Await(s.waitCtx(), func(us []models.User) bool { return len(us) == 2 })
	s.Require().NoError(err)
	s.Equal("Ana", users[0].Name)
	s.Equal("Zoe", users[1].Name)

	_, err = s.catalog.UsersByRole(s.ctx, "ADMIN")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *CatalogSuite) TestDirectoryLookups() {
	managerID := s.addUser(models.User{Name: "Maria", Email: "maria@example.com", Role: models.RoleManager})
	s.addUser(models.User{Name: "Carla", Email: "carla@example.com", Role: models.RoleCoordinator})
	unitID, err := s.catalog.Units.Gateway.Create(s.ctx, models.Unit{Name: "North", ManagerID: managerID})
	s.Require().NoError(err)

	dir, err := s.catalog.OpenDirectory(s.ctx)
	s.Require().NoError(err)
	defer dir.Close()
	s.Require().NoError(dir.WaitReady(s.waitCtx()))

	s.True(dir.Ready())
	unit, ok := dir.Unit(unitID)
	s.Require().True(ok)
	s.Equal(managerID, unit.ManagerID)

	manager, ok := dir.UserByEmail("maria@example.com")
	s.Require().True(ok)
	s.Equal(managerID, manager.ID)

	s.Len(dir.Coordinators(), 1)
	_, ok = dir.Template("missing")
	s.False(ok)
	s.NoError(dir.Err())

	health := s.catalog.Health()
	s.Equal(livecache.StateLive, health[docstore.Users][docstore.Query{}.Key()])
}

func (s *CatalogSuite) TestProfiles() {
	profiles := s.catalog.Profiles(nil)

	s.Run("unknown email is nil without error", func() {
		u, err := profiles.FindByEmail(s.ctx, "ghost@example.com")
		s.Require().NoError(err)
		s.Nil(u)
	})

	s.Run("created profile is found by exact email", func() {
		ctx := requestcontext.WithTime(s.ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		id, err := profiles.Create(ctx, models.User{Name: "Ana", Email: "ana@example.com", Role: models.RoleManager})
		s.Require().NoError(err)

		u, err := profiles.FindByEmail(s.ctx, "ana@example.com")
		s.Require().NoError(err)
		s.Require().NotNil(u)
		s.Equal(id, u.ID)
		s.True(u.IsActive())
	})
}
