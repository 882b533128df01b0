package fanout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"checkline/internal/compliance/models"
	"checkline/internal/fanout/mocks"
	dErrors "checkline/pkg/domain-errors"
	"checkline/pkg/requestcontext"
)

// =============================================================================
// Fanout Engine Test Suite
// =============================================================================
// Justification: fanout is where a submission turns into writes for several
// people. The tests pin who is written to, what happens when one write
// fails and that clean checklists write nothing.

type EngineSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	directory  *mocks.MockDirectory
	writer     *mocks.MockNotificationWriter
	dispatcher *mocks.MockDispatcher
	engine     *Engine
	ctx        context.Context
	now        time.Time
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.directory = mocks.NewMockDirectory(s.ctrl)
	s.writer = mocks.NewMockNotificationWriter(s.ctrl)
	s.dispatcher = mocks.NewMockDispatcher(s.ctrl)
	s.engine = New(s.directory, s.writer,
		WithDispatcher(s.dispatcher),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.now = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *EngineSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *EngineSuite) checklist(statuses ...models.ResultStatus) models.CompletedChecklist {
	c := models.CompletedChecklist{
		ID:           "cl-1",
		TemplateID:   "tpl-1",
		UnitID:       "U",
		TechnicianID: "T",
	}
	for i, st := range statuses {
		c.Results = append(c.Results, models.ChecklistResult{ItemID: string(rune('a' + i)), Status: st})
	}
	return c
}

func (s *EngineSuite) expectDirectory() {
	inactive := false
	s.directory.EXPECT().User("T").Return(models.User{ID: "T", Name: "Tess", Role: models.RoleTechnician, ManagerID: "M2"}, true)
	s.directory.EXPECT().Unit("U").Return(models.Unit{ID: "U", Name: "North", ManagerID: "M1"}, true)
	s.directory.EXPECT().Template("tpl-1").Return(models.ChecklistTemplate{ID: "tpl-1", Name: "Daily"}, true)
	s.directory.EXPECT().Coordinators().Return([]models.User{
		{ID: "C1", Role: models.RoleCoordinator, Active: &inactive},
		{ID: "C2", Role: models.RoleCoordinator},
	})
}

// recordWrites accepts every write and captures the notifications.
func (s *EngineSuite) recordWrites(fail map[string]error) *[]models.Notification {
	var (
		mu      sync.Mutex
		written []models.Notification
	)
	s.writer.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, n models.Notification) (string, error) {
			if err, ok := fail[n.UserID]; ok {
				return "", err
			}
			mu.Lock()
			defer mu.Unlock()
			written = append(written, n)
			return "n-" + n.UserID, nil
		}).AnyTimes()
	return &written
}

func (s *EngineSuite) TestNotifiesResponsiblePeopleOnce() {
	s.expectDirectory()
	written := s.recordWrites(nil)
	s.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(nil).Times(3)

	result, err := s.engine.Notify(s.ctx, s.checklist(models.StatusConform, models.StatusNonConform))
	s.Require().NoError(err)

	var ids []string
	for _, n := range *written {
		ids = append(ids, n.UserID)
		s.Equal("cl-1", n.CompletedChecklistID)
		s.False(n.Read)
		s.True(n.Timestamp.Equal(s.now))
		s.Contains(n.Message, "Tess")
		s.Contains(n.Message, "North")
	}
	s.ElementsMatch([]string{"M1", "M2", "C2"}, ids)
	s.Len(result.Created, 3)
	s.Empty(result.Failed)
	s.Equal([]Recipient{
		{UserID: "M1", Reason: ReasonUnitManager},
		{UserID: "M2", Reason: ReasonTechnicianManager},
		{UserID: "C2", Reason: ReasonCoordinator},
	}, result.Recipients)
}

func (s *EngineSuite) TestCleanChecklistWritesNothing() {
	s.Run("all conform", func() {
		result, err := s.engine.Notify(s.ctx, s.checklist(models.StatusConform, models.StatusConform))
		s.Require().NoError(err)
		s.Empty(result.Recipients)
	})

	s.Run("pending items only", func() {
		result, err := s.engine.Notify(s.ctx, s.checklist(models.StatusPending))
		s.Require().NoError(err)
		s.Empty(result.Created)
	})
}

func (s *EngineSuite) TestPartialFailureAttemptsEveryRecipient() {
	s.expectDirectory()
	written := s.recordWrites(map[string]error{
		"M2": dErrors.New(dErrors.CodePermission, "rules rejected write"),
	})
	s.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	result, err := s.engine.Notify(s.ctx, s.checklist(models.StatusNonConform))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodePartialFanout))

	var pf *dErrors.PartialFanoutError
	s.Require().ErrorAs(err, &pf)
	s.Equal([]string{"M2"}, pf.Failed)
	s.Equal(3, pf.Attempted)
	s.Len(*written, 2)
	s.Equal([]string{"M2"}, result.Failed)
}

func (s *EngineSuite) TestMissingEntitiesStillNotifyCoordinators() {
	s.directory.EXPECT().User("T").Return(models.User{}, false)
	s.directory.EXPECT().Unit("U").Return(models.Unit{}, false)
	s.directory.EXPECT().Template("tpl-1").Return(models.ChecklistTemplate{}, false)
	s.directory.EXPECT().Coordinators().Return([]models.User{{ID: "C2", Role: models.RoleCoordinator}})
	written := s.recordWrites(nil)
	s.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(nil)

	_, err := s.engine.Notify(s.ctx, s.checklist(models.StatusNonConform))
	s.Require().NoError(err)
	s.Require().Len(*written, 1)
	s.Equal("C2", (*written)[0].UserID)
}

func (s *EngineSuite) TestDispatchFailureDoesNotFailFanout() {
	s.expectDirectory()
	s.recordWrites(nil)
	s.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(errors.New("broker down")).Times(3)

	result, err := s.engine.Notify(s.ctx, s.checklist(models.StatusNonConform))
	s.Require().NoError(err)
	s.Len(result.Created, 3)
}
