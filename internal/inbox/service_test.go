package inbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"checkline/internal/catalog"
	"checkline/internal/compliance/models"
	"checkline/internal/docstore/memory"
	dErrors "checkline/pkg/domain-errors"
)

// =============================================================================
// Inbox Test Suite
// =============================================================================
// Justification: ownership and the one-way read flag are enforced here and
// nowhere else.

type InboxSuite struct {
	suite.Suite
	ctx     context.Context
	catalog *catalog.Catalog
	service *Service
	seq     atomic.Int64
	base    time.Time
}

func TestInboxSuite(t *testing.T) {
	suite.Run(t, new(InboxSuite))
}

func (s *InboxSuite) SetupTest() {
	s.ctx = context.Background()
	s.seq.Store(0)
	s.base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New(memory.WithIDGenerator(func() string {
		return fmt.Sprintf("n-%02d", s.seq.Add(1))
	}))
	s.catalog = catalog.New(store, catalog.WithLogger(logger))
	s.service = NewService(s.catalog.Notifications, logger)
}

func (s *InboxSuite) add(userID string, minute int) string {
	id, err := s.catalog.Notifications.Create(s.ctx, models.Notification{
		UserID:               userID,
		CompletedChecklistID: "cl-1",
		Message:              "non-conformity",
		Timestamp:            s.base.Add(time.Duration(minute) * time.Minute),
	})
	s.Require().NoError(err)
	return id
}

func (s *InboxSuite) TestList() {
	older := s.add("u-1", 1)
	newer := s.add("u-1", 5)
	s.add("u-2", 3)

	notes, err := s.service.List(s.ctx, "u-1", false)
	s.Require().NoError(err)
	s.Require().Len(notes, 2)
	s.Equal(newer, notes[0].ID)
	s.Equal(older, notes[1].ID)

	empty, err := s.service.List(s.ctx, "nobody", false)
	s.Require().NoError(err)
	s.NotNil(empty)
	s.Empty(empty)

	_, err = s.service.List(s.ctx, "", false)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *InboxSuite) TestMarkRead() {
	mine := s.add("u-1", 1)
	theirs := s.add("u-2", 2)

	s.Run("own notification", func() {
		s.Require().NoError(s.service.MarkRead(s.ctx, "u-1", mine))
		n, err := s.catalog.Notifications.Get(s.ctx, mine)
		s.Require().NoError(err)
		s.True(n.Read)

		count, err := s.service.UnreadCount(s.ctx, "u-1")
		s.Require().NoError(err)
		s.Zero(count)
	})

	s.Run("marking twice is a no-op", func() {
		s.NoError(s.service.MarkRead(s.ctx, "u-1", mine))
	})

	s.Run("someone else's notification", func() {
		err := s.service.MarkRead(s.ctx, "u-1", theirs)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		n, err := s.catalog.Notifications.Get(s.ctx, theirs)
		s.Require().NoError(err)
		s.False(n.Read)
	})

	s.Run("unknown id", func() {
		err := s.service.MarkRead(s.ctx, "u-1", "missing")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *InboxSuite) TestMarkAllRead() {
	s.add("u-1", 1)
	s.add("u-1", 2)
	s.add("u-1", 3)
	s.add("u-2", 4)

	count, err := s.service.UnreadCount(s.ctx, "u-1")
	s.Require().NoError(err)
	s.Equal(3, count)

	changed, err := s.service.MarkAllRead(s.ctx, "u-1")
	s.Require().NoError(err)
	s.Equal(3, changed)

	count, err = s.service.UnreadCount(s.ctx, "u-1")
	s.Require().NoError(err)
	s.Zero(count)

	count, err = s.service.UnreadCount(s.ctx, "u-2")
	s.Require().NoError(err)
	s.Equal(1, count)
}
