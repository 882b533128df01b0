// Package inbox serves a user's notifications.
package inbox

import (
	"context"
	"log/slog"

	"checkline/internal/compliance/models"
	"checkline/internal/docstore"
	dErrors "checkline/pkg/domain-errors"
)

// Store is the notification collection.
type Store interface {
	Get(ctx context.Context, id string) (*models.Notification, error)
	Patch(ctx context.Context, id string, patch docstore.Fields) error
	Find(ctx context.Context, q docstore.Query) ([]models.Notification, error)
}

type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// List returns the user's notifications, newest first. With unreadOnly the
// read ones are left out.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "user id is required")
	}
	q := docstore.Query{}.Where("userId", userID)
	if unreadOnly {
		q = q.Where("read", false)
	}
	notes, err := s.store.Find(ctx, q.Ordered("timestamp", true))
	if err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []models.Notification{}
	}
	return notes, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	notes, err := s.List(ctx, userID, true)
	if err != nil {
		return 0, err
	}
	return len(notes), nil
}

// MarkRead flips one notification to read. Marking an already read
// notification is a no-op; another user's notification is reported as
// missing.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	n, err := s.store.Get(ctx, notificationID)
	if err != nil {
		return err
	}
	if n == nil || n.UserID != userID {
		return dErrors.New(dErrors.CodeNotFound, "notification not found")
	}
	if n.Read {
		return nil
	}
	if err := s.store.Patch(ctx, notificationID, models.MarkRead()); err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "notification read", "notification_id", notificationID, "user_id", userID)
	return nil
}

// MarkAllRead marks every unread notification of the user and returns how
// many were changed. It stops at the first failure.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	unread, err := s.List(ctx, userID, true)
	if err != nil {
		return 0, err
	}
	for i, n := range unread {
		if err := s.store.Patch(ctx, n.ID, models.MarkRead()); err != nil {
			return i, err
		}
	}
	return len(unread), nil
}
