package httptransport

//go:generate mockgen -source=services.go -destination=mocks/mocks.go -package=mocks SessionService,ChecklistService,InboxService,AccountService,HealthReporter,SignInLimiter

import (
	"context"

	"checkline/internal/accounts"
	"checkline/internal/checklist"
	"checkline/internal/compliance/models"
	"checkline/internal/livecache"
	"checkline/internal/session"
)

// SessionService signs users in and resolves bearer tokens.
type SessionService interface {
	SignIn(ctx context.Context, email, password string) (session.AppContext, error)
	Authenticate(ctx context.Context, token string) (session.AppContext, error)
}

type ChecklistService interface {
	Submit(ctx context.Context, sub checklist.Submission) (checklist.Submitted, error)
	Validate(ctx context.Context, checklistID, validatorID, comment string) (models.CompletedChecklist, error)
}

type InboxService interface {
	List(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)
}

type AccountService interface {
	CreateUser(ctx context.Context, in accounts.NewUser) (models.User, error)
	UpdateUser(ctx context.Context, id string, patch models.UserPatch) (models.User, error)
	DeactivateUser(ctx context.Context, id string) error
	DeleteUser(ctx context.Context, id string) error
	ResetPassword(ctx context.Context, id, password string) error
	CreateUnit(ctx context.Context, unit models.Unit) (models.Unit, error)
	UpdateUnit(ctx context.Context, id string, patch models.UnitPatch) error
	SaveTemplate(ctx context.Context, tmpl models.ChecklistTemplate) (models.ChecklistTemplate, error)
}

// HealthReporter exposes the subscription states behind readiness.
type HealthReporter interface {
	Health() map[string]map[string]livecache.State
}

// SignInLimiter locks out an email and client IP pair after repeated
// credential failures.
type SignInLimiter interface {
	Check(ctx context.Context, email, ip string) error
	RecordFailure(ctx context.Context, email, ip string) error
	Clear(ctx context.Context, email, ip string) error
}
