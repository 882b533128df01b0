// Package accounts administers user profiles, units and checklist templates.
// Callers are expected to have checked that the actor may administer.
package accounts

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Users,Units,Templates,Auditor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"checkline/internal/compliance/models"
	"checkline/internal/docstore"
	"checkline/internal/identity"
	dErrors "checkline/pkg/domain-errors"
	"checkline/pkg/email"
	"checkline/pkg/requestcontext"
)

const backgroundTimeout = 30 * time.Second

type Users interface {
	Create(ctx context.Context, u models.User) (string, error)
	Get(ctx context.Context, id string) (*models.User, error)
	Patch(ctx context.Context, id string, patch docstore.Fields) error
	Remove(ctx context.Context, id string) error
	Find(ctx context.Context, q docstore.Query) ([]models.User, error)
}

type Units interface {
	Create(ctx context.Context, u models.Unit) (string, error)
	Get(ctx context.Context, id string) (*models.Unit, error)
	Patch(ctx context.Context, id string, patch docstore.Fields) error
}

type Templates interface {
	Create(ctx context.Context, t models.ChecklistTemplate) (string, error)
	Get(ctx context.Context, id string) (*models.ChecklistTemplate, error)
	Patch(ctx context.Context, id string, patch docstore.Fields) error
}

type Auditor interface {
	Emit(ctx context.Context, entry models.AuditLogEntry) error
}

// NewUser is the input for CreateUser.
type NewUser struct {
	Name      string
	Email     string
	Password  string
	Role      models.Role
	ManagerID string
}

type Service struct {
	users     Users
	units     Units
	templates Templates
	identity  identity.Accounts
	auditor   Auditor
	logger    *slog.Logger
	newID     func() string

	background sync.WaitGroup
}

type Option func(*Service)

func WithAuditor(a Auditor) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithIDGenerator replaces the uuid source for new template items.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

func NewService(users Users, units Units, templates Templates, accounts identity.Accounts, opts ...Option) *Service {
	s := &Service{
		users:     users,
		units:     units,
		templates: templates,
		identity:  accounts,
		logger:    slog.Default(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wait blocks until background identity operations have finished.
func (s *Service) Wait() {
	s.background.Wait()
}

// CreateUser creates the provider identity first and then the profile. If
// the profile write fails the identity is removed again.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (models.User, error) {
	user := models.User{
		Name:      strings.TrimSpace(in.Name),
		Email:     email.Normalize(in.Email),
		Role:      in.Role,
		ManagerID: in.ManagerID,
	}
	if user.Name == "" {
		return models.User{}, dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if !email.IsValid(user.Email) {
		return models.User{}, dErrors.New(dErrors.CodeValidation, "email is invalid")
	}
	if !user.Role.IsValid() {
		return models.User{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("role %q is invalid", in.Role))
	}
	if len(in.Password) < identity.MinPasswordLength {
		return models.User{}, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("password must have at least %d characters", identity.MinPasswordLength))
	}
	if err := s.checkReporting(ctx, user); err != nil {
		return models.User{}, err
	}

	if err := s.checkEmailFree(ctx, user.Email, ""); err != nil {
		return models.User{}, err
	}

	uid, err := s.identity.CreateIdentity(ctx, user.Email, in.Password, user.Name)
	if err != nil {
		return models.User{}, identityError(err, "create identity")
	}
	user.ExternalAuthID = uid

	id, err := s.users.Create(ctx, user)
	if err != nil {
		s.logger.ErrorContext(ctx, "profile write failed, removing identity", "uid", uid, "error", err)
		if derr := s.identity.DeleteIdentity(context.WithoutCancel(ctx), uid); derr != nil {
			s.logger.ErrorContext(ctx, "orphaned identity", "uid", uid, "error", derr)
		}
		return models.User{}, err
	}
	user.ID = id

	s.audit(ctx, models.ActionUserCreated, fmt.Sprintf("user %s (%s) created with role %s", id, user.Email, user.Role))
	return user, nil
}

// UpdateUser applies a partial update, re-checking the reporting line when
// role or manager change.
func (s *Service) UpdateUser(ctx context.Context, id string, patch models.UserPatch) (models.User, error) {
	if address, ok := patch.Email.Get(); ok {
		patch.Email = models.Set(email.Normalize(address))
	}
	if err := patch.Validate(); err != nil {
		return models.User{}, err
	}

	current, err := s.getUser(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	updated := patch.Apply(*current)
	if patch.Role.IsSet() || patch.ManagerID.IsSet() {
		if err := s.checkReporting(ctx, updated); err != nil {
			return models.User{}, err
		}
	}
	if address, ok := patch.Email.Get(); ok {
		if err := s.checkEmailFree(ctx, address, id); err != nil {
			return models.User{}, err
		}
	}

	if err := s.users.Patch(ctx, id, patch.Fields()); err != nil {
		return models.User{}, err
	}
	s.audit(ctx, models.ActionUserUpdated, fmt.Sprintf("user %s updated", id))
	return updated, nil
}

// checkEmailFree fails with CONFLICT when a profile other than self already
// uses address.
func (s *Service) checkEmailFree(ctx context.Context, address, self string) error {
	existing, err := s.users.Find(ctx, docstore.Query{}.Where("email", address))
	if err != nil {
		return err
	}
	for _, u := range existing {
		if u.ID != self {
			return dErrors.New(dErrors.CodeConflict, "a profile with this email already exists")
		}
	}
	return nil
}

// DeactivateUser blocks future sign-ins; the identity is kept.
func (s *Service) DeactivateUser(ctx context.Context, id string) error {
	if _, err := s.getUser(ctx, id); err != nil {
		return err
	}
	if err := s.users.Patch(ctx, id, models.UserPatch{Active: models.Set(false)}.Fields()); err != nil {
		return err
	}
	s.audit(ctx, models.ActionUserDeactivated, fmt.Sprintf("user %s deactivated", id))
	return nil
}

// DeleteUser removes the profile and then, in the background, the identity.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	user, err := s.getUser(ctx, id)
	if err != nil {
		return err
	}
	if err := s.users.Remove(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, models.ActionUserDeleted, fmt.Sprintf("user %s (%s) deleted", id, user.Email))

	if uid := user.ExternalAuthID; uid != "" {
		s.detach(ctx, "delete identity", func(bg context.Context) error {
			err := s.identity.DeleteIdentity(bg, uid)
			if errors.Is(err, identity.ErrUnknownIdentity) {
				return nil
			}
			return err
		})
	}
	return nil
}

// ResetPassword sets a new password for the user's identity in the background.
func (s *Service) ResetPassword(ctx context.Context, id, password string) error {
	if len(password) < identity.MinPasswordLength {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("password must have at least %d characters", identity.MinPasswordLength))
	}
	user, err := s.getUser(ctx, id)
	if err != nil {
		return err
	}
	if user.ExternalAuthID == "" {
		return dErrors.New(dErrors.CodeValidation, "profile has no linked identity")
	}

	uid := user.ExternalAuthID
	s.detach(ctx, "set password", func(bg context.Context) error {
		return s.identity.SetPassword(bg, uid, password)
	})
	s.audit(ctx, models.ActionPasswordReset, fmt.Sprintf("password reset for user %s", id))
	return nil
}

func (s *Service) CreateUnit(ctx context.Context, unit models.Unit) (models.Unit, error) {
	unit.Name = strings.TrimSpace(unit.Name)
	if unit.Name == "" {
		return models.Unit{}, dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if unit.ManagerID != "" {
		if err := s.requireManager(ctx, unit.ManagerID); err != nil {
			return models.Unit{}, err
		}
	}
	id, err := s.units.Create(ctx, unit)
	if err != nil {
		return models.Unit{}, err
	}
	unit.ID = id
	s.audit(ctx, models.ActionUnitCreated, fmt.Sprintf("unit %s (%s) created", id, unit.Name))
	return unit, nil
}

func (s *Service) UpdateUnit(ctx context.Context, id string, patch models.UnitPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	current, err := s.units.Get(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return dErrors.New(dErrors.CodeNotFound, "unit not found")
	}
	if managerID, ok := patch.ManagerID.Get(); ok && managerID != "" {
		if err := s.requireManager(ctx, managerID); err != nil {
			return err
		}
	}
	if err := s.units.Patch(ctx, id, patch.Fields()); err != nil {
		return err
	}
	s.audit(ctx, models.ActionUnitUpdated, fmt.Sprintf("unit %s updated", id))
	return nil
}

// SaveTemplate creates or replaces a template. Items without an id get a new
// one; existing ids are kept so past checklists still resolve.
func (s *Service) SaveTemplate(ctx context.Context, tmpl models.ChecklistTemplate) (models.ChecklistTemplate, error) {
	tmpl.Name = strings.TrimSpace(tmpl.Name)
	if tmpl.Name == "" {
		return models.ChecklistTemplate{}, dErrors.New(dErrors.CodeValidation, "name is required")
	}

	items := make([]models.TemplateItem, 0, len(tmpl.Items))
	seen := make(map[string]struct{}, len(tmpl.Items))
	for i, item := range tmpl.Items {
		item.Text = strings.TrimSpace(item.Text)
		if item.Text == "" {
			return models.ChecklistTemplate{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("item %d has no text", i+1))
		}
		if item.ID == "" {
			item.ID = s.newID()
		}
		if _, dup := seen[item.ID]; dup {
			return models.ChecklistTemplate{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("item id %q is duplicated", item.ID))
		}
		seen[item.ID] = struct{}{}
		items = append(items, item)
	}
	tmpl.Items = items

	if tmpl.ID == "" {
		id, err := s.templates.Create(ctx, tmpl)
		if err != nil {
			return models.ChecklistTemplate{}, err
		}
		tmpl.ID = id
	} else {
		current, err := s.templates.Get(ctx, tmpl.ID)
		if err != nil {
			return models.ChecklistTemplate{}, err
		}
		if current == nil {
			return models.ChecklistTemplate{}, dErrors.New(dErrors.CodeNotFound, "template not found")
		}
		patch := models.TemplatePatch{Name: models.Set(tmpl.Name), Items: models.Set(tmpl.Items)}
		if err := s.templates.Patch(ctx, tmpl.ID, patch.Fields()); err != nil {
			return models.ChecklistTemplate{}, err
		}
	}

	s.audit(ctx, models.ActionTemplateSaved, fmt.Sprintf("template %s (%s) saved with %d items", tmpl.ID, tmpl.Name, len(tmpl.Items)))
	return tmpl, nil
}

func (s *Service) getUser(ctx context.Context, id string) (*models.User, error) {
	u, err := s.users.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
	}
	return u, nil
}

// checkReporting enforces that technicians, and only technicians, report to
// a manager.
func (s *Service) checkReporting(ctx context.Context, u models.User) error {
	if u.Role != models.RoleTechnician {
		if u.ManagerID != "" {
			return dErrors.New(dErrors.CodeValidation, "only technicians report to a manager")
		}
		return nil
	}
	if u.ManagerID == "" {
		return dErrors.New(dErrors.CodeValidation, "a technician must have a manager")
	}
	return s.requireManager(ctx, u.ManagerID)
}

func (s *Service) requireManager(ctx context.Context, id string) error {
	m, err := s.users.Get(ctx, id)
	if err != nil {
		return err
	}
	if m == nil || m.Role != models.RoleManager {
		return dErrors.New(dErrors.CodeValidation, "referenced manager does not exist or is not a MANAGER")
	}
	return nil
}

// detach runs op after the caller returns, keeping context values but not
// its cancellation.
func (s *Service) detach(ctx context.Context, name string, op func(context.Context) error) {
	bg := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		opCtx, cancel := context.WithTimeout(bg, backgroundTimeout)
		defer cancel()
		if err := op(opCtx); err != nil {
			s.logger.ErrorContext(opCtx, "background identity operation failed", "op", name, "error", err)
			return
		}
		s.logger.InfoContext(opCtx, "background identity operation done", "op", name)
	}()
}

func (s *Service) audit(ctx context.Context, action models.AuditAction, details string) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, models.AuditLogEntry{
		PerformingUserID: requestcontext.ActorID(ctx),
		Action:           action,
		Details:          details,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", string(action), "error", err)
	}
}

func identityError(err error, msg string) error {
	switch {
	case errors.Is(err, identity.ErrEmailInUse):
		return dErrors.Wrap(err, dErrors.CodeConflict, "email already in use")
	case errors.Is(err, identity.ErrWeakPassword):
		return dErrors.Wrap(err, dErrors.CodeValidation, "password is too weak")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeNetwork, msg)
	}
}
