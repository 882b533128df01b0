// Package checklist submits completed checklists and applies the one-time
// manager validation.
package checklist

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,Directory,Notifier,Auditor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"checkline/internal/compliance/models"
	"checkline/internal/docstore"
	"checkline/internal/fanout"
	dErrors "checkline/pkg/domain-errors"
	"checkline/pkg/requestcontext"
)

// Store persists completed checklists.
type Store interface {
	Create(ctx context.Context, c models.CompletedChecklist) (string, error)
	Get(ctx context.Context, id string) (*models.CompletedChecklist, error)
	Patch(ctx context.Context, id string, patch docstore.Fields) error
}

// Directory resolves the entities a submission refers to.
type Directory interface {
	User(id string) (models.User, bool)
	Unit(id string) (models.Unit, bool)
	Template(id string) (models.ChecklistTemplate, bool)
}

// Notifier fans out notifications for a persisted checklist.
type Notifier interface {
	Notify(ctx context.Context, c models.CompletedChecklist) (fanout.Result, error)
}

type Auditor interface {
	Emit(ctx context.Context, entry models.AuditLogEntry) error
}

// Submission is what a technician sends when finishing a checklist.
type Submission struct {
	TemplateID   string
	UnitID       string
	TechnicianID string
	Results      []models.ChecklistResult
}

// Submitted reports a persisted checklist and how its fanout went. A fanout
// failure never undoes the submission; FanoutErr carries it instead.
type Submitted struct {
	Checklist models.CompletedChecklist
	Fanout    fanout.Result
	FanoutErr error
}

type Service struct {
	store     Store
	directory Directory
	notifier  Notifier
	auditor   Auditor
	logger    *slog.Logger
	tracer    trace.Tracer
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

func NewService(store Store, directory Directory, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:     store,
		directory: directory,
		notifier:  notifier,
		logger:    slog.Default(),
		tracer:    otel.Tracer("checkline/checklist"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates sub against its template, persists it and then runs the
// fanout when it has non-conformities. Template items left unanswered are
// stored as pending.
func (s *Service) Submit(ctx context.Context, sub Submission) (out Submitted, err error) {
	ctx, span := s.tracer.Start(ctx, "checklist.submit", trace.WithAttributes(
		attribute.String("template_id", sub.TemplateID),
		attribute.String("unit_id", sub.UnitID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		}
		span.End()
	}()

	checklist, err := s.build(sub)
	if err != nil {
		return Submitted{}, err
	}
	checklist.CompletionDate = requestcontext.Now(ctx).UTC()

	id, err := s.store.Create(ctx, checklist)
	if err != nil {
		return Submitted{}, err
	}
	checklist.ID = id
	out.Checklist = checklist

	s.audit(ctx, sub.TechnicianID, models.ActionChecklistSubmitted,
		fmt.Sprintf("checklist %s submitted for unit %s (%d non-conformities)", id, sub.UnitID, checklist.NonConformCount()))

	if !checklist.HasNonConformities {
		return out, nil
	}

	out.Fanout, out.FanoutErr = s.notifier.Notify(ctx, checklist)
	if out.FanoutErr != nil {
		var partial *dErrors.PartialFanoutError
		if errors.As(out.FanoutErr, &partial) {
			s.logger.WarnContext(ctx, "checklist saved with incomplete notifications",
				"checklist_id", id,
				"failed", partial.Failed,
				"attempted", partial.Attempted,
			)
		} else {
			s.logger.ErrorContext(ctx, "checklist fanout failed", "checklist_id", id, "error", out.FanoutErr)
		}
	}
	return out, nil
}

func (s *Service) build(sub Submission) (models.CompletedChecklist, error) {
	tmpl, ok := s.directory.Template(sub.TemplateID)
	if !ok {
		return models.CompletedChecklist{}, dErrors.New(dErrors.CodeValidation, "unknown checklist template")
	}
	unit, ok := s.directory.Unit(sub.UnitID)
	if !ok {
		return models.CompletedChecklist{}, dErrors.New(dErrors.CodeValidation, "unknown unit")
	}
	if !unit.IsActive() {
		return models.CompletedChecklist{}, dErrors.New(dErrors.CodeValidation, "unit is inactive")
	}
	tech, ok := s.directory.User(sub.TechnicianID)
	if !ok {
		return models.CompletedChecklist{}, dErrors.New(dErrors.CodeValidation, "unknown technician")
	}
	if !tech.IsActive() {
		return models.CompletedChecklist{}, dErrors.New(dErrors.CodePermission, "technician is deactivated")
	}

	answered := make(map[string]models.ChecklistResult, len(sub.Results))
	for _, r := range sub.Results {
		if _, known := tmpl.Item(r.ItemID); !known {
			return models.CompletedChecklist{}, dErrors.New(dErrors.CodeValidation,
				fmt.Sprintf("item %q is not part of template %q", r.ItemID, tmpl.Name))
		}
		if _, dup := answered[r.ItemID]; dup {
			return models.CompletedChecklist{}, dErrors.New(dErrors.CodeValidation,
				fmt.Sprintf("item %q answered more than once", r.ItemID))
		}
		if !r.Status.IsValid() {
			return models.CompletedChecklist{}, dErrors.New(dErrors.CodeValidation,
				fmt.Sprintf("item %q has invalid status %q", r.ItemID, r.Status))
		}
		answered[r.ItemID] = r
	}

	results := make([]models.ChecklistResult, 0, len(tmpl.Items))
	for _, item := range tmpl.Items {
		r, ok := answered[item.ID]
		if !ok {
			r = models.ChecklistResult{ItemID: item.ID, Status: models.StatusPending}
		}
		results = append(results, r)
	}

	return models.CompletedChecklist{
		TemplateID:         tmpl.ID,
		UnitID:             unit.ID,
		TechnicianID:       tech.ID,
		Results:            results,
		HasNonConformities: models.HasNonConformities(results),
	}, nil
}

// Validate marks a checklist as reviewed. Coordinators may validate any
// checklist, managers those of their units or technicians, and a checklist
// is validated once.
func (s *Service) Validate(ctx context.Context, checklistID, validatorID, comment string) (models.CompletedChecklist, error) {
	validator, ok := s.directory.User(validatorID)
	if !ok {
		return models.CompletedChecklist{}, dErrors.New(dErrors.CodePermission, "unknown validator")
	}
	if validator.Role == models.RoleTechnician || !validator.IsActive() {
		return models.CompletedChecklist{}, dErrors.New(dErrors.CodePermission, "only active managers and coordinators validate checklists")
	}

	current, err := s.store.Get(ctx, checklistID)
	if err != nil {
		return models.CompletedChecklist{}, err
	}
	if current == nil {
		return models.CompletedChecklist{}, dErrors.New(dErrors.CodeNotFound, "checklist not found")
	}
	if current.Validated {
		return models.CompletedChecklist{}, dErrors.New(dErrors.CodeValidation, "checklist is already validated")
	}
	if validator.Role == models.RoleManager && !s.responsible(validator.ID, *current) {
		return models.CompletedChecklist{}, dErrors.New(dErrors.CodePermission, "managers validate only checklists of their units or technicians")
	}

	v := models.ChecklistValidation{
		ValidatedBy: validatorID,
		ValidatedAt: requestcontext.Now(ctx).UTC(),
	}
	if comment != "" {
		v.ManagerComment = models.Set(comment)
	}
	if err := s.store.Patch(ctx, checklistID, v.Fields()); err != nil {
		return models.CompletedChecklist{}, err
	}

	s.audit(ctx, validatorID, models.ActionChecklistValidated,
		fmt.Sprintf("checklist %s validated", checklistID))

	out := *current
	out.Validated = true
	out.ValidatedBy = v.ValidatedBy
	out.ValidatedAt = v.ValidatedAt
	if comment != "" {
		out.ManagerComment = comment
	}
	return out, nil
}

// responsible reports whether managerID owns the checklist's unit or
// manages its technician.
func (s *Service) responsible(managerID string, c models.CompletedChecklist) bool {
	if unit, ok := s.directory.Unit(c.UnitID); ok && unit.ManagerID == managerID {
		return true
	}
	tech, ok := s.directory.User(c.TechnicianID)
	return ok && tech.ManagerID == managerID
}

func (s *Service) audit(ctx context.Context, actor string, action models.AuditAction, details string) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, models.AuditLogEntry{
		PerformingUserID: actor,
		Action:           action,
		Details:          details,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", string(action), "error", err)
	}
}
