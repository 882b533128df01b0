// Package fanout notifies the responsible people when a submitted checklist
// contains non-conformities.
package fanout

//go:generate mockgen -source=engine.go -destination=mocks/mocks.go -package=mocks Directory,NotificationWriter,Dispatcher

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"checkline/internal/compliance/models"
	dErrors "checkline/pkg/domain-errors"
	"checkline/pkg/requestcontext"
)

const defaultConcurrency = 8

// Directory resolves entities from the local snapshots.
type Directory interface {
	User(id string) (models.User, bool)
	Unit(id string) (models.Unit, bool)
	Template(id string) (models.ChecklistTemplate, bool)
	Coordinators() []models.User
}

// NotificationWriter persists one notification.
type NotificationWriter interface {
	Create(ctx context.Context, n models.Notification) (string, error)
}

// Dispatcher forwards persisted notifications to downstream consumers.
type Dispatcher interface {
	Dispatch(ctx context.Context, n models.Notification) error
}

// Result summarises one fanout run.
type Result struct {
	Recipients []Recipient
	Created    []models.Notification
	Failed     []string
}

// Engine creates one notification per recipient of a non-conforming checklist.
type Engine struct {
	directory   Directory
	writer      NotificationWriter
	dispatcher  Dispatcher
	concurrency int
	logger      *slog.Logger
	metrics     *Metrics
	tracer      trace.Tracer
}

type Option func(*Engine)

func WithDispatcher(d Dispatcher) Option {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithConcurrency bounds parallel notification writes.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func New(directory Directory, writer NotificationWriter, opts ...Option) *Engine {
	e := &Engine{
		directory:   directory,
		writer:      writer,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
		tracer:      otel.Tracer("checkline/fanout"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Notify runs the fanout for a persisted checklist. Checklists without
// non-conformities produce no notifications. Writes run concurrently and
// every recipient is attempted; if any write fails the error is a
// *dErrors.PartialFanoutError naming the failed recipients, and the
// returned Result still lists what was created.
func (e *Engine) Notify(ctx context.Context, checklist models.CompletedChecklist) (Result, error) {
	if !models.HasNonConformities(checklist.Results) {
		e.metrics.incRun("skipped")
		return Result{}, nil
	}

	ctx, span := e.tracer.Start(ctx, "fanout.notify", trace.WithAttributes(
		attribute.String("checklist_id", checklist.ID),
	))
	defer span.End()

	technician, ok := e.directory.User(checklist.TechnicianID)
	if !ok {
		e.logger.WarnContext(ctx, "fanout technician not in snapshot",
			"checklist_id", checklist.ID, "technician_id", checklist.TechnicianID)
		technician = models.User{ID: checklist.TechnicianID, Name: "unknown technician"}
	}
	unit, ok := e.directory.Unit(checklist.UnitID)
	if !ok {
		e.logger.WarnContext(ctx, "fanout unit not in snapshot",
			"checklist_id", checklist.ID, "unit_id", checklist.UnitID)
		unit = models.Unit{ID: checklist.UnitID, Name: "unknown unit"}
	}
	templateName := "unknown checklist"
	if tmpl, ok := e.directory.Template(checklist.TemplateID); ok {
		templateName = tmpl.Name
	}

	recipients := ComputeRecipients(unit, technician, e.directory.Coordinators())
	span.SetAttributes(attribute.Int("recipients", len(recipients)))

	now := requestcontext.Now(ctx).UTC()
	count := checklist.NonConformCount()

	var (
		mu     sync.Mutex
		result = Result{Recipients: recipients}
		errs   []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, r := range recipients {
		g.Go(func() error {
			n := models.Notification{
				UserID:               r.UserID,
				CompletedChecklistID: checklist.ID,
				Message:              Message(r.Reason, technician.Name, unit.Name, templateName, count),
				Timestamp:            now,
			}
			id, err := e.writer.Create(gctx, n)
			e.metrics.incNotification(r.Reason, err == nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.ErrorContext(ctx, "notification write failed",
					"checklist_id", checklist.ID,
					"recipient", r.UserID,
					"reason", string(r.Reason),
					"error", err,
				)
				result.Failed = append(result.Failed, r.UserID)
				errs = append(errs, err)
				return nil
			}
			n.ID = id
			result.Created = append(result.Created, n)
			return nil
		})
	}
	_ = g.Wait()

	e.dispatch(ctx, result.Created)

	if len(result.Failed) > 0 {
		e.metrics.incRun("partial")
		err := &dErrors.PartialFanoutError{
			Failed:    result.Failed,
			Attempted: len(recipients),
			Errs:      errs,
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodePartialFanout))
		return result, err
	}
	e.metrics.incRun("complete")
	e.logger.InfoContext(ctx, "fanout complete",
		"checklist_id", checklist.ID,
		"notifications", len(result.Created),
	)
	return result, nil
}

func (e *Engine) dispatch(ctx context.Context, created []models.Notification) {
	if e.dispatcher == nil {
		return
	}
	for _, n := range created {
		if err := e.dispatcher.Dispatch(ctx, n); err != nil {
			e.logger.WarnContext(ctx, "notification dispatch failed",
				"notification_id", n.ID,
				"recipient", n.UserID,
				"error", err,
			)
		}
	}
}
