// Package catalog wires the six application collections: one remote adapter,
// one mutation gateway and one cache hub per collection.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"checkline/internal/compliance/models"
	"checkline/internal/docstore"
	"checkline/internal/gateway"
	"checkline/internal/livecache"
	"checkline/internal/remote"
	dErrors "checkline/pkg/domain-errors"
)

// Collection bundles the read, write and live paths of one collection.
type Collection[T any] struct {
	Remote  *remote.Collection[T]
	Gateway *gateway.Gateway[T]
	Hub     *livecache.Hub[T]
}

// Create validates and writes through the gateway.
func (c Collection[T]) Create(ctx context.Context, entity T) (string, error) {
	return c.Gateway.Create(ctx, entity)
}

// Get reads one entity from the store; nil when absent.
func (c Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	return c.Remote.GetByID(ctx, id)
}

func (c Collection[T]) Patch(ctx context.Context, id string, patch docstore.Fields) error {
	return c.Gateway.Patch(ctx, id, patch)
}

func (c Collection[T]) Remove(ctx context.Context, id string) error {
	return c.Gateway.Remove(ctx, id)
}

// Find runs a one-shot query against the store.
func (c Collection[T]) Find(ctx context.Context, q docstore.Query) ([]T, error) {
	return c.Remote.Query(ctx, q)
}

// Catalog holds every collection.
type Catalog struct {
	Users         Collection[models.User]
	Units         Collection[models.Unit]
	Templates     Collection[models.ChecklistTemplate]
	Checklists    Collection[models.CompletedChecklist]
	Notifications Collection[models.Notification]
	AuditLog      Collection[models.AuditLogEntry]
}

// Option configures the Catalog.
type Option func(*config)

type config struct {
	logger         *slog.Logger
	cacheMetrics   *livecache.Metrics
	gatewayMetrics *gateway.Metrics
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func WithCacheMetrics(m *livecache.Metrics) Option {
	return func(c *config) {
		c.cacheMetrics = m
	}
}

func WithGatewayMetrics(m *gateway.Metrics) Option {
	return func(c *config) {
		c.gatewayMetrics = m
	}
}

// New builds the catalog over backend.
func New(backend docstore.Backend, opts ...Option) *Catalog {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Catalog{
		Users:         build(backend, docstore.Users, models.UserCodec{}, validateUser, cfg),
		Units:         build(backend, docstore.Units, models.UnitCodec{}, validateUnit, cfg),
		Templates:     build(backend, docstore.Templates, models.TemplateCodec{}, validateTemplate, cfg),
		Checklists:    build(backend, docstore.CompletedChecklists, models.ChecklistCodec{}, validateChecklist, cfg),
		Notifications: build(backend, docstore.Notifications, models.NotificationCodec{}, validateNotification, cfg),
		AuditLog:      build(backend, docstore.AuditLog, models.AuditCodec{}, validateAudit, cfg),
	}
}

func build[T any](backend docstore.Backend, name string, codec remote.Codec[T], validate func(T) error, cfg config) Collection[T] {
	logger := cfg.logger.With("collection", name)
	coll := remote.NewCollection[T](backend, name, codec, remote.WithLogger(logger))
	gw := gateway.New[T](name, coll,
		gateway.WithValidator(validate),
		gateway.WithLogger[T](logger),
		gateway.WithMetrics[T](cfg.gatewayMetrics),
	)
	hub := livecache.NewHub[T](name, coll, gw,
		livecache.WithLogger(logger),
		livecache.WithMetrics(cfg.cacheMetrics),
	)
	return Collection[T]{Remote: coll, Gateway: gw, Hub: hub}
}

// Health summarises subscription states per collection for readiness checks.
func (c *Catalog) Health() map[string]map[string]livecache.State {
	return map[string]map[string]livecache.State{
		docstore.Users:               c.Users.Hub.States(),
		docstore.Units:               c.Units.Hub.States(),
		docstore.Templates:           c.Templates.Hub.States(),
		docstore.CompletedChecklists: c.Checklists.Hub.States(),
		docstore.Notifications:       c.Notifications.Hub.States(),
		docstore.AuditLog:            c.AuditLog.Hub.States(),
	}
}

// NotificationFeed opens the per-user notification view, newest first.
func (c *Catalog) NotificationFeed(ctx context.Context, userID string) (*livecache.Cache[models.Notification], error) {
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "user id is required")
	}
	return c.Notifications.Hub.Open(ctx, docstore.Query{}.
		Where("userId", userID).
		Ordered("timestamp", true))
}

// UsersByRole opens a role-filtered user view ordered by name.
func (c *Catalog) UsersByRole(ctx context.Context, role models.Role) (*livecache.Cache[models.User], error) {
	if !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown role %q", role))
	}
	return c.Users.Hub.Open(ctx, docstore.Query{}.
		Where("role", string(role)).
		Ordered("name", false))
}

// UnitsManagedBy opens the view of units owned by a manager, ordered by name.
func (c *Catalog) UnitsManagedBy(ctx context.Context, managerID string) (*livecache.Cache[models.Unit], error) {
	if managerID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "manager id is required")
	}
	return c.Units.Hub.Open(ctx, docstore.Query{}.
		Where("managerId", managerID).
		Ordered("name", false))
}

// ChecklistsForUnit opens a unit's completed checklists, newest first.
func (c *Catalog) ChecklistsForUnit(ctx context.Context, unitID string) (*livecache.Cache[models.CompletedChecklist], error) {
	if unitID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "unit id is required")
	}
	return c.Checklists.Hub.Open(ctx, docstore.Query{}.
		Where("unitId", unitID).
		Ordered("completionDate", true))
}

func validateUser(u models.User) error {
	switch {
	case strings.TrimSpace(u.Name) == "":
		return fmt.Errorf("name is required")
	case !strings.Contains(u.Email, "@"):
		return fmt.Errorf("email is invalid")
	case !u.Role.IsValid():
		return fmt.Errorf("role %q is invalid", u.Role)
	}
	return nil
}

func validateUnit(u models.Unit) error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

func validateTemplate(t models.ChecklistTemplate) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("name is required")
	}
	seen := make(map[string]struct{}, len(t.Items))
	for i, item := range t.Items {
		if item.ID == "" {
			return fmt.Errorf("items[%d].id is required", i)
		}
		if _, dup := seen[item.ID]; dup {
			return fmt.Errorf("items[%d].id %q is duplicated", i, item.ID)
		}
		seen[item.ID] = struct{}{}
	}
	return nil
}

func validateChecklist(c models.CompletedChecklist) error {
	switch {
	case c.TemplateID == "":
		return fmt.Errorf("templateId is required")
	case c.UnitID == "":
		return fmt.Errorf("unitId is required")
	case c.TechnicianID == "":
		return fmt.Errorf("technicianId is required")
	case c.CompletionDate.IsZero():
		return fmt.Errorf("completionDate is required")
	}
	for i, r := range c.Results {
		if r.ItemID == "" {
			return fmt.Errorf("results[%d].itemId is required", i)
		}
		if !r.Status.IsValid() {
			return fmt.Errorf("results[%d].status %q is invalid", i, r.Status)
		}
	}
	return nil
}

func validateNotification(n models.Notification) error {
	switch {
	case n.UserID == "":
		return fmt.Errorf("userId is required")
	case n.CompletedChecklistID == "":
		return fmt.Errorf("completedChecklistId is required")
	case n.Timestamp.IsZero():
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

func validateAudit(e models.AuditLogEntry) error {
	if !e.Action.IsValid() {
		return fmt.Errorf("action %q is invalid", e.Action)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}
