// Package models holds the compliance domain entities and their explicit
// document codecs.
package models

import (
	"time"
)

// Role determines navigation, permissions and fanout membership.
type Role string

const (
	RoleTechnician  Role = "TECHNICIAN"
	RoleManager     Role = "MANAGER"
	RoleCoordinator Role = "COORDINATOR"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleTechnician, RoleManager, RoleCoordinator:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// ResultStatus is the outcome of one checklist item. The zero value means
// the item is still pending and is stored as null.
type ResultStatus string

const (
	StatusPending    ResultStatus = ""
	StatusConform    ResultStatus = "CONFORM"
	StatusNonConform ResultStatus = "NON_CONFORM"
)

func (s ResultStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusConform, StatusNonConform:
		return true
	}
	return false
}

// AuditAction enumerates audit log actions.
type AuditAction string

const (
	ActionUserCreated        AuditAction = "USER_CREATED"
	ActionUserUpdated        AuditAction = "USER_UPDATED"
	ActionUserDeactivated    AuditAction = "USER_DEACTIVATED"
	ActionUserDeleted        AuditAction = "USER_DELETED"
	ActionPasswordReset      AuditAction = "PASSWORD_RESET"
	ActionProfileProvisioned AuditAction = "PROFILE_PROVISIONED"
	ActionUnitCreated        AuditAction = "UNIT_CREATED"
	ActionUnitUpdated        AuditAction = "UNIT_UPDATED"
	ActionTemplateSaved      AuditAction = "TEMPLATE_SAVED"
	ActionChecklistSubmitted AuditAction = "CHECKLIST_SUBMITTED"
	ActionChecklistValidated AuditAction = "CHECKLIST_VALIDATED"
)

func (a AuditAction) IsValid() bool {
	switch a {
	case ActionUserCreated, ActionUserUpdated, ActionUserDeactivated, ActionUserDeleted,
		ActionPasswordReset, ActionProfileProvisioned, ActionUnitCreated, ActionUnitUpdated,
		ActionTemplateSaved, ActionChecklistSubmitted, ActionChecklistValidated:
		return true
	}
	return false
}

// User is a domain profile. Active is nil when never set, which counts as active.
type User struct {
	ID             string
	Name           string
	Email          string
	Role           Role
	ManagerID      string
	Active         *bool
	ExternalAuthID string
}

// IsActive treats a missing flag as active.
func (u User) IsActive() bool {
	return u.Active == nil || *u.Active
}

// Unit is an inspected site owned by a manager.
type Unit struct {
	ID        string
	Name      string
	ManagerID string
	Active    *bool
}

func (u Unit) IsActive() bool {
	return u.Active == nil || *u.Active
}

// TemplateItem keeps a stable id so completed checklists survive template edits.
type TemplateItem struct {
	ID   string
	Text string
}

type ChecklistTemplate struct {
	ID    string
	Name  string
	Items []TemplateItem
}

// Item returns the template item with id.
func (t ChecklistTemplate) Item(id string) (TemplateItem, bool) {
	for _, item := range t.Items {
		if item.ID == id {
			return item, true
		}
	}
	return TemplateItem{}, false
}

type ChecklistResult struct {
	ItemID      string
	Status      ResultStatus
	Observation string
}

// CompletedChecklist is created once on submission and mutated only by validation.
type CompletedChecklist struct {
	ID                 string
	TemplateID         string
	UnitID             string
	TechnicianID       string
	CompletionDate     time.Time
	Results            []ChecklistResult
	HasNonConformities bool
	Validated          bool
	ValidatedBy        string
	ValidatedAt        time.Time
	ManagerComment     string
}

// HasNonConformities is true iff at least one result is NON_CONFORM.
func HasNonConformities(results []ChecklistResult) bool {
	for _, r := range results {
		if r.Status == StatusNonConform {
			return true
		}
	}
	return false
}

// NonConformCount counts NON_CONFORM results.
func (c CompletedChecklist) NonConformCount() int {
	n := 0
	for _, r := range c.Results {
		if r.Status == StatusNonConform {
			n++
		}
	}
	return n
}

// Notification is created by fanout; Read only ever goes false to true.
type Notification struct {
	ID                   string
	UserID               string
	CompletedChecklistID string
	Message              string
	Read                 bool
	Timestamp            time.Time
}

// AuditLogEntry is append-only.
type AuditLogEntry struct {
	ID               string
	Timestamp        time.Time
	PerformingUserID string
	Action           AuditAction
	Details          string
}
