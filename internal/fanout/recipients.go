package fanout

import (
	"fmt"

	"checkline/internal/compliance/models"
)

// Reason records why a user receives a non-conformity notification.
type Reason string

const (
	ReasonUnitManager       Reason = "UNIT_MANAGER"
	ReasonTechnicianManager Reason = "TECHNICIAN_MANAGER"
	ReasonCoordinator       Reason = "COORDINATOR"
)

// Recipient is one notification target.
type Recipient struct {
	UserID string
	Reason Reason
}

// ComputeRecipients returns the notification targets for a non-conforming
// checklist in a fixed order: the unit's manager, the technician's manager,
// then every active coordinator in input order. A user appears at most once
// and keeps the reason of their first occurrence. Empty ids are skipped.
func ComputeRecipients(unit models.Unit, technician models.User, coordinators []models.User) []Recipient {
	recipients := make([]Recipient, 0, 2+len(coordinators))
	seen := make(map[string]struct{}, 2+len(coordinators))
	add := func(id string, reason Reason) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		recipients = append(recipients, Recipient{UserID: id, Reason: reason})
	}

	add(unit.ManagerID, ReasonUnitManager)
	add(technician.ManagerID, ReasonTechnicianManager)
	for _, c := range coordinators {
		if c.Role != models.RoleCoordinator || !c.IsActive() {
			continue
		}
		add(c.ID, ReasonCoordinator)
	}
	return recipients
}

// Message renders the notification text for a recipient.
func Message(reason Reason, technicianName, unitName, templateName string, count int) string {
	items := "non-conformity"
	if count != 1 {
		items = "non-conformities"
	}
	switch reason {
	case ReasonUnitManager:
		return fmt.Sprintf("%s reported %d %s in your unit %s (checklist %q).",
			technicianName, count, items, unitName, templateName)
	case ReasonTechnicianManager:
		return fmt.Sprintf("Your technician %s reported %d %s in unit %s (checklist %q).",
			technicianName, count, items, unitName, templateName)
	default:
		return fmt.Sprintf("Non-conformity alert: %s reported %d %s in unit %s (checklist %q).",
			technicianName, count, items, unitName, templateName)
	}
}
