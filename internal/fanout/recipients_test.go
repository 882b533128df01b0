package fanout

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"checkline/internal/compliance/models"
)

func TestComputeRecipients(t *testing.T) {
	inactive := false
	active := true

	unit := models.Unit{ID: "U", Name: "North", ManagerID: "M1"}
	technician := models.User{ID: "T", Name: "Tess", Role: models.RoleTechnician, ManagerID: "M2"}
	coordinators := []models.User{
		{ID: "C1", Role: models.RoleCoordinator, Active: &inactive},
		{ID: "C2", Role: models.RoleCoordinator},
	}

	t.Run("unit manager, technician manager then active coordinators", func(t *testing.T) {
		got := ComputeRecipients(unit, technician, coordinators)
		assert.Equal(t, []Recipient{
			{UserID: "M1", Reason: ReasonUnitManager},
			{UserID: "M2", Reason: ReasonTechnicianManager},
			{UserID: "C2", Reason: ReasonCoordinator},
		}, got)
	})

	t.Run("coordinator who manages the unit is deduplicated", func(t *testing.T) {
		coords := []models.User{
			{ID: "M1", Role: models.RoleCoordinator, Active: &active},
			{ID: "C2", Role: models.RoleCoordinator, Active: &active},
		}
		got := ComputeRecipients(unit, technician, coords)
		assert.Equal(t, []Recipient{
			{UserID: "M1", Reason: ReasonUnitManager},
			{UserID: "M2", Reason: ReasonTechnicianManager},
			{UserID: "C2", Reason: ReasonCoordinator},
		}, got)
	})

	t.Run("one person in every role gets one notification", func(t *testing.T) {
		tech := technician
		tech.ManagerID = "M1"
		coords := []models.User{{ID: "M1", Role: models.RoleCoordinator}}
		got := ComputeRecipients(unit, tech, coords)
		assert.Equal(t, []Recipient{{UserID: "M1", Reason: ReasonUnitManager}}, got)
	})

	t.Run("shared manager is notified once with the first reason", func(t *testing.T) {
		tech := technician
		tech.ManagerID = "M1"
		got := ComputeRecipients(unit, tech, nil)
		assert.Equal(t, []Recipient{{UserID: "M1", Reason: ReasonUnitManager}}, got)
	})

	t.Run("coordinator who is also a manager appears once", func(t *testing.T) {
		coords := []models.User{{ID: "M2", Role: models.RoleCoordinator, Active: &active}}
		got := ComputeRecipients(unit, technician, coords)
		assert.Equal(t, []Recipient{
			{UserID: "M1", Reason: ReasonUnitManager},
			{UserID: "M2", Reason: ReasonTechnicianManager},
		}, got)
	})

	t.Run("missing managers are skipped", func(t *testing.T) {
		got := ComputeRecipients(models.Unit{ID: "U"}, models.User{ID: "T"}, coordinators)
		assert.Equal(t, []Recipient{{UserID: "C2", Reason: ReasonCoordinator}}, got)
	})

	t.Run("non-coordinators in the coordinator list are ignored", func(t *testing.T) {
		coords := []models.User{{ID: "X", Role: models.RoleManager}}
		got := ComputeRecipients(unit, technician, coords)
		assert.Len(t, got, 2)
	})

	t.Run("inputs are not modified", func(t *testing.T) {
		before := append([]models.User(nil), coordinators...)
		ComputeRecipients(unit, technician, coordinators)
		assert.Equal(t, before, coordinators)
	})
}

func TestMessage(t *testing.T) {
	t.Run("mentions technician, unit and checklist", func(t *testing.T) {
		msg := Message(ReasonUnitManager, "Tess", "North", "Daily", 2)
		assert.Contains(t, msg, "Tess")
		assert.Contains(t, msg, "North")
		assert.Contains(t, msg, `"Daily"`)
		assert.Contains(t, msg, "2 non-conformities")
	})

	t.Run("differs per reason", func(t *testing.T) {
		a := Message(ReasonUnitManager, "Tess", "North", "Daily", 1)
		b := Message(ReasonTechnicianManager, "Tess", "North", "Daily", 1)
		c := Message(ReasonCoordinator, "Tess", "North", "Daily", 1)
		assert.NotEqual(t, a, b)
		assert.NotEqual(t, b, c)
		assert.Contains(t, a, "1 non-conformity ")
	})
}
