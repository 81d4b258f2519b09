package auditlog

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one append-only audit record.
type Entry struct {
	ID          uuid.UUID `json:"id"`
	Actor       string    `json:"actor"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	ActionPatientRegistered  = "patient.registered"
	ActionPatientUpdated     = "patient.updated"
	ActionPatientDeleted     = "patient.deleted"
	ActionAppointmentCreated = "appointment.created"
	ActionAppointmentStatus  = "appointment.status_changed"
	ActionEncounterCreated   = "encounter.created"
	ActionEncounterVitals    = "encounter.vitals_corrected"
	ActionInventoryCreated   = "inventory.created"
	ActionInventoryUpdated   = "inventory.updated"
	ActionInventoryAdjusted  = "inventory.adjusted"
	ActionBackupCompleted    = "backup.completed"
	ActionUserCreated        = "user.created"
	ActionSettingChanged     = "setting.changed"
)

// Filter narrows an audit search. Zero values are ignored.
type Filter struct {
	Actor  string
	Action string
	From   *time.Time
	To     *time.Time
}
