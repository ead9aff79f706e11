package domain

import "time"

// TicketChangeType captures what changed in a history entry.
type TicketChangeType string

const (
	ChangeTypePause      TicketChangeType = "SLA_PAUSE_CHANGE"
	ChangeTypeSLAWarning TicketChangeType = "SLA_HALF_WARNING"
	ChangeTypeEscalation TicketChangeType = "SLA_ESCALATION"
)

// ActorType identifies who caused a change.
type ActorType string

const (
	ActorTypeSystem   ActorType = "SYSTEM"
	ActorTypeStaff    ActorType = "STAFF"
	ActorTypeCustomer ActorType = "CUSTOMER"
)

// TicketHistory is an immutable audit trail entry.
type TicketHistory struct {
	ID            string
	TicketID      string
	ChangedByType ActorType
	ChangedByID   *string
	ChangeType    TicketChangeType
	OldValue      map[string]any
	NewValue      map[string]any
	CreatedAt     time.Time
}
