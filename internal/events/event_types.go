package events

import (
	"time"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventPauseChanged    EventType = "sla_pause_changed"
	EventSLAHalfWarning  EventType = "sla_half_warning"
	EventTicketEscalated EventType = "ticket_escalated"
)

// AllEventTypes lists every event carrying a fresh SLA snapshot.
var AllEventTypes = []EventType{EventPauseChanged, EventSLAHalfWarning, EventTicketEscalated}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type domain.ActorType `json:"type"`
	ID   *string          `json:"id,omitempty"`
}

// SystemActor is used by background jobs.
var SystemActor = Actor{Type: domain.ActorTypeSystem}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// PauseChangedPayload payload.
type PauseChangedPayload struct {
	Reason     domain.PauseReason `json:"reason"`
	Active     bool               `json:"active"`
	Transition string             `json:"transition"`
	Snapshot   domain.SLASnapshot `json:"snapshot"`
}

// HalfWarningPayload payload.
type HalfWarningPayload struct {
	Enqueued bool               `json:"enqueued"`
	Snapshot domain.SLASnapshot `json:"snapshot"`
}

// TicketEscalatedPayload payload.
type TicketEscalatedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewLevel  int                 `json:"new_level"`
	Snapshot  domain.SLASnapshot  `json:"snapshot"`
}

// SnapshotOf extracts the SLA snapshot carried by an event payload.
func SnapshotOf(event Event) (domain.SLASnapshot, bool) {
	switch p := event.Payload.(type) {
	case PauseChangedPayload:
		return p.Snapshot, true
	case HalfWarningPayload:
		return p.Snapshot, true
	case TicketEscalatedPayload:
		return p.Snapshot, true
	case domain.SLASnapshot:
		return p, true
	}
	return domain.SLASnapshot{}, false
}
