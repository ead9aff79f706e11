package domain

import (
	"fmt"
	"time"
)

// NotificationType enumerates SLA side effects carried by the queue.
type NotificationType string

const (
	NotificationSLAHalf    NotificationType = "sla_half"
	NotificationSLABreach  NotificationType = "sla_breach"
	NotificationEscalation NotificationType = "escalation"
)

// NotificationStatus enumerates queue entry lifecycle states.
type NotificationStatus string

const (
	NotificationPending    NotificationStatus = "pending"
	NotificationProcessing NotificationStatus = "processing"
	NotificationSent       NotificationStatus = "sent"
	NotificationFailed     NotificationStatus = "failed"
)

// IsTerminal reports whether the entry will never be delivered again.
func (s NotificationStatus) IsTerminal() bool {
	return s == NotificationSent || s == NotificationFailed
}

// NotificationEntry is a durable pending side effect.
type NotificationEntry struct {
	ID          string
	TicketID    string
	Type        NotificationType
	Status      NotificationStatus
	Attempts    int
	MaxAttempts int
	Target      string
	DedupKey    string
	LastError   string
	CreatedAt   time.Time
	ScheduledAt time.Time
	ClaimedAt   *time.Time
	Payload     map[string]any
}

// DedupKeyFor builds the key used to suppress duplicate enqueues. Escalation
// notifications are distinguished per level so every level notifies once.
func DedupKeyFor(ticketID string, typ NotificationType, level int) string {
	if typ == NotificationEscalation {
		return fmt.Sprintf("%s:%s:%d", ticketID, typ, level)
	}
	return fmt.Sprintf("%s:%s", ticketID, typ)
}

// EscalationLevelConfig maps an escalation level within a unit to a notification target.
type EscalationLevelConfig struct {
	UnitID       string
	Level        int
	NotifyTarget string
}
