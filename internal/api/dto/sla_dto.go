package dto

import (
	"time"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// SetPauseRequest payload.
type SetPauseRequest struct {
	Reason string `json:"reason"`
	Active *bool  `json:"active"`
}

// ObserveMessageRequest payload.
type ObserveMessageRequest struct {
	Direction string `json:"direction"`
}

// PauseResponse reports a pause flag change.
type PauseResponse struct {
	Transition string             `json:"transition"`
	Snapshot   domain.SLASnapshot `json:"snapshot"`
}

// HistoryEntryResponse represents an audit trail entry.
type HistoryEntryResponse struct {
	ID            string                  `json:"id"`
	ChangeType    domain.TicketChangeType `json:"change_type"`
	ChangedByType domain.ActorType        `json:"changed_by_type"`
	ChangedByID   *string                 `json:"changed_by_id"`
	OldValue      map[string]any          `json:"old_value"`
	NewValue      map[string]any          `json:"new_value"`
	CreatedAt     time.Time               `json:"created_at"`
}

// NotificationEntryResponse exposes a queue entry to operators.
type NotificationEntryResponse struct {
	ID          string                    `json:"id"`
	TicketID    string                    `json:"ticket_id"`
	Type        domain.NotificationType   `json:"type"`
	Status      domain.NotificationStatus `json:"status"`
	Attempts    int                       `json:"attempts"`
	MaxAttempts int                       `json:"max_attempts"`
	Target      string                    `json:"target"`
	LastError   string                    `json:"last_error,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	ScheduledAt time.Time                 `json:"scheduled_at"`
}

// EscalationLevelResponse is one rung of a unit's ladder.
type EscalationLevelResponse struct {
	Level        int    `json:"level"`
	NotifyTarget string `json:"notify_target"`
}

// RenotifyResponse reports a notification recovery attempt.
type RenotifyResponse struct {
	TicketID        string   `json:"ticket_id"`
	EscalationLevel int      `json:"escalation_level"`
	NotifyErrors    []string `json:"notify_errors"`
}

// ReclaimResponse reports stale entries returned to pending.
type ReclaimResponse struct {
	Reclaimed int `json:"reclaimed"`
}
