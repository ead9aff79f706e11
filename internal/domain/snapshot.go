package domain

import "time"

// SLASnapshot is the authoritative SLA state of a ticket at ComputedAt. It is what
// the API returns and what clients re-base their countdowns on.
type SLASnapshot struct {
	TicketID         string       `json:"ticket_id"`
	Status           TicketStatus `json:"status"`
	RemainingMinutes float64      `json:"remaining_minutes"`
	IsPaused         bool         `json:"is_paused"`
	IsOverdue        bool         `json:"is_overdue"`
	PauseReason      PauseReason  `json:"pause_reason,omitempty"`
	Flags            PauseFlags   `json:"flags"`
	EscalationLevel  int          `json:"escalation_level"`
	ComputedAt       time.Time    `json:"computed_at"`
}

// Remaining returns the remaining time as a duration.
func (s SLASnapshot) Remaining() time.Duration {
	return time.Duration(s.RemainingMinutes * float64(time.Minute))
}

// MaxSnapshotBatch is the most ticket ids one batch snapshot query accepts.
const MaxSnapshotBatch = 200
