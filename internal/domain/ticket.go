package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen             TicketStatus = "open"
	TicketStatusInProgress       TicketStatus = "in_progress"
	TicketStatusAwaitingCustomer TicketStatus = "awaiting_customer"
	TicketStatusEscalated        TicketStatus = "escalated"
	TicketStatusResolved         TicketStatus = "resolved"
)

// IsTerminal reports whether the status ends the SLA lifecycle.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusResolved
}

// Ticket is the SLA-relevant subset of a support ticket. The rest of the ticket
// aggregate belongs to the surrounding helpdesk.
type Ticket struct {
	ID                 string
	UnitID             string
	Status             TicketStatus
	SLATotalMinutes    int
	OpenedAt           time.Time
	PausedTotalMinutes float64
	Flags              PauseFlags
	LastPauseStartedAt *time.Time
	EscalationLevel    int
	SLABreachedAt      *time.Time
	SLAWarnedAt        *time.Time
	Version            int64
	UpdatedAt          time.Time
}

// IsPaused reports whether any pause reason is active.
func (t *Ticket) IsPaused() bool {
	return t.Flags.Any()
}

// Clone returns a copy that does not share pointer fields with t.
func (t *Ticket) Clone() *Ticket {
	cp := *t
	cp.LastPauseStartedAt = cloneTime(t.LastPauseStartedAt)
	cp.SLABreachedAt = cloneTime(t.SLABreachedAt)
	cp.SLAWarnedAt = cloneTime(t.SLAWarnedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
