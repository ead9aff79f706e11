// Package sla holds the pure SLA computations: the remaining-time clock, the
// pause accumulation rule and the business-hours calendar. Nothing here touches
// storage; callers load a ticket, apply these rules and persist the result.
package sla

import (
	"time"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// Remaining is the output of ComputeRemaining.
type Remaining struct {
	RemainingMinutes float64
	IsPaused         bool
	IsOverdue        bool
}

// ComputeRemaining derives the remaining SLA time of a ticket at now.
//
// Paused time is added back on top of the full elapsed wall-clock time rather
// than carved out of it:
//
//	remaining = total - elapsed + paused_total + (now - last_pause_started_at if paused)
//
// A ticket is never overdue while paused.
func ComputeRemaining(t *domain.Ticket, now time.Time) Remaining {
	elapsed := minutesBetween(t.OpenedAt, now)
	paused := t.IsPaused()

	activePauseExtra := 0.0
	if paused && t.LastPauseStartedAt != nil {
		activePauseExtra = minutesBetween(*t.LastPauseStartedAt, now)
	}
	effectivePaused := t.PausedTotalMinutes + activePauseExtra
	remaining := float64(t.SLATotalMinutes) - elapsed + effectivePaused

	return Remaining{
		RemainingMinutes: remaining,
		IsPaused:         paused,
		IsOverdue:        !paused && remaining <= 0,
	}
}

// Snapshot wraps ComputeRemaining into the wire form served to clients.
func Snapshot(t *domain.Ticket, now time.Time) domain.SLASnapshot {
	r := ComputeRemaining(t, now)
	return domain.SLASnapshot{
		TicketID:         t.ID,
		Status:           t.Status,
		RemainingMinutes: r.RemainingMinutes,
		IsPaused:         r.IsPaused,
		IsOverdue:        r.IsOverdue,
		PauseReason:      t.Flags.Primary(),
		Flags:            t.Flags,
		EscalationLevel:  t.EscalationLevel,
		ComputedAt:       now,
	}
}

// ShouldWarnHalf reports whether the one-shot half-SLA warning is due: the ticket
// is live, has not been warned before, is not yet overdue and has used at least
// half of its allotment.
func ShouldWarnHalf(t *domain.Ticket, r Remaining) bool {
	if t.Status.IsTerminal() || t.Status == domain.TicketStatusEscalated {
		return false
	}
	if t.SLAWarnedAt != nil || t.SLATotalMinutes <= 0 {
		return false
	}
	if r.IsOverdue || r.RemainingMinutes <= 0 {
		return false
	}
	return r.RemainingMinutes <= float64(t.SLATotalMinutes)/2
}

// CanEscalate is the escalation transition guard.
func CanEscalate(t *domain.Ticket, r Remaining) bool {
	if t.Status.IsTerminal() || t.Status == domain.TicketStatusEscalated {
		return false
	}
	return r.IsOverdue
}

func minutesBetween(from, to time.Time) float64 {
	return to.Sub(from).Minutes()
}
