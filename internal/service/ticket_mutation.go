package service

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/observability"
	"github.com/spec-kit/sla-engine/internal/repository"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

const defaultMaxCASRetries = 5

// ticketMutator serializes writers of a single ticket's SLA fields with an
// optimistic version check.
type ticketMutator struct {
	tickets    repository.TicketRepository
	metrics    *observability.Metrics
	maxRetries int
}

func newTicketMutator(tickets repository.TicketRepository, metrics *observability.Metrics, maxRetries int) ticketMutator {
	if maxRetries <= 0 {
		maxRetries = defaultMaxCASRetries
	}
	return ticketMutator{tickets: tickets, metrics: metrics, maxRetries: maxRetries}
}

// mutate loads the ticket, lets fn change it and writes it back if fn reports a
// change. A transition to escalated goes through Escalate; every other change
// leaves status to the helpdesk. A lost race, including a status the helpdesk
// changed underneath, reloads and reruns fn. It returns the state before and
// after the successful attempt.
func (m ticketMutator) mutate(ctx context.Context, ticketID string, fn func(t *domain.Ticket) bool) (before, after *domain.Ticket, changed bool, err error) {
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		current, err := m.tickets.GetByID(ctx, ticketID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil, false, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
			}
			return nil, nil, false, err
		}
		before = current.Clone()
		if !fn(current) {
			return before, current, false, nil
		}
		err = m.write(ctx, before, current)
		if err == nil {
			return before, current, true, nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, false, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, nil, false, err
		}
		m.metrics.CASConflict()
		if err := ctx.Err(); err != nil {
			return nil, nil, false, err
		}
	}
	return nil, nil, false, apperrors.NewConflict("ticket was modified concurrently", map[string]any{
		"ticket_id": ticketID,
		"attempts":  m.maxRetries,
	})
}

func (m ticketMutator) write(ctx context.Context, before, after *domain.Ticket) error {
	if after.Status == domain.TicketStatusEscalated && before.Status != domain.TicketStatusEscalated {
		return m.tickets.Escalate(ctx, after)
	}
	return m.tickets.UpdateSLA(ctx, after)
}

func nowFunc(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}

func actorID(actor events.Actor) *string {
	if actor.ID == nil {
		return nil
	}
	id := *actor.ID
	return &id
}

func slaState(t *domain.Ticket) map[string]any {
	state := map[string]any{
		"status":               t.Status,
		"flags":                t.Flags,
		"paused_total_minutes": t.PausedTotalMinutes,
		"escalation_level":     t.EscalationLevel,
	}
	if t.LastPauseStartedAt != nil {
		state["last_pause_started_at"] = t.LastPauseStartedAt.UTC()
	}
	if t.SLABreachedAt != nil {
		state["sla_breached_at"] = t.SLABreachedAt.UTC()
	}
	return state
}
