package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/observability"
	"github.com/spec-kit/sla-engine/internal/repository"
	"github.com/spec-kit/sla-engine/internal/sla"
)

// PauseService is the only writer of pause flags. Every caller, human or job,
// goes through SetPauseFlag so the accumulation rule is applied exactly once
// per OR-of-flags edge.
type PauseService struct {
	mutator    ticketMutator
	history    repository.TicketHistoryRepository
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// PauseDependencies bundles collaborators for PauseService.
type PauseDependencies struct {
	TicketRepo    repository.TicketRepository
	HistoryRepo   repository.TicketHistoryRepository
	Dispatcher    events.Dispatcher
	Metrics       *observability.Metrics
	Logger        *zap.Logger
	MaxCASRetries int
	Now           func() time.Time
}

// PauseResult describes the outcome of SetPauseFlag.
type PauseResult struct {
	Ticket     *domain.Ticket
	Transition sla.PauseTransition
	Snapshot   domain.SLASnapshot
}

// NewPauseService constructs PauseService.
func NewPauseService(deps PauseDependencies) *PauseService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PauseService{
		mutator:    newTicketMutator(deps.TicketRepo, deps.Metrics, deps.MaxCASRetries),
		history:    deps.HistoryRepo,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        nowFunc(deps.Now),
	}
}

// SetPauseFlag sets one pause reason on a ticket. Setting a flag to its current
// value, or touching a resolved ticket, is a no-op.
func (s *PauseService) SetPauseFlag(ctx context.Context, ticketID string, reason domain.PauseReason, active bool, actor events.Actor) (*PauseResult, error) {
	var (
		transition sla.PauseTransition
		at         time.Time
	)
	before, after, changed, err := s.mutator.mutate(ctx, ticketID, func(t *domain.Ticket) bool {
		at = s.now()
		if t.Status.IsTerminal() {
			transition = sla.PauseNoop
			return false
		}
		transition = sla.ApplyPauseFlag(t, reason, active, at)
		return transition.Changed()
	})
	if err != nil {
		return nil, err
	}

	result := &PauseResult{Ticket: after, Transition: transition, Snapshot: sla.Snapshot(after, at)}
	if !changed {
		return result, nil
	}

	s.metrics.PauseTransition(string(reason), transition.String())
	s.logger.Debug("pause flag changed",
		zap.String("ticket_id", ticketID),
		zap.String("reason", string(reason)),
		zap.Bool("active", active),
		zap.Stringer("transition", transition))

	if transition == sla.PauseStarted || transition == sla.PauseEnded {
		s.recordHistory(ctx, actor, before, after, reason, transition)
	}
	s.publish(ctx, actor, events.PauseChangedPayload{
		Reason:     reason,
		Active:     active,
		Transition: transition.String(),
		Snapshot:   result.Snapshot,
	}, ticketID, at)
	return result, nil
}

func (s *PauseService) recordHistory(ctx context.Context, actor events.Actor, before, after *domain.Ticket, reason domain.PauseReason, transition sla.PauseTransition) {
	if s.history == nil {
		return
	}
	newValue := slaState(after)
	newValue["reason"] = reason
	newValue["transition"] = transition.String()
	entry := &domain.TicketHistory{
		TicketID:      after.ID,
		ChangedByType: actor.Type,
		ChangedByID:   actorID(actor),
		ChangeType:    domain.ChangeTypePause,
		OldValue:      slaState(before),
		NewValue:      newValue,
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("record pause history failed", zap.String("ticket_id", after.ID), zap.Error(err))
	}
}

func (s *PauseService) publish(ctx context.Context, actor events.Actor, payload events.PauseChangedPayload, ticketID string, at time.Time) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventPauseChanged,
		TicketID:  ticketID,
		Actor:     actor,
		Timestamp: at,
		Payload:   payload,
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish pause event failed", zap.String("ticket_id", ticketID), zap.Error(err))
	}
}
