package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/observability"
	"github.com/spec-kit/sla-engine/internal/queue"
	"github.com/spec-kit/sla-engine/internal/repository"
	"github.com/spec-kit/sla-engine/internal/sla"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

const defaultDedupWindow = 2 * time.Hour

// EscalationService drives the open to escalated transition for breached
// tickets and raises the SLA notifications.
type EscalationService struct {
	tickets     repository.TicketRepository
	history     repository.TicketHistoryRepository
	levels      repository.EscalationLevelRepository
	queue       queue.Queue
	dispatcher  events.Dispatcher
	mutator     ticketMutator
	metrics     *observability.Metrics
	logger      *zap.Logger
	dedupWindow time.Duration
	halfWarning bool
	batchSize   int
	now         func() time.Time
}

// EscalationDependencies bundles collaborators for EscalationService.
type EscalationDependencies struct {
	TicketRepo         repository.TicketRepository
	HistoryRepo        repository.TicketHistoryRepository
	LevelRepo          repository.EscalationLevelRepository
	Queue              queue.Queue
	Dispatcher         events.Dispatcher
	Metrics            *observability.Metrics
	Logger             *zap.Logger
	DedupWindow        time.Duration
	HalfWarningEnabled bool
	MaxCASRetries      int
	BatchSize          int
	Now                func() time.Time
}

// EscalationResult summarises one sweep.
type EscalationResult struct {
	Scanned      int `json:"scanned"`
	Escalated    int `json:"escalated"`
	Warned       int `json:"warned"`
	Failed       int `json:"failed"`
	NotifyErrors int `json:"notify_errors"`
}

// EscalationOutcome reports what happened to one ticket.
type EscalationOutcome struct {
	Escalated    bool
	Warned       bool
	NewLevel     int
	NotifyErrors []error
}

// NewEscalationService constructs EscalationService.
func NewEscalationService(deps EscalationDependencies) *EscalationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	window := deps.DedupWindow
	if window <= 0 {
		window = defaultDedupWindow
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	return &EscalationService{
		tickets:     deps.TicketRepo,
		history:     deps.HistoryRepo,
		levels:      deps.LevelRepo,
		queue:       deps.Queue,
		dispatcher:  deps.Dispatcher,
		mutator:     newTicketMutator(deps.TicketRepo, deps.Metrics, deps.MaxCASRetries),
		metrics:     deps.Metrics,
		logger:      logger,
		dedupWindow: window,
		halfWarning: deps.HalfWarningEnabled,
		batchSize:   batch,
		now:         nowFunc(deps.Now),
	}
}

// Sweep evaluates every open ticket once. Per-ticket failures are logged and
// counted; the sweep never stops early for them.
func (s *EscalationService) Sweep(ctx context.Context) (EscalationResult, error) {
	var result EscalationResult
	after := ""
	for {
		page, err := s.tickets.ListOpen(ctx, after, s.batchSize)
		if err != nil {
			return result, fmt.Errorf("list open tickets: %w", err)
		}
		for i := range page {
			result.Scanned++
			outcome, err := s.Evaluate(ctx, &page[i])
			if err != nil {
				result.Failed++
				s.logger.Warn("escalation evaluation failed",
					zap.String("job", "escalation"),
					zap.String("ticket_id", page[i].ID),
					zap.Error(err))
				continue
			}
			if outcome.Escalated {
				result.Escalated++
			}
			if outcome.Warned {
				result.Warned++
			}
			result.NotifyErrors += len(outcome.NotifyErrors)
		}
		if len(page) < s.batchSize {
			break
		}
		after = page[len(page)-1].ID
	}

	s.logger.Debug("escalation sweep finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("escalated", result.Escalated),
		zap.Int("warned", result.Warned),
		zap.Int("failed", result.Failed),
		zap.Int("notify_errors", result.NotifyErrors))
	if result.Failed > 0 || result.NotifyErrors > 0 {
		return result, fmt.Errorf("escalation sweep: %d tickets failed, %d notifications not enqueued", result.Failed, result.NotifyErrors)
	}
	return result, nil
}

// Evaluate applies the escalation guard, then the half-SLA rule, to a ticket
// as read by the caller. The guard is re-checked on the fresh row before writing.
func (s *EscalationService) Evaluate(ctx context.Context, t *domain.Ticket) (EscalationOutcome, error) {
	r := sla.ComputeRemaining(t, s.now())
	switch {
	case sla.CanEscalate(t, r):
		return s.escalate(ctx, t.ID)
	case s.halfWarning && sla.ShouldWarnHalf(t, r):
		return s.warnHalf(ctx, t)
	}
	return EscalationOutcome{}, nil
}

func (s *EscalationService) escalate(ctx context.Context, ticketID string) (EscalationOutcome, error) {
	var (
		outcome EscalationOutcome
		at      time.Time
		r       sla.Remaining
	)
	before, after, changed, err := s.mutator.mutate(ctx, ticketID, func(t *domain.Ticket) bool {
		at = s.now()
		r = sla.ComputeRemaining(t, at)
		if !sla.CanEscalate(t, r) {
			return false
		}
		t.Status = domain.TicketStatusEscalated
		t.EscalationLevel++
		if t.SLABreachedAt == nil {
			breached := at
			t.SLABreachedAt = &breached
		}
		return true
	})
	if err != nil {
		return outcome, err
	}
	if !changed {
		return outcome, nil
	}

	// The transition is committed. Everything below is best effort.
	outcome.Escalated = true
	outcome.NewLevel = after.EscalationLevel
	s.metrics.Escalated()
	s.logger.Info("ticket escalated",
		zap.String("ticket_id", ticketID),
		zap.Int("level", after.EscalationLevel),
		zap.Float64("remaining_minutes", r.RemainingMinutes))

	s.recordHistory(ctx, domain.ChangeTypeEscalation, before, after)
	outcome.NotifyErrors = s.notifyEscalation(ctx, after, r)

	snapshot := sla.Snapshot(after, at)
	s.publish(ctx, events.EventTicketEscalated, ticketID, at, events.TicketEscalatedPayload{
		OldStatus: before.Status,
		NewLevel:  after.EscalationLevel,
		Snapshot:  snapshot,
	})
	return outcome, nil
}

// notifyEscalation enqueues the breach notification and, when the unit has a
// target for the new level, the escalation notification.
func (s *EscalationService) notifyEscalation(ctx context.Context, t *domain.Ticket, r sla.Remaining) []error {
	var errs []error
	payload := map[string]any{
		"unit_id":           t.UnitID,
		"escalation_level":  t.EscalationLevel,
		"remaining_minutes": r.RemainingMinutes,
	}
	if t.SLABreachedAt != nil {
		payload["sla_breached_at"] = t.SLABreachedAt.UTC().Format(time.RFC3339)
	}

	breach := &domain.NotificationEntry{
		TicketID: t.ID,
		Type:     domain.NotificationSLABreach,
		DedupKey: domain.DedupKeyFor(t.ID, domain.NotificationSLABreach, 0),
		Payload:  payload,
	}
	if err := s.enqueue(ctx, breach); err != nil {
		errs = append(errs, err)
	}

	if s.levels == nil {
		return errs
	}
	cfg, err := s.levels.Get(ctx, t.UnitID, t.EscalationLevel)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		s.logger.Warn("no escalation target configured",
			zap.String("ticket_id", t.ID),
			zap.String("unit_id", t.UnitID),
			zap.Int("level", t.EscalationLevel))
		return errs
	case err != nil:
		s.logger.Error("escalation level lookup failed", zap.String("ticket_id", t.ID), zap.Error(err))
		return append(errs, err)
	}

	levelPayload := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		levelPayload[k] = v
	}
	levelPayload["notify_target"] = cfg.NotifyTarget
	escalation := &domain.NotificationEntry{
		TicketID: t.ID,
		Type:     domain.NotificationEscalation,
		Target:   cfg.NotifyTarget,
		DedupKey: domain.DedupKeyFor(t.ID, domain.NotificationEscalation, t.EscalationLevel),
		Payload:  levelPayload,
	}
	if err := s.enqueue(ctx, escalation); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// warnHalf enqueues the half-SLA notification and then marks the ticket as
// warned. If the enqueue fails the ticket stays unwarned and the next sweep
// tries again.
func (s *EscalationService) warnHalf(ctx context.Context, t *domain.Ticket) (EscalationOutcome, error) {
	var outcome EscalationOutcome
	at := s.now()
	r := sla.ComputeRemaining(t, at)
	entry := &domain.NotificationEntry{
		TicketID: t.ID,
		Type:     domain.NotificationSLAHalf,
		DedupKey: domain.DedupKeyFor(t.ID, domain.NotificationSLAHalf, 0),
		Payload: map[string]any{
			"unit_id":           t.UnitID,
			"remaining_minutes": r.RemainingMinutes,
			"sla_total_minutes": t.SLATotalMinutes,
		},
	}
	if err := s.enqueue(ctx, entry); err != nil {
		outcome.NotifyErrors = append(outcome.NotifyErrors, err)
		return outcome, nil
	}

	before, after, changed, err := s.mutator.mutate(ctx, t.ID, func(cur *domain.Ticket) bool {
		if cur.SLAWarnedAt != nil || cur.Status.IsTerminal() {
			return false
		}
		warned := at
		cur.SLAWarnedAt = &warned
		return true
	})
	if err != nil {
		return outcome, err
	}
	if !changed {
		return outcome, nil
	}

	outcome.Warned = true
	s.metrics.HalfWarned()
	s.recordHistory(ctx, domain.ChangeTypeSLAWarning, before, after)
	s.publish(ctx, events.EventSLAHalfWarning, t.ID, at, events.HalfWarningPayload{
		Enqueued: true,
		Snapshot: sla.Snapshot(after, at),
	})
	return outcome, nil
}

// Renotify re-enqueues the notifications of an already escalated ticket. The
// dedup window still applies, so it only creates entries that are missing.
func (s *EscalationService) Renotify(ctx context.Context, ticketID string) (EscalationOutcome, error) {
	var outcome EscalationOutcome
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return outcome, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return outcome, apperrors.MapError(err)
	}
	if t.Status != domain.TicketStatusEscalated {
		return outcome, apperrors.NewConflict("ticket is not escalated", map[string]any{
			"ticket_id": ticketID,
			"status":    t.Status,
		})
	}
	outcome.NewLevel = t.EscalationLevel
	outcome.NotifyErrors = s.notifyEscalation(ctx, t, sla.ComputeRemaining(t, s.now()))
	return outcome, nil
}

// EscalationLevels lists the configured ladder of a unit.
func (s *EscalationService) EscalationLevels(ctx context.Context, unitID string) ([]domain.EscalationLevelConfig, error) {
	if s.levels == nil {
		return []domain.EscalationLevelConfig{}, nil
	}
	levels, err := s.levels.ListByUnit(ctx, unitID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if levels == nil {
		levels = []domain.EscalationLevelConfig{}
	}
	return levels, nil
}

func (s *EscalationService) enqueue(ctx context.Context, entry *domain.NotificationEntry) error {
	created, err := s.queue.Enqueue(ctx, entry, s.dedupWindow)
	if err != nil {
		s.logger.Error("enqueue notification failed",
			zap.String("ticket_id", entry.TicketID),
			zap.String("type", string(entry.Type)),
			zap.Error(err))
		return fmt.Errorf("enqueue %s for %s: %w", entry.Type, entry.TicketID, err)
	}
	s.metrics.NotificationEnqueued(string(entry.Type), created)
	if !created {
		s.logger.Debug("notification suppressed by dedup window",
			zap.String("ticket_id", entry.TicketID),
			zap.String("dedup_key", entry.DedupKey))
	}
	return nil
}

func (s *EscalationService) recordHistory(ctx context.Context, change domain.TicketChangeType, before, after *domain.Ticket) {
	if s.history == nil {
		return
	}
	entry := &domain.TicketHistory{
		TicketID:      after.ID,
		ChangedByType: domain.ActorTypeSystem,
		ChangeType:    change,
		OldValue:      slaState(before),
		NewValue:      slaState(after),
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("record history failed",
			zap.String("ticket_id", after.ID),
			zap.String("change_type", string(change)),
			zap.Error(err))
	}
}

func (s *EscalationService) publish(ctx context.Context, eventType events.EventType, ticketID string, at time.Time, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     events.SystemActor,
		Timestamp: at,
		Payload:   payload,
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed",
			zap.String("ticket_id", ticketID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
