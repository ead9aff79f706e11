package service

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/repository"
	"github.com/spec-kit/sla-engine/internal/sla"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// MaxSnapshotBatch bounds GetMany.
const MaxSnapshotBatch = domain.MaxSnapshotBatch

// SnapshotService answers read-only SLA queries.
type SnapshotService struct {
	tickets repository.TicketRepository
	history repository.TicketHistoryRepository
	now     func() time.Time
}

// SnapshotDependencies bundles collaborators for SnapshotService.
type SnapshotDependencies struct {
	TicketRepo  repository.TicketRepository
	HistoryRepo repository.TicketHistoryRepository
	Now         func() time.Time
}

// NewSnapshotService constructs SnapshotService.
func NewSnapshotService(deps SnapshotDependencies) *SnapshotService {
	return &SnapshotService{tickets: deps.TicketRepo, history: deps.HistoryRepo, now: nowFunc(deps.Now)}
}

// Get computes the snapshot of one ticket.
func (s *SnapshotService) Get(ctx context.Context, ticketID string) (domain.SLASnapshot, error) {
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SLASnapshot{}, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return domain.SLASnapshot{}, apperrors.MapError(err)
	}
	return sla.Snapshot(t, s.now()), nil
}

// GetMany computes snapshots for the known ids. Unknown ids are omitted.
func (s *SnapshotService) GetMany(ctx context.Context, ticketIDs []string) ([]domain.SLASnapshot, error) {
	if len(ticketIDs) > MaxSnapshotBatch {
		return nil, apperrors.NewValidationError("too many ticket ids", map[string]any{"max": MaxSnapshotBatch})
	}
	tickets, err := s.tickets.GetMany(ctx, ticketIDs)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	now := s.now()
	result := make([]domain.SLASnapshot, 0, len(tickets))
	for i := range tickets {
		result = append(result, sla.Snapshot(&tickets[i], now))
	}
	return result, nil
}

// History returns the SLA audit trail of a ticket.
func (s *SnapshotService) History(ctx context.Context, ticketID string, limit int) ([]domain.TicketHistory, error) {
	if s.history == nil {
		return []domain.TicketHistory{}, nil
	}
	entries, err := s.history.ListByTicket(ctx, ticketID, limit)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if entries == nil {
		entries = []domain.TicketHistory{}
	}
	return entries, nil
}
