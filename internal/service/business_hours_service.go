package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/observability"
	"github.com/spec-kit/sla-engine/internal/repository"
	"github.com/spec-kit/sla-engine/internal/sla"
)

const defaultSweepBatchSize = 500

// BusinessHoursService keeps the outside-hours pause flag of every open ticket
// in line with the business calendar.
type BusinessHoursService struct {
	tickets   repository.TicketRepository
	calendar  sla.CalendarSource
	pause     *PauseService
	metrics   *observability.Metrics
	logger    *zap.Logger
	batchSize int
	now       func() time.Time
}

// BusinessHoursDependencies bundles collaborators for BusinessHoursService.
type BusinessHoursDependencies struct {
	TicketRepo repository.TicketRepository
	Calendar   sla.CalendarSource
	Pause      *PauseService
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	BatchSize  int
	Now        func() time.Time
}

// BusinessHoursResult summarises one sweep.
type BusinessHoursResult struct {
	BusinessHours bool
	Scanned       int
	Changed       int
	Failed        int
}

// NewBusinessHoursService constructs BusinessHoursService.
func NewBusinessHoursService(deps BusinessHoursDependencies) *BusinessHoursService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	return &BusinessHoursService{
		tickets:   deps.TicketRepo,
		calendar:  deps.Calendar,
		pause:     deps.Pause,
		metrics:   deps.Metrics,
		logger:    logger,
		batchSize: batch,
		now:       nowFunc(deps.Now),
	}
}

// Sweep evaluates the calendar once and flips the outside-hours flag on every
// open ticket whose flag disagrees with it. Tickets already in line are not
// written, so repeated sweeps are no-ops. A failing ticket is logged and the
// sweep moves on.
func (s *BusinessHoursService) Sweep(ctx context.Context) (BusinessHoursResult, error) {
	var result BusinessHoursResult
	cal, err := s.calendar.Calendar(ctx)
	if err != nil {
		return result, fmt.Errorf("load calendar: %w", err)
	}
	result.BusinessHours = cal.IsBusinessHours(s.now())
	wantOutside := !result.BusinessHours

	after := ""
	for {
		page, err := s.tickets.ListOpen(ctx, after, s.batchSize)
		if err != nil {
			return result, fmt.Errorf("list open tickets: %w", err)
		}
		for i := range page {
			t := &page[i]
			result.Scanned++
			if t.Flags.OutsideHours == wantOutside {
				continue
			}
			res, err := s.pause.SetPauseFlag(ctx, t.ID, domain.PauseReasonOutsideHours, wantOutside, events.SystemActor)
			if err != nil {
				result.Failed++
				s.logger.Warn("business hours flag update failed",
					zap.String("job", "business_hours"),
					zap.String("ticket_id", t.ID),
					zap.Error(err))
				continue
			}
			if res.Transition.Changed() {
				result.Changed++
			}
		}
		if len(page) < s.batchSize {
			break
		}
		after = page[len(page)-1].ID
	}

	s.metrics.SetOpenTickets(result.Scanned)
	s.logger.Debug("business hours sweep finished",
		zap.Bool("business_hours", result.BusinessHours),
		zap.Int("scanned", result.Scanned),
		zap.Int("changed", result.Changed),
		zap.Int("failed", result.Failed))
	if result.Failed > 0 {
		return result, fmt.Errorf("business hours sweep: %d of %d tickets failed", result.Failed, result.Scanned)
	}
	return result, nil
}
