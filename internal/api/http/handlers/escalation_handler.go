package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/api/dto"
	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/service"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// EscalationRunner drives escalation on demand.
type EscalationRunner interface {
	Sweep(ctx context.Context) (service.EscalationResult, error)
	Renotify(ctx context.Context, ticketID string) (service.EscalationOutcome, error)
	EscalationLevels(ctx context.Context, unitID string) ([]domain.EscalationLevelConfig, error)
}

// NotificationAdmin exposes queue maintenance.
type NotificationAdmin interface {
	ListFailed(ctx context.Context, limit int) ([]domain.NotificationEntry, error)
	ReclaimStale(ctx context.Context) (int, error)
}

// EscalationHandler manages operator escalation and queue endpoints.
type EscalationHandler struct {
	escalation    EscalationRunner
	notifications NotificationAdmin
	logger        *zap.Logger
}

// NewEscalationHandler constructs handler.
func NewEscalationHandler(escalation EscalationRunner, notifications NotificationAdmin, logger *zap.Logger) *EscalationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationHandler{escalation: escalation, notifications: notifications, logger: logger}
}

// RunSweep POST /sla/sweeps/escalation.
func (h *EscalationHandler) RunSweep(c *fiber.Ctx) error {
	result, err := h.escalation.Sweep(c.UserContext())
	if err != nil {
		if result.Failed == 0 && result.NotifyErrors == 0 {
			return err
		}
		h.logger.Warn("manual escalation sweep finished with errors", zap.Error(err))
	}
	return c.JSON(fiber.Map{"data": result, "partial": err != nil})
}

// Renotify POST /sla/tickets/:id/escalation/notify.
func (h *EscalationHandler) Renotify(c *fiber.Ctx) error {
	ticketID := c.Params("id")
	outcome, err := h.escalation.Renotify(c.UserContext(), ticketID)
	if err != nil {
		return err
	}
	resp := dto.RenotifyResponse{
		TicketID:        ticketID,
		EscalationLevel: outcome.NewLevel,
		NotifyErrors:    make([]string, 0, len(outcome.NotifyErrors)),
	}
	for _, e := range outcome.NotifyErrors {
		resp.NotifyErrors = append(resp.NotifyErrors, e.Error())
	}
	return c.JSON(fiber.Map{"data": resp})
}

// Levels GET /sla/units/:unit/escalation-levels.
func (h *EscalationHandler) Levels(c *fiber.Ctx) error {
	levels, err := h.escalation.EscalationLevels(c.UserContext(), c.Params("unit"))
	if err != nil {
		return err
	}
	items := make([]dto.EscalationLevelResponse, 0, len(levels))
	for _, l := range levels {
		items = append(items, dto.EscalationLevelResponse{Level: l.Level, NotifyTarget: l.NotifyTarget})
	}
	return c.JSON(fiber.Map{"data": items})
}

// ListFailed GET /sla/notifications/failed.
func (h *EscalationHandler) ListFailed(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		return apperrors.NewValidationError("limit must be between 1 and 500", nil)
	}
	entries, err := h.notifications.ListFailed(c.UserContext(), limit)
	if err != nil {
		return err
	}
	items := make([]dto.NotificationEntryResponse, 0, len(entries))
	for i := range entries {
		items = append(items, notificationEntry(&entries[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Reclaim POST /sla/notifications/reclaim.
func (h *EscalationHandler) Reclaim(c *fiber.Ctx) error {
	n, err := h.notifications.ReclaimStale(c.UserContext())
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.ReclaimResponse{Reclaimed: n}})
}

func notificationEntry(e *domain.NotificationEntry) dto.NotificationEntryResponse {
	return dto.NotificationEntryResponse{
		ID:          e.ID,
		TicketID:    e.TicketID,
		Type:        e.Type,
		Status:      e.Status,
		Attempts:    e.Attempts,
		MaxAttempts: e.MaxAttempts,
		Target:      e.Target,
		LastError:   e.LastError,
		CreatedAt:   e.CreatedAt,
		ScheduledAt: e.ScheduledAt,
	}
}
