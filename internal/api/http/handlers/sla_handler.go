package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sla-engine/internal/api/dto"
	"github.com/spec-kit/sla-engine/internal/auth"
	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/service"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// SnapshotReader serves read-only SLA state.
type SnapshotReader interface {
	Get(ctx context.Context, ticketID string) (domain.SLASnapshot, error)
	GetMany(ctx context.Context, ticketIDs []string) ([]domain.SLASnapshot, error)
	History(ctx context.Context, ticketID string, limit int) ([]domain.TicketHistory, error)
}

// PauseWriter sets pause flags.
type PauseWriter interface {
	SetPauseFlag(ctx context.Context, ticketID string, reason domain.PauseReason, active bool, actor events.Actor) (*service.PauseResult, error)
}

// MessageRecorder maps ticket messages to the awaiting-reply flag.
type MessageRecorder interface {
	ObserveMessage(ctx context.Context, ticketID string, direction service.MessageDirection, actor events.Actor) (*service.PauseResult, error)
}

// SLAHandler exposes ticket SLA state and pause control.
type SLAHandler struct {
	snapshots SnapshotReader
	pause     PauseWriter
	messages  MessageRecorder
}

// NewSLAHandler constructs handler.
func NewSLAHandler(snapshots SnapshotReader, pause PauseWriter, messages MessageRecorder) *SLAHandler {
	return &SLAHandler{snapshots: snapshots, pause: pause, messages: messages}
}

// GetSnapshot GET /sla/tickets/:id.
func (h *SLAHandler) GetSnapshot(c *fiber.Ctx) error {
	snapshot, err := h.snapshots.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": snapshot})
}

// ListSnapshots GET /sla/tickets?ids=a,b.
func (h *SLAHandler) ListSnapshots(c *fiber.Ctx) error {
	ids := parseIDs(c.Query("ids"))
	if len(ids) == 0 {
		return apperrors.NewValidationError("ids query parameter required", nil)
	}
	snapshots, err := h.snapshots.GetMany(c.UserContext(), ids)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": snapshots})
}

// History GET /sla/tickets/:id/history.
func (h *SLAHandler) History(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 500 {
		return apperrors.NewValidationError("limit must be between 1 and 500", nil)
	}
	entries, err := h.snapshots.History(c.UserContext(), c.Params("id"), limit)
	if err != nil {
		return err
	}
	items := make([]dto.HistoryEntryResponse, 0, len(entries))
	for i := range entries {
		items = append(items, historyEntry(&entries[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// SetPause PUT /sla/tickets/:id/pause.
func (h *SLAHandler) SetPause(c *fiber.Ctx) error {
	var req dto.SetPauseRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Active == nil {
		return apperrors.NewValidationError("active required", nil)
	}
	reason, err := domain.ParsePauseReason(req.Reason)
	if err != nil {
		return apperrors.NewValidationError(err.Error(), map[string]any{"reason": req.Reason})
	}
	if reason == domain.PauseReasonOutsideHours {
		return apperrors.NewValidationError("outside_hours is managed by the business hours job", nil)
	}

	result, err := h.pause.SetPauseFlag(c.UserContext(), c.Params("id"), reason, *req.Active, actorFromContext(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pauseResponse(result)})
}

// ObserveMessage POST /sla/tickets/:id/messages.
func (h *SLAHandler) ObserveMessage(c *fiber.Ctx) error {
	var req dto.ObserveMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	direction, err := service.ParseMessageDirection(req.Direction)
	if err != nil {
		return apperrors.NewValidationError(err.Error(), map[string]any{"direction": req.Direction})
	}
	result, err := h.messages.ObserveMessage(c.UserContext(), c.Params("id"), direction, actorFromContext(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pauseResponse(result)})
}

func parseIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func actorFromContext(c *fiber.Ctx) events.Actor {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return events.SystemActor
	}
	id := principal.SubjectID
	if principal.IsService() {
		return events.Actor{Type: domain.ActorTypeSystem, ID: &id}
	}
	return events.Actor{Type: domain.ActorTypeStaff, ID: &id}
}

func pauseResponse(result *service.PauseResult) dto.PauseResponse {
	return dto.PauseResponse{
		Transition: result.Transition.String(),
		Snapshot:   result.Snapshot,
	}
}

func historyEntry(h *domain.TicketHistory) dto.HistoryEntryResponse {
	return dto.HistoryEntryResponse{
		ID:            h.ID,
		ChangeType:    h.ChangeType,
		ChangedByType: h.ChangedByType,
		ChangedByID:   h.ChangedByID,
		OldValue:      h.OldValue,
		NewValue:      h.NewValue,
		CreatedAt:     h.CreatedAt,
	}
}
