package service

import (
	"context"
	"fmt"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/events"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// MessageDirection tells who wrote a ticket message.
type MessageDirection string

const (
	// MessageOutbound is an agent replying to the customer.
	MessageOutbound MessageDirection = "outbound"
	// MessageInbound is the customer writing to the helpdesk.
	MessageInbound MessageDirection = "inbound"
)

// ParseMessageDirection validates a wire value.
func ParseMessageDirection(v string) (MessageDirection, error) {
	switch MessageDirection(v) {
	case MessageOutbound, MessageInbound:
		return MessageDirection(v), nil
	}
	return "", fmt.Errorf("unknown message direction %q", v)
}

// MessageObserver turns message direction into the awaiting-reply pause flag.
// An outbound message leaves the ball with the customer; an inbound one hands
// it back to the helpdesk.
type MessageObserver struct {
	pause *PauseService
}

// NewMessageObserver constructs MessageObserver.
func NewMessageObserver(pause *PauseService) *MessageObserver {
	return &MessageObserver{pause: pause}
}

// ObserveMessage applies the awaiting-reply flag for a new message.
func (o *MessageObserver) ObserveMessage(ctx context.Context, ticketID string, direction MessageDirection, actor events.Actor) (*PauseResult, error) {
	switch direction {
	case MessageOutbound:
		return o.pause.SetPauseFlag(ctx, ticketID, domain.PauseReasonAwaitingReply, true, actor)
	case MessageInbound:
		return o.pause.SetPauseFlag(ctx, ticketID, domain.PauseReasonAwaitingReply, false, actor)
	}
	return nil, apperrors.NewValidationError("invalid message direction", map[string]any{"direction": direction})
}
