// Package notify delivers claimed notification entries to the outside world.
// The transport is a black box that either delivers or reports failure.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// Notifier delivers one entry. A nil error means delivered.
type Notifier interface {
	Deliver(ctx context.Context, entry domain.NotificationEntry) error
}

// WebhookMessage is the JSON body posted to the webhook.
type WebhookMessage struct {
	ID        string                  `json:"id"`
	TicketID  string                  `json:"ticket_id"`
	Type      domain.NotificationType `json:"type"`
	Target    string                  `json:"target,omitempty"`
	Attempt   int                     `json:"attempt"`
	CreatedAt time.Time               `json:"created_at"`
	Payload   map[string]any          `json:"payload"`
}

// WebhookNotifier posts entries to an HTTP endpoint using the fiber client.
type WebhookNotifier struct {
	url     string
	timeout time.Duration
	logger  *zap.Logger
}

// NewWebhookNotifier builds the notifier.
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{url: url, timeout: timeout, logger: logger}
}

// Deliver implements Notifier.
func (n *WebhookNotifier) Deliver(ctx context.Context, entry domain.NotificationEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := n.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	a := fiber.Post(n.url)
	a.Timeout(timeout)
	a.Set("X-Idempotency-Key", entry.ID)
	a.JSON(WebhookMessage{
		ID:        entry.ID,
		TicketID:  entry.TicketID,
		Type:      entry.Type,
		Target:    entry.Target,
		Attempt:   entry.Attempts + 1,
		CreatedAt: entry.CreatedAt,
		Payload:   entry.Payload,
	})
	if err := a.Parse(); err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("webhook request: %w", errs[0])
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		return fmt.Errorf("webhook returned %d: %s", code, truncate(body, 200))
	}
	n.logger.Debug("notification delivered",
		zap.String("notification_id", entry.ID),
		zap.String("ticket_id", entry.TicketID),
		zap.Int("status", code))
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

// LogNotifier only logs entries. Used when no webhook is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds the notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Deliver implements Notifier.
func (n *LogNotifier) Deliver(_ context.Context, entry domain.NotificationEntry) error {
	n.logger.Info("sla notification",
		zap.String("notification_id", entry.ID),
		zap.String("ticket_id", entry.TicketID),
		zap.String("type", string(entry.Type)),
		zap.String("target", entry.Target),
		zap.Any("payload", entry.Payload))
	return nil
}

// New picks the webhook notifier when a URL is configured.
func New(webhookURL string, timeout time.Duration, logger *zap.Logger) Notifier {
	if webhookURL == "" {
		return NewLogNotifier(logger)
	}
	return NewWebhookNotifier(webhookURL, timeout, logger)
}
