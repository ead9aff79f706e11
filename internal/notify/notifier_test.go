package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/domain"
)

func entry() domain.NotificationEntry {
	return domain.NotificationEntry{
		ID:       "n-1",
		TicketID: "t-1",
		Type:     domain.NotificationEscalation,
		Target:   "lead@unit-7",
		Attempts: 1,
		Payload:  map[string]any{"level": 2.0},
	}
}

func TestWebhookNotifier_Delivers(t *testing.T) {
	var got WebhookMessage
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("X-Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, zap.NewNop())
	require.NoError(t, n.Deliver(context.Background(), entry()))

	assert.Equal(t, "n-1", key)
	assert.Equal(t, "t-1", got.TicketID)
	assert.Equal(t, domain.NotificationEscalation, got.Type)
	assert.Equal(t, "lead@unit-7", got.Target)
	assert.Equal(t, 2, got.Attempt)
	assert.Equal(t, 2.0, got.Payload["level"])
}

func TestWebhookNotifier_ReportsFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, zap.NewNop())
	err := n.Deliver(context.Background(), entry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookNotifier_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := NewWebhookNotifier("http://127.0.0.1:1", time.Second, zap.NewNop())
	assert.ErrorIs(t, n.Deliver(ctx, entry()), context.Canceled)
}

func TestNew_PicksTransport(t *testing.T) {
	assert.IsType(t, &LogNotifier{}, New("", 0, zap.NewNop()))
	assert.IsType(t, &WebhookNotifier{}, New("http://hooks.local", 0, zap.NewNop()))
	assert.NoError(t, NewLogNotifier(zap.NewNop()).Deliver(context.Background(), entry()))
}
