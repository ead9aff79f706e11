package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/api/http/handlers"
	"github.com/spec-kit/sla-engine/internal/auth"
	"github.com/spec-kit/sla-engine/internal/config"
	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/observability"
	"github.com/spec-kit/sla-engine/internal/service"
	"github.com/spec-kit/sla-engine/internal/sla"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

var now = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type fakeSnapshots struct {
	mu       sync.Mutex
	lastMany []string
}

func (f *fakeSnapshots) Get(_ context.Context, id string) (domain.SLASnapshot, error) {
	if id == "missing" {
		return domain.SLASnapshot{}, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	return domain.SLASnapshot{TicketID: id, Status: domain.TicketStatusOpen, RemainingMinutes: 42, ComputedAt: now}, nil
}

func (f *fakeSnapshots) GetMany(_ context.Context, ids []string) ([]domain.SLASnapshot, error) {
	f.mu.Lock()
	f.lastMany = ids
	f.mu.Unlock()
	out := make([]domain.SLASnapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.SLASnapshot{TicketID: id, ComputedAt: now})
	}
	return out, nil
}

func (f *fakeSnapshots) History(_ context.Context, id string, _ int) ([]domain.TicketHistory, error) {
	return []domain.TicketHistory{{
		ID:            "h-1",
		TicketID:      id,
		ChangedByType: domain.ActorTypeSystem,
		ChangeType:    domain.ChangeTypeEscalation,
		NewValue:      map[string]any{"escalation_level": 1.0},
		CreatedAt:     now,
	}}, nil
}

type pauseCall struct {
	ticketID string
	reason   domain.PauseReason
	active   bool
	actor    events.Actor
}

type fakePause struct {
	mu    sync.Mutex
	calls []pauseCall
}

func (f *fakePause) SetPauseFlag(_ context.Context, id string, reason domain.PauseReason, active bool, actor events.Actor) (*service.PauseResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, pauseCall{ticketID: id, reason: reason, active: active, actor: actor})
	f.mu.Unlock()
	flags := domain.PauseFlags{}.With(reason, active)
	return &service.PauseResult{
		Transition: sla.PauseStarted,
		Snapshot:   domain.SLASnapshot{TicketID: id, IsPaused: flags.Any(), Flags: flags, PauseReason: flags.Primary(), ComputedAt: now},
	}, nil
}

type fakeMessages struct {
	direction service.MessageDirection
}

func (f *fakeMessages) ObserveMessage(_ context.Context, id string, direction service.MessageDirection, _ events.Actor) (*service.PauseResult, error) {
	f.direction = direction
	return &service.PauseResult{Transition: sla.PauseEnded, Snapshot: domain.SLASnapshot{TicketID: id, ComputedAt: now}}, nil
}

type fakeEscalation struct {
	sweepErr error
	result   service.EscalationResult
}

func (f *fakeEscalation) Sweep(context.Context) (service.EscalationResult, error) {
	return f.result, f.sweepErr
}

func (f *fakeEscalation) Renotify(_ context.Context, id string) (service.EscalationOutcome, error) {
	if id == "open-ticket" {
		return service.EscalationOutcome{}, apperrors.NewConflict("ticket is not escalated", nil)
	}
	return service.EscalationOutcome{NewLevel: 2, NotifyErrors: []error{errors.New("queue down")}}, nil
}

func (f *fakeEscalation) EscalationLevels(_ context.Context, unit string) ([]domain.EscalationLevelConfig, error) {
	return []domain.EscalationLevelConfig{
		{UnitID: unit, Level: 1, NotifyTarget: "lead@example.com"},
		{UnitID: unit, Level: 2, NotifyTarget: "manager@example.com"},
	}, nil
}

type fakeNotifications struct{}

func (fakeNotifications) ListFailed(context.Context, int) ([]domain.NotificationEntry, error) {
	return []domain.NotificationEntry{{ID: "n-1", TicketID: "t-1", Type: domain.NotificationSLABreach, Status: domain.NotificationFailed, Attempts: 3, MaxAttempts: 3, LastError: "webhook 502"}}, nil
}

func (fakeNotifications) ReclaimStale(context.Context) (int, error) { return 4, nil }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type testServer struct {
	app        *fiber.App
	tokens     *auth.TokenManager
	snapshots  *fakeSnapshots
	pause      *fakePause
	messages   *fakeMessages
	escalation *fakeEscalation
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		tokens:     auth.NewTokenManager(config.AuthConfig{JWTSecret: "test-secret", TokenTTLMinutes: 5}),
		snapshots:  &fakeSnapshots{},
		pause:      &fakePause{},
		messages:   &fakeMessages{},
		escalation: &fakeEscalation{},
	}
	metrics := observability.NewMetrics()
	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), metrics, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health: handlers.NewHealthHandler("sla-engine", "test", map[string]handlers.Pinger{
			"postgres": fakePinger{},
			"redis":    fakePinger{err: errors.New("connection refused")},
		}),
		SLA:            handlers.NewSLAHandler(ts.snapshots, ts.pause, ts.messages),
		Escalation:     handlers.NewEscalationHandler(ts.escalation, fakeNotifications{}, zap.NewNop()),
		AuthMiddleware: auth.NewAuthMiddleware(ts.tokens),
		Metrics:        metrics,
	})
	ts.app = app
	return ts
}

func (ts *testServer) token(t *testing.T, role domain.StaffRole) string {
	t.Helper()
	tok, _, err := ts.tokens.GenerateToken("staff-"+strings.ToLower(string(role)), domain.SubjectTypeStaff, &role)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	}
	return resp.StatusCode, decoded
}

func errorCode(body map[string]any) string {
	errObj, _ := body["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func TestSnapshotRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, fiber.MethodGet, "/sla/tickets/t-1", "", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	status, body = ts.do(t, fiber.MethodGet, "/sla/tickets/t-1", "not-a-jwt", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))
}

func TestGetSnapshot(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, domain.StaffRoleAgent)

	status, body := ts.do(t, fiber.MethodGet, "/sla/tickets/t-1", token, "")
	require.Equal(t, fiber.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, "t-1", data["ticket_id"])
	assert.Equal(t, 42.0, data["remaining_minutes"])

	status, body = ts.do(t, fiber.MethodGet, "/sla/tickets/missing", token, "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestListSnapshotsParsesIDs(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, domain.StaffRoleAgent)

	status, body := ts.do(t, fiber.MethodGet, "/sla/tickets?ids=t-1,%20t-2,,t-1", token, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"], 2)
	assert.Equal(t, []string{"t-1", "t-2"}, ts.snapshots.lastMany)

	status, body = ts.do(t, fiber.MethodGet, "/sla/tickets", token, "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
}

func TestServiceTokenCanReadSnapshots(t *testing.T) {
	ts := newTestServer(t)
	tok, _, err := ts.tokens.GenerateToken("slawatch", domain.SubjectTypeService, nil)
	require.NoError(t, err)

	status, _ := ts.do(t, fiber.MethodGet, "/sla/tickets?ids=t-1", tok, "")
	assert.Equal(t, fiber.StatusOK, status)

	status, body := ts.do(t, fiber.MethodPost, "/sla/sweeps/escalation", tok, "")
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(body))
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, domain.StaffRoleAgent)

	status, body := ts.do(t, fiber.MethodGet, "/sla/tickets/t-1/history", token, "")
	require.Equal(t, fiber.StatusOK, status)
	items := body["data"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, string(domain.ChangeTypeEscalation), items[0].(map[string]any)["change_type"])

	status, _ = ts.do(t, fiber.MethodGet, "/sla/tickets/t-1/history?limit=0", token, "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestSetPause(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, domain.StaffRoleAgent)

	status, body := ts.do(t, fiber.MethodPut, "/sla/tickets/t-1/pause", token, `{"reason":"manual","active":true}`)
	require.Equal(t, fiber.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, "started", data["transition"])
	snapshot := data["snapshot"].(map[string]any)
	assert.Equal(t, true, snapshot["is_paused"])
	assert.Equal(t, "manual", snapshot["pause_reason"])

	require.Len(t, ts.pause.calls, 1)
	call := ts.pause.calls[0]
	assert.Equal(t, "t-1", call.ticketID)
	assert.Equal(t, domain.PauseReasonManual, call.reason)
	assert.True(t, call.active)
	assert.Equal(t, domain.ActorTypeStaff, call.actor.Type)
	require.NotNil(t, call.actor.ID)
	assert.Equal(t, "staff-agent", *call.actor.ID)
}

func TestSetPauseValidation(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, domain.StaffRoleAgent)

	cases := map[string]string{
		"outside hours is job owned": `{"reason":"outside_hours","active":true}`,
		"unknown reason":             `{"reason":"lunch","active":true}`,
		"missing active":             `{"reason":"manual"}`,
		"malformed":                  `{"reason":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			status, resp := ts.do(t, fiber.MethodPut, "/sla/tickets/t-1/pause", token, body)
			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.Equal(t, "VALIDATION_FAILED", errorCode(resp))
		})
	}
	assert.Empty(t, ts.pause.calls)
}

func TestObserveMessage(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, domain.StaffRoleAgent)

	status, body := ts.do(t, fiber.MethodPost, "/sla/tickets/t-1/messages", token, `{"direction":"inbound"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, service.MessageInbound, ts.messages.direction)
	assert.Equal(t, "ended", body["data"].(map[string]any)["transition"])

	status, _ = ts.do(t, fiber.MethodPost, "/sla/tickets/t-1/messages", token, `{"direction":"sideways"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestEscalationSweepRoles(t *testing.T) {
	ts := newTestServer(t)
	ts.escalation.result = service.EscalationResult{Scanned: 3, Escalated: 1}

	status, body := ts.do(t, fiber.MethodPost, "/sla/sweeps/escalation", ts.token(t, domain.StaffRoleAgent), "")
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	status, body = ts.do(t, fiber.MethodPost, "/sla/sweeps/escalation", ts.token(t, domain.StaffRoleAdmin), "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["partial"])
	assert.Equal(t, 1.0, body["data"].(map[string]any)["escalated"])
}

func TestEscalationSweepPartialAndFatal(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, domain.StaffRoleTeamLead)

	ts.escalation.result = service.EscalationResult{Scanned: 2, Failed: 1}
	ts.escalation.sweepErr = errors.New("1 ticket failed")
	status, body := ts.do(t, fiber.MethodPost, "/sla/sweeps/escalation", token, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["partial"])

	ts.escalation.result = service.EscalationResult{}
	ts.escalation.sweepErr = errors.New("list open tickets: connection reset")
	status, body = ts.do(t, fiber.MethodPost, "/sla/sweeps/escalation", token, "")
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(body))
}

func TestRenotify(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, domain.StaffRoleTeamLead)

	status, body := ts.do(t, fiber.MethodPost, "/sla/tickets/t-9/escalation/notify", token, "")
	require.Equal(t, fiber.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, 2.0, data["escalation_level"])
	assert.Equal(t, []any{"queue down"}, data["notify_errors"])

	status, body = ts.do(t, fiber.MethodPost, "/sla/tickets/open-ticket/escalation/notify", token, "")
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "CONFLICT", errorCode(body))
}

func TestEscalationLevels(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, fiber.MethodGet, "/sla/units/unit-7/escalation-levels", ts.token(t, domain.StaffRoleAgent), "")
	require.Equal(t, fiber.StatusOK, status)
	items := body["data"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "manager@example.com", items[1].(map[string]any)["notify_target"])
}

func TestNotificationAdmin(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, domain.StaffRoleAdmin)

	status, body := ts.do(t, fiber.MethodGet, "/sla/notifications/failed?limit=10", token, "")
	require.Equal(t, fiber.StatusOK, status)
	items := body["data"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "webhook 502", items[0].(map[string]any)["last_error"])

	status, _ = ts.do(t, fiber.MethodGet, "/sla/notifications/failed?limit=1000", token, "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = ts.do(t, fiber.MethodPost, "/sla/notifications/reclaim", token, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, 4.0, body["data"].(map[string]any)["reclaimed"])
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, fiber.MethodGet, "/health/live", "", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "alive", body["status"])

	status, body = ts.do(t, fiber.MethodGet, "/health/ready", "", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, "ok", details["postgres"])
	assert.Equal(t, "connection refused", details["redis"])

	status, _ = ts.do(t, fiber.MethodGet, "/metrics", "", "")
	assert.Equal(t, fiber.StatusOK, status)
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.app.Test(httptest.NewRequest(fiber.MethodGet, "/health/live", nil), -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))

	req := httptest.NewRequest(fiber.MethodGet, "/health/live", nil)
	req.Header.Set(fiber.HeaderXRequestID, "req-42")
	resp, err = ts.app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get(fiber.HeaderXRequestID))
}
