package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/queue"
	"github.com/spec-kit/sla-engine/internal/repository"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock { return &fakeClock{now: at} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(at time.Time) {
	c.mu.Lock()
	c.now = at
	c.mu.Unlock()
}

type fakeTicketRepo struct {
	mu        sync.Mutex
	tickets   map[string]*domain.Ticket
	updates   int
	conflicts int
	listErr   error
	// afterGet runs once, after the next GetByID, outside the lock. It stands in
	// for the helpdesk changing a ticket between our read and our write.
	afterGet func()
}

func newFakeTicketRepo(tickets ...*domain.Ticket) *fakeTicketRepo {
	r := &fakeTicketRepo{tickets: make(map[string]*domain.Ticket)}
	for _, t := range tickets {
		if t.Version == 0 {
			t.Version = 1
		}
		r.tickets[t.ID] = t.Clone()
	}
	return r
}

func (r *fakeTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	t, ok := r.tickets[id]
	hook := r.afterGet
	r.afterGet = nil
	if !ok {
		r.mu.Unlock()
		return nil, pgx.ErrNoRows
	}
	out := t.Clone()
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

// setStatus changes status the way the helpdesk does: without touching version.
func (r *fakeTicketRepo) setStatus(id string, status domain.TicketStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickets[id].Status = status
}

func (r *fakeTicketRepo) GetMany(_ context.Context, ids []string) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Ticket
	for _, id := range ids {
		if t, ok := r.tickets[id]; ok {
			out = append(out, *t.Clone())
		}
	}
	return out, nil
}

func (r *fakeTicketRepo) ListOpen(_ context.Context, afterID string, limit int) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	ids := make([]string, 0, len(r.tickets))
	for id, t := range r.tickets {
		if t.Status != domain.TicketStatusResolved && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]domain.Ticket, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.tickets[id].Clone())
	}
	return out, nil
}

func (r *fakeTicketRepo) UpdateSLA(_ context.Context, t *domain.Ticket) error {
	return r.cas(t, func(stored *domain.Ticket) bool {
		return stored.Status != domain.TicketStatusResolved
	}, func(stored *domain.Ticket) {
		status := stored.Status
		*stored = *t.Clone()
		stored.Status = status
	})
}

func (r *fakeTicketRepo) Escalate(_ context.Context, t *domain.Ticket) error {
	return r.cas(t, func(stored *domain.Ticket) bool {
		return stored.Status != domain.TicketStatusResolved && stored.Status != domain.TicketStatusEscalated
	}, func(stored *domain.Ticket) {
		stored.Status = domain.TicketStatusEscalated
		stored.EscalationLevel = t.EscalationLevel
		stored.SLABreachedAt = t.SLABreachedAt
	})
}

func (r *fakeTicketRepo) cas(t *domain.Ticket, guard func(*domain.Ticket) bool, apply func(*domain.Ticket)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[t.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if r.conflicts > 0 {
		r.conflicts--
		stored.Version++
		return repository.ErrVersionConflict
	}
	if stored.Version != t.Version || !guard(stored) {
		return repository.ErrVersionConflict
	}
	apply(stored)
	stored.Version = t.Version + 1
	t.Version = stored.Version
	t.Status = stored.Status
	r.updates++
	return nil
}

func (r *fakeTicketRepo) get(id string) *domain.Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tickets[id].Clone()
}

func (r *fakeTicketRepo) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

type fakeHistoryRepo struct {
	mu      sync.Mutex
	entries []domain.TicketHistory
	err     error
}

func (r *fakeHistoryRepo) Create(_ context.Context, h *domain.TicketHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	h.ID = "h-" + h.TicketID
	r.entries = append(r.entries, *h)
	return nil
}

func (r *fakeHistoryRepo) ListByTicket(_ context.Context, ticketID string, _ int) ([]domain.TicketHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TicketHistory
	for _, h := range r.entries {
		if h.TicketID == ticketID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *fakeHistoryRepo) byType(change domain.TicketChangeType) []domain.TicketHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TicketHistory
	for _, h := range r.entries {
		if h.ChangeType == change {
			out = append(out, h)
		}
	}
	return out
}

type fakeLevelRepo struct {
	targets map[string]map[int]string
	err     error
}

func (r *fakeLevelRepo) Get(_ context.Context, unitID string, level int) (*domain.EscalationLevelConfig, error) {
	if r.err != nil {
		return nil, r.err
	}
	target, ok := r.targets[unitID][level]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &domain.EscalationLevelConfig{UnitID: unitID, Level: level, NotifyTarget: target}, nil
}

func (r *fakeLevelRepo) ListByUnit(_ context.Context, unitID string) ([]domain.EscalationLevelConfig, error) {
	var out []domain.EscalationLevelConfig
	for level, target := range r.targets[unitID] {
		out = append(out, domain.EscalationLevelConfig{UnitID: unitID, Level: level, NotifyTarget: target})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

// failingQueue wraps a real queue and fails enqueues of selected types.
type failingQueue struct {
	queue.Queue
	failTypes map[domain.NotificationType]bool
	err       error
}

func (q *failingQueue) Enqueue(ctx context.Context, e *domain.NotificationEntry, window time.Duration) (bool, error) {
	if q.failTypes[e.Type] {
		return false, q.err
	}
	return q.Queue.Enqueue(ctx, e, window)
}

func newRedisQueue(t *testing.T, clock *fakeClock) (*queue.RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return queue.NewRedisQueue(client, "svc", queue.Options{
		MaxAttempts:    3,
		BackoffInitial: time.Second,
		BackoffMax:     time.Minute,
		Now:            clock.Now,
	}), mr
}

func openTicket(id string, total int, openedAt time.Time) *domain.Ticket {
	return &domain.Ticket{
		ID:              id,
		UnitID:          "unit-1",
		Status:          domain.TicketStatusOpen,
		SLATotalMinutes: total,
		OpenedAt:        openedAt,
		Version:         1,
	}
}

func claimAll(t *testing.T, q queue.Queue) []domain.NotificationEntry {
	t.Helper()
	entries, err := q.ClaimBatch(context.Background(), 100)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	return entries
}
