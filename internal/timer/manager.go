// Package timer is the client-side countdown scheduler. One ticker drives the
// displayed countdown of every registered ticket; periodic resyncs replace the
// local value with the server's computed snapshot.
package timer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// State is what a registered ticket currently displays.
type State struct {
	TicketID        string
	Status          domain.TicketStatus
	Remaining       time.Duration
	Paused          bool
	PauseReason     domain.PauseReason
	Overdue         bool
	EscalationLevel int
	SyncedAt        time.Time
}

// TickFunc receives the displayed state after every tick or resync.
type TickFunc func(State)

// ExpiredFunc is called once when a ticket is first seen overdue.
type ExpiredFunc func(State)

// Fetcher loads authoritative snapshots for a set of tickets.
type Fetcher interface {
	Fetch(ctx context.Context, ticketIDs []string) ([]domain.SLASnapshot, error)
}

// Options configures a Manager.
type Options struct {
	TickInterval   time.Duration
	ResyncInterval time.Duration
	Logger         *zap.Logger
}

type entry struct {
	gen       uint64
	state     State
	onTick    TickFunc
	onExpired ExpiredFunc
	expired   bool
}

type fetchResult struct {
	gens      map[string]uint64
	snapshots []domain.SLASnapshot
	err       error
}

// Manager owns the registry of displayed tickets. Register, Unregister and
// Apply are safe from any goroutine; callbacks run on the Run goroutine.
type Manager struct {
	mu       sync.Mutex
	entries  map[string]*entry
	nextGen  uint64
	inFlight bool

	fetcher Fetcher
	tick    time.Duration
	resync  time.Duration
	logger  *zap.Logger

	results chan fetchResult
	updates chan domain.SLASnapshot
}

// NewManager builds a manager. fetcher may be nil when snapshots only arrive
// through Apply.
func NewManager(fetcher Fetcher, opts Options) *Manager {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.ResyncInterval <= 0 {
		opts.ResyncInterval = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		entries: make(map[string]*entry),
		fetcher: fetcher,
		tick:    opts.TickInterval,
		resync:  opts.ResyncInterval,
		logger:  opts.Logger,
		results: make(chan fetchResult, 1),
		updates: make(chan domain.SLASnapshot, 256),
	}
}

// Register starts displaying a ticket from snapshot. Registering an id again
// replaces the previous registration.
func (m *Manager) Register(snapshot domain.SLASnapshot, onTick TickFunc, onExpired ExpiredFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextGen++
	m.entries[snapshot.TicketID] = &entry{
		gen:       m.nextGen,
		state:     stateFrom(snapshot),
		onTick:    onTick,
		onExpired: onExpired,
	}
}

// Unregister stops displaying a ticket. Safe to call at any time, including
// while a resync for it is in flight.
func (m *Manager) Unregister(ticketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, ticketID)
}

// Registered returns the ids currently displayed.
func (m *Manager) Registered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids
}

// State returns the displayed state of a ticket.
func (m *Manager) State(ticketID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[ticketID]
	if !ok {
		return State{}, false
	}
	return e.state, true
}

// Apply queues a pushed snapshot for the Run loop. When the queue is full the
// update is dropped; the next resync converges anyway.
func (m *Manager) Apply(snapshot domain.SLASnapshot) bool {
	select {
	case m.updates <- snapshot:
		return true
	default:
		m.logger.Debug("dropping pushed snapshot", zap.String("ticket_id", snapshot.TicketID))
		return false
	}
}

// Run drives ticks, resyncs and pushed updates until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	resync := time.NewTicker(m.resync)
	defer resync.Stop()

	m.startResync(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.advance(m.tick)
		case <-resync.C:
			m.startResync(ctx)
		case res := <-m.results:
			m.applyResults(res)
		case snap := <-m.updates:
			m.applySnapshots(nil, []domain.SLASnapshot{snap})
		}
	}
}

// advance moves every running countdown down by d. Paused tickets stay frozen.
func (m *Manager) advance(d time.Duration) {
	var calls []func()
	m.mu.Lock()
	for _, e := range m.entries {
		if !e.state.Paused {
			e.state.Remaining -= d
			if e.state.Remaining <= 0 {
				e.state.Overdue = true
			}
		}
		calls = m.collect(calls, e)
	}
	m.mu.Unlock()
	run(calls)
}

// startResync launches one fetch for all registered tickets unless one is
// already running. The fetch result is handed back to the Run loop.
func (m *Manager) startResync(ctx context.Context) {
	if m.fetcher == nil {
		return
	}
	m.mu.Lock()
	if m.inFlight || len(m.entries) == 0 {
		m.mu.Unlock()
		return
	}
	gens := make(map[string]uint64, len(m.entries))
	ids := make([]string, 0, len(m.entries))
	for id, e := range m.entries {
		gens[id] = e.gen
		ids = append(ids, id)
	}
	m.inFlight = true
	m.mu.Unlock()

	go func() {
		snapshots, err := m.fetcher.Fetch(ctx, ids)
		select {
		case m.results <- fetchResult{gens: gens, snapshots: snapshots, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (m *Manager) applyResults(res fetchResult) {
	m.mu.Lock()
	m.inFlight = false
	m.mu.Unlock()
	if res.err != nil {
		m.logger.Warn("timer resync failed", zap.Error(res.err))
		return
	}
	m.applySnapshots(res.gens, res.snapshots)
}

// applySnapshots re-bases registered entries. With gens set, an entry is only
// updated if it is still the registration the fetch was started for. A snapshot
// computed before the one already displayed is stale and skipped.
func (m *Manager) applySnapshots(gens map[string]uint64, snapshots []domain.SLASnapshot) {
	var calls []func()
	m.mu.Lock()
	for _, snap := range snapshots {
		e, ok := m.entries[snap.TicketID]
		if !ok {
			continue
		}
		if gens != nil && gens[snap.TicketID] != e.gen {
			continue
		}
		if snap.ComputedAt.Before(e.state.SyncedAt) {
			continue
		}
		e.state = stateFrom(snap)
		if !e.state.Overdue {
			e.expired = false
		}
		calls = m.collect(calls, e)
	}
	m.mu.Unlock()
	run(calls)
}

// collect queues the callbacks due for e. Called with m.mu held.
func (m *Manager) collect(calls []func(), e *entry) []func() {
	state := e.state
	if e.onTick != nil {
		onTick := e.onTick
		calls = append(calls, func() { onTick(state) })
	}
	if state.Overdue && !state.Paused && !e.expired {
		e.expired = true
		if e.onExpired != nil {
			onExpired := e.onExpired
			calls = append(calls, func() { onExpired(state) })
		}
	}
	return calls
}

func run(calls []func()) {
	for _, call := range calls {
		call()
	}
}

func stateFrom(s domain.SLASnapshot) State {
	reason := domain.PauseReason("")
	if s.IsPaused {
		reason = s.Flags.Primary()
		if reason == "" {
			reason = s.PauseReason
		}
	}
	return State{
		TicketID:        s.TicketID,
		Status:          s.Status,
		Remaining:       s.Remaining(),
		Paused:          s.IsPaused,
		PauseReason:     reason,
		Overdue:         s.IsOverdue && !s.IsPaused,
		EscalationLevel: s.EscalationLevel,
		SyncedAt:        s.ComputedAt,
	}
}
