// Package queue implements the durable notification queue: deduplicated
// enqueue, exclusive batch claims, bounded retries and stale-claim recovery.
package queue

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/spec-kit/sla-engine/internal/domain"
)

var (
	// ErrNotFound is returned for unknown entry ids.
	ErrNotFound = errors.New("notification entry not found")
	// ErrNotProcessing is returned when completing an entry that is not claimed.
	ErrNotProcessing = errors.New("notification entry is not processing")
)

// Queue is the contract shared by the Redis and Postgres backends.
type Queue interface {
	// Enqueue stores entry as pending unless another entry with the same dedup key
	// was created within window and is still pending, processing or sent. It
	// reports whether a new entry was created. A zero window disables dedup.
	Enqueue(ctx context.Context, entry *domain.NotificationEntry, window time.Duration) (bool, error)
	// ClaimBatch atomically moves up to n due pending entries, oldest first, to
	// processing and returns them. No entry is ever returned to two callers.
	ClaimBatch(ctx context.Context, n int) ([]domain.NotificationEntry, error)
	// Complete finishes a processing entry. Success marks it sent; failure either
	// reschedules it as pending or, once attempts are exhausted, marks it failed.
	Complete(ctx context.Context, id string, success bool, deliveryErr string) (domain.NotificationStatus, error)
	// ReclaimStale returns processing entries claimed longer than timeout ago to pending.
	ReclaimStale(ctx context.Context, timeout time.Duration) (int, error)
	Get(ctx context.Context, id string) (*domain.NotificationEntry, error)
	ListFailed(ctx context.Context, limit int) ([]domain.NotificationEntry, error)
	PendingCount(ctx context.Context) (int64, error)
}

// Options configures retry behaviour common to both backends.
type Options struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// Now overrides the wall clock, for tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 30 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 10 * time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// nextStatus decides where a failed delivery goes after its attempt is counted.
func nextStatus(attempts, maxAttempts int) domain.NotificationStatus {
	if attempts+1 >= maxAttempts {
		return domain.NotificationFailed
	}
	return domain.NotificationPending
}

// backoffWithJitter returns a delay in [wait/2, wait) where wait doubles per attempt up to max.
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max || wait <= 0 {
		wait = max
	}
	half := int64(wait / 2)
	if half <= 0 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(half))
	return wait/2 + jitter
}

func prepareEntry(entry *domain.NotificationEntry, opts Options, newID func() string) {
	now := opts.Now()
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.DedupKey == "" {
		entry.DedupKey = domain.DedupKeyFor(entry.TicketID, entry.Type, 0)
	}
	if entry.MaxAttempts <= 0 {
		entry.MaxAttempts = opts.MaxAttempts
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.ScheduledAt.IsZero() {
		entry.ScheduledAt = now
	}
	if entry.Payload == nil {
		entry.Payload = map[string]any{}
	}
	entry.Status = domain.NotificationPending
	entry.Attempts = 0
}
