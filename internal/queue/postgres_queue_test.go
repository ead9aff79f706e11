package queue

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/persistence"
)

// newPostgresQueue runs against a real database named by POSTGRES_TEST_DSN.
// The queue table is truncated before each test.
func newPostgresQueue(t *testing.T, opts Options) (*PostgresQueue, *testClock) {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, persistence.RunMigrations(ctx, pool, zap.NewNop()))
	_, err = pool.Exec(ctx, `TRUNCATE sla_notification_queue`)
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
	opts.Now = clock.Now
	return NewPostgresQueue(pool, opts), clock
}

func TestPostgresQueue_EnqueueDedupWithinWindow(t *testing.T) {
	ctx := context.Background()
	q, clock := newPostgresQueue(t, Options{})

	created, err := q.Enqueue(ctx, breach("t-1"), 2*time.Hour)
	require.NoError(t, err)
	assert.True(t, created)

	clock.Advance(10 * time.Minute)
	created, err = q.Enqueue(ctx, breach("t-1"), 2*time.Hour)
	require.NoError(t, err)
	assert.False(t, created, "second enqueue inside the window must be suppressed")

	clock.Advance(2 * time.Hour)
	created, err = q.Enqueue(ctx, breach("t-1"), 2*time.Hour)
	require.NoError(t, err)
	assert.True(t, created, "window elapsed")

	count, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestPostgresQueue_ConcurrentEnqueueKeepsOneEntry(t *testing.T) {
	ctx := context.Background()
	q, _ := newPostgresQueue(t, Options{})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := q.Enqueue(ctx, breach("t-1"), time.Hour)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	count, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestPostgresQueue_ConcurrentClaimsNeverOverlap(t *testing.T) {
	ctx := context.Background()
	q, _ := newPostgresQueue(t, Options{})

	const total = 200
	for i := 0; i < total; i++ {
		_, err := q.Enqueue(ctx, breach(fmt.Sprintf("t-%d", i)), time.Hour)
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := q.ClaimBatch(ctx, 7)
				if err != nil {
					t.Error(err)
					return
				}
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, e := range batch {
					seen[e.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "entry %s claimed more than once", id)
	}
	count, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPostgresQueue_RetriesThenFails(t *testing.T) {
	ctx := context.Background()
	q, clock := newPostgresQueue(t, Options{MaxAttempts: 3, BackoffInitial: time.Second, BackoffMax: 4 * time.Second})

	entry := breach("t-1")
	_, err := q.Enqueue(ctx, entry, time.Hour)
	require.NoError(t, err)

	expect := []domain.NotificationStatus{domain.NotificationPending, domain.NotificationPending, domain.NotificationFailed}
	for i, want := range expect {
		claimed, err := q.ClaimBatch(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "attempt %d", i)
		assert.Equal(t, i, claimed[0].Attempts)

		status, err := q.Complete(ctx, entry.ID, false, "webhook 502")
		require.NoError(t, err)
		assert.Equal(t, want, status)

		if want == domain.NotificationPending {
			again, err := q.ClaimBatch(ctx, 1)
			require.NoError(t, err)
			assert.Empty(t, again, "retry must wait for its backoff")
			clock.Advance(5 * time.Second)
		}
	}

	stored, err := q.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationFailed, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
	assert.Equal(t, "webhook 502", stored.LastError)

	failed, err := q.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, entry.ID, failed[0].ID)

	created, err := q.Enqueue(ctx, breach("t-1"), time.Hour)
	require.NoError(t, err)
	assert.True(t, created, "a failed entry releases its dedup key")
}

func TestPostgresQueue_SentEntryHoldsDedupKey(t *testing.T) {
	ctx := context.Background()
	q, _ := newPostgresQueue(t, Options{})

	entry := breach("t-1")
	_, err := q.Enqueue(ctx, entry, time.Hour)
	require.NoError(t, err)
	_, err = q.ClaimBatch(ctx, 1)
	require.NoError(t, err)

	status, err := q.Complete(ctx, entry.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationSent, status)

	_, err = q.Complete(ctx, entry.ID, true, "")
	assert.ErrorIs(t, err, ErrNotProcessing)

	created, err := q.Enqueue(ctx, breach("t-1"), time.Hour)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestPostgresQueue_UnknownIDs(t *testing.T) {
	ctx := context.Background()
	q, _ := newPostgresQueue(t, Options{})

	for _, id := range []string{"missing", uuid.NewString()} {
		_, err := q.Complete(ctx, id, true, "")
		assert.ErrorIs(t, err, ErrNotFound, id)
		_, err = q.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
}

func TestPostgresQueue_ReclaimStale(t *testing.T) {
	ctx := context.Background()
	q, clock := newPostgresQueue(t, Options{})

	entry := breach("t-1")
	_, err := q.Enqueue(ctx, entry, time.Hour)
	require.NoError(t, err)
	_, err = q.ClaimBatch(ctx, 1)
	require.NoError(t, err)

	n, err := q.ReclaimStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh claims stay put")

	clock.Advance(6 * time.Minute)
	n, err = q.ReclaimStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	claimed, err := q.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, entry.ID, claimed[0].ID)
	assert.Equal(t, 0, claimed[0].Attempts, "reclaim does not consume an attempt")
}
