package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// PostgresQueue stores entries in sla_notification_queue. Claims rely on
// FOR UPDATE SKIP LOCKED and dedup checks are serialized per key with an
// advisory transaction lock.
type PostgresQueue struct {
	pool *pgxpool.Pool
	opts Options
}

// NewPostgresQueue builds the table-backed queue.
func NewPostgresQueue(pool *pgxpool.Pool, opts Options) *PostgresQueue {
	return &PostgresQueue{pool: pool, opts: opts.withDefaults()}
}

const queueColumns = `id::text, ticket_id, type, status, attempts, max_attempts, target, dedup_key,
               last_error, payload, created_at, scheduled_at, claimed_at`

// Enqueue implements Queue.
func (q *PostgresQueue) Enqueue(ctx context.Context, entry *domain.NotificationEntry, window time.Duration) (bool, error) {
	prepareEntry(entry, q.opts, uuid.NewString)
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return false, fmt.Errorf("encode payload: %w", err)
	}

	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if window > 0 {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entry.DedupKey); err != nil {
			return false, err
		}
		const dupQuery = `
        SELECT EXISTS(
            SELECT 1 FROM sla_notification_queue
            WHERE dedup_key=$1 AND status IN ('pending','processing','sent') AND created_at > $2)`
		var exists bool
		if err := tx.QueryRow(ctx, dupQuery, entry.DedupKey, entry.CreatedAt.Add(-window)).Scan(&exists); err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}

	const insert = `
        INSERT INTO sla_notification_queue
            (id, ticket_id, type, status, attempts, max_attempts, target, dedup_key, payload, created_at, scheduled_at, updated_at)
        VALUES ($1::uuid,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$10)`
	if _, err := tx.Exec(ctx, insert,
		entry.ID,
		entry.TicketID,
		entry.Type,
		entry.Status,
		entry.Attempts,
		entry.MaxAttempts,
		entry.Target,
		entry.DedupKey,
		payload,
		entry.CreatedAt,
		entry.ScheduledAt,
	); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ClaimBatch implements Queue.
func (q *PostgresQueue) ClaimBatch(ctx context.Context, n int) ([]domain.NotificationEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	const query = `
        UPDATE sla_notification_queue SET status='processing', claimed_at=$1, updated_at=$1
        WHERE id IN (
            SELECT id FROM sla_notification_queue
            WHERE status='pending' AND scheduled_at <= $1
            ORDER BY scheduled_at, created_at
            LIMIT $2
            FOR UPDATE SKIP LOCKED)
        RETURNING ` + queueColumns
	rows, err := q.pool.Query(ctx, query, q.opts.Now(), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].ScheduledAt.Equal(entries[j].ScheduledAt) {
			return entries[i].ScheduledAt.Before(entries[j].ScheduledAt)
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// Complete implements Queue.
func (q *PostgresQueue) Complete(ctx context.Context, id string, success bool, deliveryErr string) (domain.NotificationStatus, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrNotFound
	}
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var (
		status      domain.NotificationStatus
		attempts    int
		maxAttempts int
	)
	const lock = `SELECT status, attempts, max_attempts FROM sla_notification_queue WHERE id=$1::uuid FOR UPDATE`
	if err := tx.QueryRow(ctx, lock, id).Scan(&status, &attempts, &maxAttempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	if status != domain.NotificationProcessing {
		return "", ErrNotProcessing
	}

	now := q.opts.Now()
	next := domain.NotificationSent
	switch {
	case success:
		_, err = tx.Exec(ctx, `UPDATE sla_notification_queue SET status='sent', updated_at=$2 WHERE id=$1::uuid`, id, now)
	default:
		next = nextStatus(attempts, maxAttempts)
		scheduled := now.Add(backoffWithJitter(q.opts.BackoffInitial, q.opts.BackoffMax, attempts+1))
		const retry = `
        UPDATE sla_notification_queue
        SET status=$2, attempts=attempts+1, last_error=$3, scheduled_at=CASE WHEN $2='pending' THEN $4 ELSE scheduled_at END, updated_at=$5
        WHERE id=$1::uuid`
		_, err = tx.Exec(ctx, retry, id, next, deliveryErr, scheduled, now)
	}
	if err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return next, nil
}

// ReclaimStale implements Queue.
func (q *PostgresQueue) ReclaimStale(ctx context.Context, timeout time.Duration) (int, error) {
	now := q.opts.Now()
	const query = `
        UPDATE sla_notification_queue SET status='pending', scheduled_at=$1, updated_at=$1
        WHERE status='processing' AND claimed_at <= $2`
	tag, err := q.pool.Exec(ctx, query, now, now.Add(-timeout))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Get implements Queue.
func (q *PostgresQueue) Get(ctx context.Context, id string) (*domain.NotificationEntry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	const query = `SELECT ` + queueColumns + ` FROM sla_notification_queue WHERE id=$1::uuid`
	entry, err := scanEntry(q.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListFailed implements Queue.
func (q *PostgresQueue) ListFailed(ctx context.Context, limit int) ([]domain.NotificationEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT ` + queueColumns + ` FROM sla_notification_queue WHERE status='failed' ORDER BY updated_at DESC LIMIT $1`
	rows, err := q.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// PendingCount implements Queue.
func (q *PostgresQueue) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := q.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sla_notification_queue WHERE status='pending'`).Scan(&n)
	return n, err
}

func scanEntry(row pgx.Row) (*domain.NotificationEntry, error) {
	var (
		entry   domain.NotificationEntry
		payload []byte
	)
	if err := row.Scan(
		&entry.ID,
		&entry.TicketID,
		&entry.Type,
		&entry.Status,
		&entry.Attempts,
		&entry.MaxAttempts,
		&entry.Target,
		&entry.DedupKey,
		&entry.LastError,
		&payload,
		&entry.CreatedAt,
		&entry.ScheduledAt,
		&entry.ClaimedAt,
	); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &entry.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", entry.ID, err)
		}
	}
	return &entry, nil
}

func scanEntries(rows pgx.Rows) ([]domain.NotificationEntry, error) {
	var result []domain.NotificationEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *entry)
	}
	return result, rows.Err()
}
