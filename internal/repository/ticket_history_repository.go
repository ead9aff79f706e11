package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// TicketHistoryRepository appends and reads the SLA audit trail.
type TicketHistoryRepository interface {
	Create(ctx context.Context, entry *domain.TicketHistory) error
	// ListByTicket returns the most recent limit entries, oldest first.
	ListByTicket(ctx context.Context, ticketID string, limit int) ([]domain.TicketHistory, error)
}

type ticketHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewTicketHistoryRepository builds the Postgres audit trail.
func NewTicketHistoryRepository(pool *pgxpool.Pool) TicketHistoryRepository {
	return &ticketHistoryRepository{pool: pool}
}

func (r *ticketHistoryRepository) Create(ctx context.Context, entry *domain.TicketHistory) error {
	const insert = `
        INSERT INTO ticket_history (ticket_id, changed_by_type, changed_by_id, change_type, old_value, new_value)
        VALUES ($1::uuid, $2, $3, $4, $5, $6)
        RETURNING id::text, created_at`
	row := r.pool.QueryRow(ctx, insert, entry.TicketID, entry.ChangedByType, entry.ChangedByID,
		entry.ChangeType, entry.OldValue, entry.NewValue)
	return row.Scan(&entry.ID, &entry.CreatedAt)
}

func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, ticketID string, limit int) ([]domain.TicketHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	if _, err := uuid.Parse(ticketID); err != nil {
		return []domain.TicketHistory{}, nil
	}
	const recent = `
        SELECT * FROM (
            SELECT id::text, ticket_id::text, changed_by_type, changed_by_id, change_type, old_value, new_value, created_at
            FROM ticket_history
            WHERE ticket_id = $1::uuid
            ORDER BY created_at DESC, id DESC
            LIMIT $2) latest
        ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, recent, ticketID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.TicketHistory, error) {
		var h domain.TicketHistory
		err := row.Scan(&h.ID, &h.TicketID, &h.ChangedByType, &h.ChangedByID,
			&h.ChangeType, &h.OldValue, &h.NewValue, &h.CreatedAt)
		return h, err
	})
}
