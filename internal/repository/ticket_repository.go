package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// ErrVersionConflict is returned when a compare-and-set update lost a race
// against another writer of the same ticket.
var ErrVersionConflict = errors.New("ticket version conflict")

// TicketRepository reads tickets and persists their SLA fields. Ticket creation,
// status changes other than escalation and the non-SLA columns belong to the
// surrounding helpdesk, which does not bump version; every write is therefore
// also guarded on the status it may act on.
type TicketRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetMany(ctx context.Context, ids []string) ([]domain.Ticket, error)
	// ListOpen pages through non-resolved tickets ordered by id, starting after afterID.
	ListOpen(ctx context.Context, afterID string, limit int) ([]domain.Ticket, error)
	// UpdateSLA writes pause, warning, level and breach fields, never status,
	// if the stored version still equals ticket.Version and the ticket is not
	// resolved. On success ticket.Version is advanced.
	UpdateSLA(ctx context.Context, ticket *domain.Ticket) error
	// Escalate moves the ticket to escalated with its new level and breach time,
	// if the version matches and the stored status is neither resolved nor
	// escalated.
	Escalate(ctx context.Context, ticket *domain.Ticket) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id::text, unit_id, status, sla_total_minutes, opened_at, paused_total_minutes,
               pause_manual, pause_awaiting_reply, pause_outside_hours, last_pause_started_at,
               escalation_level, sla_breached_at, sla_warned_at, version, updated_at`

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, pgx.ErrNoRows
	}
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1::uuid`
	return scanTicket(r.pool.QueryRow(ctx, query, id))
}

func (r *ticketRepository) GetMany(ctx context.Context, ids []string) ([]domain.Ticket, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return []domain.Ticket{}, nil
	}
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE id = ANY($1::uuid[]) ORDER BY id`
	rows, err := r.pool.Query(ctx, query, valid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListOpen(ctx context.Context, afterID string, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 500
	}
	var after any
	if afterID != "" {
		after = afterID
	}
	const query = `
        SELECT ` + ticketColumns + `
        FROM tickets
        WHERE status <> $1 AND ($2::uuid IS NULL OR id > $2::uuid)
        ORDER BY id
        LIMIT $3`
	rows, err := r.pool.Query(ctx, query, domain.TicketStatusResolved, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) UpdateSLA(ctx context.Context, ticket *domain.Ticket) error {
	if _, err := uuid.Parse(ticket.ID); err != nil {
		return pgx.ErrNoRows
	}
	const update = `
        UPDATE tickets SET paused_total_minutes=$1, pause_manual=$2, pause_awaiting_reply=$3,
            pause_outside_hours=$4, last_pause_started_at=$5, escalation_level=$6, sla_breached_at=$7,
            sla_warned_at=$8, version=version+1, updated_at=NOW()
        WHERE id=$9::uuid AND version=$10 AND status <> 'resolved'
        RETURNING status, version, updated_at`
	row := r.pool.QueryRow(ctx, update,
		ticket.PausedTotalMinutes,
		ticket.Flags.Manual,
		ticket.Flags.AwaitingReply,
		ticket.Flags.OutsideHours,
		ticket.LastPauseStartedAt,
		ticket.EscalationLevel,
		ticket.SLABreachedAt,
		ticket.SLAWarnedAt,
		ticket.ID,
		ticket.Version,
	)
	return r.finishCAS(ctx, ticket, row.Scan(&ticket.Status, &ticket.Version, &ticket.UpdatedAt))
}

func (r *ticketRepository) Escalate(ctx context.Context, ticket *domain.Ticket) error {
	if _, err := uuid.Parse(ticket.ID); err != nil {
		return pgx.ErrNoRows
	}
	const update = `
        UPDATE tickets SET status='escalated', escalation_level=$1, sla_breached_at=$2,
            version=version+1, updated_at=NOW()
        WHERE id=$3::uuid AND version=$4 AND status NOT IN ('resolved','escalated')
        RETURNING status, version, updated_at`
	row := r.pool.QueryRow(ctx, update, ticket.EscalationLevel, ticket.SLABreachedAt, ticket.ID, ticket.Version)
	return r.finishCAS(ctx, ticket, row.Scan(&ticket.Status, &ticket.Version, &ticket.UpdatedAt))
}

// finishCAS tells a missing ticket (pgx.ErrNoRows) apart from a lost race or a
// status guard miss (ErrVersionConflict). Callers reload and re-decide on a
// conflict, which is where a concurrently resolved ticket turns into a no-op.
func (r *ticketRepository) finishCAS(ctx context.Context, ticket *domain.Ticket, err error) error {
	if err == nil || !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE id=$1::uuid)`, ticket.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return pgx.ErrNoRows
	}
	return ErrVersionConflict
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.UnitID,
		&ticket.Status,
		&ticket.SLATotalMinutes,
		&ticket.OpenedAt,
		&ticket.PausedTotalMinutes,
		&ticket.Flags.Manual,
		&ticket.Flags.AwaitingReply,
		&ticket.Flags.OutsideHours,
		&ticket.LastPauseStartedAt,
		&ticket.EscalationLevel,
		&ticket.SLABreachedAt,
		&ticket.SLAWarnedAt,
		&ticket.Version,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}
