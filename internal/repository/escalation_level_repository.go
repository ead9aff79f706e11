package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// EscalationLevelRepository reads the per-unit escalation ladder. Returns
// pgx.ErrNoRows when a unit has no entry for the requested level.
type EscalationLevelRepository interface {
	Get(ctx context.Context, unitID string, level int) (*domain.EscalationLevelConfig, error)
	ListByUnit(ctx context.Context, unitID string) ([]domain.EscalationLevelConfig, error)
}

type escalationLevelRepository struct {
	pool *pgxpool.Pool
}

// NewEscalationLevelRepository builds repository.
func NewEscalationLevelRepository(pool *pgxpool.Pool) EscalationLevelRepository {
	return &escalationLevelRepository{pool: pool}
}

func (r *escalationLevelRepository) Get(ctx context.Context, unitID string, level int) (*domain.EscalationLevelConfig, error) {
	const query = `SELECT unit_id, level, notify_target FROM escalation_levels WHERE unit_id=$1 AND level=$2`
	var cfg domain.EscalationLevelConfig
	if err := r.pool.QueryRow(ctx, query, unitID, level).Scan(&cfg.UnitID, &cfg.Level, &cfg.NotifyTarget); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *escalationLevelRepository) ListByUnit(ctx context.Context, unitID string) ([]domain.EscalationLevelConfig, error) {
	const query = `SELECT unit_id, level, notify_target FROM escalation_levels WHERE unit_id=$1 ORDER BY level`
	rows, err := r.pool.Query(ctx, query, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.EscalationLevelConfig
	for rows.Next() {
		var cfg domain.EscalationLevelConfig
		if err := rows.Scan(&cfg.UnitID, &cfg.Level, &cfg.NotifyTarget); err != nil {
			return nil, err
		}
		result = append(result, cfg)
	}
	return result, rows.Err()
}
