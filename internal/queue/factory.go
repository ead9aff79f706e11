package queue

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/sla-engine/internal/config"
)

// FromConfig selects the backend named by cfg.Backend.
func FromConfig(cfg config.QueueConfig, client redis.UniversalClient, pool *pgxpool.Pool) (Queue, error) {
	opts := Options{
		MaxAttempts:    cfg.MaxAttempts,
		BackoffInitial: cfg.BackoffInitial,
		BackoffMax:     cfg.BackoffMax,
	}
	switch cfg.Backend {
	case config.QueueBackendRedis:
		if client == nil {
			return nil, errors.New("redis queue backend requires a redis client")
		}
		return NewRedisQueue(client, cfg.KeyPrefix, opts), nil
	case config.QueueBackendPostgres:
		if pool == nil {
			return nil, errors.New("postgres queue backend requires POSTGRES_DSN")
		}
		return NewPostgresQueue(pool, opts), nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
}
