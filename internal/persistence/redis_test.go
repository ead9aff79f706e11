package persistence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/config"
)

func TestNewRedisPing(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	r := NewRedis(ctx, config.RedisConfig{Addr: " " + mr.Addr() + " ,"}, zap.NewNop())
	t.Cleanup(r.Close)
	require.NoError(t, r.Ping(ctx))

	mr.Close()
	assert.Error(t, r.Ping(ctx))
}

func TestNilClientsReportUnavailable(t *testing.T) {
	var r *Redis
	assert.Error(t, r.Ping(context.Background()))
	var pg *Postgres
	assert.Error(t, pg.Ping(context.Background()))
}
