package timer

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// RedisFeed forwards snapshots published on a Redis channel to a Manager.
type RedisFeed struct {
	client  redis.UniversalClient
	channel string
	logger  *zap.Logger
}

// NewRedisFeed builds a feed.
func NewRedisFeed(client redis.UniversalClient, channel string, logger *zap.Logger) *RedisFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFeed{client: client, channel: channel, logger: logger}
}

// Run subscribes and applies every snapshot for a registered ticket until ctx
// is cancelled.
func (f *RedisFeed) Run(ctx context.Context, m *Manager) error {
	sub := f.client.Subscribe(ctx, f.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var snap domain.SLASnapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				f.logger.Warn("ignoring malformed sla update", zap.Error(err))
				continue
			}
			if _, registered := m.State(snap.TicketID); registered {
				m.Apply(snap)
			}
		}
	}
}
