package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultUpdatesChannel is the pub/sub channel carrying SLA snapshots.
const DefaultUpdatesChannel = "sla:updates"

// defaultPublishTimeout caps how long a state change waits on Redis. Pushes are
// a convenience; timers converge through resync anyway.
const defaultPublishTimeout = 500 * time.Millisecond

// RedisBroadcaster republishes SLA snapshots from dispatched events to a Redis
// channel so remote timer managers can re-base without polling.
type RedisBroadcaster struct {
	client  redis.UniversalClient
	channel string
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisBroadcaster builds a broadcaster.
func NewRedisBroadcaster(client redis.UniversalClient, channel string, logger *zap.Logger) *RedisBroadcaster {
	if channel == "" {
		channel = DefaultUpdatesChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroadcaster{client: client, channel: channel, logger: logger, timeout: defaultPublishTimeout}
}

// WithTimeout sets the per-publish deadline.
func (b *RedisBroadcaster) WithTimeout(d time.Duration) *RedisBroadcaster {
	if d > 0 {
		b.timeout = d
	}
	return b
}

// Register subscribes the broadcaster to every snapshot-carrying event.
func (b *RedisBroadcaster) Register(dispatcher Dispatcher) {
	for _, eventType := range AllEventTypes {
		dispatcher.Subscribe(eventType, b.handle)
	}
}

func (b *RedisBroadcaster) handle(ctx context.Context, event Event) error {
	snapshot, ok := SnapshotOf(event)
	if !ok {
		return nil
	}
	body, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		b.logger.Warn("publish sla update failed",
			zap.String("ticket_id", event.TicketID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		return err
	}
	return nil
}
