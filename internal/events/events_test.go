package events

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/sla-engine/internal/domain"
)

func TestDispatcher_RunsEveryHandler(t *testing.T) {
	d := NewInMemoryDispatcher()
	var calls []string
	d.Subscribe(EventPauseChanged, func(context.Context, Event) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	d.Subscribe(EventPauseChanged, func(context.Context, Event) error {
		calls = append(calls, "second")
		return nil
	})
	d.Subscribe(EventTicketEscalated, func(context.Context, Event) error {
		calls = append(calls, "other")
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventPauseChanged})
	assert.EqualError(t, err, "sla_pause_changed handler 0: boom")
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestDispatcher_RecoversHandlerPanic(t *testing.T) {
	d := NewInMemoryDispatcher()
	ran := false
	d.Subscribe(EventSLAHalfWarning, func(context.Context, Event) error {
		panic("nil map")
	})
	d.Subscribe(EventSLAHalfWarning, func(context.Context, Event) error {
		ran = true
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventSLAHalfWarning})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: nil map")
	assert.True(t, ran)
}

func TestSnapshotOf(t *testing.T) {
	snap := domain.SLASnapshot{TicketID: "t-1", RemainingMinutes: 12}
	for _, payload := range []any{
		PauseChangedPayload{Snapshot: snap},
		HalfWarningPayload{Snapshot: snap},
		TicketEscalatedPayload{Snapshot: snap},
		snap,
	} {
		got, ok := SnapshotOf(Event{Payload: payload})
		require.True(t, ok)
		assert.Equal(t, "t-1", got.TicketID)
	}
	_, ok := SnapshotOf(Event{Payload: "nope"})
	assert.False(t, ok)
}

func TestRedisBroadcaster_PublishesSnapshot(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sub := client.Subscribe(ctx, DefaultUpdatesChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	d := NewInMemoryDispatcher()
	NewRedisBroadcaster(client, "", nil).Register(d)

	snap := domain.SLASnapshot{
		TicketID:         "t-9",
		Status:           domain.TicketStatusEscalated,
		RemainingMinutes: -3,
		IsOverdue:        true,
		EscalationLevel:  1,
	}
	require.NoError(t, d.Publish(ctx, Event{
		Type:     EventTicketEscalated,
		TicketID: "t-9",
		Payload:  TicketEscalatedPayload{OldStatus: domain.TicketStatusOpen, NewLevel: 1, Snapshot: snap},
	}))

	select {
	case msg := <-sub.Channel():
		var got domain.SLASnapshot
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "t-9", got.TicketID)
		assert.True(t, got.IsOverdue)
		assert.Equal(t, 1, got.EscalationLevel)
	case <-ctx.Done():
		t.Fatal("no update published")
	}
}

func TestRedisBroadcaster_PublishIsBounded(t *testing.T) {
	// A server that accepts connections and never answers.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		var conns []net.Conn
		defer func() {
			for _, c := range conns {
				c.Close()
			}
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, conn)
		}
	}()

	client := redis.NewClient(&redis.Options{
		Addr:                  ln.Addr().String(),
		ReadTimeout:           10 * time.Second,
		ContextTimeoutEnabled: true,
		MaxRetries:            -1,
	})
	defer client.Close()

	b := NewRedisBroadcaster(client, "", nil).WithTimeout(50 * time.Millisecond)
	start := time.Now()
	err = b.handle(context.Background(), Event{
		Type:     EventTicketEscalated,
		TicketID: "t-1",
		Payload:  TicketEscalatedPayload{NewLevel: 1, Snapshot: domain.SLASnapshot{TicketID: "t-1"}},
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
