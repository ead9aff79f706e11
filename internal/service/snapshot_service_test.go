package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/sla-engine/internal/domain"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

func TestSnapshotService_GetMany(t *testing.T) {
	paused := openTicket("t-2", 120, t0)
	paused.Flags = domain.PauseFlags{Manual: true, OutsideHours: true}
	started := t0.Add(30 * time.Minute)
	paused.LastPauseStartedAt = &started

	history := &fakeHistoryRepo{}
	svc := NewSnapshotService(SnapshotDependencies{
		TicketRepo:  newFakeTicketRepo(openTicket("t-1", 60, t0), paused),
		HistoryRepo: history,
		Now:         func() time.Time { return t0.Add(90 * time.Minute) },
	})

	snaps, err := svc.GetMany(context.Background(), []string{"t-1", "unknown", "t-2"})
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	assert.Equal(t, "t-1", snaps[0].TicketID)
	assert.InDelta(t, -30.0, snaps[0].RemainingMinutes, 1e-9)
	assert.True(t, snaps[0].IsOverdue)

	assert.Equal(t, "t-2", snaps[1].TicketID)
	assert.InDelta(t, 90.0, snaps[1].RemainingMinutes, 1e-9)
	assert.True(t, snaps[1].IsPaused)
	assert.False(t, snaps[1].IsOverdue)
	assert.Equal(t, domain.PauseReasonOutsideHours, snaps[1].PauseReason)
	assert.True(t, snaps[1].ComputedAt.Equal(t0.Add(90*time.Minute)))

	hist, err := svc.History(context.Background(), "t-1", 10)
	require.NoError(t, err)
	assert.Empty(t, hist)
	assert.NotNil(t, hist)
}

func TestSnapshotService_Errors(t *testing.T) {
	svc := NewSnapshotService(SnapshotDependencies{TicketRepo: newFakeTicketRepo()})

	_, err := svc.Get(context.Background(), "missing")
	assert.Equal(t, "NOT_FOUND", apperrors.ToDomainError(err).Code)

	ids := make([]string, MaxSnapshotBatch+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("t-%d", i)
	}
	_, err = svc.GetMany(context.Background(), ids)
	assert.Equal(t, "VALIDATION_FAILED", apperrors.ToDomainError(err).Code)
}
