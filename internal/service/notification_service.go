package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/notify"
	"github.com/spec-kit/sla-engine/internal/observability"
	"github.com/spec-kit/sla-engine/internal/queue"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// NotificationService drains the notification queue into the notifier.
type NotificationService struct {
	queue             queue.Queue
	notifier          notify.Notifier
	metrics           *observability.Metrics
	logger            *zap.Logger
	claimBatch        int
	concurrency       int
	processingTimeout time.Duration
}

// NotificationDependencies bundles collaborators for NotificationService.
type NotificationDependencies struct {
	Queue             queue.Queue
	Notifier          notify.Notifier
	Metrics           *observability.Metrics
	Logger            *zap.Logger
	ClaimBatch        int
	Concurrency       int
	ProcessingTimeout time.Duration
}

// DispatchResult summarises one dispatch round.
type DispatchResult struct {
	Claimed int
	Sent    int
	Retried int
	Failed  int
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{
		queue:             deps.Queue,
		notifier:          deps.Notifier,
		metrics:           deps.Metrics,
		logger:            logger,
		claimBatch:        deps.ClaimBatch,
		concurrency:       deps.Concurrency,
		processingTimeout: deps.ProcessingTimeout,
	}
	if s.claimBatch <= 0 {
		s.claimBatch = 20
	}
	if s.concurrency <= 0 {
		s.concurrency = 4
	}
	if s.processingTimeout <= 0 {
		s.processingTimeout = 5 * time.Minute
	}
	return s
}

// DispatchOnce claims one batch and delivers it with bounded parallelism.
// Delivery failures go back to the queue; they are not returned as errors.
func (s *NotificationService) DispatchOnce(ctx context.Context) (DispatchResult, error) {
	var result DispatchResult
	entries, err := s.queue.ClaimBatch(ctx, s.claimBatch)
	if err != nil {
		return result, err
	}
	result.Claimed = len(entries)
	if len(entries) == 0 {
		return result, nil
	}

	var (
		mu           sync.Mutex
		completeErrs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			status, err := s.deliver(gctx, entry)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				completeErrs = append(completeErrs, err)
				return nil
			}
			switch status {
			case domain.NotificationSent:
				result.Sent++
			case domain.NotificationPending:
				result.Retried++
			case domain.NotificationFailed:
				result.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()
	return result, errors.Join(completeErrs...)
}

func (s *NotificationService) deliver(ctx context.Context, entry domain.NotificationEntry) (domain.NotificationStatus, error) {
	deliveryErr := s.notifier.Deliver(ctx, entry)
	message := ""
	if deliveryErr != nil {
		message = deliveryErr.Error()
	}

	// Completion must outlive a cancelled dispatch round, otherwise the entry
	// waits for the reclaim sweep.
	status, err := s.queue.Complete(context.WithoutCancel(ctx), entry.ID, deliveryErr == nil, message)
	if err != nil {
		s.logger.Error("complete notification failed",
			zap.String("notification_id", entry.ID),
			zap.String("ticket_id", entry.TicketID),
			zap.Error(err))
		return "", err
	}
	s.metrics.NotificationCompleted(string(status))

	switch status {
	case domain.NotificationFailed:
		s.logger.Error("notification failed permanently",
			zap.String("notification_id", entry.ID),
			zap.String("ticket_id", entry.TicketID),
			zap.String("type", string(entry.Type)),
			zap.Int("attempts", entry.Attempts+1),
			zap.String("reason", message))
	case domain.NotificationPending:
		s.logger.Warn("notification delivery failed, will retry",
			zap.String("notification_id", entry.ID),
			zap.String("ticket_id", entry.TicketID),
			zap.Int("attempt", entry.Attempts+1),
			zap.String("reason", message))
	}
	return status, nil
}

// ReclaimStale returns entries stuck in processing to pending.
func (s *NotificationService) ReclaimStale(ctx context.Context) (int, error) {
	n, err := s.queue.ReclaimStale(ctx, s.processingTimeout)
	if err != nil {
		return 0, err
	}
	s.metrics.NotificationsReclaimed(n)
	if n > 0 {
		s.logger.Warn("reclaimed stale notifications", zap.Int("count", n))
	}
	return n, nil
}

// RefreshDepth updates the pending depth gauge.
func (s *NotificationService) RefreshDepth(ctx context.Context) error {
	n, err := s.queue.PendingCount(ctx)
	if err != nil {
		return err
	}
	s.metrics.SetPendingDepth(n)
	return nil
}

// ListFailed returns the most recent terminal failures for operators.
func (s *NotificationService) ListFailed(ctx context.Context, limit int) ([]domain.NotificationEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	entries, err := s.queue.ListFailed(ctx, limit)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if entries == nil {
		entries = []domain.NotificationEntry{}
	}
	return entries, nil
}
