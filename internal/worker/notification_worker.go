package worker

import (
	"context"
	"time"

	"github.com/spec-kit/sla-engine/internal/service"
)

// Job names, also used as metric labels.
const (
	JobBusinessHours = "business_hours"
	JobEscalation    = "escalation"
	JobDispatch      = "notification_dispatch"
	JobReclaim       = "notification_reclaim"
	JobQueueDepth    = "queue_depth"
)

// SweepJobs returns the business-hours and escalation jobs.
func SweepJobs(businessHours *service.BusinessHoursService, escalation *service.EscalationService, businessInterval, escalationInterval time.Duration) []Job {
	return []Job{
		{
			Name:     JobBusinessHours,
			Interval: businessInterval,
			Run: func(ctx context.Context) error {
				_, err := businessHours.Sweep(ctx)
				return err
			},
		},
		{
			Name:     JobEscalation,
			Interval: escalationInterval,
			Run: func(ctx context.Context) error {
				_, err := escalation.Sweep(ctx)
				return err
			},
		},
	}
}

// NotificationJobs returns the dispatcher, the stale-claim reclaimer and the
// depth gauge refresher.
func NotificationJobs(notifications *service.NotificationService, pollInterval, reclaimInterval time.Duration) []Job {
	return []Job{
		{
			Name:     JobDispatch,
			Interval: pollInterval,
			Run: func(ctx context.Context) error {
				return DrainQueue(ctx, notifications)
			},
		},
		{
			Name:     JobReclaim,
			Interval: reclaimInterval,
			Run: func(ctx context.Context) error {
				_, err := notifications.ReclaimStale(ctx)
				return err
			},
		},
		{
			Name:     JobQueueDepth,
			Interval: pollInterval,
			Run:      notifications.RefreshDepth,
		},
	}
}

// DrainQueue dispatches batches until a round claims nothing.
func DrainQueue(ctx context.Context, notifications *service.NotificationService) error {
	for ctx.Err() == nil {
		res, err := notifications.DispatchOnce(ctx)
		if err != nil {
			return err
		}
		if res.Claimed == 0 {
			return nil
		}
	}
	return ctx.Err()
}
