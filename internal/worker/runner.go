// Package worker runs the engine's periodic background jobs.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/sla-engine/internal/observability"
)

// Job is one periodic task. Run must be safe to call again after an error.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner executes jobs concurrently, each on its own ticker.
type Runner struct {
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewRunner builds a runner.
func NewRunner(logger *zap.Logger, metrics *observability.Metrics) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{logger: logger, metrics: metrics}
}

// Run starts every job and blocks until ctx is cancelled. Each job runs once
// immediately and then every Interval; a failing run is logged and retried on
// the next tick. Runs of the same job never overlap.
func (r *Runner) Run(ctx context.Context, jobs ...Job) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		if job.Interval <= 0 || job.Run == nil {
			r.logger.Warn("skipping job without interval", zap.String("job", job.Name))
			continue
		}
		g.Go(func() error {
			r.loop(gctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	r.logger.Info("job started", zap.String("job", job.Name), zap.Duration("interval", job.Interval))
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		r.RunOnce(ctx, job)
		select {
		case <-ctx.Done():
			r.logger.Info("job stopped", zap.String("job", job.Name))
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single run of job with logging and metrics.
func (r *Runner) RunOnce(ctx context.Context, job Job) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)
	r.metrics.ObserveSweep(job.Name, elapsed, err)
	if err != nil && ctx.Err() == nil {
		r.logger.Error("job run failed", zap.String("job", job.Name), zap.Duration("elapsed", elapsed), zap.Error(err))
		return err
	}
	r.logger.Debug("job run finished", zap.String("job", job.Name), zap.Duration("elapsed", elapsed))
	return err
}
